// Package binx loads executable images (ELF, PE, Mach-O or flat dumps) into a
// segmented virtual address space that can be read and pattern-searched.
package binx

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/ianlancetaylor/demangle"
)

var (
	// ErrUnknownFormat is returned when the file is not a supported container.
	ErrUnknownFormat = errors.New("unknown image format")
	// ErrUnmapped is returned when an address is not backed by file data.
	ErrUnmapped = errors.New("address not mapped")
)

// Arch names the instruction set of an image.
type Arch string

const (
	ArchUnknown Arch = "unknown"
	ArchX8616   Arch = "x86-16"
	ArchX86     Arch = "x86"
	ArchX8664   Arch = "x86-64"
	ArchARM64   Arch = "arm64"
)

// ParseArch maps a user supplied architecture name to an Arch.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86-16", "x86_16", "8086", "i8086", "real":
		return ArchX8616, nil
	case "x86", "i386", "386", "x86-32":
		return ArchX86, nil
	case "x86-64", "x86_64", "x64", "amd64":
		return ArchX8664, nil
	case "arm64", "aarch64":
		return ArchARM64, nil
	}
	return ArchUnknown, fmt.Errorf("unsupported architecture %q", s)
}

// Format names the container an image was loaded from.
type Format string

const (
	FormatELF   Format = "elf"
	FormatPE    Format = "pe"
	FormatMachO Format = "macho"
	FormatRaw   Format = "raw"
)

// Image is a loaded executable. Segs is sorted by address.
type Image struct {
	Path    string
	Format  Format
	Arch    Arch
	All     []byte
	Segs    []Seg
	Symbols []Symbol
	f       *os.File
	mapped  bool
}

// Seg is a file-backed range of the virtual address space.
type Seg struct {
	Name   string
	Vaddr  Address
	Off    uint64
	Filesz uint64
	Exec   bool
}

// End returns the first address past the segment.
func (s Seg) End() Address {
	return s.Vaddr + Address(s.Filesz)
}

type Symbol struct {
	Name string
	Addr Address
}

// Open maps the file at path read-only and parses it as ELF, PE or Mach-O.
func Open(path string) (*Image, error) {
	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if fi.Size() == 0 {
		of.Close()
		return nil, fmt.Errorf("%s: %w: empty file", path, ErrUnknownFormat)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, All: all, f: of, mapped: true}
	if err := im.parse(); err != nil {
		im.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return im, nil
}

// OpenRaw maps a flat dump and places it at base.
func OpenRaw(path string, base Address, arch Arch) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	im := NewRaw(base, data, arch)
	im.Path = path
	return im, nil
}

// NewRaw wraps data as a single executable segment starting at base.
func NewRaw(base Address, data []byte, arch Arch) *Image {
	im := &Image{Format: FormatRaw, Arch: arch, All: data}
	im.Segs = []Seg{{Name: "raw", Vaddr: base, Off: 0, Filesz: uint64(len(data)), Exec: true}}
	return im
}

func (im *Image) parse() error {
	var err error
	switch {
	case isELF(im.All):
		err = im.loadELF()
	case isPE(im.All):
		err = im.loadPE()
	case isMachO(im.All):
		err = im.loadMachO()
	default:
		return ErrUnknownFormat
	}
	if err != nil {
		return err
	}

	// Clamp segments to the mapped file and drop empty ones.
	segs := im.Segs[:0]
	for _, s := range im.Segs {
		if s.Off >= uint64(len(im.All)) {
			continue
		}
		if s.Off+s.Filesz > uint64(len(im.All)) {
			s.Filesz = uint64(len(im.All)) - s.Off
		}
		if s.Filesz == 0 {
			continue
		}
		segs = append(segs, s)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Vaddr < segs[j].Vaddr })
	im.Segs = segs

	if len(im.Segs) == 0 {
		return fmt.Errorf("%w: no file-backed segments", ErrUnknownFormat)
	}
	return nil
}

// Close unmaps the memory and closes the underlying file.
func (im *Image) Close() error {
	var err1, err2 error
	if im.mapped && im.All != nil {
		err1 = syscall.Munmap(im.All)
	}
	im.All = nil
	im.mapped = false
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// MinAddress returns the lowest mapped address.
func (im *Image) MinAddress() Address {
	if len(im.Segs) == 0 {
		return 0
	}
	return im.Segs[0].Vaddr
}

// MaxAddress returns the first address past the highest mapped byte.
func (im *Image) MaxAddress() Address {
	var end Address
	for _, s := range im.Segs {
		if s.End() > end {
			end = s.End()
		}
	}
	return end
}

func (im *Image) segment(a Address) (Seg, bool) {
	i := sort.Search(len(im.Segs), func(i int) bool { return im.Segs[i].End() > a })
	if i < len(im.Segs) && a >= im.Segs[i].Vaddr {
		return im.Segs[i], true
	}
	return Seg{}, false
}

func (im *Image) data(s Seg) []byte {
	return im.All[s.Off : s.Off+s.Filesz]
}

// Window returns up to n bytes starting at a, never crossing the end of the
// segment that contains a. It returns nil if a is unmapped.
func (im *Image) Window(a Address, n int) []byte {
	s, ok := im.segment(a)
	if !ok || n <= 0 {
		return nil
	}
	d := im.data(s)[a-s.Vaddr:]
	if len(d) > n {
		d = d[:n]
	}
	return d
}

// ByteAt reads the byte stored at a.
func (im *Image) ByteAt(a Address) (byte, error) {
	s, ok := im.segment(a)
	if !ok {
		return 0, fmt.Errorf("%s: %w", a, ErrUnmapped)
	}
	return im.All[s.Off+uint64(a-s.Vaddr)], nil
}

// IsExec reports whether a lies in an executable segment.
func (im *Image) IsExec(a Address) bool {
	s, ok := im.segment(a)
	return ok && s.Exec
}

// LookupSymbol resolves a symbol by its raw name, its Mach-O underscored form,
// or its demangled name with or without the parameter list.
func (im *Image) LookupSymbol(name string) (Address, bool) {
	for _, sym := range im.Symbols {
		if sym.Name == name || sym.Name == "_"+name {
			return sym.Addr, true
		}
	}
	for _, sym := range im.Symbols {
		d := demangle.Filter(sym.Name)
		if d == sym.Name {
			continue
		}
		if d == name || stripParams(d) == name {
			return sym.Addr, true
		}
	}
	return 0, false
}

func stripParams(sig string) string {
	if i := strings.Index(sig, "("); i > 0 {
		return sig[:i]
	}
	return sig
}
