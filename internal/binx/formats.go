package binx

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"encoding/binary"
	"fmt"
)

const (
	peSectionExecute = 0x20000000 // IMAGE_SCN_MEM_EXECUTE
	machoProtExecute = 0x4        // VM_PROT_EXECUTE
)

func isELF(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], []byte(elf.ELFMAG))
}

func isPE(b []byte) bool {
	if len(b) < 0x40 || b[0] != 'M' || b[1] != 'Z' {
		return false
	}
	off := binary.LittleEndian.Uint32(b[0x3c:])
	return uint64(off)+4 <= uint64(len(b)) && bytes.Equal(b[off:off+4], []byte("PE\x00\x00"))
}

func isMachO(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	switch binary.LittleEndian.Uint32(b) {
	case macho.Magic32, macho.Magic64:
		return true
	}
	switch binary.BigEndian.Uint32(b) {
	case macho.Magic32, macho.Magic64:
		return true
	}
	return false
}

// loadELF builds segments from PT_LOAD program headers and collects the
// dynamic and static symbol tables.
func (im *Image) loadELF() error {
	f, err := elf.NewFile(bytes.NewReader(im.All))
	if err != nil {
		return fmt.Errorf("parse elf: %w", err)
	}
	defer f.Close()

	im.Format = FormatELF
	switch f.Machine {
	case elf.EM_386:
		im.Arch = ArchX86
	case elf.EM_X86_64:
		im.Arch = ArchX8664
	case elf.EM_AARCH64:
		im.Arch = ArchARM64
	default:
		im.Arch = ArchUnknown
	}

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		im.Segs = append(im.Segs, Seg{
			Name:   fmt.Sprintf("LOAD(%s)", p.Flags),
			Vaddr:  Address(p.Vaddr),
			Off:    p.Off,
			Filesz: p.Filesz,
			Exec:   p.Flags&elf.PF_X != 0,
		})
	}

	// Dynamic symbols first, then .symtab for unstripped binaries.
	if dynsyms, err := f.DynamicSymbols(); err == nil {
		im.addELFSymbols(dynsyms)
	}
	if syms, err := f.Symbols(); err == nil {
		im.addELFSymbols(syms)
	}
	return nil
}

func (im *Image) addELFSymbols(syms []elf.Symbol) {
	for _, sym := range syms {
		// Skip undefined symbols
		if sym.Value == 0 || sym.Name == "" {
			continue
		}
		im.Symbols = append(im.Symbols, Symbol{Name: sym.Name, Addr: Address(sym.Value)})
	}
}

// loadPE maps sections at ImageBase+VirtualAddress. Only the raw data part of
// each section is file backed.
func (im *Image) loadPE() error {
	f, err := pe.NewFile(bytes.NewReader(im.All))
	if err != nil {
		return fmt.Errorf("parse pe: %w", err)
	}
	defer f.Close()

	im.Format = FormatPE
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		im.Arch = ArchX86
	case pe.IMAGE_FILE_MACHINE_AMD64:
		im.Arch = ArchX8664
	case pe.IMAGE_FILE_MACHINE_ARM64:
		im.Arch = ArchARM64
	default:
		im.Arch = ArchUnknown
	}

	var base uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		base = oh.ImageBase
	}

	for _, s := range f.Sections {
		size := uint64(s.Size)
		if s.VirtualSize != 0 && uint64(s.VirtualSize) < size {
			size = uint64(s.VirtualSize)
		}
		im.Segs = append(im.Segs, Seg{
			Name:   s.Name,
			Vaddr:  Address(base + uint64(s.VirtualAddress)),
			Off:    uint64(s.Offset),
			Filesz: size,
			Exec:   s.Characteristics&peSectionExecute != 0,
		})
	}

	for _, sym := range f.Symbols {
		if sym.SectionNumber <= 0 || int(sym.SectionNumber) > len(f.Sections) {
			continue
		}
		sec := f.Sections[sym.SectionNumber-1]
		im.Symbols = append(im.Symbols, Symbol{
			Name: sym.Name,
			Addr: Address(base + uint64(sec.VirtualAddress) + uint64(sym.Value)),
		})
	}
	return nil
}

// loadMachO handles thin Mach-O files. __PAGEZERO has no file data and is
// dropped by the segment clamp.
func (im *Image) loadMachO() error {
	f, err := macho.NewFile(bytes.NewReader(im.All))
	if err != nil {
		return fmt.Errorf("parse macho: %w", err)
	}
	defer f.Close()

	im.Format = FormatMachO
	switch f.Cpu {
	case macho.Cpu386:
		im.Arch = ArchX86
	case macho.CpuAmd64:
		im.Arch = ArchX8664
	case macho.CpuArm64:
		im.Arch = ArchARM64
	default:
		im.Arch = ArchUnknown
	}

	for _, l := range f.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok || seg.Filesz == 0 {
			continue
		}
		im.Segs = append(im.Segs, Seg{
			Name:   seg.Name,
			Vaddr:  Address(seg.Addr),
			Off:    seg.Offset,
			Filesz: seg.Filesz,
			Exec:   seg.Prot&machoProtExecute != 0,
		})
	}

	if f.Symtab != nil {
		for _, sym := range f.Symtab.Syms {
			if sym.Value == 0 || sym.Name == "" {
				continue
			}
			im.Symbols = append(im.Symbols, Symbol{Name: sym.Name, Addr: Address(sym.Value)})
		}
	}
	return nil
}
