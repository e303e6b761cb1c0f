package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"sigmaker/internal/binx"
	"sigmaker/internal/disasm"
	"sigmaker/internal/pattern"
)

// fakeDecoder serves pre-decoded instructions by address.
type fakeDecoder map[binx.Address]disasm.Inst

func (f fakeDecoder) Decode(addr binx.Address) (disasm.Inst, error) {
	in, ok := f[addr]
	if !ok {
		return disasm.Inst{}, fmt.Errorf("no instruction at %s", addr)
	}
	return in, nil
}

// fakeSearcher answers Find from a sorted list of match addresses.
type fakeSearcher struct {
	hits  []binx.Address
	calls [][2]binx.Address
}

func (f *fakeSearcher) Find(query string, lo, hi binx.Address) (binx.Address, bool) {
	f.calls = append(f.calls, [2]binx.Address{lo, hi})
	for _, h := range f.hits {
		if h >= lo && h < hi {
			return h, true
		}
	}
	return 0, false
}

func x86Image(base binx.Address, code []byte) (*binx.Image, disasm.Decoder) {
	img := binx.NewRaw(base, code, binx.ArchX8664)
	return img, disasm.NewX86(img, 64)
}

func TestScanX86Sequential(t *testing.T) {
	code := []byte{
		0xB8, 0x78, 0x56, 0x34, 0x12, 0x90, // mov eax, 0x12345678; nop
		0xB8, 0x34, 0x12, 0x00, 0x00, 0xC3, 0x90, // mov eax, 0x1234; ret; nop
	}
	img, dec := x86Image(0x1000, code)

	s := New(img, dec, 0x1006, DefaultOptions())
	if r := s.Step(); r != Continue {
		t.Fatalf("first step = %v, want continue", r)
	}
	if r := s.Step(); r != Found {
		t.Fatalf("second step = %v, want found", r)
	}
	if s.HasError() {
		t.Fatalf("unexpected error: %v", s.Err())
	}

	tests := []struct {
		format pattern.Format
		want   string
	}{
		{pattern.FormatRaw, "B8 ?? ?? ?? ?? C3"},
		{pattern.FormatCArray, `\xB8\x00\x00\x00\x00\xC3` + "\n" + "x????x"},
		{pattern.FormatPattern, `\xB8\x2A\x2A\x2A\x2A\xC3`},
		{pattern.FormatCustom, `\xB8\xDD\xDD\xDD\xDD\xC3`},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := s.Signature(tt.format); got != tt.want {
				t.Errorf("Signature(%v) = %q, want %q", tt.format, got, tt.want)
			}
		})
	}

	if s.Len() != 6 {
		t.Errorf("Len() = %d, want 6", s.Len())
	}
	if n := len(s.Instructions()); n != 2 {
		t.Errorf("consumed %d instructions, want 2", n)
	}
	if s.Cursor() != 0x100C {
		t.Errorf("Cursor() = %s, want 0x100C", s.Cursor())
	}
}

func TestScanX86Unique(t *testing.T) {
	code := []byte{
		0xB8, 0x34, 0x12, 0x00, 0x00, 0xC3, 0x31, 0xC0, // mov eax, 0x1234; ret; xor eax, eax
		0xB8, 0x11, 0x11, 0x11, 0x11, 0xC3, 0x33, 0xC0, // mov eax, 0x11111111; ret; xor eax, eax
	}

	tests := []struct {
		name   string
		unique bool
		want   string
		steps  int
	}{
		{"sequential ignores later copies", false, "B8", 1},
		{"unique grows past later copies", true, "B8 ?? ?? ?? ?? C3 31 C0", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, dec := x86Image(0x1000, code)
			opts := DefaultOptions()
			opts.Unique = tt.unique

			s := New(img, dec, 0x1000, opts)
			if err := s.Scan(t.Context()); err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if got := s.Signature(pattern.FormatRaw); got != tt.want {
				t.Errorf("signature = %q, want %q", got, tt.want)
			}
			if n := len(s.Instructions()); n != tt.steps {
				t.Errorf("consumed %d instructions, want %d", n, tt.steps)
			}
		})
	}
}

func TestScanNoMaskStream(t *testing.T) {
	// push rbp; mov rbp, rsp; xor eax, eax; pop rbp
	code := []byte{0x55, 0x48, 0x89, 0xE5, 0x31, 0xC0, 0x5D}
	img, dec := x86Image(0x400000, code)

	s := New(img, dec, 0x400000, DefaultOptions())
	if err := s.Scan(t.Context()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if s.Buffer().MaskedCount() != 0 {
		t.Errorf("masked %d bytes, want 0", s.Buffer().MaskedCount())
	}
	if got := s.Signature(pattern.FormatRaw); got != "55" {
		t.Errorf("signature = %q, want %q", got, "55")
	}
}

func TestScanDecodeFailure(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		len  int
	}{
		{"truncated first instruction", []byte{0xB8, 0x34}, 0},
		{"runs off the image", []byte{0x90, 0x90, 0x90, 0x90}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A second copy in front keeps the nop run from ever becoming unique.
			code := append(append([]byte{}, tt.code...), tt.code...)
			img, dec := x86Image(0x1000, code)
			start := binx.Address(0x1000 + len(tt.code))

			s := New(img, dec, start, DefaultOptions())
			err := s.Scan(t.Context())
			if !errors.Is(err, ErrDecodeFailure) {
				t.Fatalf("Scan() error = %v, want ErrDecodeFailure", err)
			}
			if !s.HasError() {
				t.Error("HasError() = false")
			}
			if s.Len() != 0 {
				t.Errorf("Len() = %d, want 0", s.Len())
			}
			if got := s.Signature(pattern.FormatRaw); got != "" {
				t.Errorf("Signature() = %q, want empty", got)
			}
			if s.Buffer().Len() != tt.len {
				t.Errorf("partial buffer has %d bytes, want %d", s.Buffer().Len(), tt.len)
			}
			if r := s.Step(); r != Failed {
				t.Errorf("Step() after failure = %v, want failed", r)
			}
		})
	}
}

func TestScanTruncatedAtImageEnd(t *testing.T) {
	// The lone B8 would be unique before the start address, so accepting the
	// cut off mov as a one byte instruction would yield "B8".
	img, dec := x86Image(0x1000, []byte{0x90, 0x90, 0xB8, 0x34})

	s := New(img, dec, 0x1002, DefaultOptions())
	if err := s.Scan(t.Context()); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("Scan() error = %v, want ErrDecodeFailure", err)
	}
	if got := s.Signature(pattern.FormatRaw); got != "" {
		t.Errorf("Signature() = %q, want empty", got)
	}
	if s.Buffer().Len() != 0 || len(s.Instructions()) != 0 {
		t.Errorf("consumed %d bytes in %d instructions, want none", s.Buffer().Len(), len(s.Instructions()))
	}
}

func TestScanEmptySignature(t *testing.T) {
	img := binx.NewRaw(0x1000, []byte{0xE8, 0x10, 0x00, 0x00, 0x00}, binx.ArchX8664)
	dec := fakeDecoder{
		0x1000: {Addr: 0x1000, Len: 5, Op: "call", Operands: []disasm.Operand{{Kind: disasm.KindNear, Offset: 0}}},
	}

	s := New(img, dec, 0x1000, DefaultOptions())
	if err := s.Scan(t.Context()); !errors.Is(err, ErrEmptySignature) {
		t.Fatalf("Scan() error = %v, want ErrEmptySignature", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestScanBudget(t *testing.T) {
	code := make([]byte, 64)
	for i := range code {
		code[i] = 0x90
	}

	tests := []struct {
		name  string
		opts  Options
		steps int
	}{
		{"instruction cap", Options{MaxInstructions: 4}, 4},
		{"byte cap", Options{MaxBytes: 3}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, dec := x86Image(0x1000, code)
			s := New(img, dec, 0x1020, tt.opts)
			err := s.Scan(t.Context())
			if !errors.Is(err, ErrBudgetExceeded) {
				t.Fatalf("Scan() error = %v, want ErrBudgetExceeded", err)
			}
			if n := len(s.Instructions()); n != tt.steps {
				t.Errorf("consumed %d instructions, want %d", n, tt.steps)
			}
		})
	}
}

func TestScanTrimsMaskedEdges(t *testing.T) {
	// lea rax, [rip+disp]; call rel32 with an earlier copy of the lea.
	code := []byte{
		0x48, 0x8D, 0x05, 0x01, 0x02, 0x03, 0x04,
		0x48, 0x8D, 0x05, 0x10, 0x20, 0x30, 0x40, 0xE8, 0x00, 0x00, 0x00, 0x00,
	}
	img := binx.NewRaw(0x1000, code, binx.ArchX8664)
	dec := fakeDecoder{
		0x1007: {Addr: 0x1007, Len: 7, Op: "lea", Operands: []disasm.Operand{
			{Kind: disasm.KindRegister, Offset: 0},
			{Kind: disasm.KindMemory, Offset: 3},
		}},
		0x100E: {Addr: 0x100E, Len: 5, Op: "call", Operands: []disasm.Operand{
			{Kind: disasm.KindNear, Offset: 1},
		}},
	}

	s := New(img, dec, 0x1007, DefaultOptions())
	if err := s.Scan(t.Context()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := "48 8D 05 ?? ?? ?? ?? E8"
	if got := s.Signature(pattern.FormatRaw); got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}
	// Rendering has no side effects.
	if got := s.Signature(pattern.FormatRaw); got != want {
		t.Errorf("second render = %q, want %q", got, want)
	}
	if got := s.Buffer().Query(); got != "48 8d 05 ? ? ? ? e8 " {
		t.Errorf("Query() = %q", got)
	}
}

func TestScanARM64(t *testing.T) {
	// bl #0x10 twice: the whole word is masked so the first step never
	// satisfies on its own, then ret.
	code := []byte{
		0x04, 0x00, 0x00, 0x94, // bl
		0x04, 0x00, 0x00, 0x94, // bl
		0xC0, 0x03, 0x5F, 0xD6, // ret
	}
	img := binx.NewRaw(0x2000, code, binx.ArchARM64)
	s := New(img, disasm.NewARM64(img), 0x2004, DefaultOptions())
	if err := s.Scan(t.Context()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := s.Signature(pattern.FormatRaw); got != "C0 03 5F D6" {
		t.Errorf("signature = %q, want %q", got, "C0 03 5F D6")
	}
}

func TestScanCancelled(t *testing.T) {
	img := binx.NewRaw(0x1000, []byte{0xC3}, binx.ArchX8664)
	s := New(img, disasm.NewX86(img, 64), 0x1000, DefaultOptions())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := s.Scan(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Scan() error = %v, want context.Canceled", err)
	}
	if !s.HasError() || s.Len() != 0 || len(s.Instructions()) != 0 {
		t.Error("cancelled scan consumed instructions")
	}
}

func TestSequentiallyUnique(t *testing.T) {
	tests := []struct {
		name  string
		hits  []binx.Address
		query string
		want  bool
	}{
		{"no match", nil, "b8 ", true},
		{"only after start", []binx.Address{0x2000}, "b8 ", true},
		{"at start", []binx.Address{0x1800}, "b8 ", true},
		{"before start", []binx.Address{0x1200, 0x1800}, "b8 ", false},
		{"empty query", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSearcher{hits: tt.hits}
			if got := SequentiallyUnique(f, tt.query, 0x1000, 0x1800); got != tt.want {
				t.Errorf("SequentiallyUnique() = %v, want %v", got, tt.want)
			}
		})
	}

	f := &fakeSearcher{}
	SequentiallyUnique(f, "c3 ", 0x1000, 0x1800)
	if len(f.calls) != 1 || f.calls[0] != [2]binx.Address{0x1000, 0x1800} {
		t.Errorf("searched %v, want [[0x1000 0x1800]]", f.calls)
	}
}

func TestGloballyUnique(t *testing.T) {
	tests := []struct {
		name string
		hits []binx.Address
		want bool
	}{
		{"no match", nil, true},
		{"only at start", []binx.Address{0x1800}, true},
		{"at start and later", []binx.Address{0x1800, 0x1900}, false},
		{"before start", []binx.Address{0x1200}, false},
		{"before and at start", []binx.Address{0x1200, 0x1800}, false},
		{"only later", []binx.Address{0x1900}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSearcher{hits: tt.hits}
			if got := GloballyUnique(f, "90 ", 0x1000, 0x1800); got != tt.want {
				t.Errorf("GloballyUnique() = %v, want %v", got, tt.want)
			}
		})
	}

	if GloballyUnique(&fakeSearcher{}, " ", 0x1000, 0x1800) {
		t.Error("empty query reported unique")
	}
}

func TestStepAfterFound(t *testing.T) {
	img, dec := x86Image(0x1000, []byte{0xC3})
	s := New(img, dec, 0x1000, DefaultOptions())
	if r := s.Step(); r != Found {
		t.Fatalf("Step() = %v, want found", r)
	}
	if r := s.Step(); r != Found {
		t.Errorf("Step() after found = %v, want found", r)
	}
	if n := len(s.Instructions()); n != 1 {
		t.Errorf("consumed %d instructions, want 1", n)
	}
}
