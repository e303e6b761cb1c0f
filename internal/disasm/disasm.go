// Package disasm defines a common instruction representation used
// across architecture-specific decoders.
package disasm

import (
	"errors"
	"fmt"

	"sigmaker/internal/binx"
)

var (
	// ErrUnsupportedArch is returned by New for architectures without a decoder.
	ErrUnsupportedArch = errors.New("unsupported architecture")
	// ErrDecode is returned when the bytes at an address are not an instruction.
	ErrDecode = errors.New("cannot decode instruction")
)

// OperandKind classifies an operand by how its encoding behaves across builds.
type OperandKind uint8

const (
	KindVoid         OperandKind = iota // terminates the operand list
	KindRegister                        // register operand
	KindMemory                          // absolute or RIP-relative memory reference
	KindImmediate                       // immediate value
	KindFar                             // far (segment:offset) code reference
	KindNear                            // near / PC-relative code reference
	KindDisplacement                    // base/index memory operand
	KindOther
)

var kindNames = [...]string{"void", "reg", "mem", "imm", "far", "near", "displ", "other"}

func (k OperandKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Masked reports whether bytes of this kind are expected to change between builds.
func (k OperandKind) Masked() bool {
	switch k {
	case KindMemory, KindImmediate, KindFar, KindNear:
		return true
	}
	return false
}

// Operand is one decoded operand and the byte offset of its encoding.
type Operand struct {
	Kind   OperandKind
	Offset int
}

// Inst is a simplified decoded instruction.
type Inst struct {
	Addr     binx.Address // virtual address of instruction
	Len      int          // encoded length in bytes
	Op       string       // mnemonic in lowercase
	Text     string       // formatted disassembly string
	Operands []Operand    // in encoding order, without trailing voids
}

// Operand returns the i-th operand or a void operand past the end.
func (in Inst) Operand(i int) Operand {
	if i < 0 || i >= len(in.Operands) {
		return Operand{Kind: KindVoid}
	}
	return in.Operands[i]
}

// Decoder decodes one instruction at an address.
type Decoder interface {
	Decode(addr binx.Address) (Inst, error)
}

// Memory is the byte source a decoder reads instruction bytes from.
type Memory interface {
	Window(addr binx.Address, n int) []byte
}

// New returns the decoder for arch reading from mem.
func New(arch binx.Arch, mem Memory) (Decoder, error) {
	switch arch {
	case binx.ArchX8616:
		return NewX86(mem, 16), nil
	case binx.ArchX86:
		return NewX86(mem, 32), nil
	case binx.ArchX8664:
		return NewX86(mem, 64), nil
	case binx.ArchARM64:
		return NewARM64(mem), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, arch)
}
