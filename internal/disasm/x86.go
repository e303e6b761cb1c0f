package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"sigmaker/internal/binx"
)

// maxX86Len is the architectural limit on instruction length.
const maxX86Len = 15

// X86 decodes 16, 32 or 64-bit x86 code.
type X86 struct {
	mem  Memory
	mode int
}

// NewX86 returns an x86 decoder for the given mode (16, 32 or 64).
func NewX86(mem Memory, mode int) *X86 {
	return &X86{mem: mem, mode: mode}
}

func (d *X86) Decode(addr binx.Address) (Inst, error) {
	src := d.mem.Window(addr, maxX86Len)
	if len(src) == 0 {
		return Inst{}, fmt.Errorf("%w at %s: %v", ErrDecode, addr, binx.ErrUnmapped)
	}
	inst, err := x86asm.Decode(src, d.mode)
	if err != nil {
		return Inst{}, fmt.Errorf("%w at %s: %v", ErrDecode, addr, err)
	}
	if inst.Len == 0 {
		return Inst{}, fmt.Errorf("%w at %s: zero length", ErrDecode, addr)
	}
	// x86asm reports bytes it cannot complete as a one byte pseudo
	// instruction with no opcode.
	if inst.Op == 0 {
		return Inst{}, fmt.Errorf("%w at %s: truncated", ErrDecode, addr)
	}

	enc := src[:inst.Len]
	offsets := d.locateArgs(enc, inst)

	out := Inst{
		Addr: addr,
		Len:  inst.Len,
		Op:   strings.ToLower(inst.Op.String()),
		Text: x86asm.IntelSyntax(inst, uint64(addr), nil),
	}
	for i, arg := range inst.Args {
		if arg == nil {
			break
		}
		kind := x86Kind(inst, arg)
		off := 0
		if kind != KindRegister {
			o, ok := offsets[i]
			if !ok {
				// Nothing encodes this operand (e.g. the implicit 1 of "shl eax, 1").
				kind = KindOther
			} else {
				off = o
			}
		}
		out.Operands = append(out.Operands, Operand{Kind: kind, Offset: off})
	}
	return out, nil
}

func x86Kind(inst x86asm.Inst, arg x86asm.Arg) OperandKind {
	switch a := arg.(type) {
	case x86asm.Reg:
		return KindRegister
	case x86asm.Mem:
		if a.Base == x86asm.RIP || a.Base == x86asm.EIP || a.Base == x86asm.IP {
			return KindMemory
		}
		if a.Base == 0 && a.Index == 0 {
			return KindMemory
		}
		return KindDisplacement
	case x86asm.Imm:
		if inst.Op == x86asm.LCALL || inst.Op == x86asm.LJMP {
			return KindFar
		}
		return KindImmediate
	case x86asm.Rel:
		return KindNear
	}
	return KindOther
}

// locateArgs finds the byte offset of each argument's encoding. x86asm only
// reports the position of PC-relative fields, so every byte of the encoding is
// flipped in turn and the instruction re-decoded: a byte belongs to argument i
// when the opcode and length stay the same and only argument i changes. The
// offset is the start of the last contiguous run of such bytes, which skips
// opcode or ModRM bits that merely select a register.
func (d *X86) locateArgs(enc []byte, inst x86asm.Inst) map[int]int {
	owner := make([]int, len(enc))
	scratch := make([]byte, len(enc))
	for pos := range enc {
		owner[pos] = -1
		copy(scratch, enc)
		scratch[pos] ^= 0x01

		alt, err := x86asm.Decode(scratch, d.mode)
		if err != nil || alt.Op != inst.Op || alt.Len != inst.Len {
			continue
		}
		changed := -1
		for i := range inst.Args {
			if inst.Args[i] == alt.Args[i] {
				continue
			}
			if changed >= 0 {
				changed = -2
				break
			}
			changed = i
		}
		if changed < 0 {
			continue
		}
		// Only displacement bytes belong to a memory operand; ModRM and SIB
		// bits that pick registers stay unmasked.
		if m, ok := inst.Args[changed].(x86asm.Mem); ok {
			am, _ := alt.Args[changed].(x86asm.Mem)
			if am.Segment != m.Segment || am.Base != m.Base || am.Index != m.Index || am.Scale != m.Scale {
				continue
			}
		}
		owner[pos] = changed
	}

	offsets := make(map[int]int)
	for pos := len(enc) - 1; pos >= 0; pos-- {
		i := owner[pos]
		if i < 0 {
			continue
		}
		if _, seen := offsets[i]; seen {
			continue
		}
		start := pos
		for start > 0 && owner[start-1] == i {
			start--
		}
		offsets[i] = start
	}

	// PC-relative fields are reported by the decoder itself.
	if inst.PCRel > 0 {
		for i, arg := range inst.Args {
			switch a := arg.(type) {
			case x86asm.Rel:
				offsets[i] = inst.PCRelOff
			case x86asm.Mem:
				if a.Base == x86asm.RIP || a.Base == x86asm.EIP {
					offsets[i] = inst.PCRelOff
				}
			}
		}
	}
	return offsets
}
