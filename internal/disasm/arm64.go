package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"sigmaker/internal/binx"
)

// ARM64 decodes fixed-width A64 instructions.
//
// Operand fields are bit-packed into the 32-bit word, so operands cannot be
// masked at byte granularity. PC-relative operands (branches, adr/adrp,
// literal loads) are reported at offset 0 which masks the whole word; plain
// immediates are reported as KindOther.
type ARM64 struct {
	mem Memory
}

func NewARM64(mem Memory) *ARM64 {
	return &ARM64{mem: mem}
}

func (d *ARM64) Decode(addr binx.Address) (Inst, error) {
	src := d.mem.Window(addr, 4)
	if len(src) < 4 {
		return Inst{}, fmt.Errorf("%w at %s: truncated", ErrDecode, addr)
	}
	inst, err := arm64asm.Decode(src)
	if err != nil {
		return Inst{}, fmt.Errorf("%w at %s: %v", ErrDecode, addr, err)
	}

	out := Inst{
		Addr: addr,
		Len:  4,
		Op:   strings.ToLower(inst.Op.String()),
		Text: arm64asm.GNUSyntax(inst),
	}
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		out.Operands = append(out.Operands, Operand{Kind: arm64Kind(arg)})
	}
	return out, nil
}

func arm64Kind(arg arm64asm.Arg) OperandKind {
	switch arg.(type) {
	case arm64asm.PCRel:
		return KindNear
	case arm64asm.Reg, arm64asm.RegSP, arm64asm.RegExtshiftAmount,
		arm64asm.RegisterWithArrangement, arm64asm.RegisterWithArrangementAndIndex:
		return KindRegister
	case arm64asm.MemImmediate, arm64asm.MemExtend:
		return KindDisplacement
	}
	return KindOther
}
