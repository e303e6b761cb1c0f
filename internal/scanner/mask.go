package scanner

import (
	"sigmaker/internal/disasm"
	"sigmaker/internal/pattern"
)

// OperandSpan returns the byte range [start, end) of operand i that has to be
// masked. ok is false for operand kinds that are never masked.
//
// The span ends where the next operand starts when that operand exists and
// does not start before this one; otherwise it runs to the end of the
// instruction.
func OperandSpan(in disasm.Inst, i int) (start, end int, ok bool) {
	op := in.Operand(i)
	if !op.Kind.Masked() {
		return 0, 0, false
	}

	start = op.Offset
	end = in.Len
	if next := in.Operand(i + 1); next.Kind != disasm.KindVoid && next.Offset >= op.Offset {
		end = next.Offset
	}

	if start < 0 {
		start = 0
	}
	if end > in.Len {
		end = in.Len
	}
	if end < start {
		end = start
	}
	return start, end, true
}

// MaskInstruction pairs the raw bytes of in with their mask flags.
func MaskInstruction(in disasm.Inst, raw []byte) []pattern.SigByte {
	out := make([]pattern.SigByte, len(raw))
	for i, b := range raw {
		out[i].Byte = b
	}

	for i := range in.Operands {
		if in.Operands[i].Kind == disasm.KindVoid {
			break
		}
		start, end, ok := OperandSpan(in, i)
		if !ok {
			continue
		}
		for j := start; j < end && j < len(out); j++ {
			out[j].Masked = true
		}
	}
	return out
}
