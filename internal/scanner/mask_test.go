package scanner

import (
	"testing"

	"sigmaker/internal/disasm"
)

func TestOperandSpan(t *testing.T) {
	tests := []struct {
		name      string
		inst      disasm.Inst
		op        int
		start     int
		end       int
		maskedOut bool
	}{
		{
			name:  "last operand runs to the end",
			inst:  disasm.Inst{Len: 5, Operands: []disasm.Operand{{Kind: disasm.KindRegister}, {Kind: disasm.KindImmediate, Offset: 1}}},
			op:    1,
			start: 1, end: 5, maskedOut: true,
		},
		{
			name: "stops at the next operand",
			inst: disasm.Inst{Len: 10, Operands: []disasm.Operand{
				{Kind: disasm.KindMemory, Offset: 2},
				{Kind: disasm.KindImmediate, Offset: 6},
			}},
			op:    0,
			start: 2, end: 6, maskedOut: true,
		},
		{
			name: "next operand before this one is ignored",
			inst: disasm.Inst{Len: 7, Operands: []disasm.Operand{
				{Kind: disasm.KindMemory, Offset: 3},
				{Kind: disasm.KindRegister, Offset: 0},
			}},
			op:    0,
			start: 3, end: 7, maskedOut: true,
		},
		{
			name: "next operand at the same offset gives an empty span",
			inst: disasm.Inst{Len: 4, Operands: []disasm.Operand{
				{Kind: disasm.KindNear, Offset: 0},
				{Kind: disasm.KindOther, Offset: 0},
			}},
			op:    0,
			start: 0, end: 0, maskedOut: true,
		},
		{
			name: "offset past the end is clamped",
			inst: disasm.Inst{Len: 2, Operands: []disasm.Operand{{Kind: disasm.KindNear, Offset: 5}}},
			op:   0,
			start: 5, end: 5, maskedOut: true,
		},
		{
			name: "register is not masked",
			inst: disasm.Inst{Len: 2, Operands: []disasm.Operand{{Kind: disasm.KindRegister}}},
			op:   0,
		},
		{
			name: "displacement is not masked",
			inst: disasm.Inst{Len: 3, Operands: []disasm.Operand{{Kind: disasm.KindDisplacement, Offset: 2}}},
			op:   0,
		},
		{
			name: "void past the list",
			inst: disasm.Inst{Len: 1},
			op:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := OperandSpan(tt.inst, tt.op)
			if ok != tt.maskedOut {
				t.Fatalf("ok = %v, want %v", ok, tt.maskedOut)
			}
			if ok && (start != tt.start || end != tt.end) {
				t.Errorf("span = [%d, %d), want [%d, %d)", start, end, tt.start, tt.end)
			}
		})
	}
}

func TestMaskInstruction(t *testing.T) {
	// mov dword [rip+0x10], 1
	inst := disasm.Inst{Len: 10, Operands: []disasm.Operand{
		{Kind: disasm.KindMemory, Offset: 2},
		{Kind: disasm.KindImmediate, Offset: 6},
	}}
	raw := []byte{0xC7, 0x05, 0x10, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}

	got := MaskInstruction(inst, raw)
	want := []bool{false, false, true, true, true, true, true, true, true, true}
	for i := range got {
		if got[i].Byte != raw[i] {
			t.Errorf("byte %d = %#x, want %#x", i, got[i].Byte, raw[i])
		}
		if got[i].Masked != want[i] {
			t.Errorf("byte %d masked = %v, want %v", i, got[i].Masked, want[i])
		}
	}

	plain := MaskInstruction(disasm.Inst{Len: 1}, []byte{0xC3})
	if len(plain) != 1 || plain[0].Masked {
		t.Errorf("ret masked: %+v", plain)
	}
}
