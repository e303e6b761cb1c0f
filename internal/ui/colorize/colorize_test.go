package colorize

import (
	"strings"
	"testing"

	"sigmaker/internal/binx"
)

func TestInstructionLine(t *testing.T) {
	tests := []struct {
		name    string
		noColor string
		arch    binx.Arch
	}{
		{"plain x86", "1", binx.ArchX8664},
		{"colored x86", "", binx.ArchX8664},
		{"colored arm64", "", binx.ArchARM64},
	}
	want := "0x401000  B8 ?? ?? ?? ??     mov eax, 0x1234"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SIGMAKER_NO_COLOR", tt.noColor)

			got := InstructionLine(tt.arch, "0x401000", "B8 ?? ?? ?? ??", 17, "mov eax, 0x1234")
			if tt.noColor != "" {
				if got != want {
					t.Errorf("InstructionLine() = %q, want %q", got, want)
				}
				return
			}
			if !strings.Contains(got, "\x1b[") {
				t.Errorf("no escape codes in %q", got)
			}
			if plain := StripANSI(got); strings.Join(strings.Fields(plain), " ") != strings.Join(strings.Fields(want), " ") {
				t.Errorf("StripANSI() = %q, want %q", plain, want)
			}
		})
	}
}

func TestStyleRegistered(t *testing.T) {
	if getDisasmStyle().Name != styleName {
		t.Errorf("style = %q, want %q", getDisasmStyle().Name, styleName)
	}
}
