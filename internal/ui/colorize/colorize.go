package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"sigmaker/internal/binx"
)

const (
	ansiReset = "\033[0m"
	ansiGray  = "\033[38;2;79;79;79m"
	ansiPink  = "\033[38;2;255;95;135m"
	ansiWhite = "\033[38;2;255;255;255m"
)

// Enabled reports whether output may be colored. SIGMAKER_NO_COLOR disables it.
func Enabled() bool {
	return os.Getenv("SIGMAKER_NO_COLOR") == ""
}

// lexerFor returns an assembly lexer for arch with fallbacks
func lexerFor(arch binx.Arch) chroma.Lexer {
	candidates := []string{"nasm", "gas"}
	if arch == binx.ArchARM64 {
		candidates = []string{"armasm", "gas", "nasm"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{styleName, "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Assembly highlights a block of assembly text for arch.
func Assembly(arch binx.Arch, code string) (string, error) {
	if !Enabled() {
		return code, nil
	}

	lexer := lexerFor(arch)
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}
	out := buf.String()
	if strings.HasSuffix(code, "\n") {
		return out, nil
	}
	// Drop the newline the lexer appends, which may be followed by escapes.
	if i := strings.LastIndex(out, "\n"); i >= 0 && StripANSI(out[i+1:]) == "" {
		out = out[:i] + out[i+1:]
	}
	return out, nil
}

// InstructionLine renders one listing line: the address, the signature bytes
// of the instruction padded to width, and the disassembly text.
//
// Format: "0x401000  B8 ?? ?? ?? ??    mov eax, 0x1234"
func InstructionLine(arch binx.Arch, addr, sigBytes string, width int, text string) string {
	pad := ""
	if n := width - len(sigBytes); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	if !Enabled() {
		return fmt.Sprintf("%s  %s%s  %s", addr, sigBytes, pad, text)
	}

	colored, err := Assembly(arch, text)
	if err != nil {
		colored = text
	}
	return fmt.Sprintf("%s%s%s  %s%s  %s", ansiGray, addr, ansiReset, colorizeBytes(sigBytes), pad, colored)
}

// colorizeBytes shows wildcards in pink and concrete bytes in white.
func colorizeBytes(s string) string {
	var b strings.Builder
	for i, tok := range strings.Fields(s) {
		if i > 0 {
			b.WriteByte(' ')
		}
		if tok == "??" || tok == "?" {
			b.WriteString(ansiPink + tok + ansiReset)
		} else {
			b.WriteString(ansiWhite + tok + ansiReset)
		}
	}
	return b.String()
}

// StripANSI removes ANSI escape codes.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
