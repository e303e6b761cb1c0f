package pattern

import (
	"fmt"
	"strings"
)

// Format selects a signature notation.
type Format int

const (
	// FormatRaw is the spaced hex notation: "B8 ?? ?? ?? ?? C3".
	FormatRaw Format = iota
	// FormatCArray is an escaped C string with masked bytes as \x00, followed
	// by a newline and an x/? mask string.
	FormatCArray
	// FormatPattern is an escaped string with masked bytes as \x2A.
	FormatPattern
	// FormatCustom is FormatPattern with a caller supplied wildcard byte.
	FormatCustom
)

// DefaultWildcard is the FormatCustom wildcard unless configured otherwise.
const DefaultWildcard byte = 0xDD

const patternWildcard byte = 0x2A

var formatNames = map[Format]string{
	FormatRaw:     "raw",
	FormatCArray:  "c",
	FormatPattern: "pattern",
	FormatCustom:  "custom",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Formats lists the format names accepted by ParseFormat.
func Formats() []string {
	return []string{"raw", "c", "pattern", "custom"}
}

// ParseFormat resolves a format name. "ida" and "sourcemod" are accepted as
// aliases of raw and pattern.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "ida", "":
		return FormatRaw, nil
	case "c", "c-array", "carray":
		return FormatCArray, nil
	case "pattern", "sourcemod", "sm":
		return FormatPattern, nil
	case "custom":
		return FormatCustom, nil
	}
	return FormatRaw, fmt.Errorf("unknown signature format %q (want one of %s)", s, strings.Join(Formats(), ", "))
}

// Render formats the buffer. wildcard is only used by FormatCustom.
func (b *Buffer) Render(f Format, wildcard byte) string {
	switch f {
	case FormatRaw:
		return b.renderRaw()
	case FormatCArray:
		return b.renderEscaped(0x00) + "\n" + b.renderMask()
	case FormatPattern:
		return b.renderEscaped(patternWildcard)
	case FormatCustom:
		return b.renderEscaped(wildcard)
	default:
		return ""
	}
}

func (b *Buffer) renderRaw() string {
	var sb strings.Builder
	for i, s := range b.bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if s.Masked {
			sb.WriteString("??")
		} else {
			fmt.Fprintf(&sb, "%02X", s.Byte)
		}
	}
	return sb.String()
}

func (b *Buffer) renderEscaped(wildcard byte) string {
	var sb strings.Builder
	for _, s := range b.bytes {
		v := s.Byte
		if s.Masked {
			v = wildcard
		}
		fmt.Fprintf(&sb, "\\x%02X", v)
	}
	return sb.String()
}

func (b *Buffer) renderMask() string {
	var sb strings.Builder
	for _, s := range b.bytes {
		if s.Masked {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('x')
		}
	}
	return sb.String()
}
