package pattern

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyPattern is returned when a textual pattern has no tokens.
var ErrEmptyPattern = errors.New("empty pattern")

// Matcher is a compiled byte/wildcard pattern.
type Matcher struct {
	bytes  []byte
	mask   []bool
	anchor int // first unmasked index, -1 if every position is a wildcard
}

// Compile parses a textual pattern such as "8b 0d ? ? ? ? c3" or
// "8B 0D ?? ?? ?? ?? C3". Tokens are separated by whitespace; "?" and "??"
// are wildcards, everything else must be exactly two hex digits.
func Compile(text string) (*Matcher, error) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil, ErrEmptyPattern
	}

	m := &Matcher{
		bytes:  make([]byte, len(parts)),
		mask:   make([]bool, len(parts)),
		anchor: -1,
	}
	for i, part := range parts {
		if part == "?" || part == "??" {
			m.mask[i] = true
			continue
		}
		if len(part) != 2 {
			return nil, fmt.Errorf("invalid hex pattern: %s", part)
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex pattern: %s", part)
		}
		m.bytes[i] = byte(v)
		if m.anchor < 0 {
			m.anchor = i
		}
	}
	return m, nil
}

// FromBuffer compiles a matcher straight from a signature buffer.
func FromBuffer(b *Buffer) (*Matcher, error) {
	if b.Len() == 0 {
		return nil, ErrEmptyPattern
	}
	m := &Matcher{bytes: b.Bytes(), mask: b.Mask(), anchor: -1}
	for i, masked := range m.mask {
		if !masked {
			m.anchor = i
			break
		}
	}
	return m, nil
}

// Len returns the length of the pattern in bytes
func (m *Matcher) Len() int {
	return len(m.bytes)
}

// MatchAt checks if the pattern matches data at off.
func (m *Matcher) MatchAt(data []byte, off int) bool {
	if off < 0 || off+len(m.bytes) > len(data) {
		return false
	}
	for j, b := range m.bytes {
		if m.mask[j] {
			continue // Skip wildcards
		}
		if data[off+j] != b {
			return false
		}
	}
	return true
}

// Index returns the first offset >= from where the pattern matches, or -1.
func (m *Matcher) Index(data []byte, from int) int {
	if from < 0 {
		from = 0
	}
	last := len(data) - len(m.bytes)
	if m.anchor < 0 {
		if from <= last {
			return from
		}
		return -1
	}

	key := m.bytes[m.anchor]
	for from <= last {
		i := bytes.IndexByte(data[from+m.anchor:last+m.anchor+1], key)
		if i < 0 {
			return -1
		}
		pos := from + i
		if m.MatchAt(data, pos) {
			return pos
		}
		from = pos + 1
	}
	return -1
}

// String renders the matcher in the raw notation.
func (m *Matcher) String() string {
	var sb strings.Builder
	for i, b := range m.bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if m.mask[i] {
			sb.WriteString("??")
		} else {
			fmt.Fprintf(&sb, "%02X", b)
		}
	}
	return sb.String()
}
