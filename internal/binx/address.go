package binx

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Address is a virtual address inside a loaded image.
type Address uint64

// EndOfImage is an open upper bound for searches: "until the end of the image".
const EndOfImage Address = math.MaxUint64

// String returns the hexadecimal representation of the address
func (a Address) String() string {
	return fmt.Sprintf("0x%X", uint64(a))
}

// ParseAddress parses "0x401000", "401000h" or a bare hex string.
func ParseAddress(s string) (Address, error) {
	t := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(t, "0x"), strings.HasPrefix(t, "0X"):
		t = t[2:]
	case strings.HasSuffix(t, "h"), strings.HasSuffix(t, "H"):
		t = t[:len(t)-1]
	}
	if t == "" {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	v, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address(v), nil
}
