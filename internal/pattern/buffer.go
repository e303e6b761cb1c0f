// Package pattern holds signature byte sequences with per-byte masks, renders
// them into the supported notations and compiles textual patterns for search.
package pattern

import (
	"strings"
)

// SigByte is one byte of a signature and whether it is a wildcard.
type SigByte struct {
	Byte   byte
	Masked bool
}

// Buffer is an ordered, growing sequence of SigBytes. It keeps the searcher
// query text up to date as bytes are appended so growth steps never re-render
// the whole pattern.
type Buffer struct {
	bytes []SigByte
	query strings.Builder
}

const hexDigits = "0123456789abcdef"

// Append adds one byte at the end of the buffer.
func (b *Buffer) Append(v byte, masked bool) {
	b.bytes = append(b.bytes, SigByte{Byte: v, Masked: masked})
	b.appendQuery(v, masked)
}

// AppendAll adds bytes in order.
func (b *Buffer) AppendAll(sb []SigByte) {
	for _, s := range sb {
		b.Append(s.Byte, s.Masked)
	}
}

func (b *Buffer) appendQuery(v byte, masked bool) {
	if masked {
		b.query.WriteString("? ")
		return
	}
	b.query.WriteByte(hexDigits[v>>4])
	b.query.WriteByte(hexDigits[v&0x0f])
	b.query.WriteByte(' ')
}

// Query returns the pattern in the searcher's native text form: lowercase
// hex, "?" for wildcards, every token followed by a space.
func (b *Buffer) Query() string {
	return b.query.String()
}

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int {
	return len(b.bytes)
}

// At returns the i-th byte.
func (b *Buffer) At(i int) SigByte {
	return b.bytes[i]
}

// Bytes returns a copy of the raw byte values.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, len(b.bytes))
	for i, s := range b.bytes {
		out[i] = s.Byte
	}
	return out
}

// Mask returns a copy of the wildcard flags.
func (b *Buffer) Mask() []bool {
	out := make([]bool, len(b.bytes))
	for i, s := range b.bytes {
		out[i] = s.Masked
	}
	return out
}

// MaskedCount returns how many bytes are wildcards.
func (b *Buffer) MaskedCount() int {
	n := 0
	for _, s := range b.bytes {
		if s.Masked {
			n++
		}
	}
	return n
}

// TrimMaskedEdges removes wildcards from the back and then from the front.
// A fully masked buffer ends up empty.
func (b *Buffer) TrimMaskedEdges() {
	end := len(b.bytes)
	for end > 0 && b.bytes[end-1].Masked {
		end--
	}
	start := 0
	for start < end && b.bytes[start].Masked {
		start++
	}
	if start == 0 && end == len(b.bytes) {
		return
	}

	b.bytes = append([]SigByte(nil), b.bytes[start:end]...)
	b.query.Reset()
	for _, s := range b.bytes {
		b.appendQuery(s.Byte, s.Masked)
	}
}
