// Package scanner grows a masked byte signature instruction by instruction
// from a start address until it identifies that address within its image.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"sigmaker/internal/binx"
	"sigmaker/internal/disasm"
	"sigmaker/internal/pattern"
)

var (
	// ErrDecodeFailure means the bytes at the cursor are not a decodable
	// instruction. The partial buffer stays available for inspection.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrEmptySignature means every byte of the grown pattern was masked.
	ErrEmptySignature = errors.New("empty signature")
	// ErrBudgetExceeded means the instruction or byte cap was reached before
	// the pattern became unique.
	ErrBudgetExceeded = errors.New("signature budget exceeded")
)

// Result is the outcome of one growth step.
type Result int

const (
	// Continue means the pattern is not unique yet and another step is needed.
	Continue Result = iota
	// Found means the pattern identifies the start address.
	Found
	// Failed means the scan stopped without a signature; see Err.
	Failed
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "continue"
	case Found:
		return "found"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Searcher finds the first occurrence of a textual pattern whose start lies in
// [lo, hi). hi may be binx.EndOfImage.
type Searcher interface {
	Find(query string, lo, hi binx.Address) (binx.Address, bool)
}

// Image is what the scanner needs from a loaded binary.
type Image interface {
	Searcher
	ByteAt(addr binx.Address) (byte, error)
	MinAddress() binx.Address
}

// Options configure a scan.
type Options struct {
	// Unique requires the signature to occur exactly once in the whole image
	// instead of only not occurring before the start address.
	Unique bool
	// Wildcard is the byte FormatCustom renders masked positions as.
	Wildcard byte
	// MaxInstructions and MaxBytes bound growth; zero means unbounded.
	MaxInstructions int
	MaxBytes        int
	Logger          *log.Logger
}

// DefaultOptions returns sequential (non-unique) options with the default
// custom wildcard and no growth caps.
func DefaultOptions() Options {
	return Options{Wildcard: pattern.DefaultWildcard}
}

// Scanner owns the state of a single scan. It is not reusable.
type Scanner struct {
	img    Image
	dec    disasm.Decoder
	opts   Options
	log    *log.Logger
	start  binx.Address
	cursor binx.Address
	buf    pattern.Buffer
	insts  []disasm.Inst
	done   bool
	failed bool
	err    error
}

// New creates a scanner positioned at start with an empty pattern.
func New(img Image, dec disasm.Decoder, start binx.Address, opts Options) *Scanner {
	lg := opts.Logger
	if lg == nil {
		lg = log.New(io.Discard)
	}
	return &Scanner{
		img:    img,
		dec:    dec,
		opts:   opts,
		log:    lg,
		start:  start,
		cursor: start,
	}
}

// Scan grows the signature until it is found, the scan fails or ctx is
// cancelled.
func (s *Scanner) Scan(ctx context.Context) error {
	for !s.done {
		if err := ctx.Err(); err != nil {
			s.fail(err)
			break
		}
		s.Step()
	}
	return s.err
}

// Step processes one instruction and evaluates the termination predicate.
// Once the scan has terminated Step keeps returning the terminal result.
func (s *Scanner) Step() Result {
	if s.done {
		if s.failed {
			return Failed
		}
		return Found
	}

	inst, err := s.dec.Decode(s.cursor)
	if err == nil && inst.Len <= 0 {
		err = errors.New("zero length instruction")
	}
	if err != nil {
		return s.fail(fmt.Errorf("%w at %s: %v", ErrDecodeFailure, s.cursor, err))
	}

	raw := make([]byte, inst.Len)
	for i := range raw {
		b, err := s.img.ByteAt(s.cursor + binx.Address(i))
		if err != nil {
			return s.fail(fmt.Errorf("%w at %s: %v", ErrDecodeFailure, s.cursor, err))
		}
		raw[i] = b
	}

	s.buf.AppendAll(MaskInstruction(inst, raw))
	s.insts = append(s.insts, inst)
	s.cursor += binx.Address(inst.Len)

	s.log.Debug("processed instruction",
		"addr", inst.Addr,
		"text", inst.Text,
		"len", inst.Len,
		"pattern", s.buf.Len())

	if s.satisfied() {
		s.done = true
		s.buf.TrimMaskedEdges()
		if s.buf.Len() == 0 {
			return s.fail(ErrEmptySignature)
		}
		s.log.Debug("signature found", "bytes", s.buf.Len(), "instructions", len(s.insts))
		return Found
	}

	if s.opts.MaxInstructions > 0 && len(s.insts) >= s.opts.MaxInstructions {
		return s.fail(fmt.Errorf("%w: %d instructions", ErrBudgetExceeded, len(s.insts)))
	}
	if s.opts.MaxBytes > 0 && s.buf.Len() >= s.opts.MaxBytes {
		return s.fail(fmt.Errorf("%w: %d bytes", ErrBudgetExceeded, s.buf.Len()))
	}
	return Continue
}

func (s *Scanner) fail(err error) Result {
	s.done = true
	s.failed = true
	s.err = err
	s.log.Debug("scan failed", "cursor", s.cursor, "err", err)
	return Failed
}

func (s *Scanner) satisfied() bool {
	if s.buf.Len() == 0 {
		return false
	}
	q := s.buf.Query()
	if s.opts.Unique {
		return GloballyUnique(s.img, q, s.img.MinAddress(), s.start)
	}
	return SequentiallyUnique(s.img, q, s.img.MinAddress(), s.start)
}

// HasError reports whether the scan terminated without a usable signature.
func (s *Scanner) HasError() bool {
	return s.failed
}

// Err returns the reason the scan failed, or nil.
func (s *Scanner) Err() error {
	return s.err
}

// Done reports whether the scan has terminated.
func (s *Scanner) Done() bool {
	return s.done
}

// Len returns the signature length in bytes, or 0 if the scan failed.
func (s *Scanner) Len() int {
	if s.failed {
		return 0
	}
	return s.buf.Len()
}

// Signature renders the signature. It returns "" if the scan failed.
func (s *Scanner) Signature(f pattern.Format) string {
	if s.failed {
		return ""
	}
	return s.buf.Render(f, s.opts.Wildcard)
}

// Buffer exposes the pattern, including a partial one after a failure.
func (s *Scanner) Buffer() *pattern.Buffer {
	return &s.buf
}

// Instructions returns the instructions consumed so far.
func (s *Scanner) Instructions() []disasm.Inst {
	return s.insts
}

// Start returns the address the scan started at.
func (s *Scanner) Start() binx.Address {
	return s.start
}

// Cursor returns the address of the next instruction to process.
func (s *Scanner) Cursor() binx.Address {
	return s.cursor
}
