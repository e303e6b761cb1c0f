package binx

import (
	"sigmaker/internal/pattern"
)

// Find returns the first address in [lo, hi) at which the textual pattern
// query matches. hi may be EndOfImage. A match never spans two segments.
func (im *Image) Find(query string, lo, hi Address) (Address, bool) {
	m, err := pattern.Compile(query)
	if err != nil {
		return 0, false
	}
	return im.FindPattern(m, lo, hi)
}

// FindPattern is Find for an already compiled matcher.
func (im *Image) FindPattern(m *pattern.Matcher, lo, hi Address) (Address, bool) {
	if lo >= hi {
		return 0, false
	}
	for _, s := range im.Segs {
		if s.End() <= lo || s.Vaddr >= hi {
			continue
		}

		from := 0
		if lo > s.Vaddr {
			from = int(lo - s.Vaddr)
		}
		limit := s.Filesz
		if hi < s.End() {
			limit = uint64(hi - s.Vaddr)
		}

		off := m.Index(im.data(s), from)
		if off >= 0 && uint64(off) < limit {
			return s.Vaddr + Address(off), true
		}
	}
	return 0, false
}

// FindAll calls fn for every match in the image in address order until fn
// returns false.
func (im *Image) FindAll(m *pattern.Matcher, fn func(Address) bool) {
	for _, s := range im.Segs {
		data := im.data(s)
		for off := m.Index(data, 0); off >= 0; off = m.Index(data, off+1) {
			if !fn(s.Vaddr + Address(off)) {
				return
			}
		}
	}
}
