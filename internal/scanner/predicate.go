package scanner

import (
	"strings"

	"sigmaker/internal/binx"
)

// SequentiallyUnique reports whether query does not occur anywhere in
// [lo, start). Occurrences at or after start are ignored: a consumer that
// scans forward and stops at the first hit still lands on start.
func SequentiallyUnique(s Searcher, query string, lo, start binx.Address) bool {
	if strings.TrimSpace(query) == "" {
		return false
	}
	_, found := s.Find(query, lo, start)
	return !found
}

// GloballyUnique reports whether query occurs nowhere in the image, or only
// at start.
func GloballyUnique(s Searcher, query string, lo, start binx.Address) bool {
	if strings.TrimSpace(query) == "" {
		return false
	}
	first, found := s.Find(query, lo, binx.EndOfImage)
	if !found {
		return true
	}
	if first != start {
		return false
	}
	_, again := s.Find(query, start+1, binx.EndOfImage)
	return !again
}
