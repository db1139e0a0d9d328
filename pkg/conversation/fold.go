package conversation

import (
	"unicode"
	"unicode/utf8"
)

// IndexFold returns the byte range in s of the first occurrence of substr
// under simple Unicode case folding, or -1, -1. Runes are compared one to
// one, so ligatures, superscripts and width variants only match themselves.
// An empty substr never matches.
func IndexFold(s string, substr string) (int, int) {
	if substr == "" {
		return -1, -1
	}
	for i := range s {
		if n, ok := hasPrefixFold(s[i:], substr); ok {
			return i, i + n
		}
	}
	return -1, -1
}

// ContainsFold reports whether substr occurs in s, ignoring case.
func ContainsFold(s string, substr string) bool {
	start, _ := IndexFold(s, substr)
	return start >= 0
}

// hasPrefixFold returns the byte length of the prefix of s that folds to
// prefix.
func hasPrefixFold(s string, prefix string) (int, bool) {
	n := 0
	for _, want := range prefix {
		if n >= len(s) {
			return 0, false
		}
		r, size := utf8.DecodeRuneInString(s[n:])
		if !equalFoldRune(r, want) {
			return 0, false
		}
		n += size
	}
	return n, true
}

func equalFoldRune(a rune, b rune) bool {
	if a == b {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}
