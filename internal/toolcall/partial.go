package toolcall

import "strings"

// PotentialStartIndex returns the earliest index in buf where needle could
// begin: either a complete match, or a suffix of buf that is a prefix of
// needle (a "partial tag" straddling the buffer tail). Returns -1 if
// neither occurs.
//
// Callers use this to decide how much of buf is safe to publish as text:
// everything before the returned index is definitely not part of needle
// and can be flushed; everything from the index onward must be withheld
// until either the match completes or more text proves it is not needle
// (spec invariant 4).
func PotentialStartIndex(buf, needle string) int {
	if needle == "" {
		return -1
	}

	if idx := strings.Index(buf, needle); idx != -1 {
		return idx
	}

	// Search for the longest suffix of buf that is a prefix of needle,
	// scanning from longest candidate to shortest so the earliest (and
	// longest) legitimate withhold point wins.
	maxLen := len(needle) - 1
	if maxLen > len(buf) {
		maxLen = len(buf)
	}

	for length := maxLen; length > 0; length-- {
		start := len(buf) - length
		if strings.HasPrefix(needle, buf[start:]) {
			return start
		}
	}

	return -1
}

// EscapeRegexLiteral escapes s so it can be embedded in a regexp pattern
// as a literal, matching the subset of metacharacters that show up in
// user-supplied delimiters.
func EscapeRegexLiteral(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '.', '+', '*', '?', '(', ')', '|', '[', ']', '{', '}', '^', '$':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
