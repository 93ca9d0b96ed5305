// Package pattern implements the skip-glob grammar used to protect target
// paths from deletion or overwrite.
//
// A pattern is a "/"-separated sequence of segments. Each segment is one of:
//   - a literal, compared for equality
//   - "*", exactly one non-empty path segment
//   - "**", zero or more whole path segments
//   - "*suffix" or "prefix*", a suffix or prefix comparison
//   - "**suffix", a suffix comparison that may also skip path segments
//
// The pattern "**" on its own matches every path.
package pattern

import (
	"strings"
)

const (
	doubleStar = "**"
	singleStar = "*"

	// maxTrailingDepth bounds how many path segments a trailing "**suffix"
	// segment of a multi-segment pattern may still have to consume.
	maxTrailingDepth = 2
)

// Validate reports whether pattern is well formed.
func Validate(pattern string) bool {
	pattern = strings.ReplaceAll(pattern, `\`, "/")
	if strings.Contains(pattern, "***") || strings.Contains(pattern, "//") {
		return false
	}

	segments := strings.Split(strings.TrimLeft(pattern, "/"), "/")

	hasDoubleStarSegment := false
	hasSingleWildcardSegment := false
	for _, seg := range segments {
		if seg == doubleStar {
			hasDoubleStarSegment = true
			continue
		}

		if markers(seg) > 1 {
			return false
		}

		if strings.Contains(seg, doubleStar) {
			// "**bar" is fine, "foo**bar" is not.
			if !strings.HasPrefix(seg, doubleStar) {
				return false
			}
			continue
		}

		if strings.Contains(seg, singleStar) {
			hasSingleWildcardSegment = true
		}
	}

	return !(hasDoubleStarSegment && hasSingleWildcardSegment)
}

// markers counts wildcard markers in a segment; "**" counts once.
func markers(seg string) int {
	doubles := strings.Count(seg, doubleStar)
	singles := strings.Count(strings.ReplaceAll(seg, doubleStar, ""), singleStar)
	return doubles + singles
}

// Match reports whether path matches pattern. Leading slashes are ignored
// and backslashes are treated as separators on both sides.
func Match(path, pattern string) bool {
	pattern = normalize(pattern)
	if pattern == doubleStar {
		return true
	}

	m := matcher{
		path:    strings.Split(normalize(path), "/"),
		pattern: strings.Split(pattern, "/"),
	}
	return m.match(0, 0)
}

// MatchAny reports whether path matches at least one pattern of the
// comma-separated list. An empty list matches nothing.
func MatchAny(path, patterns string) bool {
	for _, p := range splitList(patterns) {
		if Match(path, p) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.TrimLeft(strings.ReplaceAll(s, `\`, "/"), "/")
}

// splitList splits a comma-separated pattern list, trimming entries and
// dropping empty ones.
func splitList(patterns string) []string {
	var out []string
	for _, p := range strings.Split(patterns, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matcher holds the segment sequences of one Match call. match(i, j)
// reports whether path[i:] matches pattern[j:]; results are memoized per
// (i, j) so consecutive "**" segments stay polynomial.
type matcher struct {
	path    []string
	pattern []string
	memo    map[[2]int]bool
}

func (m *matcher) match(i, j int) bool {
	key := [2]int{i, j}
	if res, ok := m.memo[key]; ok {
		return res
	}
	res := m.step(i, j)
	if m.memo == nil {
		m.memo = make(map[[2]int]bool)
	}
	m.memo[key] = res
	return res
}

func (m *matcher) step(i, j int) bool {
	if j == len(m.pattern) {
		return i == len(m.path)
	}

	seg := m.pattern[j]

	if seg == doubleStar {
		if j == len(m.pattern)-1 {
			return true
		}
		for k := i; k <= len(m.path); k++ {
			if m.match(k, j+1) {
				return true
			}
		}
		return false
	}

	if i == len(m.path) {
		return false
	}
	cur := m.path[i]

	switch {
	case seg == singleStar:
		return cur != "" && m.match(i+1, j+1)

	case strings.HasPrefix(seg, doubleStar):
		if strings.HasSuffix(cur, strings.TrimPrefix(seg, doubleStar)) && m.match(i+1, j+1) {
			return true
		}
		last := j == len(m.pattern)-1
		if last && len(m.pattern) > 1 && len(m.path)-i > maxTrailingDepth {
			return false
		}
		return m.match(i+1, j)

	case strings.HasPrefix(seg, singleStar):
		return strings.HasSuffix(cur, strings.TrimPrefix(seg, singleStar)) && m.match(i+1, j+1)

	case strings.HasSuffix(seg, singleStar):
		return strings.HasPrefix(cur, strings.TrimSuffix(seg, singleStar)) && m.match(i+1, j+1)

	default:
		return cur == seg && m.match(i+1, j+1)
	}
}
