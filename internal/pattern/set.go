package pattern

import (
	"fmt"
	"strings"
)

// ValidationError lists the patterns of a set that failed validation.
type ValidationError struct {
	// Invalid holds the offending patterns in input order.
	Invalid []string
}

func (e *ValidationError) Error() string {
	quoted := make([]string, len(e.Invalid))
	for i, p := range e.Invalid {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return fmt.Sprintf("invalid skip pattern(s): %s", strings.Join(quoted, ", "))
}

// Set is a validated list of patterns. The zero value matches nothing.
type Set struct {
	patterns []string
}

// ParseSet splits a comma-separated list and validates every entry. A
// single invalid pattern invalidates the whole set.
func ParseSet(patterns string) (Set, error) {
	list := splitList(patterns)

	var invalid []string
	for _, p := range list {
		if !Validate(p) {
			invalid = append(invalid, p)
		}
	}
	if len(invalid) > 0 {
		return Set{}, &ValidationError{Invalid: invalid}
	}

	return Set{patterns: list}, nil
}

// MustParseSet is like ParseSet but panics on invalid input.
func MustParseSet(patterns string) Set {
	s, err := ParseSet(patterns)
	if err != nil {
		panic(err)
	}
	return s
}

// Match reports whether path matches any pattern in the set.
func (s Set) Match(path string) bool {
	for _, p := range s.patterns {
		if Match(path, p) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the patterns in the set.
func (s Set) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

// Empty reports whether the set has no patterns.
func (s Set) Empty() bool {
	return len(s.patterns) == 0
}

func (s Set) String() string {
	return strings.Join(s.patterns, ",")
}
