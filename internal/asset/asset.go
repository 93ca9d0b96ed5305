// Package asset classifies files as assets or logic by extension.
package asset

import (
	"path"
	"sort"
	"strings"
)

// DefaultExtensions are used when no asset extensions are configured.
var DefaultExtensions = []string{
	".css",
	".js",
	".map",
	".png",
	".jpg",
	".jpeg",
	".gif",
	".svg",
	".webp",
	".avif",
	".ico",
	".bmp",
	".woff",
	".woff2",
	".ttf",
	".otf",
	".eot",
	".txt",
	".json",
	".xml",
	".csv",
	".pdf",
	".mp3",
	".mp4",
	".webm",
}

// Kind is the classification of a file.
type Kind int

const (
	Logic Kind = iota
	Asset
)

func (k Kind) String() string {
	if k == Asset {
		return "asset"
	}
	return "logic"
}

// ExtensionSet is an immutable set of lower-cased extensions, each with a
// leading dot.
type ExtensionSet struct {
	exts map[string]struct{}
}

// NewExtensionSet builds a set from the given extensions. Entries are
// lower-cased and may be given with or without a leading dot.
func NewExtensionSet(exts ...string) ExtensionSet {
	s := ExtensionSet{exts: make(map[string]struct{}, len(exts))}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || e == "." {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		s.exts[e] = struct{}{}
	}
	return s
}

// Default returns the set built from DefaultExtensions.
func Default() ExtensionSet {
	return NewExtensionSet(DefaultExtensions...)
}

// ParseExtensions parses a comma-separated extension list. An empty list
// yields the default set.
func ParseExtensions(csv string) ExtensionSet {
	if strings.TrimSpace(csv) == "" {
		return Default()
	}
	return NewExtensionSet(strings.Split(csv, ",")...)
}

// IsAsset returns true if the lower-cased extension of p is in the set.
// Files without an extension are never assets.
func (s ExtensionSet) IsAsset(p string) bool {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(p, `\`, "/")))
	if ext == "" {
		return false
	}
	_, ok := s.exts[ext]
	return ok
}

// Classify returns Asset or Logic for p. The two kinds are exclusive.
func (s ExtensionSet) Classify(p string) Kind {
	if s.IsAsset(p) {
		return Asset
	}
	return Logic
}

// Extensions returns the sorted members of the set.
func (s ExtensionSet) Extensions() []string {
	out := make([]string, 0, len(s.exts))
	for e := range s.exts {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of extensions in the set.
func (s ExtensionSet) Len() int {
	return len(s.exts)
}
