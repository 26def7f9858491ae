package utils

import (
	"path/filepath"
	"strings"
)

// PatternMatcher filters application names against shell-style include and
// exclude patterns. Matching is case-insensitive. With no include patterns
// every name is included unless excluded.
type PatternMatcher struct {
	includes []string
	excludes []string
}

func NewPatternMatcher(includes, excludes []string) *PatternMatcher {
	return &PatternMatcher{
		includes: lowerAll(includes),
		excludes: lowerAll(excludes),
	}
}

func (m *PatternMatcher) Match(name string) bool {
	name = strings.ToLower(name)
	for _, pattern := range m.excludes {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return false
		}
	}
	if len(m.includes) == 0 {
		return true
	}
	for _, pattern := range m.includes {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func lowerAll(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
