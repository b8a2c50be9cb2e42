// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package capability

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// compiledPattern holds a pattern and its compiled glob for efficient matching.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Filter restricts an invocation pass to endpoints whose qualified name
// ("Module.Type") matches at least one pattern. The zero Filter allows
// every endpoint.
//
// Pattern matching uses gobwas/glob with '.' as the segment separator:
//   - '*' matches within one segment: "PluginA.*" matches "PluginA.Greeter"
//   - '**' crosses segments: "**" matches any endpoint
type Filter struct {
	patterns []compiledPattern
}

// NewFilter compiles patterns. An empty pattern or invalid glob syntax is
// an error and nothing is compiled.
func NewFilter(patterns []string) (*Filter, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("pattern %d: empty endpoint pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%q): %w", i, pattern, err)
		}
		compiled = append(compiled, compiledPattern{pattern: pattern, glob: g})
	}
	return &Filter{patterns: compiled}, nil
}

// Allows reports whether the endpoint typ of module may be invoked.
func (f *Filter) Allows(module, typ string) bool {
	if f == nil || len(f.patterns) == 0 {
		return true
	}
	name := module + "." + typ
	for _, p := range f.patterns {
		if p.glob.Match(name) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the source patterns.
func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.patterns))
	for i, p := range f.patterns {
		out[i] = p.pattern
	}
	return out
}

// EncodePatterns packs patterns into one context-local data value.
// Newlines separate patterns because commas are glob syntax.
func EncodePatterns(patterns []string) string {
	return strings.Join(patterns, "\n")
}

// DecodePatterns reverses EncodePatterns, dropping blank lines.
func DecodePatterns(value string) []string {
	var out []string
	for _, p := range strings.Split(value, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
