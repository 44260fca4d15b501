// Package pathglob matches slash-separated relative paths against globs.
//
// Patterns use gobwas/glob syntax with '/' as the separator, so '*' stays
// within one path segment and '**' spans any number of them. As in most
// build tools, a "/**/" segment also matches zero directories:
// "sass/**/*.scss" matches "sass/main.scss".
package pathglob

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// A Glob is a compiled pattern.
type Glob struct {
	pattern string
	globs   []glob.Glob
}

// Compile parses a pattern.
func Compile(pattern string) (Glob, error) {
	pattern = filepath.ToSlash(path.Clean(filepath.ToSlash(pattern)))
	g := Glob{pattern: pattern}
	for _, variant := range variants(pattern) {
		compiled, err := glob.Compile(variant, '/')
		if err != nil {
			return Glob{}, fmt.Errorf("invalid glob '%s': %w", pattern, err)
		}
		g.globs = append(g.globs, compiled)
	}
	return g, nil
}

// MustCompile is like Compile but panics on a bad pattern.
func MustCompile(pattern string) Glob {
	g, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return g
}

// Match reports whether the slash-separated path p matches the pattern.
func (g Glob) Match(p string) bool {
	p = filepath.ToSlash(p)
	for _, compiled := range g.globs {
		if compiled.Match(p) {
			return true
		}
	}
	return false
}

func (g Glob) String() string { return g.pattern }

// IsLiteral reports whether the pattern has no wildcards at all.
func (g Glob) IsLiteral() bool { return !hasMeta(g.pattern) }

// Root returns the longest leading run of wildcard-free segments, which is
// the directory that must be watched or walked to find every match.
//
// For example, given "src/website/**/*.js", Root is "src/website". For a
// literal pattern, Root is the pattern itself.
func (g Glob) Root() string {
	segments := strings.Split(g.pattern, "/")
	for i, seg := range segments {
		if hasMeta(seg) {
			if i == 0 {
				return "."
			}
			return strings.Join(segments[:i], "/")
		}
	}
	return g.pattern
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// variants expands every "**/" into both itself and nothing, so that globstars
// can match zero directories.
func variants(pattern string) []string {
	i := strings.Index(pattern, "**/")
	if i < 0 {
		return []string{pattern}
	}
	head, tail := pattern[:i], pattern[i+len("**/"):]
	var out []string
	for _, rest := range variants(tail) {
		out = append(out, head+"**/"+rest, head+rest)
	}
	return out
}
