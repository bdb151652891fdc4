package classify

import (
	"fmt"
	"regexp"

	"github.com/agentic-research/logreduce/api"
)

// Matcher finds the first substring of a line matching one pattern.
type Matcher interface {
	Pattern() string
	Find(line string) (string, bool)
}

var defaultIPv4 = regexp.MustCompile(api.DefaultIPPattern)

// ipv4Matcher is the built-in dotted-quad shape used when no IP patterns are configured.
type ipv4Matcher struct{}

func (ipv4Matcher) Pattern() string { return api.DefaultIPPattern }

func (ipv4Matcher) Find(line string) (string, bool) {
	loc := defaultIPv4.FindStringIndex(line)
	if loc == nil {
		return "", false
	}
	return line[loc[0]:loc[1]], true
}

// regexMatcher wraps a user supplied pattern.
type regexMatcher struct {
	src string
	re  *regexp.Regexp
}

func (m *regexMatcher) Pattern() string { return m.src }

func (m *regexMatcher) Find(line string) (string, bool) {
	loc := m.re.FindStringIndex(line)
	if loc == nil {
		return "", false
	}
	return line[loc[0]:loc[1]], true
}

// NewMatcher compiles pattern. The default IP pattern maps to the shared
// built-in matcher.
func NewMatcher(pattern string) (Matcher, error) {
	if pattern == api.DefaultIPPattern {
		return ipv4Matcher{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &regexMatcher{src: pattern, re: re}, nil
}

// PatternError reports a pattern that failed to compile.
type PatternError struct {
	Kind    Kind
	Index   int
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("%s pattern #%d %q: %v", e.Kind, e.Index+1, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }
