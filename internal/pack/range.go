package pack

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Range is a version-membership predicate expressing a compatibility
// constraint declared by one package against another.
type Range struct {
	raw string
	c   *semver.Constraints
}

// ParseRange parses a constraint expression such as ">=2.0, <3.0".
func ParseRange(s string) (*Range, error) {
	c, err := semver.NewConstraint(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version range %q: %w", s, err)
	}
	return &Range{raw: s, c: c}, nil
}

// MustRange parses a constraint expression and panics on failure. For tests
// only.
func MustRange(s string) *Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Contains reports whether v satisfies the range.
func (r *Range) Contains(v *semver.Version) bool {
	return r.c.Check(v)
}

// String returns the range as originally written.
func (r *Range) String() string {
	return r.raw
}

// WithinRange reports whether v satisfies r. A nil range accepts any version.
func WithinRange(v *semver.Version, r *Range) bool {
	if r == nil {
		return true
	}
	return r.Contains(v)
}
