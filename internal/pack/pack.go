// Package pack defines the immutable package descriptors shared by the
// resolver, the config cache and the task graph.
package pack

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Name is a package name, unique among local packages within a project.
type Name string

// Kind classifies how a package entered the working set.
type Kind int

const (
	// KindLocal marks a package built directly from the user's working tree.
	KindLocal Kind = iota
	// KindDependency marks a package materialized from a resolved snapshot.
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindDependency:
		return "dependency"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Package describes one member of the working set. It is immutable once
// constructed from its manifest.
type Package struct {
	Name        Name
	Version     *semver.Version
	Deps        map[Name]*Range
	Flags       map[string]bool
	SourceFiles []string
	Kind        Kind
	// Dir is the package's root directory on disk.
	Dir string
	// HasLibrary reports whether the package exposes an installable
	// library surface, and therefore must register an installed
	// package id after install.
	HasLibrary bool
}

// ParseVersion parses a semantic version string.
func ParseVersion(s string) (*semver.Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return v, nil
}

// MustVersion parses a version string and panics on failure. For tests and
// package-level literals only.
func MustVersion(s string) *semver.Version {
	return semver.MustParse(s)
}

// ResolvedDep is the concrete version and flag assignment chosen for an
// externally resolved dependency.
type ResolvedDep struct {
	Version *semver.Version
	Flags   map[string]bool
}

// ResolvedSet maps every externally resolved dependency name to its chosen
// version and flags. It is produced once per build invocation and treated
// as read-only thereafter.
type ResolvedSet map[Name]ResolvedDep
