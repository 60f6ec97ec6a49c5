// Package resolver checks every local package's declared version ranges
// against the other locals and against a resolved snapshot, aggregating
// every conflict so users see all problems at once.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/gitter-badger/stack/internal/pack"
)

// ConflictKind discriminates the resolution failure cases.
type ConflictKind int

const (
	// MismatchedLocalDep: a local package's version falls outside a range
	// another local declared on it.
	MismatchedLocalDep ConflictKind = iota
	// MissingDependency: a declared dependency has no snapshot candidate.
	MissingDependency
	// MismatchedDependency: the snapshot's candidate version falls
	// outside the declared range.
	MismatchedDependency
)

// Conflict is one resolution failure, attributed to the package that
// declared the offending range.
type Conflict struct {
	Kind ConflictKind
	// Dep is the dependency name the range was declared on.
	Dep pack.Name
	// Version is the version found (the local package's own version, or
	// the snapshot candidate); nil for MissingDependency.
	Version *semver.Version
	// By is the package that declared the range.
	By pack.Name
	// Range is the declared constraint.
	Range *pack.Range
}

func (c Conflict) Error() string {
	switch c.Kind {
	case MismatchedLocalDep:
		return fmt.Sprintf("local package %s-%s does not satisfy range %q declared by %s", c.Dep, c.Version, c.Range, c.By)
	case MissingDependency:
		return fmt.Sprintf("no candidate for dependency %s (range %q declared by %s)", c.Dep, c.Range, c.By)
	case MismatchedDependency:
		return fmt.Sprintf("snapshot candidate %s-%s does not satisfy range %q declared by %s", c.Dep, c.Version, c.Range, c.By)
	default:
		return fmt.Sprintf("unknown conflict on %s", c.Dep)
	}
}

// Conflicts aggregates every conflict of a resolution pass into a single
// error. Resolution never fails one problem at a time.
type Conflicts []Conflict

func (cs Conflicts) Error() string {
	lines := make([]string, 0, len(cs)+1)
	lines = append(lines, fmt.Sprintf("%d dependency resolution conflict(s):", len(cs)))
	for _, c := range cs {
		lines = append(lines, "  "+c.Error())
	}
	return strings.Join(lines, "\n")
}

// Wanted maps each still-unresolved dependency name to the ranges declared
// on it, keyed by declaring package for diagnostics.
type Wanted map[pack.Name]map[pack.Name]*pack.Range

// ResolveLocal unions every local package's declared ranges, verifies that
// ranges declared on other locals are satisfied by those locals' versions,
// and strips locally satisfied names from the result. Locally provided
// dependencies are never sent to external resolution, whether or not they
// matched.
func ResolveLocal(locals []*pack.Package) (Wanted, Conflicts) {
	wanted := make(Wanted)
	for _, p := range locals {
		for dep, r := range p.Deps {
			byPkg := wanted[dep]
			if byPkg == nil {
				byPkg = make(map[pack.Name]*pack.Range)
				wanted[dep] = byPkg
			}
			byPkg[p.Name] = r
		}
	}

	var conflicts Conflicts
	for _, p := range locals {
		byPkg, declared := wanted[p.Name]
		if declared {
			for _, by := range sortedNames(byPkg) {
				r := byPkg[by]
				if !pack.WithinRange(p.Version, r) {
					conflicts = append(conflicts, Conflict{
						Kind:    MismatchedLocalDep,
						Dep:     p.Name,
						Version: p.Version,
						By:      by,
						Range:   r,
					})
				}
			}
		}
		delete(wanted, p.Name)
	}

	if len(conflicts) > 0 {
		return nil, conflicts
	}
	return wanted, nil
}

// Lookup is the external snapshot collaborator: a pure function from a
// dependency name to its chosen version and flags.
type Lookup func(pack.Name) (pack.ResolvedDep, bool)

// ResolveSnapshot chooses a concrete version for every remaining wanted
// dependency via the snapshot. Every missing or out-of-range candidate is
// recorded; any conflict aborts with the full list and no partial result.
func ResolveSnapshot(wanted Wanted, lookup Lookup) (pack.ResolvedSet, Conflicts) {
	resolved := make(pack.ResolvedSet, len(wanted))
	var conflicts Conflicts

	for _, dep := range sortedWanted(wanted) {
		byPkg := wanted[dep]
		candidate, ok := lookup(dep)
		for _, by := range sortedNames(byPkg) {
			r := byPkg[by]
			if !ok {
				conflicts = append(conflicts, Conflict{
					Kind:  MissingDependency,
					Dep:   dep,
					By:    by,
					Range: r,
				})
				continue
			}
			if !pack.WithinRange(candidate.Version, r) {
				conflicts = append(conflicts, Conflict{
					Kind:    MismatchedDependency,
					Dep:     dep,
					Version: candidate.Version,
					By:      by,
					Range:   r,
				})
			}
		}
		if ok {
			resolved[dep] = candidate
		}
	}

	if len(conflicts) > 0 {
		return nil, conflicts
	}
	return resolved, nil
}

func sortedNames(byPkg map[pack.Name]*pack.Range) []pack.Name {
	names := make([]pack.Name, 0, len(byPkg))
	for n := range byPkg {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func sortedWanted(w Wanted) []pack.Name {
	names := make([]pack.Name, 0, len(w))
	for n := range w {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
