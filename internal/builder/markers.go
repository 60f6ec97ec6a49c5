package builder

import (
	"github.com/gitter-badger/stack/internal/fsutil"
	"github.com/gitter-badger/stack/internal/manifest"
	"github.com/gitter-badger/stack/internal/pack"
	"github.com/gitter-badger/stack/internal/workdir"
)

// MarkerState is the per-package build state machine encoded by the two
// sentinel files. Transitions are driven only by completed graph actions.
type MarkerState int

const (
	Unconfigured MarkerState = iota
	Configured
	Built
)

// State reads the marker files into the package's current state.
func State(pkgDir string) MarkerState {
	if fsutil.Exists(workdir.BuiltMarker(pkgDir)) {
		return Built
	}
	if fsutil.Exists(workdir.ConfiguredMarker(pkgDir)) {
		return Configured
	}
	return Unconfigured
}

// ConfigureCurrent reports whether the configure stage's marker is newer
// than all its prerequisites: the package manifest, and every working-set
// dependency's built marker.
func (b *Builder) ConfigureCurrent(p *pack.Package) bool {
	marker, ok := fsutil.ModTime(workdir.ConfiguredMarker(p.Dir))
	if !ok {
		return false
	}

	if mt, ok := fsutil.ModTime(manifest.ManifestPath(p.Dir)); !ok || mt.After(marker) {
		return false
	}

	for dep := range p.Deps {
		depPkg, inSet := b.working[dep]
		if !inSet {
			continue
		}
		mt, ok := fsutil.ModTime(workdir.BuiltMarker(depPkg.Dir))
		if !ok || mt.After(marker) {
			return false
		}
	}
	return true
}

// BuildCurrent reports whether the build stage's marker is newer than all
// its prerequisites: the configured marker and every declared source file.
// A pending forced recompile always reports stale, independent of marker
// timestamps.
func (b *Builder) BuildCurrent(p *pack.Package) bool {
	if b.storedConfig(p.Name).ForceRecomp {
		return false
	}

	marker, ok := fsutil.ModTime(workdir.BuiltMarker(p.Dir))
	if !ok {
		return false
	}

	if mt, ok := fsutil.ModTime(workdir.ConfiguredMarker(p.Dir)); !ok || mt.After(marker) {
		return false
	}

	for _, src := range p.SourceFiles {
		mt, ok := fsutil.ModTime(src)
		if !ok || mt.After(marker) {
			return false
		}
	}
	return true
}
