// Package genconfig persists the per-package record of the configuration
// that produced the artifacts currently on disk, and owns the cache
// invalidation policy built on it.
package genconfig

import (
	"context"
	"maps"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gitter-badger/stack/internal/ctxlog"
	"github.com/gitter-badger/stack/internal/fsutil"
	"github.com/gitter-badger/stack/internal/pack"
	"github.com/gitter-badger/stack/internal/workdir"
)

// GenConfig is the persisted record. Its absence or unparseable content is
// always recoverable: the package is simply rebuilt from defaults.
type GenConfig struct {
	Optimize     bool            `yaml:"optimize"`
	ForceRecomp  bool            `yaml:"force-recompile"`
	LibProfiling bool            `yaml:"library-profiling"`
	ExeProfiling bool            `yaml:"executable-profiling"`
	GhcOptions   []string        `yaml:"ghc-options"`
	Flags        map[string]bool `yaml:"flags"`
	// InstalledPackageID is set if and only if the most recent install
	// succeeded and the package exposes an installable surface.
	InstalledPackageID string `yaml:"installed-package-id,omitempty"`
}

// Options is the slice of the current build options the cache compares
// stored records against.
type Options struct {
	Optimize     bool
	LibProfiling bool
	ExeProfiling bool
	GhcOptions   []string
}

// Defaults synthesizes a fresh record from the current options and the
// package's effective flags. ForceRecomp starts true: with no trusted
// record, the next build must recompile.
func Defaults(opts Options, pkg *pack.Package) GenConfig {
	return GenConfig{
		Optimize:     opts.Optimize,
		ForceRecomp:  true,
		LibProfiling: opts.LibProfiling,
		ExeProfiling: opts.ExeProfiling,
		GhcOptions:   slices.Clone(opts.GhcOptions),
		Flags:        maps.Clone(pkg.Flags),
	}
}

// Merge recomputes a record with the current options overriding the stored
// ones. The installed id is taken from the current environment: an id the
// package database no longer reports is cleared. ForceRecomp carries
// through from the stored record; callers raise it separately when the
// change also invalidates artifacts.
func Merge(opts Options, stored GenConfig, pkg *pack.Package, installedID string) GenConfig {
	return GenConfig{
		Optimize:           opts.Optimize,
		ForceRecomp:        stored.ForceRecomp,
		LibProfiling:       opts.LibProfiling,
		ExeProfiling:       opts.ExeProfiling,
		GhcOptions:         slices.Clone(opts.GhcOptions),
		Flags:              maps.Clone(pkg.Flags),
		InstalledPackageID: installedID,
	}
}

// optionDrift reports stored-vs-current divergence of the options that only
// matter for locally requested packages. When oneWay is set, only changes
// that can stale existing artifacts count: an option newly turned on, or
// extra compiler options differing. Dependencies skip this set entirely:
// re-optimizing a dependency the user didn't ask to touch is wasted work.
func optionDrift(opts Options, stored GenConfig, pkg *pack.Package, oneWay bool) bool {
	if pkg.Kind == pack.KindDependency {
		return false
	}
	if !slices.Equal(opts.GhcOptions, stored.GhcOptions) {
		return true
	}
	if oneWay {
		return (opts.Optimize && !stored.Optimize) ||
			(opts.LibProfiling && !stored.LibProfiling) ||
			(opts.ExeProfiling && !stored.ExeProfiling)
	}
	return opts.Optimize != stored.Optimize ||
		opts.LibProfiling != stored.LibProfiling ||
		opts.ExeProfiling != stored.ExeProfiling
}

// flagsEqual compares a stored flag map against the package's effective
// flags, treating nil and empty as the same assignment.
func flagsEqual(stored map[string]bool, current map[string]bool) bool {
	return maps.Equal(stored, current)
}

// Invalidated reports whether the artifacts recorded by stored can no
// longer be trusted: the installed identity drifted, an optimization or
// profiling option was newly requested, extra compiler options changed, or
// build flags changed. A true result forces deletion of the built marker
// and raises ForceRecomp until the next successful build.
func Invalidated(installedIDs map[pack.Name]string, opts Options, stored GenConfig, pkg *pack.Package) bool {
	if installedIDs[pkg.Name] != stored.InstalledPackageID {
		return true
	}
	if !flagsEqual(stored.Flags, pkg.Flags) {
		return true
	}
	return optionDrift(opts, stored, pkg, true)
}

// Changed reports whether the stored record no longer describes the
// requested configuration and must be rewritten. Unlike Invalidated it
// also counts options turned off. For dependency packages only flag and
// installed-id drift count, mirroring Invalidated's asymmetry.
func Changed(installedIDs map[pack.Name]string, opts Options, stored GenConfig, pkg *pack.Package) bool {
	if installedIDs[pkg.Name] != stored.InstalledPackageID {
		return true
	}
	if !flagsEqual(stored.Flags, pkg.Flags) {
		return true
	}
	return optionDrift(opts, stored, pkg, false)
}

// Cache mediates every read and write of any package's record. All disk
// access is scoped under one mutex for the whole run; config I/O is not
// the bottleneck, so correctness wins over throughput.
type Cache struct {
	mu sync.Mutex
	// warned tracks per-path parse warnings so each corrupt file is
	// reported once.
	warned map[string]bool
	// writes counts persisted records, observable by tests.
	writes int
}

// NewCache returns an empty cache with its own config-file lock.
func NewCache() *Cache {
	return &Cache{warned: make(map[string]bool)}
}

// Read loads the package's record, applying the invalidation policy. It
// never fails observably: an absent or corrupt file falls back to
// defaults. The common nothing-changed path returns the stored record
// without touching disk.
func (c *Cache) Read(ctx context.Context, pkg *pack.Package, opts Options, installedIDs map[pack.Name]string) GenConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := ctxlog.FromContext(ctx)
	path := workdir.GenConfigPath(pkg.Dir)

	data, readErr := os.ReadFile(path)
	var stored GenConfig
	if readErr == nil {
		if err := yaml.Unmarshal(data, &stored); err != nil {
			if !c.warned[path] {
				c.warned[path] = true
				logger.Warn("Generated config is unparseable, rebuilding from defaults.", "path", path, "error", err)
			}
			readErr = err
		}
	}

	if readErr != nil {
		// Absent is silent; only a parse failure warned above.
		c.removeBuiltMarker(ctx, pkg)
		cfg := Defaults(opts, pkg)
		cfg.InstalledPackageID = installedIDs[pkg.Name]
		c.persist(ctx, pkg, cfg)
		return cfg
	}

	invalidated := Invalidated(installedIDs, opts, stored, pkg)
	if invalidated {
		logger.Debug("Stored config invalidated, forcing recompile.", "package", pkg.Name)
		c.removeBuiltMarker(ctx, pkg)
	}

	if Changed(installedIDs, opts, stored, pkg) {
		merged := Merge(opts, stored, pkg, installedIDs[pkg.Name])
		if invalidated {
			merged.ForceRecomp = true
		}
		c.persist(ctx, pkg, merged)
		return merged
	}

	// Nothing to do: no disk writes on this path.
	return stored
}

// Write persists a record, for callers that just finished a configure or
// install step.
func (c *Cache) Write(ctx context.Context, pkg *pack.Package, cfg GenConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(pkg, cfg)
}

// persist is Write for internal callers already holding the lock; failures
// here are absorbed, per the never-fails-observably contract of Read.
func (c *Cache) persist(ctx context.Context, pkg *pack.Package, cfg GenConfig) {
	if err := c.write(pkg, cfg); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to persist generated config.", "package", pkg.Name, "error", err)
	}
}

func (c *Cache) write(pkg *pack.Package, cfg GenConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(workdir.GenConfigPath(pkg.Dir), data, 0o644); err != nil {
		return err
	}
	c.writes++
	return nil
}

// Writes returns how many records the cache has persisted.
func (c *Cache) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *Cache) removeBuiltMarker(ctx context.Context, pkg *pack.Package) {
	marker := workdir.BuiltMarker(pkg.Dir)
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		ctxlog.FromContext(ctx).Warn("Failed to remove built marker.", "path", marker, "error", err)
	}
}
