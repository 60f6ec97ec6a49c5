// Package builder implements the per-package configure and build actions
// the task graph schedules, including the global install critical section
// and the marker-file state machine.
package builder

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/gitter-badger/stack/internal/config"
	"github.com/gitter-badger/stack/internal/ctxlog"
	"github.com/gitter-badger/stack/internal/genconfig"
	"github.com/gitter-badger/stack/internal/manifest"
	"github.com/gitter-badger/stack/internal/pack"
	"github.com/gitter-badger/stack/internal/process"
	"github.com/gitter-badger/stack/internal/workdir"
)

// InstalledIdentityError reports a library package that completed install
// without a discoverable installed-package identity. It indicates
// toolchain or package-database corruption and aborts the run.
type InstalledIdentityError struct {
	Pkg pack.Name
}

func (e *InstalledIdentityError) Error() string {
	return fmt.Sprintf("package %s installed a library but no installed-package id could be discovered", e.Pkg)
}

// Builder holds the run-wide state shared by every package's actions.
type Builder struct {
	project *manifest.Project
	opts    *config.Options
	cache   *genconfig.Cache
	runner  process.Runner
	working map[pack.Name]*pack.Package

	// installGate admits one concurrent install across the whole run. The
	// external toolchain's package-database mutation is not proven safe
	// for concurrent writers.
	installGate *semaphore.Weighted

	mu           sync.Mutex
	installedIDs map[pack.Name]string
	configs      map[pack.Name]genconfig.GenConfig
}

// New creates a builder over the working set.
func New(project *manifest.Project, opts *config.Options, cache *genconfig.Cache, runner process.Runner, working []*pack.Package) *Builder {
	ws := make(map[pack.Name]*pack.Package, len(working))
	for _, p := range working {
		ws[p.Name] = p
	}
	return &Builder{
		project:      project,
		opts:         opts,
		cache:        cache,
		runner:       runner,
		working:      ws,
		installGate:  semaphore.NewWeighted(1),
		installedIDs: make(map[pack.Name]string, len(working)),
		configs:      make(map[pack.Name]genconfig.GenConfig, len(working)),
	}
}

// Prepare discovers the currently installed package identities and reads
// every package's generated config before graph execution, so the
// invalidation policy (including built-marker deletion) is applied up
// front.
func (b *Builder) Prepare(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(workdir.PackageDB(b.project.Root), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(workdir.InstallRoot(b.project.Root), 0o755); err != nil {
		return err
	}

	ids := make(map[pack.Name]string, len(b.working))
	for name, p := range b.working {
		if !p.HasLibrary {
			continue
		}
		if id := b.discoverInstalledID(ctx, p); id != "" {
			ids[name] = id
		}
	}
	logger.Debug("Discovered installed identities.", "count", len(ids))

	b.mu.Lock()
	b.installedIDs = ids
	b.mu.Unlock()

	for _, p := range b.working {
		cfg := b.cache.Read(ctx, p, b.genOpts(), ids)
		b.mu.Lock()
		b.configs[p.Name] = cfg
		b.mu.Unlock()
	}
	return nil
}

// genOpts projects the run's build options into the slice the config cache
// compares against.
func (b *Builder) genOpts() genconfig.Options {
	return genconfig.Options{
		Optimize:     b.opts.Optimize,
		LibProfiling: b.opts.LibProfiling,
		ExeProfiling: b.opts.ExeProfiling,
		GhcOptions:   b.opts.GhcOptions,
	}
}

func (b *Builder) storedConfig(name pack.Name) genconfig.GenConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configs[name]
}

func (b *Builder) setConfig(name pack.Name, cfg genconfig.GenConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configs[name] = cfg
}

// discoverInstalledID queries the package database for a package's
// installed identity. Failures and absent registrations both yield "";
// only the post-install check treats that as fatal.
func (b *Builder) discoverInstalledID(ctx context.Context, p *pack.Package) string {
	args := []string{
		"--package-db", workdir.PackageDB(b.project.Root),
		"field", string(p.Name), "id",
	}
	res, err := b.runner.Run(ctx, b.project.PkgTool, args, process.Options{Dir: b.project.Root})
	if err != nil {
		return ""
	}
	return parseInstalledID(res.Stdout)
}
