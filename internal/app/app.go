// Package app contains the top-level build orchestration: resolve locals,
// resolve dependency ranges, materialize missing dependencies, then build
// the working set through the task graph. It is decoupled from any
// specific entrypoint like a CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"sort"

	"github.com/gitter-badger/stack/internal/builder"
	"github.com/gitter-badger/stack/internal/config"
	"github.com/gitter-badger/stack/internal/ctxlog"
	"github.com/gitter-badger/stack/internal/dag"
	"github.com/gitter-badger/stack/internal/genconfig"
	"github.com/gitter-badger/stack/internal/manifest"
	"github.com/gitter-badger/stack/internal/pack"
	"github.com/gitter-badger/stack/internal/process"
	"github.com/gitter-badger/stack/internal/resolver"
	"github.com/gitter-badger/stack/internal/snapshot"
	"github.com/gitter-badger/stack/internal/workdir"
)

// Config holds everything an App needs to run.
type Config struct {
	// ProjectPath is the stack.hcl project file.
	ProjectPath string
	LogLevel    string
	LogFormat   string
	Options     *config.Options
	// Runner substitutes the subprocess runner; nil selects the real one.
	Runner process.Runner
}

// App encapsulates the application's dependencies and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config
	runner process.Runner
}

// New constructs an App with its own isolated logger.
func New(outW io.Writer, cfg *Config) *App {
	if cfg.Options == nil {
		cfg.Options = config.DefaultOptions()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = process.ExecRunner{}
	}
	return &App{
		outW:   outW,
		logger: newLogger(cfg.LogLevel, cfg.LogFormat, outW),
		cfg:    cfg,
		runner: runner,
	}
}

// Build runs the full orchestration. Resolution conflicts abort before any
// graph execution begins.
func (a *App) Build(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	project, locals, err := a.loadLocals(ctx)
	if err != nil {
		return err
	}

	wanted, conflicts := resolver.ResolveLocal(locals)
	if len(conflicts) > 0 {
		return conflicts
	}

	working, err := a.assembleWorkingSet(ctx, project, locals, wanted)
	if err != nil {
		return err
	}

	b := builder.New(project, a.cfg.Options, genconfig.NewCache(), a.runner, working)
	if err := b.Prepare(ctx); err != nil {
		return fmt.Errorf("preparing build state: %w", err)
	}

	graph, err := dag.Build(ctx, working)
	if err != nil {
		return fmt.Errorf("building task graph: %w", err)
	}
	a.logger.Debug("Task graph built.", "node_count", len(graph.Nodes))

	a.logger.Info("Starting build.", "packages", len(working), "workers", a.cfg.Options.Workers)
	if err := dag.NewExecutor(graph, b, a.cfg.Options.Workers).Run(ctx); err != nil {
		return err
	}
	a.logger.Info("Build finished.")
	return nil
}

// loadLocals loads the project file and every local package manifest,
// enforcing the unique-name invariant.
func (a *App) loadLocals(ctx context.Context) (*manifest.Project, []*pack.Package, error) {
	project, err := manifest.LoadProject(ctx, a.cfg.ProjectPath)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[pack.Name]string, len(project.PackageDirs))
	locals := make([]*pack.Package, 0, len(project.PackageDirs))
	for _, dir := range project.PackageDirs {
		p, err := manifest.LoadPackage(ctx, dir, pack.KindLocal, a.cfg.Options.FlagOverrides)
		if err != nil {
			return nil, nil, err
		}
		if prev, dup := seen[p.Name]; dup {
			return nil, nil, fmt.Errorf("local package name %s declared by both %s and %s", p.Name, prev, dir)
		}
		seen[p.Name] = dir
		locals = append(locals, p)
	}
	return project, locals, nil
}

// assembleWorkingSet resolves the remaining ranges against the snapshot,
// materializes missing dependencies, and loads their manifests with the
// snapshot's flag assignments applied.
func (a *App) assembleWorkingSet(ctx context.Context, project *manifest.Project, locals []*pack.Package, wanted resolver.Wanted) ([]*pack.Package, error) {
	working := append([]*pack.Package(nil), locals...)
	if len(wanted) == 0 {
		return working, nil
	}

	if project.SnapshotPath == "" {
		// Without a snapshot every remaining dependency is missing.
		_, conflicts := resolver.ResolveSnapshot(wanted, func(pack.Name) (pack.ResolvedDep, bool) {
			return pack.ResolvedDep{}, false
		})
		return nil, conflicts
	}

	catalog, err := snapshot.Load(ctx, project.SnapshotPath)
	if err != nil {
		return nil, err
	}

	resolved, conflicts := resolver.ResolveSnapshot(wanted, catalog.Lookup)
	if len(conflicts) > 0 {
		return nil, conflicts
	}

	for _, p := range locals {
		if _, clash := resolved[p.Name]; clash {
			return nil, fmt.Errorf("package %s is both local and in the resolved dependency set", p.Name)
		}
	}

	depDirs, err := snapshot.Materialize(ctx, catalog, resolved, workdir.DepsDir(project.Root))
	if err != nil {
		return nil, err
	}

	for _, name := range sortedNames(resolved) {
		dep := resolved[name]
		p, err := manifest.LoadPackage(ctx, depDirs[name], pack.KindDependency, maps.Clone(dep.Flags))
		if err != nil {
			return nil, fmt.Errorf("loading materialized dependency %s: %w", name, err)
		}
		if p.Name != name {
			return nil, fmt.Errorf("materialized dependency %s declares name %s", name, p.Name)
		}
		working = append(working, p)
	}
	return working, nil
}

// Clean removes all build, doc, and generated-config state for every local
// package, plus the project-level package database, install root and
// materialized dependencies. It is independent of the task graph.
func (a *App) Clean(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	project, locals, err := a.loadLocals(ctx)
	if err != nil {
		return err
	}

	for _, p := range locals {
		a.logger.Debug("Removing build state.", "package", p.Name, "dir", workdir.Dir(p.Dir))
		if err := os.RemoveAll(workdir.Dir(p.Dir)); err != nil {
			return fmt.Errorf("cleaning %s: %w", p.Name, err)
		}
	}
	if err := os.RemoveAll(workdir.Dir(project.Root)); err != nil {
		return fmt.Errorf("cleaning project state: %w", err)
	}
	a.logger.Info("Cleaned build state.", "packages", len(locals))
	return nil
}

// sortedNames returns a resolved set's names in stable order.
func sortedNames(resolved pack.ResolvedSet) []pack.Name {
	names := make([]pack.Name, 0, len(resolved))
	for n := range resolved {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
