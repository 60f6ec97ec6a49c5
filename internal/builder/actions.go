package builder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gitter-badger/stack/internal/config"
	"github.com/gitter-badger/stack/internal/ctxlog"
	"github.com/gitter-badger/stack/internal/fsutil"
	"github.com/gitter-badger/stack/internal/pack"
	"github.com/gitter-badger/stack/internal/process"
	"github.com/gitter-badger/stack/internal/workdir"
)

// Configure runs the external configure action for a package, persists the
// generated config it was configured with, and advances the marker state
// machine to Configured.
func (b *Builder) Configure(ctx context.Context, p *pack.Package) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Configuring package.", "package", p.Name, "version", p.Version.String())

	cfg := b.storedConfig(p.Name)
	err := b.withSetup(p.Dir, func() error {
		_, err := b.runner.Run(ctx, b.project.Tool, b.configureArgs(p, cfg.Flags), process.Options{
			Dir:     p.Dir,
			LogPath: workdir.LogPath(p.Dir),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("configuring %s: %w", p.Name, err)
	}

	if err := b.cache.Write(ctx, p, cfg); err != nil {
		return fmt.Errorf("persisting config for %s: %w", p.Name, err)
	}
	if err := fsutil.Touch(workdir.ConfiguredMarker(p.Dir)); err != nil {
		return fmt.Errorf("marking %s configured: %w", p.Name, err)
	}
	return nil
}

// Build runs the external build action, at most one optional final action,
// then the install step under the global install gate. On success it
// records the newly discovered installed identity, clears ForceRecomp, and
// advances the marker state machine to Built.
func (b *Builder) Build(ctx context.Context, p *pack.Package) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Building package.", "package", p.Name, "version", p.Version.String())

	opts := process.Options{Dir: p.Dir, LogPath: workdir.LogPath(p.Dir)}
	err := b.withSetup(p.Dir, func() error {
		if _, err := b.runner.Run(ctx, b.project.Tool, []string{"build"}, opts); err != nil {
			return err
		}

		if verb := b.finalVerb(p); verb != "" {
			if _, err := b.runner.Run(ctx, b.project.Tool, []string{verb}, opts); err != nil {
				return err
			}
		}

		// The install gate is a capacity-1 resource across the entire
		// run: configure and build steps interleave freely, installs
		// never do.
		if err := b.installGate.Acquire(ctx, 1); err != nil {
			return err
		}
		defer b.installGate.Release(1)
		_, err := b.runner.Run(ctx, b.project.Tool, []string{"install"}, opts)
		return err
	})
	if err != nil {
		return fmt.Errorf("building %s: %w", p.Name, err)
	}

	var id string
	if p.HasLibrary {
		id = b.discoverInstalledID(ctx, p)
		if id == "" {
			return &InstalledIdentityError{Pkg: p.Name}
		}
	}

	cfg := b.storedConfig(p.Name)
	cfg.ForceRecomp = false
	cfg.InstalledPackageID = id
	if err := b.cache.Write(ctx, p, cfg); err != nil {
		return fmt.Errorf("persisting config for %s: %w", p.Name, err)
	}
	b.setConfig(p.Name, cfg)
	b.mu.Lock()
	b.installedIDs[p.Name] = id
	b.mu.Unlock()

	if err := fsutil.Touch(workdir.BuiltMarker(p.Dir)); err != nil {
		return fmt.Errorf("marking %s built: %w", p.Name, err)
	}
	logger.Info("Package installed.", "package", p.Name, "installed_id", id)
	return nil
}

// finalVerb maps the requested final action onto a toolchain verb, or ""
// when none applies. Test, bench and doc actions only apply to locally
// requested packages.
func (b *Builder) finalVerb(p *pack.Package) string {
	if p.Kind != pack.KindLocal {
		return ""
	}
	switch b.opts.FinalAction {
	case config.FinalTest:
		return "test"
	case config.FinalBench:
		return "bench"
	case config.FinalHaddock:
		return "haddock"
	default:
		return ""
	}
}

// configureArgs derives the external configure action's flags: package
// database and install roots, profiling and tests/benchmarks toggles,
// extra compiler options, and a -f/-f- switch per build flag.
func (b *Builder) configureArgs(p *pack.Package, flags map[string]bool) []string {
	args := []string{
		"configure",
		"--package-db=" + workdir.PackageDB(b.project.Root),
		"--prefix=" + workdir.InstallRoot(b.project.Root),
	}

	if b.opts.Optimize {
		args = append(args, "--enable-optimization")
	} else {
		args = append(args, "--disable-optimization")
	}
	if b.opts.LibProfiling {
		args = append(args, "--enable-library-profiling")
	} else {
		args = append(args, "--disable-library-profiling")
	}
	if b.opts.ExeProfiling {
		args = append(args, "--enable-executable-profiling")
	} else {
		args = append(args, "--disable-executable-profiling")
	}

	if p.Kind == pack.KindLocal {
		if b.opts.FinalAction == config.FinalTest {
			args = append(args, "--enable-tests")
		}
		if b.opts.FinalAction == config.FinalBench {
			args = append(args, "--enable-benchmarks")
		}
	}

	if len(b.opts.GhcOptions) > 0 {
		args = append(args, "--ghc-options="+strings.Join(b.opts.GhcOptions, " "))
	}

	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if flags[name] {
			args = append(args, "-f"+name)
		} else {
			args = append(args, "-f-"+name)
		}
	}
	return args
}

// parseInstalledID extracts the identity from package-database query
// output of the form "id: <value>".
func parseInstalledID(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "id:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
