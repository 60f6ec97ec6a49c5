package app

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/gitter-badger/stack/internal/config"
	"github.com/gitter-badger/stack/internal/process"
	"github.com/gitter-badger/stack/internal/resolver"
	"github.com/gitter-badger/stack/internal/workdir"
)

type recordedCall struct {
	command string
	args    []string
	dir     string
}

// fakeRunner stands in for the external toolchain. Identity queries are
// answered from the ids table; everything else succeeds and is recorded.
type fakeRunner struct {
	mu    sync.Mutex
	calls []recordedCall
	ids   map[string]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ids: make(map[string]string)}
}

func (f *fakeRunner) Run(_ context.Context, command string, args []string, opts process.Options) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{command: command, args: args, dir: opts.Dir})
	f.mu.Unlock()

	if len(args) >= 4 && args[2] == "field" {
		f.mu.Lock()
		id, ok := f.ids[args[3]]
		f.mu.Unlock()
		if !ok {
			return process.Result{}, &process.Error{Command: command, Args: args, ExitCode: 1}
		}
		return process.Result{Stdout: []byte("id: " + id + "\n")}, nil
	}
	return process.Result{}, nil
}

// callIndex returns the position of the first toolchain call with the
// given verb in the given directory, or -1.
func (f *fakeRunner) callIndex(verb, dir string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if len(c.args) > 0 && c.args[0] == verb && c.dir == dir {
			return i
		}
	}
	return -1
}

// verbCount counts toolchain calls with the given verb in the given
// directory.
func (f *fakeRunner) verbCount(verb, dir string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c.args) > 0 && c.args[0] == verb && c.dir == dir {
			n++
		}
	}
	return n
}

// toolCalls counts invocations of the build tool, excluding identity
// queries.
func (f *fakeRunner) toolCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.command == "cabal" {
			n++
		}
	}
	return n
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

// twoPackageProject lays out a project where alpha depends on beta.
func twoPackageProject(t *testing.T, betaVersion string) (string, string, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "stack.hcl"), `packages = ["alpha", "beta"]`)
	writeFile(t, filepath.Join(root, "alpha", "package.hcl"), `
package {
  name    = "alpha"
  version = "1.0.0"
}

dependency "beta" {
  range = ">=1.0, <2.0"
}
`)
	writeFile(t, filepath.Join(root, "alpha", "src", "Main.hs"), "main = return ()\n")
	writeFile(t, filepath.Join(root, "beta", "package.hcl"), `
package {
  name    = "beta"
  version = "`+betaVersion+`"
}
`)
	writeFile(t, filepath.Join(root, "beta", "src", "Beta.hs"), "module Beta where\n")
	return root, filepath.Join(root, "alpha"), filepath.Join(root, "beta")
}

func newTestApp(t *testing.T, root string, runner *fakeRunner) *App {
	t.Helper()
	opts := config.DefaultOptions()
	opts.Workers = 2
	return New(io.Discard, &Config{
		ProjectPath: filepath.Join(root, "stack.hcl"),
		LogLevel:    "error",
		Options:     opts,
		Runner:      runner,
	})
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("dependency installs before dependent configures", func(t *testing.T) {
		root, alphaDir, betaDir := twoPackageProject(t, "1.2.0")
		runner := newFakeRunner()
		runner.ids["alpha"] = "alpha-1.0.0-x"
		runner.ids["beta"] = "beta-1.2.0-x"

		require.NoError(t, newTestApp(t, root, runner).Build(ctx))

		betaInstall := runner.callIndex("install", betaDir)
		alphaConfigure := runner.callIndex("configure", alphaDir)
		require.NotEqual(t, -1, betaInstall)
		require.NotEqual(t, -1, alphaConfigure)
		assert.Less(t, betaInstall, alphaConfigure)

		for _, dir := range []string{alphaDir, betaDir} {
			assert.FileExists(t, workdir.BuiltMarker(dir))
			assert.FileExists(t, workdir.GenConfigPath(dir))
		}
	})

	t.Run("second build is a no-op", func(t *testing.T) {
		root, _, _ := twoPackageProject(t, "1.2.0")
		runner := newFakeRunner()
		runner.ids["alpha"] = "alpha-1.0.0-x"
		runner.ids["beta"] = "beta-1.2.0-x"
		a := newTestApp(t, root, runner)

		require.NoError(t, a.Build(ctx))
		before := runner.toolCalls()
		require.NoError(t, a.Build(ctx))
		assert.Equal(t, before, runner.toolCalls(), "everything is up to date")
	})

	t.Run("edited source rebuilds only the edited package", func(t *testing.T) {
		root, alphaDir, betaDir := twoPackageProject(t, "1.2.0")
		runner := newFakeRunner()
		runner.ids["alpha"] = "alpha-1.0.0-x"
		runner.ids["beta"] = "beta-1.2.0-x"
		a := newTestApp(t, root, runner)

		require.NoError(t, a.Build(ctx))
		writeFile(t, filepath.Join(alphaDir, "src", "Main.hs"), "main = print ()\n")
		require.NoError(t, a.Build(ctx))

		assert.Equal(t, 1, runner.verbCount("build", betaDir), "beta is untouched by the second run")
		assert.Equal(t, 2, runner.verbCount("build", alphaDir), "alpha rebuilds after the edit")
		assert.Equal(t, 1, runner.verbCount("configure", alphaDir), "a source edit does not reconfigure")
	})

	t.Run("local version conflict", func(t *testing.T) {
		root, _, _ := twoPackageProject(t, "0.9.0")
		runner := newFakeRunner()

		err := newTestApp(t, root, runner).Build(ctx)
		require.Error(t, err)
		var conflicts resolver.Conflicts
		require.ErrorAs(t, err, &conflicts)
		assert.ErrorContains(t, err, "dependency resolution conflict")
		assert.Zero(t, runner.toolCalls(), "conflicts abort before any toolchain call")
	})

	t.Run("missing dependency without snapshot", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "stack.hcl"), `packages = ["alpha"]`)
		writeFile(t, filepath.Join(root, "alpha", "package.hcl"), `
package {
  name    = "alpha"
  version = "1.0.0"
}

dependency "text" {
  range = ">=2.0"
}
`)
		err := newTestApp(t, root, newFakeRunner()).Build(ctx)
		require.Error(t, err)
		var conflicts resolver.Conflicts
		require.ErrorAs(t, err, &conflicts)
		assert.Equal(t, resolver.MissingDependency, conflicts[0].Kind)
	})

	t.Run("duplicate local names", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "stack.hcl"), `packages = ["one", "two"]`)
		for _, dir := range []string{"one", "two"} {
			writeFile(t, filepath.Join(root, dir, "package.hcl"), `
package {
  name    = "alpha"
  version = "1.0.0"
}
`)
		}
		err := newTestApp(t, root, newFakeRunner()).Build(ctx)
		assert.ErrorContains(t, err, "declared by both")
	})
}

func TestBuildWithSnapshot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "stack.hcl"), `
packages = ["alpha"]
snapshot = "snapshot.hcl"
`)
	writeFile(t, filepath.Join(root, "alpha", "package.hcl"), `
package {
  name    = "alpha"
  version = "1.0.0"
}

dependency "text" {
  range = ">=2.0, <3.0"
}
`)
	writeFile(t, filepath.Join(root, "alpha", "src", "Main.hs"), "main = return ()\n")
	writeFile(t, filepath.Join(root, "snapshot.hcl"), `
package "text" {
  version = "2.1.0"
  archive = "text.tar.xz"
}
`)
	writeTarXz(t, filepath.Join(root, "text.tar.xz"), map[string]string{
		"package.hcl": `
package {
  name    = "text"
  version = "2.1.0"
}
`,
		"src/Data.hs": "module Data where\n",
	})

	runner := newFakeRunner()
	runner.ids["alpha"] = "alpha-1.0.0-x"
	runner.ids["text"] = "text-2.1.0-x"

	require.NoError(t, newTestApp(t, root, runner).Build(ctx))

	textDir := filepath.Join(workdir.DepsDir(root), "text-2.1.0")
	assert.FileExists(t, filepath.Join(textDir, "src", "Data.hs"))
	assert.FileExists(t, workdir.BuiltMarker(textDir))

	textInstall := runner.callIndex("install", textDir)
	alphaConfigure := runner.callIndex("configure", filepath.Join(root, "alpha"))
	require.NotEqual(t, -1, textInstall)
	require.NotEqual(t, -1, alphaConfigure)
	assert.Less(t, textInstall, alphaConfigure)
}

func TestClean(t *testing.T) {
	ctx := context.Background()
	root, alphaDir, betaDir := twoPackageProject(t, "1.2.0")
	runner := newFakeRunner()
	runner.ids["alpha"] = "alpha-1.0.0-x"
	runner.ids["beta"] = "beta-1.2.0-x"
	a := newTestApp(t, root, runner)

	require.NoError(t, a.Build(ctx))
	require.DirExists(t, workdir.Dir(alphaDir))
	require.DirExists(t, workdir.Dir(root))

	require.NoError(t, a.Clean(ctx))
	assert.NoDirExists(t, workdir.Dir(alphaDir))
	assert.NoDirExists(t, workdir.Dir(betaDir))
	assert.NoDirExists(t, workdir.Dir(root))

	// A build after a clean starts from scratch.
	before := runner.toolCalls()
	require.NoError(t, a.Build(ctx))
	assert.Greater(t, runner.toolCalls(), before)
}

// writeTarXz builds a .tar.xz archive from the member map.
func writeTarXz(t *testing.T, path string, members map[string]string) {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, contents := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(contents)),
		}))
		_, err := tw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	xzw, err := xz.NewWriter(f)
	require.NoError(t, err)
	_, err = xzw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, xzw.Close())
}
