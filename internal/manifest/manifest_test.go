package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitter-badger/stack/internal/pack"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestLoadPackage(t *testing.T) {
	ctx := context.Background()

	t.Run("full manifest", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `
package {
  name    = "alpha"
  version = "1.2.0"
}

dependency "text" {
  range = ">=2.0, <3.0"
}

dependency "bytes" {
  range = ">=0.11"
}

flag "debug" {
  default = true
}
`)
		writeFile(t, filepath.Join(dir, "src", "Main.hs"), "main = return ()\n")
		writeFile(t, filepath.Join(dir, "src", "Lib", "Util.lhs"), "")
		writeFile(t, filepath.Join(dir, "src", "notes.txt"), "ignored")

		p, err := LoadPackage(ctx, dir, pack.KindLocal, nil)
		require.NoError(t, err)

		assert.Equal(t, pack.Name("alpha"), p.Name)
		assert.Equal(t, "1.2.0", p.Version.String())
		assert.Equal(t, pack.KindLocal, p.Kind)
		assert.Equal(t, dir, p.Dir)
		assert.True(t, p.HasLibrary)

		require.Len(t, p.Deps, 2)
		assert.True(t, p.Deps["text"].Contains(pack.MustVersion("2.1.0")))
		assert.False(t, p.Deps["text"].Contains(pack.MustVersion("3.0.0")))

		assert.Equal(t, map[string]bool{"debug": true}, p.Flags)

		require.Len(t, p.SourceFiles, 2)
		assert.Contains(t, p.SourceFiles, filepath.Join(dir, "src", "Main.hs"))
		assert.Contains(t, p.SourceFiles, filepath.Join(dir, "src", "Lib", "Util.lhs"))
	})

	t.Run("flag overrides beat manifest defaults", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `
package {
  name    = "alpha"
  version = "1.0.0"
}

flag "debug" {
  default = true
}
`)
		p, err := LoadPackage(ctx, dir, pack.KindLocal, map[string]bool{"debug": false, "simd": true})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"debug": false, "simd": true}, p.Flags)
	})

	t.Run("custom source layout", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `
package {
  name              = "alpha"
  version           = "1.0.0"
  library           = false
  source_dirs       = ["lib", "app"]
  source_extensions = [".hs"]
}
`)
		writeFile(t, filepath.Join(dir, "lib", "A.hs"), "")
		writeFile(t, filepath.Join(dir, "app", "Main.hs"), "")
		writeFile(t, filepath.Join(dir, "app", "B.lhs"), "")

		p, err := LoadPackage(ctx, dir, pack.KindLocal, nil)
		require.NoError(t, err)
		assert.False(t, p.HasLibrary)
		assert.Len(t, p.SourceFiles, 2, "only .hs files under the declared dirs")
	})

	t.Run("missing source dir is not an error", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `
package {
  name    = "alpha"
  version = "1.0.0"
}
`)
		p, err := LoadPackage(ctx, dir, pack.KindDependency, nil)
		require.NoError(t, err)
		assert.Empty(t, p.SourceFiles)
	})

	t.Run("invalid version", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `
package {
  name    = "alpha"
  version = "one.two"
}
`)
		_, err := LoadPackage(ctx, dir, pack.KindLocal, nil)
		assert.ErrorContains(t, err, "invalid version")
	})

	t.Run("invalid dependency range", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), `
package {
  name    = "alpha"
  version = "1.0.0"
}

dependency "text" {
  range = "not a range"
}
`)
		_, err := LoadPackage(ctx, dir, pack.KindLocal, nil)
		assert.ErrorContains(t, err, "dependency text")
	})

	t.Run("missing manifest", func(t *testing.T) {
		_, err := LoadPackage(ctx, t.TempDir(), pack.KindLocal, nil)
		assert.Error(t, err)
	})
}

func TestLoadProject(t *testing.T) {
	ctx := context.Background()

	t.Run("paths resolved against project root", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ProjectFileName)
		writeFile(t, path, `
packages = ["pkgs/alpha", "pkgs/beta"]
snapshot = "snapshot.hcl"
`)
		proj, err := LoadProject(ctx, path)
		require.NoError(t, err)

		assert.Equal(t, dir, proj.Root)
		assert.Equal(t, []string{
			filepath.Join(dir, "pkgs", "alpha"),
			filepath.Join(dir, "pkgs", "beta"),
		}, proj.PackageDirs)
		assert.Equal(t, filepath.Join(dir, "snapshot.hcl"), proj.SnapshotPath)
		assert.Equal(t, "cabal", proj.Tool)
		assert.Equal(t, "ghc-pkg", proj.PkgTool)
	})

	t.Run("tool overrides", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ProjectFileName)
		writeFile(t, path, `
packages = ["alpha"]
tool     = "cabal-3.10"
pkg_tool = "ghc-pkg-9.6"
`)
		proj, err := LoadProject(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "cabal-3.10", proj.Tool)
		assert.Equal(t, "ghc-pkg-9.6", proj.PkgTool)
		assert.Empty(t, proj.SnapshotPath)
	})

	t.Run("no packages", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ProjectFileName)
		writeFile(t, path, `packages = []`)
		_, err := LoadProject(ctx, path)
		assert.ErrorContains(t, err, "declares no packages")
	})
}
