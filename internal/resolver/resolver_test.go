package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitter-badger/stack/internal/pack"
)

func localPkg(name, version string, deps map[pack.Name]*pack.Range) *pack.Package {
	return &pack.Package{
		Name:    pack.Name(name),
		Version: pack.MustVersion(version),
		Deps:    deps,
		Kind:    pack.KindLocal,
	}
}

func TestResolveLocal(t *testing.T) {
	t.Run("no shared names returns the union unchanged", func(t *testing.T) {
		a := localPkg("a", "1.0.0", map[pack.Name]*pack.Range{"x": pack.MustRange(">=1.0")})
		b := localPkg("b", "1.0.0", map[pack.Name]*pack.Range{"y": pack.MustRange("<2.0")})

		wanted, conflicts := ResolveLocal([]*pack.Package{a, b})
		require.Empty(t, conflicts)
		require.Len(t, wanted, 2)
		assert.Equal(t, ">=1.0", wanted["x"]["a"].String())
		assert.Equal(t, "<2.0", wanted["y"]["b"].String())
	})

	t.Run("locally satisfied dependency is removed", func(t *testing.T) {
		a := localPkg("a", "1.0.0", map[pack.Name]*pack.Range{"b": pack.MustRange(">=2.0, <3.0")})
		b := localPkg("b", "2.0.0", nil)

		wanted, conflicts := ResolveLocal([]*pack.Package{a, b})
		require.Empty(t, conflicts)
		assert.Empty(t, wanted, "b is provided locally and must not be sent to external resolution")
	})

	t.Run("local version outside declared range", func(t *testing.T) {
		a := localPkg("a", "1.0.0", map[pack.Name]*pack.Range{"b": pack.MustRange(">=2.0, <3.0")})
		b := localPkg("b", "1.5.0", nil)

		wanted, conflicts := ResolveLocal([]*pack.Package{a, b})
		assert.Nil(t, wanted, "no partial success on conflict")
		require.Len(t, conflicts, 1)

		c := conflicts[0]
		assert.Equal(t, MismatchedLocalDep, c.Kind)
		assert.Equal(t, pack.Name("b"), c.Dep)
		assert.Equal(t, "1.5.0", c.Version.String())
		assert.Equal(t, pack.Name("a"), c.By)
		assert.Equal(t, ">=2.0, <3.0", c.Range.String())
	})

	t.Run("incompatible ranges from two locals are both reported", func(t *testing.T) {
		a := localPkg("a", "1.0.0", map[pack.Name]*pack.Range{"c": pack.MustRange(">=3.0")})
		b := localPkg("b", "1.0.0", map[pack.Name]*pack.Range{"c": pack.MustRange(">=4.0")})
		c := localPkg("c", "2.0.0", nil)

		_, conflicts := ResolveLocal([]*pack.Package{a, b, c})
		require.Len(t, conflicts, 2)
		for _, conflict := range conflicts {
			assert.Equal(t, MismatchedLocalDep, conflict.Kind)
			assert.Equal(t, pack.Name("c"), conflict.Dep)
		}
	})
}

func TestResolveSnapshot(t *testing.T) {
	snapshotOf := func(entries map[pack.Name]string) Lookup {
		return func(name pack.Name) (pack.ResolvedDep, bool) {
			v, ok := entries[name]
			if !ok {
				return pack.ResolvedDep{}, false
			}
			return pack.ResolvedDep{Version: pack.MustVersion(v)}, true
		}
	}

	t.Run("all in range", func(t *testing.T) {
		wanted := Wanted{
			"text":  {"a": pack.MustRange(">=2.0, <3.0")},
			"bytes": {"a": pack.MustRange(">=0.11")},
		}
		resolved, conflicts := ResolveSnapshot(wanted, snapshotOf(map[pack.Name]string{
			"text":  "2.1.0",
			"bytes": "0.12.0",
		}))
		require.Empty(t, conflicts)
		require.Len(t, resolved, 2)
		assert.Equal(t, "2.1.0", resolved["text"].Version.String())
	})

	t.Run("missing candidate", func(t *testing.T) {
		wanted := Wanted{"text": {"a": pack.MustRange(">=2.0")}}
		resolved, conflicts := ResolveSnapshot(wanted, snapshotOf(nil))
		assert.Nil(t, resolved)
		require.Len(t, conflicts, 1)
		assert.Equal(t, MissingDependency, conflicts[0].Kind)
		assert.Equal(t, pack.Name("text"), conflicts[0].Dep)
		assert.Equal(t, pack.Name("a"), conflicts[0].By)
	})

	t.Run("candidate out of range", func(t *testing.T) {
		wanted := Wanted{"text": {"a": pack.MustRange(">=2.0, <3.0")}}
		_, conflicts := ResolveSnapshot(wanted, snapshotOf(map[pack.Name]string{"text": "1.2.5"}))
		require.Len(t, conflicts, 1)
		assert.Equal(t, MismatchedDependency, conflicts[0].Kind)
		assert.Equal(t, "1.2.5", conflicts[0].Version.String())
	})

	t.Run("every problem is reported at once", func(t *testing.T) {
		wanted := Wanted{
			"text":  {"a": pack.MustRange(">=2.0, <3.0")},
			"bytes": {"b": pack.MustRange(">=0.11")},
		}
		_, conflicts := ResolveSnapshot(wanted, snapshotOf(map[pack.Name]string{"text": "1.0.0"}))
		require.Len(t, conflicts, 2)
		assert.ErrorContains(t, conflicts, "2 dependency resolution conflict(s)")
	})
}
