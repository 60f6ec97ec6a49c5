// Package snapshot loads the resolved-version catalog and materializes
// missing dependency packages from their archives.
package snapshot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/gitter-badger/stack/internal/ctxlog"
	"github.com/gitter-badger/stack/internal/pack"
)

// catalogFile mirrors the raw HCL structure of a snapshot file.
type catalogFile struct {
	Packages []entryBlock `hcl:"package,block"`
}

type entryBlock struct {
	Name    string          `hcl:"name,label"`
	Version string          `hcl:"version"`
	Flags   map[string]bool `hcl:"flags,optional"`
	Archive string          `hcl:"archive,optional"`
}

// Entry is one snapshot pin: the chosen version, the flag assignment, and
// where the package's source archive lives.
type Entry struct {
	Version *semver.Version
	Flags   map[string]bool
	// Archive is a local path (relative to the snapshot file) or an
	// http(s) URL of a .tar.xz source archive.
	Archive string
}

// Catalog is a loaded snapshot: a read-only mapping from dependency name
// to pinned version and flags.
type Catalog struct {
	dir     string
	entries map[pack.Name]Entry
}

// Load parses a snapshot catalog file.
func Load(ctx context.Context, path string) (*Catalog, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading snapshot catalog.", "path", path)

	var raw catalogFile
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", path, diags)
	}

	cat := &Catalog{
		dir:     filepath.Dir(path),
		entries: make(map[pack.Name]Entry, len(raw.Packages)),
	}
	for _, e := range raw.Packages {
		v, err := pack.ParseVersion(e.Version)
		if err != nil {
			return nil, fmt.Errorf("snapshot entry %s: %w", e.Name, err)
		}
		name := pack.Name(e.Name)
		if _, dup := cat.entries[name]; dup {
			return nil, fmt.Errorf("snapshot declares %s twice", e.Name)
		}
		cat.entries[name] = Entry{Version: v, Flags: e.Flags, Archive: e.Archive}
	}
	logger.Debug("Snapshot catalog loaded.", "entries", len(cat.entries))
	return cat, nil
}

// Lookup is the pure lookup function the resolver consumes.
func (c *Catalog) Lookup(name pack.Name) (pack.ResolvedDep, bool) {
	e, ok := c.entries[name]
	if !ok {
		return pack.ResolvedDep{}, false
	}
	return pack.ResolvedDep{Version: e.Version, Flags: e.Flags}, true
}

// archivePath returns the entry's archive location resolved against the
// snapshot file's directory, or "" when the entry declares none.
func (c *Catalog) archivePath(name pack.Name) string {
	e, ok := c.entries[name]
	if !ok || e.Archive == "" {
		return ""
	}
	if isURL(e.Archive) || filepath.IsAbs(e.Archive) {
		return e.Archive
	}
	return filepath.Join(c.dir, e.Archive)
}
