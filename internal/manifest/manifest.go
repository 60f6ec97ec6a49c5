// Package manifest loads project files and package manifests from HCL into
// the descriptors the rest of the system consumes.
package manifest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/gitter-badger/stack/internal/ctxlog"
	"github.com/gitter-badger/stack/internal/fsutil"
	"github.com/gitter-badger/stack/internal/pack"
)

// FileName is the package manifest expected in every package directory.
const FileName = "package.hcl"

// defaultSourceExtensions is the source-file walk filter when a manifest
// does not set source_extensions.
var defaultSourceExtensions = []string{".hs", ".lhs"}

// packageFile mirrors the raw HCL structure of a package manifest.
type packageFile struct {
	Package      packageBlock      `hcl:"package,block"`
	Dependencies []dependencyBlock `hcl:"dependency,block"`
	Flags        []flagBlock       `hcl:"flag,block"`
}

type packageBlock struct {
	Name             string   `hcl:"name"`
	Version          string   `hcl:"version"`
	Library          *bool    `hcl:"library,optional"`
	SourceDirs       []string `hcl:"source_dirs,optional"`
	SourceExtensions []string `hcl:"source_extensions,optional"`
}

type dependencyBlock struct {
	Name  string `hcl:"name,label"`
	Range string `hcl:"range"`
}

type flagBlock struct {
	Name    string `hcl:"name,label"`
	Default bool   `hcl:"default"`
}

// LoadPackage reads dir/package.hcl into an immutable Package descriptor,
// walking the declared source directories to populate the file set.
// flagOverrides, when non-nil, are applied over the manifest's flag
// defaults (CLI switches for locals, snapshot assignments for
// dependencies).
func LoadPackage(ctx context.Context, dir string, kind pack.Kind, flagOverrides map[string]bool) (*pack.Package, error) {
	logger := ctxlog.FromContext(ctx)
	path := filepath.Join(dir, FileName)
	logger.Debug("Loading package manifest.", "path", path)

	var raw packageFile
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", path, diags)
	}

	version, err := pack.ParseVersion(raw.Package.Version)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", raw.Package.Name, err)
	}

	deps := make(map[pack.Name]*pack.Range, len(raw.Dependencies))
	for _, d := range raw.Dependencies {
		r, err := pack.ParseRange(d.Range)
		if err != nil {
			return nil, fmt.Errorf("package %s, dependency %s: %w", raw.Package.Name, d.Name, err)
		}
		deps[pack.Name(d.Name)] = r
	}

	flags := make(map[string]bool, len(raw.Flags))
	for _, f := range raw.Flags {
		flags[f.Name] = f.Default
	}
	for name, value := range flagOverrides {
		flags[name] = value
	}

	sources, err := findSources(dir, raw.Package.SourceDirs, raw.Package.SourceExtensions)
	if err != nil {
		return nil, fmt.Errorf("package %s: walking sources: %w", raw.Package.Name, err)
	}

	hasLibrary := true
	if raw.Package.Library != nil {
		hasLibrary = *raw.Package.Library
	}

	return &pack.Package{
		Name:        pack.Name(raw.Package.Name),
		Version:     version,
		Deps:        deps,
		Flags:       flags,
		SourceFiles: sources,
		Kind:        kind,
		Dir:         dir,
		HasLibrary:  hasLibrary,
	}, nil
}

// findSources walks the manifest's source directories. Directories that do
// not exist are skipped rather than failing: a freshly materialized
// dependency may ship only some of them.
func findSources(dir string, sourceDirs, extensions []string) ([]string, error) {
	if len(sourceDirs) == 0 {
		sourceDirs = []string{"src"}
	}
	if len(extensions) == 0 {
		extensions = defaultSourceExtensions
	}

	var all []string
	for _, sd := range sourceDirs {
		root := filepath.Join(dir, sd)
		if !fsutil.Exists(root) {
			continue
		}
		files, err := fsutil.FindFilesByExtensions(root, extensions)
		if err != nil {
			return nil, err
		}
		all = append(all, files...)
	}
	return all, nil
}

// ManifestPath returns the manifest file for a package directory, the
// configure stage's first prerequisite.
func ManifestPath(dir string) string {
	return filepath.Join(dir, FileName)
}
