package manifest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/gitter-badger/stack/internal/ctxlog"
)

// ProjectFileName is the project file expected at the project root.
const ProjectFileName = "stack.hcl"

// projectFile mirrors the raw HCL structure of a project file.
type projectFile struct {
	Packages []string `hcl:"packages"`
	Snapshot string   `hcl:"snapshot,optional"`
	Tool     string   `hcl:"tool,optional"`
	PkgTool  string   `hcl:"pkg_tool,optional"`
}

// Project is the loaded project description.
type Project struct {
	// Root is the directory containing the project file.
	Root string
	// PackageDirs are the local package directories, absolute.
	PackageDirs []string
	// SnapshotPath is the snapshot catalog file, absolute; empty when the
	// project declares no snapshot.
	SnapshotPath string
	// Tool is the external build toolchain binary.
	Tool string
	// PkgTool is the package-database query binary.
	PkgTool string
}

// LoadProject reads a stack.hcl project file. Relative package and
// snapshot paths are resolved against the project root.
func LoadProject(ctx context.Context, path string) (*Project, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading project file.", "path", path)

	var raw projectFile
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", path, diags)
	}

	if len(raw.Packages) == 0 {
		return nil, fmt.Errorf("%s declares no packages", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	root := filepath.Dir(abs)

	proj := &Project{
		Root:    root,
		Tool:    raw.Tool,
		PkgTool: raw.PkgTool,
	}
	if proj.Tool == "" {
		proj.Tool = "cabal"
	}
	if proj.PkgTool == "" {
		proj.PkgTool = "ghc-pkg"
	}
	for _, p := range raw.Packages {
		proj.PackageDirs = append(proj.PackageDirs, resolve(root, p))
	}
	if raw.Snapshot != "" {
		proj.SnapshotPath = resolve(root, raw.Snapshot)
	}
	return proj, nil
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
