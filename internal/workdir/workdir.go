// Package workdir knows the on-disk layout of per-package and per-project
// build state.
package workdir

import "path/filepath"

// DirName is the build-state directory created inside every package
// directory and at the project root.
const DirName = ".stack-work"

// Dir returns the build-state directory for a package directory.
func Dir(pkgDir string) string {
	return filepath.Join(pkgDir, DirName)
}

// GenConfigPath returns the path of the persisted generated-config record.
func GenConfigPath(pkgDir string) string {
	return filepath.Join(Dir(pkgDir), "genconfig.yaml")
}

// ConfiguredMarker returns the sentinel file recording a completed
// configure stage. Deleting it forces reconfiguration.
func ConfiguredMarker(pkgDir string) string {
	return filepath.Join(Dir(pkgDir), "configured")
}

// BuiltMarker returns the sentinel file whose timestamp drives the
// incremental staleness check. Deleting it forces a rebuild.
func BuiltMarker(pkgDir string) string {
	return filepath.Join(Dir(pkgDir), "built")
}

// LogPath returns the append-only build log shared by every external
// command run for the package.
func LogPath(pkgDir string) string {
	return filepath.Join(Dir(pkgDir), "build.log")
}

// DocDir returns the package's generated documentation directory.
func DocDir(pkgDir string) string {
	return filepath.Join(Dir(pkgDir), "doc")
}

// PackageDB returns the project-wide package database mutated by the
// install stage.
func PackageDB(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, "pkgdb")
}

// InstallRoot returns the project-wide prefix that installs land under.
func InstallRoot(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, "install")
}

// DepsDir returns the directory materialized dependencies are unpacked
// into.
func DepsDir(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, "deps")
}
