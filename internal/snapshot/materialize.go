package snapshot

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/gitter-badger/stack/internal/ctxlog"
	"github.com/gitter-badger/stack/internal/fsutil"
	"github.com/gitter-badger/stack/internal/pack"
)

// Materialize unpacks every resolved dependency that is not already
// present under destDir, returning the package directory for each resolved
// name. An already-materialized directory is left untouched, so repeated
// runs are cheap and never disturb build state inside it.
func Materialize(ctx context.Context, cat *Catalog, resolved pack.ResolvedSet, destDir string) (map[pack.Name]string, error) {
	logger := ctxlog.FromContext(ctx)

	names := make([]pack.Name, 0, len(resolved))
	for n := range resolved {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	dirs := make(map[pack.Name]string, len(resolved))
	for _, name := range names {
		dep := resolved[name]
		dir := filepath.Join(destDir, fmt.Sprintf("%s-%s", name, dep.Version))
		dirs[name] = dir
		if fsutil.Exists(dir) {
			logger.Debug("Dependency already materialized.", "package", name, "dir", dir)
			continue
		}

		archive := cat.archivePath(name)
		if archive == "" {
			return nil, fmt.Errorf("snapshot declares no archive for %s-%s and it is not materialized", name, dep.Version)
		}

		logger.Info("Materializing dependency.", "package", name, "version", dep.Version.String())
		if err := unpack(ctx, archive, dir); err != nil {
			// Leave no half-unpacked directory behind: presence of the
			// directory is the only already-materialized signal.
			os.RemoveAll(dir)
			return nil, fmt.Errorf("materializing %s: %w", name, err)
		}
	}
	return dirs, nil
}

// isURL reports whether an archive location is fetched over HTTP rather
// than read from disk.
func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// unpack extracts a .tar.xz archive into dir.
func unpack(ctx context.Context, archive, dir string) error {
	var src io.Reader
	if isURL(archive) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, archive, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", archive, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetching %s: unexpected status %s", archive, resp.Status)
		}
		src = resp.Body
	} else {
		f, err := os.Open(archive)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	xzr, err := xz.NewReader(src)
	if err != nil {
		return fmt.Errorf("reading xz stream: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(xzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar stream: %w", err)
		}

		target, err := securePath(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and specials are not expected in source archives.
			continue
		}
	}
}

// securePath joins a tar member name onto dir, rejecting escapes.
func securePath(dir, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || cleaned == ".." {
		return "", fmt.Errorf("archive member %q escapes destination", name)
	}
	return filepath.Join(dir, cleaned), nil
}
