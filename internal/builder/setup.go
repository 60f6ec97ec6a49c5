package builder

import (
	"os"
	"path/filepath"

	"github.com/gitter-badger/stack/internal/fsutil"
)

// setupFileName is the process-configuration artifact the external
// toolchain expects in the package directory.
const setupFileName = "Setup.hs"

// defaultSetupContents is the stock driver written when a package ships no
// setup file of its own.
const defaultSetupContents = "import Distribution.Simple\nmain = defaultMain\n"

// withSetup runs fn with the setup artifact present, creating it when
// absent and removing it afterwards only if this call created it. Cleanup
// happens on both the success and failure paths.
func (b *Builder) withSetup(dir string, fn func() error) error {
	path := filepath.Join(dir, setupFileName)
	created := false
	if !fsutil.Exists(path) {
		if err := os.WriteFile(path, []byte(defaultSetupContents), 0o644); err != nil {
			return err
		}
		created = true
	}
	defer func() {
		if created {
			os.Remove(path)
		}
	}()
	return fn()
}
