package mirror

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// DirSync calls fsync(2) on the directory to save changes in the directory.
//
// This should be called after os.Create, os.Rename and so on, so that a
// renamed gem survives a crash together with its directory entry.
func DirSync(d string) error {
	if !filepath.IsAbs(d) {
		return errors.New("DirSync: none absolute: " + d)
	}

	f, err := os.Open(filepath.Clean(d)) // #nosec G304 - directory of a validated storage path
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "DirSync")
	}
	return f.Close()
}
