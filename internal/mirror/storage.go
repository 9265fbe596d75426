package mirror

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/steakknife/rubygems-mirror/internal/gem"
)

const (
	tempPattern = ".tmp-*.part"
)

// validatePath validates that a path is safe for use within the storage directory.
// It prevents directory traversal attacks by checking for:
// 1. Parent directory references (..)
// 2. Absolute paths
// Returns an error if the path is unsafe.
func validatePath(path string) error {
	cleanPath := filepath.Clean(path)

	// Check for directory traversal attempts
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return errors.New("unsafe path (contains directory traversal): " + path)
	}

	// Check for absolute paths
	if filepath.IsAbs(cleanPath) {
		return errors.New("unsafe path (absolute path not allowed): " + path)
	}

	return nil
}

// NameSet is a set of artifact or file names.
type NameSet map[string]struct{}

// NewNameSet returns a set holding names.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has returns true if name is in the set.
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Storage manages the destination directory tree of one mirror.
//
// The tree holds the index documents at its root and gem files in the
// "gems" subdirectory.
type Storage struct {
	dir string
}

// NewStorage constructs Storage.
//
// dir must be an absolute path to an existing directory.
func NewStorage(dir string) (*Storage, error) {
	if !filepath.IsAbs(dir) {
		return nil, errors.New("none absolute: " + dir)
	}

	dir = filepath.Clean(dir)
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsDir() {
		return nil, errors.New("not a directory: " + dir)
	}

	return &Storage{dir: dir}, nil
}

// Dir returns the directory of the Storage.
func (s *Storage) Dir() string {
	return s.dir
}

// Path returns the full path of a file relative to the storage root.
func (s *Storage) Path(p string) (string, error) {
	if err := validatePath(p); err != nil {
		return "", errors.Wrap(err, "Path")
	}
	return filepath.Join(s.dir, filepath.Clean(p)), nil
}

// ArtifactPath returns the full path of a gem file.
func (s *Storage) ArtifactPath(name string) (string, error) {
	if !gem.SafeArtifactName(name) {
		return "", errors.New("unsafe artifact name: " + name)
	}
	return filepath.Join(s.dir, ArtifactsDir, name), nil
}

// Exists returns true if the relative path p names an existing regular file.
func (s *Storage) Exists(p string) bool {
	fp, err := s.Path(p)
	if err != nil {
		return false
	}
	st, err := os.Stat(fp)
	return err == nil && st.Mode().IsRegular()
}

// Open opens the named file and returns it.
func (s *Storage) Open(p string) (*os.File, error) {
	fp, err := s.Path(p)
	if err != nil {
		return nil, errors.Wrap(err, "Open")
	}
	return os.Open(fp) // #nosec G304 - path validated by Path
}

// Inventory lists the gem files directly below the "gems" directory.
// A missing directory is an empty inventory.
func (s *Storage) Inventory() (NameSet, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, ArtifactsDir))
	switch {
	case os.IsNotExist(err):
		return NameSet{}, nil
	case err != nil:
		return nil, errors.Wrap(err, "Inventory")
	}

	names := make(NameSet, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !gem.IsArtifact(entry.Name()) {
			continue
		}
		names[entry.Name()] = struct{}{}
	}
	return names, nil
}

// RemoveArtifact deletes a gem file.
func (s *Storage) RemoveArtifact(name string) error {
	fp, err := s.ArtifactPath(name)
	if err != nil {
		return err
	}
	return os.Remove(fp)
}

// WriteAtomic creates or replaces the file at fullpath with the data
// written by fill. The data goes to a temporary file in the same
// directory which is synced and renamed into place, so readers never
// observe a partial file.
func WriteAtomic(fullpath string, fill func(f *os.File) error) (err error) {
	d := filepath.Dir(fullpath)
	if err := os.MkdirAll(d, 0755); err != nil {
		return err
	}

	tempfile, err := os.CreateTemp(d, tempPattern)
	if err != nil {
		return err
	}
	tempName := tempfile.Name()
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			_ = tempfile.Close()
		}
		_ = os.Remove(tempName)
	}()

	if err = fill(tempfile); err != nil {
		return err
	}
	if err = tempfile.Sync(); err != nil {
		return errors.Wrap(err, "tempfile.Sync failed")
	}
	if err = os.Chmod(tempName, 0644); err != nil {
		return errors.Wrap(err, "chmod failed")
	}
	closed = true
	if err = tempfile.Close(); err != nil {
		return err
	}
	if err = os.Rename(tempName, fullpath); err != nil {
		return err
	}
	return DirSync(d)
}
