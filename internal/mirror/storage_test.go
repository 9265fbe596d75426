package mirror

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestNewStorage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := NewStorage(dir + "/")
	if err != nil {
		t.Fatal(err)
	}
	if st.Dir() != dir {
		t.Errorf("st.Dir() = %q, want %q", st.Dir(), dir)
	}

	if _, err := NewStorage("relative"); err == nil {
		t.Error("relative path should be rejected")
	}
	if _, err := NewStorage(filepath.Join(dir, "missing")); err == nil {
		t.Error("missing directory should be rejected")
	}
}

func TestStoragePath(t *testing.T) {
	t.Parallel()

	st, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if p, err := st.Path("specs.4.8"); err != nil || p != filepath.Join(st.Dir(), "specs.4.8") {
		t.Errorf("st.Path() = %q, %v", p, err)
	}
	for _, bad := range []string{"../etc/passwd", "/etc/passwd", "gems/../../x"} {
		if _, err := st.Path(bad); err == nil {
			t.Errorf("st.Path(%q) should fail", bad)
		}
	}

	if p, err := st.ArtifactPath("rake-13.0.6.gem"); err != nil || p != filepath.Join(st.Dir(), "gems", "rake-13.0.6.gem") {
		t.Errorf("st.ArtifactPath() = %q, %v", p, err)
	}
	for _, bad := range []string{"", "../x.gem", "a/b.gem", ".hidden.gem"} {
		if _, err := st.ArtifactPath(bad); err == nil {
			t.Errorf("st.ArtifactPath(%q) should fail", bad)
		}
	}
}

func TestInventory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := NewStorage(dir)
	if err != nil {
		t.Fatal(err)
	}

	names, err := st.Inventory()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Error("missing gems directory should be an empty inventory:", names)
	}

	placeGems(t, dir, "rake-13.0.6.gem", "nokogiri-1.15.0-x86_64-linux.gem", ".tmp-123.part", "README")
	if err := os.Mkdir(filepath.Join(dir, ArtifactsDir, "dir.gem"), 0755); err != nil {
		t.Fatal(err)
	}

	names, err = st.Inventory()
	if err != nil {
		t.Fatal(err)
	}
	if !sameNames(names, "rake-13.0.6.gem", "nokogiri-1.15.0-x86_64-linux.gem") {
		t.Error("unexpected inventory:", names)
	}
}

func TestRemoveArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := NewStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	placeGems(t, dir, "rake-13.0.6.gem")

	if err := st.RemoveArtifact("rake-13.0.6.gem"); err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveArtifact("rake-13.0.6.gem"); !os.IsNotExist(err) {
		t.Error("removing a vanished gem should fail with ErrNotExist, got", err)
	}
}

func TestWriteAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "gems", "rake-13.0.6.gem")

	err := WriteAtomic(target, func(f *os.File) error {
		_, err := f.WriteString("first")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	err = WriteAtomic(target, func(f *os.File) error {
		if _, err := f.WriteString("partial"); err != nil {
			return err
		}
		return errors.New("connection reset")
	})
	if err == nil {
		t.Fatal("expected an error")
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first" {
		t.Errorf("target = %q, want the previous content", data)
	}

	entries, err := os.ReadDir(filepath.Dir(target))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}

	st, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0644 {
		t.Errorf("mode = %v, want 0644", st.Mode().Perm())
	}
}

func TestDirSync(t *testing.T) {
	t.Parallel()

	if err := DirSync(t.TempDir()); err != nil {
		t.Error(err)
	}
	if err := DirSync("relative"); err == nil {
		t.Error("relative path should be rejected")
	}
}
