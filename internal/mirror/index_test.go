package mirror

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/steakknife/rubygems-mirror/internal/gem"
	"github.com/steakknife/rubygems-mirror/internal/gem/gemtest"
)

func newTestIndexReader(t *testing.T, mc *MirrConfig) *IndexReader {
	t.Helper()

	st, err := NewStorage(mc.Dir)
	if err != nil {
		t.Fatal(err)
	}
	return NewIndexReader("test", mc, st, newTestFetcher())
}

func artifactNames(ids []gem.PackageIdentity) NameSet {
	names := NewNameSet()
	for _, id := range ids {
		names[id.ArtifactName()] = struct{}{}
	}
	return names
}

func TestIndexReaderPrerelease(t *testing.T) {
	t.Parallel()

	remote := newTestRemote(t)
	remote.putSpecs(gem.SpecsFile,
		gemtest.ID("rake", "13.0.6", "ruby"),
		gemtest.ID("nokogiri", "1.15.0", "x86_64-linux"))
	remote.putSpecs(gem.PrereleaseSpecsFile,
		gemtest.ID("rails", "7.1.0.beta1", "ruby"),
		gemtest.ID("rake", "13.0.6", "ruby"))

	t.Run("disabled", func(t *testing.T) {
		mc := newTestMirrConfig(t, remote.URL)
		ids, err := newTestIndexReader(t, mc).Read(context.Background(), false)
		if err != nil {
			t.Fatal(err)
		}
		if !sameNames(artifactNames(ids), "rake-13.0.6.gem", "nokogiri-1.15.0-x86_64-linux.gem") {
			t.Error("unexpected identities:", ids)
		}
		if remote.hitCount("prerelease_specs.4.8.gz") != 0 {
			t.Error("prerelease index must not be fetched")
		}
	})

	t.Run("enabled", func(t *testing.T) {
		mc := newTestMirrConfig(t, remote.URL)
		mc.Prerelease = true
		ids, err := newTestIndexReader(t, mc).Read(context.Background(), false)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 3 {
			t.Errorf("len(ids) = %d, want 3 (duplicates merged)", len(ids))
		}
		if !sameNames(artifactNames(ids), "rake-13.0.6.gem", "nokogiri-1.15.0-x86_64-linux.gem", "rails-7.1.0.beta1.gem") {
			t.Error("unexpected identities:", ids)
		}
		if ids[0].Name != "rake" {
			t.Error("identities should keep first-seen order:", ids)
		}

		for _, name := range []string{"specs.4.8", "specs.4.8.gz", "prerelease_specs.4.8", "prerelease_specs.4.8.gz"} {
			if _, err := os.Stat(filepath.Join(mc.Dir, name)); err != nil {
				t.Error("index document not stored:", err)
			}
		}
	})
}

func TestIndexReaderReuse(t *testing.T) {
	t.Parallel()

	remote := newTestRemote(t)
	remote.putSpecs(gem.SpecsFile, gemtest.ID("rake", "13.0.6", "ruby"))

	mc := newTestMirrConfig(t, remote.URL)
	ir := newTestIndexReader(t, mc)

	if _, err := ir.Read(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	ids, err := ir.Read(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Error("unexpected identities:", ids)
	}
	if n := remote.hitCount("specs.4.8.gz"); n != 1 {
		t.Errorf("index fetched %d times, want 1", n)
	}

	if _, err := ir.Read(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if n := remote.hitCount("specs.4.8.gz"); n != 2 {
		t.Errorf("index fetched %d times, want 2", n)
	}
}

func TestIndexReaderXZ(t *testing.T) {
	t.Parallel()

	remote := newTestRemote(t)
	remote.put("specs.4.8.xz", gemtest.XZ(gemtest.Specs(gemtest.ID("rake", "13.0.6", "ruby"))))

	mc := newTestMirrConfig(t, remote.URL)
	mc.IndexCompression = gem.CompressionXZ
	ids, err := newTestIndexReader(t, mc).Read(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !sameNames(artifactNames(ids), "rake-13.0.6.gem") {
		t.Error("unexpected identities:", ids)
	}
}

func TestIndexReaderErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		setup func(r *testRemote)
		doc   string
	}{
		{"missing", func(r *testRemote) {}, gem.SpecsFile},
		{"server error", func(r *testRemote) { r.fail("specs.4.8.gz", http.StatusInternalServerError) }, gem.SpecsFile},
		{"not gzip", func(r *testRemote) { r.put("specs.4.8.gz", []byte("<html>")) }, gem.SpecsFile},
		{"not marshal", func(r *testRemote) { r.put("specs.4.8.gz", gemtest.Gzip([]byte("garbage"))) }, gem.SpecsFile},
		{"prerelease missing", func(r *testRemote) {
			r.putSpecs(gem.SpecsFile, gemtest.ID("rake", "13.0.6", "ruby"))
		}, gem.PrereleaseSpecsFile},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			remote := newTestRemote(t)
			tc.setup(remote)

			mc := newTestMirrConfig(t, remote.URL)
			mc.Prerelease = true
			_, err := newTestIndexReader(t, mc).Read(context.Background(), false)

			var ierr *IndexFetchError
			if !errors.As(err, &ierr) {
				t.Fatalf("expected *IndexFetchError, got %v", err)
			}
			if ierr.Document != tc.doc {
				t.Errorf("ierr.Document = %q, want %q", ierr.Document, tc.doc)
			}
		})
	}
}
