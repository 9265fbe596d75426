package mirror

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/steakknife/rubygems-mirror/internal/gem"
	"github.com/steakknife/rubygems-mirror/internal/gem/gemtest"
)

// testRemote is an HTTP gem source serving files from memory.
type testRemote struct {
	*httptest.Server

	mu     sync.Mutex
	files  map[string][]byte
	status map[string]int
	hits   map[string]int
}

func newTestRemote(t *testing.T) *testRemote {
	t.Helper()

	r := &testRemote{
		files:  make(map[string][]byte),
		status: make(map[string]int),
		hits:   make(map[string]int),
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)
	return r
}

func (r *testRemote) serve(w http.ResponseWriter, req *http.Request) {
	p := strings.TrimPrefix(req.URL.Path, "/")

	r.mu.Lock()
	r.hits[p]++
	status, hasStatus := r.status[p]
	data, ok := r.files[p]
	r.mu.Unlock()

	if hasStatus {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, req)
		return
	}
	_, _ = w.Write(data)
}

func (r *testRemote) put(p string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[p] = data
}

func (r *testRemote) fail(p string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[p] = status
}

func (r *testRemote) hitCount(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[p]
}

// putSpecs publishes a gzipped index document.
func (r *testRemote) putSpecs(doc string, ids ...gem.PackageIdentity) {
	r.put(doc+".gz", gemtest.Gzip(gemtest.Specs(ids...)))
}

// putGems publishes the gem files of ids.
func (r *testRemote) putGems(ids ...gem.PackageIdentity) {
	for _, id := range ids {
		r.put(ArtifactsDir+"/"+id.ArtifactName(), []byte("gem "+id.String()))
	}
}

func newTestMirrConfig(t *testing.T, remoteURL string) *MirrConfig {
	t.Helper()

	mc := &MirrConfig{Dir: t.TempDir()}
	if err := mc.URL.UnmarshalText([]byte(remoteURL)); err != nil {
		t.Fatal(err)
	}
	return mc
}

func newTestFetcher() *HTTPFetcher {
	f := NewHTTPFetcher(4)
	f.backoff = time.Millisecond
	return f
}

// placeGems creates local gem files below dir.
func placeGems(t *testing.T, dir string, names ...string) {
	t.Helper()

	gemsDir := filepath.Join(dir, ArtifactsDir)
	if err := os.MkdirAll(gemsDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(gemsDir, name), []byte("local "+name), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func inventory(t *testing.T, dir string) NameSet {
	t.Helper()

	st, err := NewStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	names, err := st.Inventory()
	if err != nil {
		t.Fatal(err)
	}
	return names
}

func sameNames(set NameSet, names ...string) bool {
	if len(set) != len(names) {
		return false
	}
	for _, n := range names {
		if !set.Has(n) {
			return false
		}
	}
	return true
}
