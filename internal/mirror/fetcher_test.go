package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

func mustParseURL(t *testing.T, s string) *url.URL {
	t.Helper()

	u, err := url.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestHTTPFetcher(t *testing.T) {
	t.Parallel()

	remote := newTestRemote(t)
	remote.put("gems/rake-13.0.6.gem", []byte("rake"))

	dest := filepath.Join(t.TempDir(), "gems", "rake-13.0.6.gem")
	f := newTestFetcher()
	if err := f.Fetch(context.Background(), mustParseURL(t, remote.URL+"/gems/rake-13.0.6.gem"), dest); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "rake" {
		t.Errorf("content = %q, want %q", data, "rake")
	}
}

func TestHTTPFetcherNotFound(t *testing.T) {
	t.Parallel()

	remote := newTestRemote(t)
	dest := filepath.Join(t.TempDir(), "missing-1.0.gem")

	f := newTestFetcher()
	err := f.Fetch(context.Background(), mustParseURL(t, remote.URL+"/gems/missing-1.0.gem"), dest)
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Status != http.StatusNotFound {
		t.Fatalf("expected a 404 *StatusError, got %v", err)
	}
	if n := remote.hitCount("gems/missing-1.0.gem"); n != 1 {
		t.Errorf("404 was requested %d times, want 1", n)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("no file should be created for a failed fetch")
	}
}

func TestHTTPFetcherRetries(t *testing.T) {
	t.Parallel()

	remote := newTestRemote(t)
	remote.fail("gems/flaky-1.0.gem", http.StatusServiceUnavailable)

	f := newTestFetcher()
	err := f.Fetch(context.Background(), mustParseURL(t, remote.URL+"/gems/flaky-1.0.gem"), filepath.Join(t.TempDir(), "flaky-1.0.gem"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if n := remote.hitCount("gems/flaky-1.0.gem"); n != httpRetries {
		t.Errorf("5xx was requested %d times, want %d", n, httpRetries)
	}
}

func TestHTTPFetcherShortBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("truncated"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "big-1.0.gem")

	f := newTestFetcher()
	f.retries = 2
	if err := f.Fetch(context.Background(), mustParseURL(t, srv.URL+"/gems/big-1.0.gem"), dest); err == nil {
		t.Fatal("expected an error")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("partial files left behind: %v", entries)
	}
}

func TestHTTPFetcherCanceled(t *testing.T) {
	t.Parallel()

	remote := newTestRemote(t)
	remote.put("gems/rake-13.0.6.gem", []byte("rake"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher()
	err := f.Fetch(ctx, mustParseURL(t, remote.URL+"/gems/rake-13.0.6.gem"), filepath.Join(t.TempDir(), "rake-13.0.6.gem"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
