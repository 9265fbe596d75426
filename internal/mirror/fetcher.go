package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	httpRetries  = 5
	retryBackoff = time.Second
	userAgent    = "rubygems-mirror (Go)"
)

// Fetcher transfers one remote resource to a local file.
//
// Implementations must create missing parent directories, replace an
// existing file and never leave a partially written file at localPath.
type Fetcher interface {
	Fetch(ctx context.Context, remote *url.URL, localPath string) error
}

// StatusError is returned for a non-200 HTTP response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d for %s", e.Status, e.URL)
}

// HTTPFetcher downloads files over HTTP with retries.
type HTTPFetcher struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

// NewHTTPFetcher creates a fetcher whose transport keeps up to
// maxConns idle connections per host.
func NewHTTPFetcher(maxConns int) *HTTPFetcher {
	return &HTTPFetcher{
		client:  clonedTransport(maxConns),
		retries: httpRetries,
		backoff: retryBackoff,
	}
}

// Fetch implements Fetcher. Transport errors and 5xx responses are
// retried; other statuses fail immediately.
func (h *HTTPFetcher) Fetch(ctx context.Context, remote *url.URL, localPath string) error {
	var lastErr error

	for attempt := 0; attempt < h.retries; attempt++ {
		// allow interrupts
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			slog.Warn("retrying download", "url", remote.String(), "attempt", attempt+1, "max_attempts", h.retries, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.backoff * time.Duration(attempt)):
			}
		}

		retry, err := h.fetchOnce(ctx, remote, localPath)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}

	return errors.Wrapf(lastErr, "download failed for %s after %d attempts", remote, h.retries)
}

func (h *HTTPFetcher) fetchOnce(ctx context.Context, remote *url.URL, localPath string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer closeRespBody(resp)

	if resp.StatusCode >= 500 {
		return true, &StatusError{URL: remote.String(), Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return false, &StatusError{URL: remote.String(), Status: resp.StatusCode}
	}

	var n int64
	err = WriteAtomic(localPath, func(f *os.File) error {
		var err error
		n, err = io.Copy(f, resp.Body)
		if err != nil {
			return err
		}
		if resp.ContentLength >= 0 && n != resp.ContentLength {
			return errors.Newf("short body: %d of %d bytes", n, resp.ContentLength)
		}
		return nil
	})
	if err != nil {
		// a truncated body is worth another attempt
		return ctx.Err() == nil, errors.Wrap(err, localPath)
	}

	slog.Debug("file downloaded successfully", "url", remote.String(), "size", n)
	return false, nil
}

// closeRespBody closes HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// clonedTransport creates a new HTTP client with tuned connection pooling.
func clonedTransport(maxConns int) *http.Client {
	if maxConns < 1 {
		maxConns = defaultMaxConns
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = maxConns
	tr.IdleConnTimeout = 90 * time.Second

	return &http.Client{
		Transport: tr,
		Timeout:   0, // no timeout; timeout is controlled by context
	}
}
