package mirror

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/steakknife/rubygems-mirror/internal/gem"
)

// IndexReader fetches the index documents of a mirror into its storage
// and decodes them into package identities.
type IndexReader struct {
	mirrorID string
	config   *MirrConfig
	storage  *Storage
	fetcher  Fetcher
}

// NewIndexReader creates an IndexReader.
func NewIndexReader(mirrorID string, config *MirrConfig, storage *Storage, fetcher Fetcher) *IndexReader {
	return &IndexReader{
		mirrorID: mirrorID,
		config:   config,
		storage:  storage,
		fetcher:  fetcher,
	}
}

// Read refreshes and decodes every configured document and returns the
// union of their identities in first-seen order. Unless reuse is set,
// documents are always downloaded before they are read. Any failure is
// an *IndexFetchError.
func (ir *IndexReader) Read(ctx context.Context, reuse bool) ([]gem.PackageIdentity, error) {
	seen := make(map[gem.PackageIdentity]struct{})
	var ids []gem.PackageIdentity

	for _, doc := range ir.config.IndexDocuments() {
		if !reuse || !ir.storage.Exists(doc) {
			if err := ir.update(ctx, doc); err != nil {
				return nil, &IndexFetchError{Document: doc, Err: err}
			}
		} else {
			slog.Info("reusing index document", "repo", ir.mirrorID, "doc", doc)
		}

		docIDs, err := ir.decode(doc)
		if err != nil {
			return nil, &IndexFetchError{Document: doc, Err: err}
		}
		slog.Debug("index document decoded", "repo", ir.mirrorID, "doc", doc, "total", len(docIDs))

		for _, id := range docIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// update downloads the compressed form of doc and stores the decompressed
// form next to it.
func (ir *IndexReader) update(ctx context.Context, doc string) error {
	compressed := gem.CompressedName(doc, ir.config.Compression())
	remote := ir.config.Resolve(compressed)

	slog.Info("fetching index document", "repo", ir.mirrorID, "url", remote.String())

	compressedPath, err := ir.storage.Path(compressed)
	if err != nil {
		return err
	}
	if err := ir.fetcher.Fetch(ctx, remote, compressedPath); err != nil {
		return errors.Wrap(err, "fetch")
	}

	src, err := ir.storage.Open(compressed)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Warn("failed to close file", "path", compressedPath, "error", err)
		}
	}()

	zr, err := gem.NewDecompressor(compressed, src)
	if err != nil {
		return errors.Wrap(err, "decompress")
	}
	defer zr.Close()

	docPath, err := ir.storage.Path(doc)
	if err != nil {
		return err
	}
	err = WriteAtomic(docPath, func(f *os.File) error {
		_, err := io.Copy(f, zr)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "decompress")
	}
	return nil
}

func (ir *IndexReader) decode(doc string) ([]gem.PackageIdentity, error) {
	f, err := ir.storage.Open(doc)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close file", "path", doc, "error", err)
		}
	}()

	ids, err := gem.DecodeSpecs(f)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return ids, nil
}
