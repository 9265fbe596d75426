package gem

import (
	"compress/bzip2"
	"compress/gzip"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ulikunitz/xz"
)

// Compression names accepted for index documents.
const (
	CompressionGzip  = "gz"
	CompressionXZ    = "xz"
	CompressionBzip2 = "bz2"
)

// IsSupportedCompression returns true if name is a known index compression.
func IsSupportedCompression(name string) bool {
	switch name {
	case CompressionGzip, CompressionXZ, CompressionBzip2:
		return true
	}
	return false
}

// CompressedName returns the transport file name of an index document.
func CompressedName(doc, compression string) string {
	return doc + "." + compression
}

// NewDecompressor returns a reader that decompresses r according to the
// extension of name. The returned closer must be called after reading.
func NewDecompressor(name string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, "."+CompressionGzip):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		return zr, nil
	case strings.HasSuffix(name, "."+CompressionXZ):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		return io.NopCloser(xr), nil
	case strings.HasSuffix(name, "."+CompressionBzip2):
		return io.NopCloser(bzip2.NewReader(r)), nil
	}
	return nil, errors.Newf("unsupported compression: %s", name)
}
