// Package gemtest builds gem index documents for tests.
package gemtest

import (
	"bytes"
	"compress/gzip"

	"github.com/ulikunitz/xz"

	"github.com/steakknife/rubygems-mirror/internal/gem"
)

// Writer emits Ruby Marshal 4.8 data the way Marshal.dump does,
// including symlinks and object links for repeated values.
type Writer struct {
	buf     bytes.Buffer
	symbols map[string]int
	objects int
	strings map[string]int
}

// NewWriter returns a Writer with the format header already written.
func NewWriter() *Writer {
	w := &Writer{
		symbols: make(map[string]int),
		strings: make(map[string]int),
	}
	w.buf.Write([]byte{4, 8})
	return w
}

// Bytes returns the encoded data.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Long writes Ruby's variable length integer.
func (w *Writer) Long(n int64) {
	switch {
	case n == 0:
		w.buf.WriteByte(0)
	case n > 0 && n < 123:
		w.buf.WriteByte(byte(n + 5))
	case n < 0 && n > -124:
		w.buf.WriteByte(byte(n - 5))
	default:
		var le []byte
		x := n
		for i := 0; i < 8; i++ {
			le = append(le, byte(x))
			x >>= 8
			if (n > 0 && x == 0) || (n < 0 && x == -1) {
				break
			}
		}
		if n > 0 {
			w.buf.WriteByte(byte(len(le)))
		} else {
			w.buf.WriteByte(byte(-len(le)))
		}
		w.buf.Write(le)
	}
}

// Fixnum writes an integer value.
func (w *Writer) Fixnum(n int64) {
	w.buf.WriteByte('i')
	w.Long(n)
}

// Nil writes nil.
func (w *Writer) Nil() {
	w.buf.WriteByte('0')
}

// Symbol writes a symbol, or a symlink if it was written before.
func (w *Writer) Symbol(s string) {
	if idx, ok := w.symbols[s]; ok {
		w.buf.WriteByte(';')
		w.Long(int64(idx))
		return
	}
	w.symbols[s] = len(w.symbols)
	w.buf.WriteByte(':')
	w.Long(int64(len(s)))
	w.buf.WriteString(s)
}

// String writes a UTF-8 string with its encoding ivar.
func (w *Writer) String(s string) {
	w.objects++
	w.buf.WriteByte('I')
	w.buf.WriteByte('"')
	w.Long(int64(len(s)))
	w.buf.WriteString(s)
	w.Long(1)
	w.Symbol("E")
	w.buf.WriteByte('T')
}

// SharedString writes s once and object links for every later call with
// the same value, as happens when Ruby dumps the same String object twice.
func (w *Writer) SharedString(s string) {
	if idx, ok := w.strings[s]; ok {
		w.Link(idx)
		return
	}
	w.strings[s] = w.objects
	w.String(s)
}

// Link writes an object link to the object with index idx.
func (w *Writer) Link(idx int) {
	w.buf.WriteByte('@')
	w.Long(int64(idx))
}

// ArrayHeader starts an array of n elements.
func (w *Writer) ArrayHeader(n int) {
	w.objects++
	w.buf.WriteByte('[')
	w.Long(int64(n))
}

// Version writes a Gem::Version through its marshal_dump form.
func (w *Writer) Version(v string) {
	w.objects++
	w.buf.WriteByte('U')
	w.Symbol("Gem::Version")
	w.ArrayHeader(1)
	w.String(v)
}

// Specs returns a specs index document listing ids.
func Specs(ids ...gem.PackageIdentity) []byte {
	w := NewWriter()
	w.ArrayHeader(len(ids))
	for _, id := range ids {
		w.ArrayHeader(3)
		w.String(id.Name)
		w.Version(id.Version)
		w.SharedString(id.Platform)
	}
	return w.Bytes()
}

// Gzip compresses data with gzip.
func Gzip(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	return buf.Bytes()
}

// XZ compresses data with xz.
func XZ(data []byte) []byte {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		panic(err)
	}
	_, _ = xw.Write(data)
	_ = xw.Close()
	return buf.Bytes()
}

// ID is shorthand for a PackageIdentity literal.
func ID(name, version, platform string) gem.PackageIdentity {
	return gem.PackageIdentity{Name: name, Version: version, Platform: platform}
}
