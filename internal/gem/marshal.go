package gem

import (
	"bufio"
	"io"
	"math"
	"math/big"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Marshal format version written by every supported Ruby release.
const (
	marshalMajor = 4
	marshalMinor = 8
)

// Type bytes of the Ruby Marshal 4.8 format.
const (
	typeNil         = '0'
	typeTrue        = 'T'
	typeFalse       = 'F'
	typeFixnum      = 'i'
	typeExtended    = 'e'
	typeUClass      = 'C'
	typeObject      = 'o'
	typeData        = 'd'
	typeUserDef     = 'u'
	typeUserMarshal = 'U'
	typeFloat       = 'f'
	typeBignum      = 'l'
	typeString      = '"'
	typeRegexp      = '/'
	typeArray       = '['
	typeHash        = '{'
	typeHashDef     = '}'
	typeStruct      = 'S'
	typeModuleOld   = 'M'
	typeClass       = 'c'
	typeModule      = 'm'
	typeSymbol      = ':'
	typeSymlink     = ';'
	typeIvar        = 'I'
	typeLink        = '@'
)

// maxMarshalLen bounds lengths read from the stream so a corrupt index
// cannot make the decoder allocate unbounded memory.
const maxMarshalLen = 1 << 30

// Symbol is a Ruby symbol.
type Symbol string

// UserObject is an object serialized through marshal_dump ('U').
// Gem::Version is encoded this way with Data = ["1.0"].
type UserObject struct {
	Class string
	Data  any
}

// UserDefined is an object serialized through _dump ('u').
type UserDefined struct {
	Class string
	Data  []byte
}

// Object is a plain Ruby object ('o', 'S' or 'd').
type Object struct {
	Class string
	Ivars map[string]any
}

// HashPair is one entry of a Ruby Hash in insertion order.
type HashPair struct {
	Key   any
	Value any
}

// Hash is a Ruby Hash. Keys are not required to be comparable in Go.
type Hash struct {
	Pairs   []HashPair
	Default any
}

// Regexp is a Ruby Regexp.
type Regexp struct {
	Source  string
	Options byte
}

// ClassRef is a reference to a Ruby class or module by name.
type ClassRef struct {
	Name   string
	Module bool
}

// MarshalDecoder reads values encoded with Ruby's Marshal.dump.
type MarshalDecoder struct {
	r       *bufio.Reader
	symbols []string
	objects []any
}

// NewMarshalDecoder returns a decoder reading from r.
func NewMarshalDecoder(r io.Reader) *MarshalDecoder {
	return &MarshalDecoder{r: bufio.NewReader(r)}
}

// Decode reads the version header and one top-level value.
func (d *MarshalDecoder) Decode() (any, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "marshal: header")
	}
	if hdr[0] != marshalMajor || hdr[1] > marshalMinor {
		return nil, errors.Newf("marshal: unsupported format version %d.%d", hdr[0], hdr[1])
	}
	d.symbols = d.symbols[:0]
	d.objects = d.objects[:0]
	return d.value()
}

func (d *MarshalDecoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err == io.EOF {
		return 0, io.ErrUnexpectedEOF
	}
	return b, err
}

// long reads Ruby's variable length integer encoding.
func (d *MarshalDecoder) long() (int64, error) {
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	c := int64(int8(b))
	switch {
	case c == 0:
		return 0, nil
	case c >= 5:
		return c - 5, nil
	case c <= -5:
		return c + 5, nil
	case c > 0:
		var x int64
		for i := int64(0); i < c; i++ {
			b, err := d.readByte()
			if err != nil {
				return 0, err
			}
			x |= int64(b) << (8 * i)
		}
		return x, nil
	default:
		x := int64(-1)
		for i := int64(0); i < -c; i++ {
			b, err := d.readByte()
			if err != nil {
				return 0, err
			}
			x &^= 0xff << (8 * i)
			x |= int64(b) << (8 * i)
		}
		return x, nil
	}
}

func (d *MarshalDecoder) length() (int, error) {
	n, err := d.long()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxMarshalLen {
		return 0, errors.Newf("marshal: invalid length %d", n)
	}
	return int(n), nil
}

func (d *MarshalDecoder) bytes() ([]byte, error) {
	n, err := d.length()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, errors.Wrap(err, "marshal: short read")
	}
	return buf, nil
}

// register reserves a slot in the object table before children are read,
// matching the numbering used by '@' links.
func (d *MarshalDecoder) register(v any) int {
	d.objects = append(d.objects, v)
	return len(d.objects) - 1
}

// symbolValue reads a symbol or a symlink, as used for class names and
// ivar keys.
func (d *MarshalDecoder) symbolValue() (string, error) {
	t, err := d.readByte()
	if err != nil {
		return "", err
	}
	switch t {
	case typeSymbol:
		return d.newSymbol()
	case typeSymlink:
		return d.symlink()
	case typeIvar:
		// symbols with a non-ASCII encoding carry an ivar wrapper
		s, err := d.symbolValue()
		if err != nil {
			return "", err
		}
		if err := d.skipIvars(); err != nil {
			return "", err
		}
		return s, nil
	}
	return "", errors.Newf("marshal: expected symbol, got %q", t)
}

func (d *MarshalDecoder) newSymbol() (string, error) {
	b, err := d.bytes()
	if err != nil {
		return "", err
	}
	s := string(b)
	d.symbols = append(d.symbols, s)
	return s, nil
}

func (d *MarshalDecoder) symlink() (string, error) {
	n, err := d.length()
	if err != nil {
		return "", err
	}
	if n >= len(d.symbols) {
		return "", errors.Newf("marshal: symlink %d out of range", n)
	}
	return d.symbols[n], nil
}

func (d *MarshalDecoder) ivars() (map[string]any, error) {
	n, err := d.length()
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, n)
	for i := 0; i < n; i++ {
		k, err := d.symbolValue()
		if err != nil {
			return nil, err
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (d *MarshalDecoder) skipIvars() error {
	_, err := d.ivars()
	return err
}

func (d *MarshalDecoder) value() (any, error) {
	t, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch t {
	case typeNil:
		return nil, nil
	case typeTrue:
		return true, nil
	case typeFalse:
		return false, nil
	case typeFixnum:
		return d.long()

	case typeSymbol:
		s, err := d.newSymbol()
		return Symbol(s), err
	case typeSymlink:
		s, err := d.symlink()
		return Symbol(s), err

	case typeLink:
		n, err := d.length()
		if err != nil {
			return nil, err
		}
		if n >= len(d.objects) {
			return nil, errors.Newf("marshal: object link %d out of range", n)
		}
		return d.objects[n], nil

	case typeIvar:
		// the wrapped object owns the object slot; ivars such as the
		// string encoding are not needed by callers
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		if err := d.skipIvars(); err != nil {
			return nil, err
		}
		return v, nil

	case typeString:
		b, err := d.bytes()
		if err != nil {
			return nil, err
		}
		s := string(b)
		d.register(s)
		return s, nil

	case typeFloat:
		b, err := d.bytes()
		if err != nil {
			return nil, err
		}
		f, err := parseFloat(string(b))
		if err != nil {
			return nil, err
		}
		d.register(f)
		return f, nil

	case typeBignum:
		sign, err := d.readByte()
		if err != nil {
			return nil, err
		}
		n, err := d.length()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 2*n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, errors.Wrap(err, "marshal: bignum")
		}
		// little endian on the wire
		for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
			buf[i], buf[j] = buf[j], buf[i]
		}
		x := new(big.Int).SetBytes(buf)
		if sign == '-' {
			x.Neg(x)
		}
		d.register(x)
		return x, nil

	case typeRegexp:
		b, err := d.bytes()
		if err != nil {
			return nil, err
		}
		opts, err := d.readByte()
		if err != nil {
			return nil, err
		}
		re := &Regexp{Source: string(b), Options: opts}
		d.register(re)
		return re, nil

	case typeArray:
		n, err := d.length()
		if err != nil {
			return nil, err
		}
		idx := d.register(nil)
		arr := make([]any, 0, min(n, 1024))
		for i := 0; i < n; i++ {
			v, err := d.value()
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		d.objects[idx] = arr
		return arr, nil

	case typeHash, typeHashDef:
		n, err := d.length()
		if err != nil {
			return nil, err
		}
		h := &Hash{}
		d.register(h)
		for i := 0; i < n; i++ {
			k, err := d.value()
			if err != nil {
				return nil, err
			}
			v, err := d.value()
			if err != nil {
				return nil, err
			}
			h.Pairs = append(h.Pairs, HashPair{Key: k, Value: v})
		}
		if t == typeHashDef {
			if h.Default, err = d.value(); err != nil {
				return nil, err
			}
		}
		return h, nil

	case typeUserMarshal:
		class, err := d.symbolValue()
		if err != nil {
			return nil, err
		}
		obj := &UserObject{Class: class}
		d.register(obj)
		if obj.Data, err = d.value(); err != nil {
			return nil, err
		}
		return obj, nil

	case typeUserDef:
		class, err := d.symbolValue()
		if err != nil {
			return nil, err
		}
		b, err := d.bytes()
		if err != nil {
			return nil, err
		}
		obj := &UserDefined{Class: class, Data: b}
		d.register(obj)
		return obj, nil

	case typeObject, typeStruct:
		class, err := d.symbolValue()
		if err != nil {
			return nil, err
		}
		obj := &Object{Class: class}
		d.register(obj)
		if obj.Ivars, err = d.ivars(); err != nil {
			return nil, err
		}
		return obj, nil

	case typeData:
		class, err := d.symbolValue()
		if err != nil {
			return nil, err
		}
		obj := &Object{Class: class}
		d.register(obj)
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		obj.Ivars = map[string]any{"_load": v}
		return obj, nil

	case typeClass, typeModule, typeModuleOld:
		b, err := d.bytes()
		if err != nil {
			return nil, err
		}
		ref := &ClassRef{Name: string(b), Module: t != typeClass}
		d.register(ref)
		return ref, nil

	case typeExtended, typeUClass:
		// the module or subclass name does not change the payload shape
		if _, err := d.symbolValue(); err != nil {
			return nil, err
		}
		return d.value()
	}

	return nil, errors.Newf("marshal: unsupported type byte %q", t)
}

func parseFloat(s string) (float64, error) {
	switch s {
	case "nan":
		return math.NaN(), nil
	case "inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	// Ruby may append mantissa bytes after a NUL
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			s = s[:i]
			break
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrap(err, "marshal: float")
	}
	return f, nil
}
