package objdb

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// scalarType implements FieldType for a single Go value type T.
type scalarType[T any] struct {
	name    string
	sig     uint64
	ordered bool

	check  func(v T) (T, error)
	enc    func(buf []byte, v T) []byte
	dec    func(buf []byte) (T, []byte, error)
	format func(v T) string
	parse  func(s string) (T, error)
	cmp    func(a, b T) int
}

func (t *scalarType[T]) Name() string      { return t.name }
func (t *scalarType[T]) Signature() uint64 { return t.sig }
func (t *scalarType[T]) Ordered() bool     { return t.ordered }

func (t *scalarType[T]) Default() any {
	var zero T
	return zero
}

func (t *scalarType[T]) typed(v any) (T, error) {
	tv, ok := v.(T)
	if !ok {
		var zero T
		return zero, invalidValuef(t.name, v, nil, "wanted %T", zero)
	}
	if t.check != nil {
		return t.check(tv)
	}
	return tv, nil
}

func (t *scalarType[T]) Validate(v any) (any, error) {
	tv, err := t.typed(v)
	if err != nil {
		return nil, err
	}
	return tv, nil
}

func (t *scalarType[T]) Append(buf []byte, v any) ([]byte, error) {
	tv, err := t.typed(v)
	if err != nil {
		return buf, err
	}
	return t.enc(buf, tv), nil
}

func (t *scalarType[T]) Read(buf []byte) (any, []byte, error) {
	v, rest, err := t.dec(buf)
	if err != nil {
		return nil, buf, err
	}
	return v, rest, nil
}

func (t *scalarType[T]) String(v any) (string, error) {
	tv, err := t.typed(v)
	if err != nil {
		return "", err
	}
	return t.format(tv), nil
}

func (t *scalarType[T]) Parse(s string) (any, error) {
	v, err := t.parse(s)
	if err != nil {
		return nil, invalidValuef(t.name, s, err, "cannot parse")
	}
	return t.typed(v)
}

func (t *scalarType[T]) Compare(a, b any) int {
	return t.cmp(a.(T), b.(T))
}

func fixedDecoder[T any](name string, n int, f func(b []byte) (T, error)) func(buf []byte) (T, []byte, error) {
	return func(buf []byte) (T, []byte, error) {
		if len(buf) < n {
			var zero T
			return zero, buf, dataErrf(buf, 0, nil, "%s: %d bytes wanted", name, n)
		}
		v, err := f(buf[:n])
		if err != nil {
			var zero T
			return zero, buf, err
		}
		return v, buf[n:], nil
	}
}

var BooleanType FieldType = &scalarType[bool]{
	name:    "boolean",
	sig:     typeSignature("boolean", "u8{0,1}"),
	ordered: true,
	enc: func(buf []byte, v bool) []byte {
		if v {
			return append(buf, 1)
		}
		return append(buf, 0)
	},
	dec: fixedDecoder("boolean", 1, func(b []byte) (bool, error) {
		switch b[0] {
		case 0:
			return false, nil
		case 1:
			return true, nil
		default:
			return false, dataErrf(b, 0, nil, "boolean: invalid byte")
		}
	}),
	format: strconv.FormatBool,
	parse: func(s string) (bool, error) {
		switch s {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return false, strconv.ErrSyntax
		}
	},
	cmp: func(a, b bool) int {
		if a == b {
			return 0
		} else if !a {
			return -1
		}
		return 1
	},
}

// Signed integers are stored big-endian with the sign bit flipped.

var ByteType FieldType = &scalarType[int8]{
	name:    "byte",
	sig:     typeSignature("byte", "be8^sign"),
	ordered: true,
	enc: func(buf []byte, v int8) []byte {
		return append(buf, uint8(v)^0x80)
	},
	dec: fixedDecoder("byte", 1, func(b []byte) (int8, error) {
		return int8(b[0] ^ 0x80), nil
	}),
	format: func(v int8) string { return strconv.FormatInt(int64(v), 10) },
	parse: func(s string) (int8, error) {
		v, err := strconv.ParseInt(s, 10, 8)
		return int8(v), err
	},
	cmp: cmp.Compare[int8],
}

var ShortType FieldType = &scalarType[int16]{
	name:    "short",
	sig:     typeSignature("short", "be16^sign"),
	ordered: true,
	enc: func(buf []byte, v int16) []byte {
		return binary.BigEndian.AppendUint16(buf, uint16(v)^0x8000)
	},
	dec: fixedDecoder("short", 2, func(b []byte) (int16, error) {
		return int16(binary.BigEndian.Uint16(b) ^ 0x8000), nil
	}),
	format: func(v int16) string { return strconv.FormatInt(int64(v), 10) },
	parse: func(s string) (int16, error) {
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), err
	},
	cmp: cmp.Compare[int16],
}

var IntType FieldType = &scalarType[int32]{
	name:    "int",
	sig:     typeSignature("int", "be32^sign"),
	ordered: true,
	enc: func(buf []byte, v int32) []byte {
		return binary.BigEndian.AppendUint32(buf, uint32(v)^0x80000000)
	},
	dec: fixedDecoder("int", 4, func(b []byte) (int32, error) {
		return int32(binary.BigEndian.Uint32(b) ^ 0x80000000), nil
	}),
	format: func(v int32) string { return strconv.FormatInt(int64(v), 10) },
	parse: func(s string) (int32, error) {
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	},
	cmp: cmp.Compare[int32],
}

var LongType FieldType = &scalarType[int64]{
	name:    "long",
	sig:     typeSignature("long", "be64^sign"),
	ordered: true,
	enc: func(buf []byte, v int64) []byte {
		return binary.BigEndian.AppendUint64(buf, uint64(v)^(1<<63))
	},
	dec: fixedDecoder("long", 8, func(b []byte) (int64, error) {
		return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)), nil
	}),
	format: func(v int64) string { return strconv.FormatInt(v, 10) },
	parse: func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	},
	cmp: cmp.Compare[int64],
}

// CharType holds a UTF-16 code unit. Its string form is the character
// itself, or \uXXXX for a lone surrogate.
var CharType FieldType = &scalarType[uint16]{
	name:    "char",
	sig:     typeSignature("char", "be16"),
	ordered: true,
	enc: func(buf []byte, v uint16) []byte {
		return binary.BigEndian.AppendUint16(buf, v)
	},
	dec: fixedDecoder("char", 2, func(b []byte) (uint16, error) {
		return binary.BigEndian.Uint16(b), nil
	}),
	format: func(v uint16) string {
		if utf16.IsSurrogate(rune(v)) {
			return fmt.Sprintf("\\u%04X", v)
		}
		return string(rune(v))
	},
	parse: func(s string) (uint16, error) {
		if len(s) == 6 && strings.HasPrefix(s, `\u`) {
			v, err := strconv.ParseUint(s[2:], 16, 16)
			if err != nil {
				return 0, strconv.ErrSyntax
			}
			return uint16(v), nil
		}
		r, n := utf8.DecodeRuneInString(s)
		if n == 0 || n != len(s) || (r == utf8.RuneError && n == 1) || r > 0xFFFF {
			return 0, strconv.ErrSyntax
		}
		return uint16(r), nil
	},
	cmp: cmp.Compare[uint16],
}

// Floats: negative values have every bit inverted, non-negative values have
// the sign bit set. NaN is stored in one canonical form and sorts last.

const (
	canonicalNaN32 = 0x7FC00000
	canonicalNaN64 = 0x7FF8000000000000
)

func sortableFloat32(v float32) uint32 {
	bits := math.Float32bits(v)
	if v != v {
		bits = canonicalNaN32
	}
	if bits&(1<<31) != 0 {
		return ^bits
	}
	return bits | 1<<31
}

func sortableFloat64(v float64) uint64 {
	bits := math.Float64bits(v)
	if math.IsNaN(v) {
		bits = canonicalNaN64
	}
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | 1<<63
}

var FloatType FieldType = &scalarType[float32]{
	name:    "float",
	sig:     typeSignature("float", "ieee32/sortable"),
	ordered: true,
	check: func(v float32) (float32, error) {
		if v != v {
			return math.Float32frombits(canonicalNaN32), nil
		}
		return v, nil
	},
	enc: func(buf []byte, v float32) []byte {
		return binary.BigEndian.AppendUint32(buf, sortableFloat32(v))
	},
	dec: fixedDecoder("float", 4, func(b []byte) (float32, error) {
		bits := binary.BigEndian.Uint32(b)
		if bits&(1<<31) != 0 {
			bits &^= 1 << 31
		} else {
			bits = ^bits
		}
		return math.Float32frombits(bits), nil
	}),
	format: func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) },
	parse: func(s string) (float32, error) {
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	},
	cmp: func(a, b float32) int {
		return cmp.Compare(sortableFloat32(a), sortableFloat32(b))
	},
}

var DoubleType FieldType = &scalarType[float64]{
	name:    "double",
	sig:     typeSignature("double", "ieee64/sortable"),
	ordered: true,
	check: func(v float64) (float64, error) {
		if math.IsNaN(v) {
			return math.Float64frombits(canonicalNaN64), nil
		}
		return v, nil
	},
	enc: func(buf []byte, v float64) []byte {
		return binary.BigEndian.AppendUint64(buf, sortableFloat64(v))
	},
	dec: fixedDecoder("double", 8, func(b []byte) (float64, error) {
		bits := binary.BigEndian.Uint64(b)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), nil
	}),
	format: func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) },
	parse: func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	},
	cmp: func(a, b float64) int {
		return cmp.Compare(sortableFloat64(a), sortableFloat64(b))
	},
}
