package objdb

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Strings and byte arrays are escaped (0x00 as 0x01 0x01, 0x01 as 0x01 0x02)
// and terminated with 0x00, which keeps them self-delimiting and ordered.

const (
	escTerm = 0x00
	escByte = 0x01
	escZero = 0x01
	escOne  = 0x02
)

func appendEscaped(buf []byte, data []byte) []byte {
	for _, b := range data {
		switch b {
		case 0x00:
			buf = append(buf, escByte, escZero)
		case 0x01:
			buf = append(buf, escByte, escOne)
		default:
			buf = append(buf, b)
		}
	}
	return append(buf, escTerm)
}

func readEscaped(buf []byte) ([]byte, []byte, error) {
	var out []byte
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case escTerm:
			return out, buf[i+1:], nil
		case escByte:
			if i+1 >= len(buf) {
				return nil, buf, dataErrf(buf, i, nil, "truncated escape")
			}
			i++
			switch buf[i] {
			case escZero:
				out = append(out, 0x00)
			case escOne:
				out = append(out, 0x01)
			default:
				return nil, buf, dataErrf(buf, i, nil, "invalid escape")
			}
		default:
			out = append(out, buf[i])
		}
	}
	return nil, buf, dataErrf(buf, len(buf), nil, "missing terminator")
}

var StringType FieldType = &scalarType[string]{
	name:    "string",
	sig:     typeSignature("string", "utf8/escaped/term0"),
	ordered: true,
	check: func(v string) (string, error) {
		if !utf8.ValidString(v) {
			return "", invalidValuef("string", v, nil, "not valid UTF-8")
		}
		return v, nil
	},
	enc: func(buf []byte, v string) []byte {
		return appendEscaped(buf, []byte(v))
	},
	dec: func(buf []byte) (string, []byte, error) {
		b, rest, err := readEscaped(buf)
		if err != nil {
			return "", buf, err
		}
		if !utf8.Valid(b) {
			return "", buf, dataErrf(buf, 0, nil, "string: invalid UTF-8")
		}
		return string(b), rest, nil
	},
	format: func(v string) string { return v },
	parse:  func(s string) (string, error) { return s, nil },
	cmp:    strings.Compare,
}

var BytesType FieldType = &scalarType[[]byte]{
	name:    "bytes",
	sig:     typeSignature("bytes", "raw/escaped/term0"),
	ordered: true,
	enc:     appendEscaped,
	dec:     readEscaped,
	format:  hex.EncodeToString,
	parse:   hex.DecodeString,
	cmp:     bytes.Compare,
}

// Instants are stored as sign-flipped big-endian Unix seconds followed by
// big-endian nanoseconds. Values are normalized to UTC and limited to the
// years RFC 3339 can express.

var (
	minInstant = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	maxInstant = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)
)

var InstantType FieldType = &scalarType[time.Time]{
	name:    "instant",
	sig:     typeSignature("instant", "be64^sign+be32"),
	ordered: true,
	check: func(v time.Time) (time.Time, error) {
		v = v.UTC().Round(0)
		if v.Before(minInstant) || v.After(maxInstant) {
			return time.Time{}, invalidValuef("instant", v, nil, "out of range")
		}
		return v, nil
	},
	enc: func(buf []byte, v time.Time) []byte {
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Unix())^(1<<63))
		return binary.BigEndian.AppendUint32(buf, uint32(v.Nanosecond()))
	},
	dec: fixedDecoder("instant", 12, func(b []byte) (time.Time, error) {
		sec := int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
		nsec := binary.BigEndian.Uint32(b[8:])
		if nsec >= 1e9 {
			return time.Time{}, dataErrf(b, 8, nil, "instant: invalid nanoseconds")
		}
		return time.Unix(sec, int64(nsec)).UTC(), nil
	}),
	format: func(v time.Time) string { return v.Format(time.RFC3339Nano) },
	parse: func(s string) (time.Time, error) {
		return time.Parse(time.RFC3339Nano, s)
	},
	cmp: func(a, b time.Time) int { return a.Compare(b) },
}

var UUIDType FieldType = &scalarType[uuid.UUID]{
	name:    "uuid",
	sig:     typeSignature("uuid", "raw16"),
	ordered: true,
	enc: func(buf []byte, v uuid.UUID) []byte {
		return append(buf, v[:]...)
	},
	dec: fixedDecoder("uuid", 16, func(b []byte) (uuid.UUID, error) {
		return uuid.FromBytes(b)
	}),
	format: func(v uuid.UUID) string { return v.String() },
	parse: func(s string) (uuid.UUID, error) {
		v, err := uuid.Parse(s)
		if err == nil && v.String() != strings.ToLower(s) {
			return uuid.Nil, fmt.Errorf("non-canonical UUID form")
		}
		return v, err
	},
	cmp: func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) },
}
