package objdb

import (
	"bytes"
	"errors"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFieldTypes_roundTrip(t *testing.T) {
	tests := []struct {
		ft  FieldType
		v   any
		str string
	}{
		{BooleanType, true, "true"},
		{ByteType, int8(-7), "-7"},
		{ShortType, int16(1234), "1234"},
		{IntType, int32(-100000), "-100000"},
		{LongType, int64(1) << 40, "1099511627776"},
		{CharType, uint16('é'), "é"},
		{CharType, uint16(0), "\x00"},
		{CharType, uint16(0xD800), `\uD800`},
		{CharType, uint16(0xDFFF), `\uDFFF`},
		{CharType, uint16(0xFFFD), "\uFFFD"},
		{CharType, uint16('\\'), `\`},
		{FloatType, float32(1.5), "1.5"},
		{DoubleType, -0.25, "-0.25"},
		{StringType, "a\x00b\x01c", "a\x00b\x01c"},
		{BytesType, []byte{0, 1, 2, 0xFF}, "000102ff"},
		{InstantType, time.Date(2024, 2, 29, 12, 30, 0, 123456789, time.UTC), "2024-02-29T12:30:00.123456789Z"},
		{UUIDType, uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{Inet4Type, netip.MustParseAddr("192.168.1.20"), "192.168.1.20"},
		{Inet6Type, netip.MustParseAddr("2001:db8::1"), "2001:db8::1"},
		{InetType, netip.MustParseAddr("10.0.0.1"), "10.0.0.1"},
		{InetType, netip.MustParseAddr("::1"), "::1"},
		{ReferenceType, ObjID(0x0100000000000001), "0100000000000001"},
		{ReferenceType, nil, "null"},
	}
	for _, tt := range tests {
		enc, err := Encode(tt.ft, tt.v)
		if err != nil {
			t.Fatalf("Encode(%s, %v) failed: %v", tt.ft.Name(), tt.v, err)
		}
		v, err := Decode(tt.ft, enc)
		if err != nil {
			t.Fatalf("Decode(%s, %x) failed: %v", tt.ft.Name(), enc, err)
		}
		if tt.ft.Compare(v, tt.v) != 0 {
			t.Errorf("%s: decoded %v, wanted %v", tt.ft.Name(), v, tt.v)
		}

		// self-delimiting
		v2, rest, err := tt.ft.Read(append(enc, 0xEE))
		if err != nil || tt.ft.Compare(v2, tt.v) != 0 || !bytes.Equal(rest, []byte{0xEE}) {
			t.Errorf("%s: Read with trailer = (%v, %x, %v)", tt.ft.Name(), v2, rest, err)
		}

		s, err := tt.ft.String(tt.v)
		if err != nil || s != tt.str {
			t.Errorf("%s: String(%v) = (%q, %v), wanted %q", tt.ft.Name(), tt.v, s, err, tt.str)
		}
		parsed, err := tt.ft.Parse(s)
		if err != nil || tt.ft.Compare(parsed, tt.v) != 0 {
			t.Errorf("%s: Parse(%q) = (%v, %v), wanted %v", tt.ft.Name(), s, parsed, err, tt.v)
		}
	}
}

func TestFieldTypes_order(t *testing.T) {
	tests := []struct {
		ft     FieldType
		values []any
	}{
		{LongType, []any{int64(math.MinInt64), int64(-300), int64(-1), int64(0), int64(1), int64(300), int64(math.MaxInt64)}},
		{ByteType, []any{int8(-128), int8(-1), int8(0), int8(127)}},
		{DoubleType, []any{math.Inf(-1), -1e10, -1.5, -1e-300, 1e-300, 2.0, math.Inf(1), math.NaN()}},
		{FloatType, []any{float32(-3), float32(-0.5), float32(0.5), float32(3)}},
		{StringType, []any{"", "a", "a\x00", "a\x01", "a\x02", "ab", "b", "é"}},
		{BytesType, []any{[]byte{}, []byte{0}, []byte{0, 0}, []byte{1}, []byte{2}, []byte{0xFF}}},
		{InstantType, []any{time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), time.Unix(0, 0), time.Unix(0, 1), time.Unix(1700000000, 0)}},
		{InetType, []any{netip.MustParseAddr("1.2.3.4"), netip.MustParseAddr("255.0.0.0"), netip.MustParseAddr("::"), netip.MustParseAddr("fe80::1")}},
		{CharType, []any{uint16('A'), uint16('a'), uint16('é')}},
		{BooleanType, []any{false, true}},
	}
	for _, tt := range tests {
		if !tt.ft.Ordered() {
			t.Errorf("%s is not ordered", tt.ft.Name())
		}
		var prev []byte
		for i, v := range tt.values {
			v, err := tt.ft.Validate(v)
			if err != nil {
				t.Fatalf("%s: Validate(%v) failed: %v", tt.ft.Name(), v, err)
			}
			enc := must(Encode(tt.ft, v))
			if i > 0 {
				if bytes.Compare(prev, enc) >= 0 {
					t.Errorf("%s: enc(%v) = %x is not above %x", tt.ft.Name(), v, enc, prev)
				}
				if c := tt.ft.Compare(tt.values[i-1], v); c >= 0 {
					t.Errorf("%s: Compare(%v, %v) = %d, wanted -1", tt.ft.Name(), tt.values[i-1], v, c)
				}
			}
			prev = enc
		}
	}
}

func TestFieldTypes_defaults(t *testing.T) {
	deepEqual(t, LongType.Default(), any(int64(0)))
	deepEqual(t, StringType.Default(), any(""))
	deepEqual(t, ReferenceType.Default(), nil)
	deepEqual(t, must(Encode(ReferenceType, nil)), x("ff"))
	deepEqual(t, must(Encode(StringType, "")), x("00"))
	deepEqual(t, must(Encode(LongType, int64(0))), x("8000000000000000"))
	deepEqual(t, must(Encode(IntType, int32(-1))), x("7fffffff"))
	deepEqual(t, must(Encode(StringType, "a\x00\x01")), x("61 0101 0102 00"))
	deepEqual(t, must(Encode(InetType, netip.MustParseAddr("1.2.3.4"))), x("04 01020304"))
}

func TestFieldTypes_invalid(t *testing.T) {
	tests := []struct {
		ft FieldType
		v  any
	}{
		{LongType, int32(1)},
		{LongType, "1"},
		{StringType, "\xff"},
		{Inet4Type, netip.MustParseAddr("::1")},
		{Inet6Type, netip.MustParseAddr("1.2.3.4")},
		{Inet6Type, netip.MustParseAddr("fe80::1%eth0")},
		{InetType, netip.Addr{}},
		{InstantType, time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ReferenceType, ObjID(0)},
		{ReferenceType, "0100000000000001"},
	}
	for _, tt := range tests {
		_, err := tt.ft.Validate(tt.v)
		var ive *InvalidValueError
		if !errors.As(err, &ive) {
			t.Errorf("%s: Validate(%#v) err = %v, wanted InvalidValueError", tt.ft.Name(), tt.v, err)
		}
		if _, err := tt.ft.Append(nil, tt.v); err == nil {
			t.Errorf("%s: Append(%#v) succeeded", tt.ft.Name(), tt.v)
		}
	}

	for _, s := range []string{"ab", "", "😀", "\xff", `\u12`, `\uZZZZ`} {
		if _, err := CharType.Parse(s); err == nil {
			t.Errorf("CharType.Parse(%q) succeeded", s)
		}
	}
	if _, err := UUIDType.Parse("6BA7B810-9DAD-11D1-80B4-00C04FD430C8"); err == nil {
		t.Errorf("UUIDType.Parse accepted a non-canonical form")
	}
	if _, err := ByteType.Parse("300"); err == nil {
		t.Errorf("ByteType.Parse(300) succeeded")
	}
}

func TestFieldTypes_normalize(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	v := must(InstantType.Validate(time.Date(2024, 1, 1, 3, 0, 0, 0, loc)))
	deepEqual(t, v.(time.Time).Location(), time.UTC)
	deepEqual(t, v.(time.Time).Hour(), 0)

	nan := must(DoubleType.Validate(-math.NaN())).(float64)
	deepEqual(t, math.Float64bits(nan), uint64(canonicalNaN64))
}

func TestDecode_errors(t *testing.T) {
	if _, err := Decode(IntType, x("80000000 00")); err == nil {
		t.Errorf("Decode with trailing bytes succeeded")
	}
	if _, err := Decode(LongType, x("8000")); err == nil {
		t.Errorf("Decode of a short long succeeded")
	}
	if _, err := Decode(StringType, x("6162")); err == nil {
		t.Errorf("Decode of an unterminated string succeeded")
	}
	if _, err := Decode(StringType, x("61 0103 00")); err == nil {
		t.Errorf("Decode of an invalid escape succeeded")
	}
	if _, err := Decode(BooleanType, x("02")); err == nil {
		t.Errorf("Decode of boolean 02 succeeded")
	}
	if _, err := Decode(InetType, x("05 01020304")); err == nil {
		t.Errorf("Decode of inet family 5 succeeded")
	}
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()
	ft, err := reg.Lookup("long", 0)
	if err != nil || ft != LongType {
		t.Fatalf("Lookup(long) = (%v, %v)", ft, err)
	}
	if _, err := reg.Lookup("long", LongType.Signature()); err != nil {
		t.Fatalf("Lookup(long, sig) failed: %v", err)
	}

	_, err = reg.Lookup("long", 42)
	var sme *SignatureMismatchError
	if !errors.As(err, &sme) || sme.Recorded != 42 || sme.Actual != LongType.Signature() {
		t.Fatalf("Lookup(long, 42) err = %v, wanted SignatureMismatchError", err)
	}

	_, err = reg.Lookup("decimal", 0)
	var ute *UnknownTypeError
	if !errors.As(err, &ute) || ute.Name != "decimal" {
		t.Fatalf("Lookup(decimal) err = %v, wanted UnknownTypeError", err)
	}

	deepEqual(t, len(reg.Names()), len(BuiltinTypes()))

	if _, err := NewRegistryBuilder().Add(LongType).Add(LongType).Build(); err == nil {
		t.Fatalf("duplicate Add succeeded")
	}
	small := must(NewRegistryBuilder().Add(StringType).Build())
	deepEqual(t, small.Names(), []string{"string"})
}

func TestSignatures_distinct(t *testing.T) {
	seen := make(map[uint64]string)
	for _, ft := range BuiltinTypes() {
		if prev, dup := seen[ft.Signature()]; dup {
			t.Errorf("%s and %s share a signature", prev, ft.Name())
		}
		seen[ft.Signature()] = ft.Name()
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		from, to FieldType
		v        any
		want     any
	}{
		{IntType, LongType, int32(5), int64(5)},
		{LongType, IntType, int64(-7), int32(-7)},
		{LongType, ByteType, int64(127), int8(127)},
		{DoubleType, IntType, 2.0, int32(2)},
		{IntType, DoubleType, int32(3), 3.0},
		{FloatType, DoubleType, float32(0.5), 0.5},
		{LongType, StringType, int64(42), "42"},
		{UUIDType, StringType, uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{StringType, IntType, "42", int32(42)},
		{StringType, Inet4Type, "10.1.2.3", netip.MustParseAddr("10.1.2.3")},
		{StringType, StringType, "same", "same"},
	}
	for _, tt := range tests {
		got, err := Convert(tt.from, tt.to, tt.v)
		if err != nil {
			t.Errorf("Convert(%s, %s, %v) failed: %v", tt.from.Name(), tt.to.Name(), tt.v, err)
			continue
		}
		deepEqual(t, got, tt.want)
	}

	failing := []struct {
		from, to FieldType
		v        any
	}{
		{LongType, ByteType, int64(300)},
		{LongType, IntType, int64(1) << 40},
		{DoubleType, IntType, 2.5},
		{StringType, IntType, "x"},
		{StringType, UUIDType, "not-a-uuid"},
	}
	for _, tt := range failing {
		if got, err := Convert(tt.from, tt.to, tt.v); err == nil {
			t.Errorf("Convert(%s, %s, %v) = %v, wanted error", tt.from.Name(), tt.to.Name(), tt.v, got)
		}
	}

	_, err := Convert(BooleanType, LongType, true)
	if !errors.Is(err, ErrNoConversion) {
		t.Errorf("Convert(boolean, long) err = %v, wanted ErrNoConversion", err)
	}
}
