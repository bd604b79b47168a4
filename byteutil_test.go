package objdb

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestOrderedUint(t *testing.T) {
	tests := []struct {
		v   uint64
		enc string
	}{
		{0, "00"},
		{1, "01"},
		{0xF7, "f7"},
		{0xF8, "f8 00"},
		{0xF8 + 0xFF, "f8 ff"},
		{0xF8 + 0x100, "f9 0100"},
		{MaxStorageID, "fa ffffff"},
		{math.MaxUint64, "ff ffffffffffffff07"},
	}
	for _, tt := range tests {
		enc := appendOrderedUint(nil, tt.v)
		if !bytes.Equal(enc, x(tt.enc)) {
			t.Errorf("appendOrderedUint(%d) = %x, wanted %x", tt.v, enc, x(tt.enc))
		}
		if n := orderedUintLen(tt.v); n != len(enc) {
			t.Errorf("orderedUintLen(%d) = %d, wanted %d", tt.v, n, len(enc))
		}
		v, rest, err := readOrderedUint(append(enc, 0xAA))
		if err != nil {
			t.Fatalf("readOrderedUint(%x) failed: %v", enc, err)
		}
		if v != tt.v || !bytes.Equal(rest, []byte{0xAA}) {
			t.Errorf("readOrderedUint(%x) = (%d, %x), wanted (%d, aa)", enc, v, rest, tt.v)
		}
	}
}

func TestOrderedUint_order(t *testing.T) {
	values := []uint64{0, 1, 100, 0xF7, 0xF8, 0xF9, 0x1F7, 0x1F8, 0xFFFF, 0x10000, 1 << 32, 1 << 56, math.MaxUint64 - 1, math.MaxUint64}
	for i := 1; i < len(values); i++ {
		a, b := appendOrderedUint(nil, values[i-1]), appendOrderedUint(nil, values[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("enc(%d) = %x is not below enc(%d) = %x", values[i-1], a, values[i], b)
		}
	}
}

func TestOrderedUint_errors(t *testing.T) {
	for _, s := range []string{"", "f8", "f9 01", "f9 0001", "ff ffffffffffffff08"} {
		_, _, err := readOrderedUint(x(s))
		var de *DataError
		if !errors.As(err, &de) {
			t.Errorf("readOrderedUint(%s) err = %v, wanted DataError", s, err)
		}
	}
}

func TestByteDecoder(t *testing.T) {
	buf := appendUvarint(nil, 300)
	buf = appendOrderedUint(buf, 0x1000)
	buf = append(buf, 1, 2, 3)

	d := makeByteDecoder(buf)
	v, err := d.Uvarint()
	if err != nil || v != 300 {
		t.Fatalf("Uvarint = (%d, %v), wanted 300", v, err)
	}
	v, err = d.OrderedUint()
	if err != nil || v != 0x1000 {
		t.Fatalf("OrderedUint = (%d, %v), wanted 0x1000", v, err)
	}
	raw, err := d.Raw(3)
	if err != nil || !bytes.Equal(raw, []byte{1, 2, 3}) {
		t.Fatalf("Raw = (%x, %v), wanted 010203", raw, err)
	}
	if _, err := d.Raw(1); err == nil {
		t.Fatalf("Raw past the end succeeded")
	}

	d = makeByteDecoder([]byte{0x80})
	if _, err := d.Uvarint(); err == nil || !strings.Contains(err.Error(), "invalid uvarint") {
		t.Fatalf("Uvarint(80) err = %v, wanted invalid uvarint", err)
	}
}

func TestPrefixEnd(t *testing.T) {
	deepEqual(t, prefixEnd(x("0102")), x("0103"))
	deepEqual(t, prefixEnd(x("01ff")), x("02"))
	deepEqual(t, prefixEnd(x("ffff")), nil)
	deepEqual(t, prefixEnd(nil), nil)
}

func TestConcat(t *testing.T) {
	deepEqual(t, concat(x("01"), nil, x("0203")), x("010203"))
}
