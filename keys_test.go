package objdb

import (
	"testing"
)

func TestKeys(t *testing.T) {
	id := ObjID(0x0100000000000001)
	deepEqual(t, objMetaKey(id), x("0100000000000001"))
	deepEqual(t, fieldKey(id, 2), x("0100000000000001 02"))
	deepEqual(t, listElemKey(id, 2, 300), x("0100000000000001 02 f834"))
	deepEqual(t, subKey(id, 2, x("aa")), x("0100000000000001 02 aa"))
	deepEqual(t, indexKey(2, x("6100"), id, nil), x("02 6100 0100000000000001"))
	deepEqual(t, indexKey(2, x("ff"), id, x("05")), x("02 ff 0100000000000001 05"))
	deepEqual(t, schemaRecordKey(1), x("0001 01"))
	deepEqual(t, versionIndexKey(3, id), x("0002 03 0100000000000001"))
}

func TestDescribeKey(t *testing.T) {
	id := ObjID(0x0100000000000001)
	tests := []struct {
		key  []byte
		want string
	}{
		{formatKey, "format"},
		{schemaRecordKey(2), "schema.2"},
		{versionIndexKey(1, id), "version.1:0100000000000001"},
		{x("0002 01 01"), "meta:020101"},
		{fieldKey(id, 2), "010000000000000102"},
	}
	for _, tt := range tests {
		if got := describeKey(tt.key); got != tt.want {
			t.Errorf("describeKey(%x) = %q, wanted %q", tt.key, got, tt.want)
		}
	}
}

func TestObjMeta(t *testing.T) {
	m := objMeta{Version: 300, Flags: mfDefault}
	deepEqual(t, m.encode(), x("ac02 01"))
	deepEqual(t, must(decodeObjMeta(m.encode())), m)

	for _, bad := range []string{"ac", "01 04", "00 01"} {
		if _, err := decodeObjMeta(x(bad)); err == nil {
			t.Errorf("decodeObjMeta(%s) succeeded", bad)
		}
	}
}

func TestDecodeIndexKey(t *testing.T) {
	id := ObjID(0x0100000000000001)
	enc := must(StringType.Append(nil, "a"))
	v, gotID, suffix, err := decodeIndexKey(StringType, indexKey(2, enc, id, x("05")), 1)
	if err != nil {
		t.Fatalf("decodeIndexKey: %v", err)
	}
	deepEqual(t, v, any("a"))
	deepEqual(t, gotID, id)
	deepEqual(t, suffix, x("05"))

	if _, _, _, err := decodeIndexKey(StringType, indexKey(2, enc, id, nil)[:5], 1); err == nil {
		t.Fatalf("decodeIndexKey accepted a truncated key")
	}
}
