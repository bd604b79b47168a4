package objdb

import (
	"encoding/binary"
	"fmt"
)

// Meta namespace. No storage ID encodes to a leading zero byte, so these keys
// never collide with object or index keys.
const (
	metaNamespace    = 0x00
	metaFormatKind   = 0x00
	metaSchemaKind   = 0x01
	metaVersionsKind = 0x02

	keyFormatVer1      = 1
	keyFormatVerLatest = keyFormatVer1
)

var (
	formatKey          = []byte{metaNamespace, metaFormatKind}
	schemaRecordPrefix = []byte{metaNamespace, metaSchemaKind}
	versionIndexPrefix = []byte{metaNamespace, metaVersionsKind}
)

func schemaRecordKey(version uint64) []byte {
	return appendOrderedUint(concat(schemaRecordPrefix), version)
}

func versionIndexVersionPrefix(version uint64) []byte {
	return appendOrderedUint(concat(versionIndexPrefix), version)
}

func versionIndexKey(version uint64, id ObjID) []byte {
	return id.appendTo(versionIndexVersionPrefix(version))
}

// objMetaKey is the object's own key; it exists exactly while the object does.
func objMetaKey(id ObjID) []byte {
	return id.Bytes()
}

func fieldKey(id ObjID, sid uint32) []byte {
	return appendOrderedUint(id.appendTo(make([]byte, 0, 16)), uint64(sid))
}

func listElemKey(id ObjID, sid uint32, idx uint64) []byte {
	return appendOrderedUint(fieldKey(id, sid), idx)
}

func subKey(id ObjID, sid uint32, encoded []byte) []byte {
	return append(fieldKey(id, sid), encoded...)
}

// indexPrefix starts every index entry of a field, sub-field or composite index.
func indexPrefix(sid uint32) []byte {
	return appendOrderedUint(nil, uint64(sid))
}

// indexKey is sid | value | ObjID | suffix.
func indexKey(sid uint32, value []byte, id ObjID, suffix []byte) []byte {
	buf := appendOrderedUint(make([]byte, 0, 16+len(value)+len(suffix)), uint64(sid))
	buf = append(buf, value...)
	buf = id.appendTo(buf)
	return append(buf, suffix...)
}

type metaFlags uint64

const (
	mfVerBit0 = metaFlags(1 << iota)
	mfVerBit1

	mfVerMask       = mfVerBit0 | mfVerBit1
	mfVer1          = mfVerBit0
	mfSupportedMask = mfVer1
	mfDefault       = mfVer1
)

// objMeta is the value stored under the object's meta key.
type objMeta struct {
	Version uint64
	Flags   metaFlags
}

func (m objMeta) encode() []byte {
	buf := make([]byte, 0, 2*binary.MaxVarintLen64)
	buf = appendUvarint(buf, m.Version)
	return appendUvarint(buf, uint64(m.Flags))
}

func decodeObjMeta(data []byte) (objMeta, error) {
	d := makeByteDecoder(data)
	ver, err := d.Uvarint()
	if err != nil {
		return objMeta{}, dataErrf(data, d.Off(), err, "object meta: version")
	}
	flags, err := d.Uvarint()
	if err != nil {
		return objMeta{}, dataErrf(data, d.Off(), err, "object meta: flags")
	}
	m := objMeta{Version: ver, Flags: metaFlags(flags)}
	if m.Flags&^mfSupportedMask != 0 {
		return objMeta{}, dataErrf(data, 0, nil, "object meta: unsupported flags %x", flags)
	}
	if ver == 0 {
		return objMeta{}, dataErrf(data, 0, nil, "object meta: zero schema version")
	}
	return m, nil
}

// decodeIndexKey splits an index entry key of a single-value index into the
// value bytes, the ObjID and the remaining suffix, using ft to find where
// the value ends.
func decodeIndexKey(ft FieldType, key []byte, prefixLen int) (value any, id ObjID, suffix []byte, err error) {
	rest := key[prefixLen:]
	value, after, err := ft.Read(rest)
	if err != nil {
		return nil, 0, nil, err
	}
	if len(after) < ObjIDLen {
		return nil, 0, nil, dataErrf(key, len(key)-len(after), nil, "index entry: truncated object ID")
	}
	id, err = ObjIDFromBytes(after[:ObjIDLen])
	if err != nil {
		return nil, 0, nil, err
	}
	return value, id, after[ObjIDLen:], nil
}

// describeKey names meta keys for error messages; other keys print as hex.
func describeKey(key []byte) string {
	if len(key) < 2 || key[0] != metaNamespace {
		return hexstr(key)
	}
	d := makeByteDecoder(key[2:])
	switch key[1] {
	case metaFormatKind:
		return "format"
	case metaSchemaKind:
		if v, err := d.OrderedUint(); err == nil {
			return fmt.Sprintf("schema.%d", v)
		}
	case metaVersionsKind:
		if v, err := d.OrderedUint(); err == nil {
			if raw, err := d.Raw(ObjIDLen); err == nil {
				return fmt.Sprintf("version.%d:%x", v, raw)
			}
		}
	}
	return fmt.Sprintf("meta:%x", key[1:])
}
