package objdb

import (
	"fmt"
	"slices"
)

// defaultEncoding returns the encoding of a field's default value.
func defaultEncoding(ft FieldType) []byte {
	return must(ft.Append(nil, ft.Default()))
}

// rawSimple returns the stored encoding of a simple field, or the default
// encoding if the key is absent.
func (tx *Tx) rawSimple(id ObjID, fi *fieldInfo) ([]byte, error) {
	raw, err := tx.get(fieldKey(id, fi.StorageID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return defaultEncoding(fi.ft), nil
	}
	return raw, nil
}

// compositeKey builds the composite index entry of an object. Values of
// fields listed in override replace the stored ones.
func (tx *Tx) compositeKey(id ObjID, ci *compositeInfo, override map[uint32][]byte) ([]byte, error) {
	var value []byte
	for _, fi := range ci.fields {
		enc, ok := override[fi.StorageID]
		if !ok {
			var err error
			enc, err = tx.rawSimple(id, fi)
			if err != nil {
				return nil, err
			}
		}
		value = append(value, enc...)
	}
	return indexKey(ci.StorageID, value, id, nil), nil
}

// objectIndexKeys computes every index entry an object contributes under the
// given type definition. Stored bytes are used as is, so the result is valid
// even for values that no longer decode. Fields in skip, and composite
// indexes over them, contribute nothing.
func (tx *Tx) objectIndexKeys(id ObjID, ti *typeInfo, skip map[uint32]bool) ([][]byte, error) {
	var keys [][]byte
	for _, fi := range ti.fieldList {
		switch fi.Kind {
		case KindSimple, KindReference:
			if !fi.IsIndexed() || skip[fi.StorageID] {
				continue
			}
			enc, err := tx.rawSimple(id, fi)
			if err != nil {
				return nil, err
			}
			keys = append(keys, indexKey(fi.StorageID, enc, id, nil))
		case KindList, KindSet, KindMap:
			k, err := tx.complexIndexKeys(id, fi)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k...)
		}
	}
	for _, ci := range ti.composites {
		if slices.ContainsFunc(ci.fields, func(fi *fieldInfo) bool { return skip[fi.StorageID] }) {
			continue
		}
		k, err := tx.compositeKey(id, ci, nil)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (tx *Tx) complexIndexKeys(id ObjID, fi *fieldInfo) ([][]byte, error) {
	var keys [][]byte
	prefix := fieldKey(id, fi.StorageID)
	kvs, err := tx.scan(prefix)
	if err != nil {
		return nil, err
	}
	for _, kv := range kvs {
		sub := kv.key[len(prefix):]
		keys = append(keys, elementIndexKeys(id, fi, sub, kv.value)...)
	}
	return keys, nil
}

// elementIndexKeys returns the index entries of one stored element, given
// the part of its key after the field prefix and its value.
func elementIndexKeys(id ObjID, fi *fieldInfo, sub, value []byte) [][]byte {
	var keys [][]byte
	switch fi.Kind {
	case KindList:
		if fi.elem.IsIndexed() {
			keys = append(keys, indexKey(fi.elem.StorageID, value, id, sub))
		}
	case KindSet:
		if fi.elem.IsIndexed() {
			keys = append(keys, indexKey(fi.elem.StorageID, sub, id, nil))
		}
	case KindMap:
		if fi.key.IsIndexed() {
			keys = append(keys, indexKey(fi.key.StorageID, sub, id, nil))
		}
		if fi.value.IsIndexed() {
			keys = append(keys, indexKey(fi.value.StorageID, value, id, sub))
		}
	}
	return keys
}

// indexedField finds an indexed field or sub-field, preferring the
// transaction's schema version.
func (tx *Tx) indexedField(sid uint32) (*fieldInfo, error) {
	if fi := tx.schema.indexed[sid]; fi != nil {
		return fi, nil
	}
	for _, v := range sortedVersions(tx.versions) {
		if fi := tx.versions[v].indexed[sid]; fi != nil {
			return fi, nil
		}
	}
	return nil, illegalArgf("no indexed field with storage ID %d", sid)
}

// QueryIndex returns the objects whose indexed field or sub-field with the
// given storage ID holds value. Reference fields are always indexed.
func (tx *Tx) QueryIndex(sid uint32, value any) ([]ObjID, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	fi, err := tx.indexedField(sid)
	if err != nil {
		return nil, err
	}
	enc, err := fi.ft.Append(nil, value)
	if err != nil {
		return nil, err
	}
	prefix := append(indexPrefix(sid), enc...)
	kvs, err := tx.scan(prefix)
	if err != nil {
		return nil, err
	}
	return collectIndexIDs(kvs, len(prefix))
}

func collectIndexIDs(kvs []storageKV, prefixLen int) ([]ObjID, error) {
	var out []ObjID
	for _, kv := range kvs {
		id, err := ObjIDFromBytes(kv.key[prefixLen:])
		if err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// ReferringObjects returns the objects whose reference field or sub-field
// with the given storage ID points at target.
func (tx *Tx) ReferringObjects(target ObjID, sid uint32) ([]ObjID, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	fi, err := tx.indexedField(sid)
	if err != nil {
		return nil, err
	}
	if fi.Kind != KindReference {
		return nil, illegalArgf("field %v is not a reference field", fi.Field)
	}
	return tx.QueryIndex(sid, target)
}

type IndexEntry struct {
	Value any
	ID    ObjID
}

func (e IndexEntry) String() string {
	return fmt.Sprintf("%v => %v", e.Value, e.ID)
}

// IndexEntries returns every distinct (value, object) pair of an index in
// index order.
func (tx *Tx) IndexEntries(sid uint32) ([]IndexEntry, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	fi, err := tx.indexedField(sid)
	if err != nil {
		return nil, err
	}
	prefix := indexPrefix(sid)
	kvs, err := tx.scan(prefix)
	if err != nil {
		return nil, err
	}
	var out []IndexEntry
	var lastKey string
	for _, kv := range kvs {
		v, id, suffix, err := decodeIndexKey(fi.ft, kv.key, len(prefix))
		if err != nil {
			return nil, err
		}
		head := string(kv.key[:len(kv.key)-len(suffix)])
		if head == lastKey {
			continue
		}
		lastKey = head
		out = append(out, IndexEntry{Value: v, ID: id})
	}
	return out, nil
}

// QueryCompositeIndex returns the objects whose first len(values) fields of
// the composite index equal values.
func (tx *Tx) QueryCompositeIndex(sid uint32, values ...any) ([]ObjID, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	ci := tx.schema.composites[sid]
	if ci == nil {
		for _, v := range sortedVersions(tx.versions) {
			if ci = tx.versions[v].composites[sid]; ci != nil {
				break
			}
		}
	}
	if ci == nil {
		return nil, illegalArgf("no composite index with storage ID %d", sid)
	}
	if len(values) > len(ci.fields) {
		return nil, illegalArgf("composite index %s has %d fields, got %d values", ci.Name, len(ci.fields), len(values))
	}
	prefix := indexPrefix(sid)
	for i, v := range values {
		var err error
		prefix, err = ci.fields[i].ft.Append(prefix, v)
		if err != nil {
			return nil, err
		}
	}

	kvs, err := tx.scan(prefix)
	if err != nil {
		return nil, err
	}
	var out []ObjID
	for _, kv := range kvs {
		rest := kv.key[len(prefix):]
		for _, fi := range ci.fields[len(values):] {
			var err error
			_, rest, err = fi.ft.Read(rest)
			if err != nil {
				return nil, err
			}
		}
		id, err := ObjIDFromBytes(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
