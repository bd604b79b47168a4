package objdb

import (
	"bytes"
	"fmt"
)

// MapEntry is one key/value pair of a map field.
type MapEntry struct {
	Key   any
	Value any
}

func (e MapEntry) String() string {
	return fmt.Sprintf("%v: %v", e.Key, e.Value)
}

// validateElem validates a value for a sub-field and returns its encoding.
func (tx *Tx) validateElem(sub *fieldInfo, v any) (any, []byte, error) {
	v, err := sub.ft.Validate(v)
	if err != nil {
		return nil, nil, err
	}
	if sub.Kind == KindReference {
		if err := tx.checkReference(sub, v); err != nil {
			return nil, nil, err
		}
	}
	enc, err := sub.ft.Append(nil, v)
	if err != nil {
		return nil, nil, err
	}
	return v, enc, nil
}

// putElem stores one element of a complex field together with its index
// entries; sub is the part of the key after the field prefix.
func (tx *Tx) putElem(id ObjID, fi *fieldInfo, sub, value []byte) error {
	if err := tx.put(append(fieldKey(id, fi.StorageID), sub...), value); err != nil {
		return err
	}
	return tx.putEmpty(elementIndexKeys(id, fi, sub, value))
}

func (tx *Tx) delElem(id ObjID, fi *fieldInfo, sub, value []byte) error {
	if err := tx.del(append(fieldKey(id, fi.StorageID), sub...)); err != nil {
		return err
	}
	return tx.delAll(elementIndexKeys(id, fi, sub, value))
}

// elements returns the stored elements of a complex field with keys
// trimmed to the part after the field prefix.
func (tx *Tx) elements(id ObjID, fi *fieldInfo) ([]storageKV, error) {
	prefix := fieldKey(id, fi.StorageID)
	kvs, err := tx.scan(prefix)
	if err != nil {
		return nil, err
	}
	for i := range kvs {
		kvs[i].key = kvs[i].key[len(prefix):]
	}
	return kvs, nil
}

// ReadListField returns the elements of a list field in order.
func (tx *Tx) ReadListField(id ObjID, sid uint32) ([]any, error) {
	fi, err := tx.accessField(id, sid, KindList)
	if err != nil {
		return nil, err
	}
	elems, err := tx.elements(id, fi)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, kv := range elems {
		v, err := Decode(fi.elem.ft, kv.value)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ListLen returns the number of elements of a list field.
func (tx *Tx) ListLen(id ObjID, sid uint32) (int, error) {
	fi, err := tx.accessField(id, sid, KindList)
	if err != nil {
		return 0, err
	}
	elems, err := tx.elements(id, fi)
	return len(elems), err
}

// ListAppend adds v to the end of a list field.
func (tx *Tx) ListAppend(id ObjID, sid uint32, v any) error {
	fi, err := tx.accessField(id, sid, KindList)
	if err != nil {
		return err
	}
	v, enc, err := tx.validateElem(fi.elem, v)
	if err != nil {
		return err
	}
	elems, err := tx.elements(id, fi)
	if err != nil {
		return err
	}
	n := uint64(len(elems))
	if err := tx.putElem(id, fi, appendOrderedUint(nil, n), enc); err != nil {
		return err
	}
	tx.notify(&Change{Kind: ListFieldAdd, ID: id, StorageID: sid, FieldName: fi.Name, Key: n, New: v})
	return nil
}

func (tx *Tx) listElem(id ObjID, fi *fieldInfo, idx uint64) ([]byte, error) {
	raw, err := tx.get(listElemKey(id, fi.StorageID, idx))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, illegalArgf("list %v of %v: index %d out of range", fi.Field, id, idx)
	}
	return raw, nil
}

// ListSet replaces the element at idx.
func (tx *Tx) ListSet(id ObjID, sid uint32, idx uint64, v any) error {
	fi, err := tx.accessField(id, sid, KindList)
	if err != nil {
		return err
	}
	old, err := tx.listElem(id, fi, idx)
	if err != nil {
		return err
	}
	v, enc, err := tx.validateElem(fi.elem, v)
	if err != nil {
		return err
	}
	if bytes.Equal(old, enc) {
		return nil
	}
	sub := appendOrderedUint(nil, idx)
	if err := tx.delAll(elementIndexKeys(id, fi, sub, old)); err != nil {
		return err
	}
	if err := tx.putElem(id, fi, sub, enc); err != nil {
		return err
	}
	tx.notify(&Change{Kind: ListFieldReplace, ID: id, StorageID: sid, FieldName: fi.Name, Key: idx, Old: decodeForChange(fi.elem.ft, old), New: v})
	return nil
}

// ListRemove removes the element at idx, shifting later elements down.
func (tx *Tx) ListRemove(id ObjID, sid uint32, idx uint64) error {
	fi, err := tx.accessField(id, sid, KindList)
	if err != nil {
		return err
	}
	if _, err := tx.listElem(id, fi, idx); err != nil {
		return err
	}
	return tx.listRemove(id, fi, idx)
}

func (tx *Tx) listRemove(id ObjID, fi *fieldInfo, idx uint64) error {
	elems, err := tx.elements(id, fi)
	if err != nil {
		return err
	}
	n := uint64(len(elems))
	removed := elems[idx].value
	for i := idx; i < n; i++ {
		if err := tx.delElem(id, fi, elems[i].key, elems[i].value); err != nil {
			return err
		}
	}
	for i := idx + 1; i < n; i++ {
		if err := tx.putElem(id, fi, appendOrderedUint(nil, i-1), elems[i].value); err != nil {
			return err
		}
	}
	tx.notify(&Change{Kind: ListFieldRemove, ID: id, StorageID: fi.StorageID, FieldName: fi.Name, Key: idx, Old: decodeForChange(fi.elem.ft, removed)})
	return nil
}

// ReadSetField returns the elements of a set field in encoding order.
func (tx *Tx) ReadSetField(id ObjID, sid uint32) ([]any, error) {
	fi, err := tx.accessField(id, sid, KindSet)
	if err != nil {
		return nil, err
	}
	elems, err := tx.elements(id, fi)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, kv := range elems {
		v, err := Decode(fi.elem.ft, kv.key)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// SetAdd adds v to a set field. It returns false if v was already present.
func (tx *Tx) SetAdd(id ObjID, sid uint32, v any) (bool, error) {
	fi, err := tx.accessField(id, sid, KindSet)
	if err != nil {
		return false, err
	}
	v, enc, err := tx.validateElem(fi.elem, v)
	if err != nil {
		return false, err
	}
	raw, err := tx.get(subKey(id, sid, enc))
	if err != nil || raw != nil {
		return false, err
	}
	if err := tx.putElem(id, fi, enc, nil); err != nil {
		return false, err
	}
	tx.notify(&Change{Kind: SetFieldAdd, ID: id, StorageID: sid, FieldName: fi.Name, New: v})
	return true, nil
}

// SetRemove removes v from a set field. It returns false if v was absent.
func (tx *Tx) SetRemove(id ObjID, sid uint32, v any) (bool, error) {
	fi, err := tx.accessField(id, sid, KindSet)
	if err != nil {
		return false, err
	}
	v, err = fi.elem.ft.Validate(v)
	if err != nil {
		return false, err
	}
	enc, err := fi.elem.ft.Append(nil, v)
	if err != nil {
		return false, err
	}
	return tx.setRemove(id, fi, enc)
}

func (tx *Tx) setRemove(id ObjID, fi *fieldInfo, enc []byte) (bool, error) {
	raw, err := tx.get(subKey(id, fi.StorageID, enc))
	if err != nil || raw == nil {
		return false, err
	}
	if err := tx.delElem(id, fi, enc, nil); err != nil {
		return false, err
	}
	tx.notify(&Change{Kind: SetFieldRemove, ID: id, StorageID: fi.StorageID, FieldName: fi.Name, Old: decodeForChange(fi.elem.ft, enc)})
	return true, nil
}

// SetContains reports whether v is an element of a set field.
func (tx *Tx) SetContains(id ObjID, sid uint32, v any) (bool, error) {
	fi, err := tx.accessField(id, sid, KindSet)
	if err != nil {
		return false, err
	}
	enc, err := fi.elem.ft.Append(nil, v)
	if err != nil {
		return false, err
	}
	raw, err := tx.get(subKey(id, sid, enc))
	return raw != nil, err
}

// ReadMapField returns the entries of a map field in key encoding order.
func (tx *Tx) ReadMapField(id ObjID, sid uint32) ([]MapEntry, error) {
	fi, err := tx.accessField(id, sid, KindMap)
	if err != nil {
		return nil, err
	}
	elems, err := tx.elements(id, fi)
	if err != nil {
		return nil, err
	}
	var out []MapEntry
	for _, kv := range elems {
		k, err := Decode(fi.key.ft, kv.key)
		if err != nil {
			return nil, err
		}
		v, err := Decode(fi.value.ft, kv.value)
		if err != nil {
			return nil, err
		}
		out = append(out, MapEntry{k, v})
	}
	return out, nil
}

// MapGet returns the value stored under k and whether the entry exists.
func (tx *Tx) MapGet(id ObjID, sid uint32, k any) (any, bool, error) {
	fi, err := tx.accessField(id, sid, KindMap)
	if err != nil {
		return nil, false, err
	}
	kenc, err := fi.key.ft.Append(nil, k)
	if err != nil {
		return nil, false, err
	}
	raw, err := tx.get(subKey(id, sid, kenc))
	if err != nil || raw == nil {
		return nil, false, err
	}
	v, err := Decode(fi.value.ft, raw)
	if err != nil {
		return nil, true, err
	}
	return v, true, nil
}

// MapPut stores v under k in a map field.
func (tx *Tx) MapPut(id ObjID, sid uint32, k, v any) error {
	fi, err := tx.accessField(id, sid, KindMap)
	if err != nil {
		return err
	}
	k, kenc, err := tx.validateElem(fi.key, k)
	if err != nil {
		return err
	}
	v, venc, err := tx.validateElem(fi.value, v)
	if err != nil {
		return err
	}
	return tx.mapPutEncoded(id, fi, kenc, venc, k, v)
}

func (tx *Tx) mapPutEncoded(id ObjID, fi *fieldInfo, kenc, venc []byte, k, v any) error {
	old, err := tx.get(subKey(id, fi.StorageID, kenc))
	if err != nil {
		return err
	}
	chg := &Change{Kind: MapFieldAdd, ID: id, StorageID: fi.StorageID, FieldName: fi.Name, Key: k, New: v}
	if old != nil {
		if bytes.Equal(old, venc) {
			return nil
		}
		if err := tx.delAll(elementIndexKeys(id, fi, kenc, old)); err != nil {
			return err
		}
		chg.Kind, chg.Old = MapFieldReplace, decodeForChange(fi.value.ft, old)
	}
	if err := tx.putElem(id, fi, kenc, venc); err != nil {
		return err
	}
	tx.notify(chg)
	return nil
}

// MapRemove removes the entry under k. It returns false if there was none.
func (tx *Tx) MapRemove(id ObjID, sid uint32, k any) (bool, error) {
	fi, err := tx.accessField(id, sid, KindMap)
	if err != nil {
		return false, err
	}
	kenc, err := fi.key.ft.Append(nil, k)
	if err != nil {
		return false, err
	}
	return tx.mapRemove(id, fi, kenc)
}

func (tx *Tx) mapRemove(id ObjID, fi *fieldInfo, kenc []byte) (bool, error) {
	old, err := tx.get(subKey(id, fi.StorageID, kenc))
	if err != nil || old == nil {
		return false, err
	}
	if err := tx.delElem(id, fi, kenc, old); err != nil {
		return false, err
	}
	tx.notify(&Change{Kind: MapFieldRemove, ID: id, StorageID: fi.StorageID, FieldName: fi.Name, Key: decodeForChange(fi.key.ft, kenc), Old: decodeForChange(fi.value.ft, old)})
	return true, nil
}

// ClearField resets a field: simple fields return to their default value,
// complex fields lose every element.
func (tx *Tx) ClearField(id ObjID, sid uint32) error {
	fi, err := tx.accessField(id, sid, KindSimple, KindReference, KindList, KindSet, KindMap)
	if err != nil {
		return err
	}
	if !fi.Kind.IsComplex() {
		def := fi.ft.Default()
		return tx.writeSimpleEncoded(id, fi, defaultEncoding(fi.ft), def)
	}
	return tx.clearComplex(id, fi)
}

func (tx *Tx) clearComplex(id ObjID, fi *fieldInfo) error {
	elems, err := tx.elements(id, fi)
	if err != nil || len(elems) == 0 {
		return err
	}
	for _, kv := range elems {
		if err := tx.delElem(id, fi, kv.key, kv.value); err != nil {
			return err
		}
	}
	kind := ListFieldClear
	switch fi.Kind {
	case KindSet:
		kind = SetFieldClear
	case KindMap:
		kind = MapFieldClear
	}
	tx.notify(&Change{Kind: kind, ID: id, StorageID: fi.StorageID, FieldName: fi.Name})
	return nil
}
