package objdb

import (
	"bytes"
)

// ReadSimpleField returns the value of a simple or reference field. Absent
// values read as the type's default.
func (tx *Tx) ReadSimpleField(id ObjID, sid uint32) (any, error) {
	fi, err := tx.accessField(id, sid, KindSimple, KindReference)
	if err != nil {
		return nil, err
	}
	raw, err := tx.get(fieldKey(id, sid))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return fi.ft.Default(), nil
	}
	return Decode(fi.ft, raw)
}

// WriteSimpleField stores v into a simple or reference field, updating the
// field's index and every composite index it belongs to. Writing the
// default value removes the field's key.
func (tx *Tx) WriteSimpleField(id ObjID, sid uint32, v any) error {
	fi, err := tx.accessField(id, sid, KindSimple, KindReference)
	if err != nil {
		return err
	}
	v, err = fi.ft.Validate(v)
	if err != nil {
		return err
	}
	if fi.Kind == KindReference {
		if err := tx.checkReference(fi, v); err != nil {
			return err
		}
	}
	enc, err := fi.ft.Append(nil, v)
	if err != nil {
		return err
	}
	return tx.writeSimpleEncoded(id, fi, enc, v)
}

func (tx *Tx) writeSimpleEncoded(id ObjID, fi *fieldInfo, enc []byte, v any) error {
	old, err := tx.rawSimple(id, fi)
	if err != nil {
		return err
	}
	if bytes.Equal(old, enc) {
		return nil
	}

	// composite keys read the other fields, so gather them before writing
	var oldKeys, newKeys [][]byte
	if fi.IsIndexed() {
		oldKeys = append(oldKeys, indexKey(fi.StorageID, old, id, nil))
		newKeys = append(newKeys, indexKey(fi.StorageID, enc, id, nil))
	}
	for _, ci := range fi.composites {
		oldKey, err := tx.compositeKey(id, ci, nil)
		if err != nil {
			return tx.fail(err)
		}
		newKey, err := tx.compositeKey(id, ci, map[uint32][]byte{fi.StorageID: enc})
		if err != nil {
			return tx.fail(err)
		}
		oldKeys = append(oldKeys, oldKey)
		newKeys = append(newKeys, newKey)
	}
	if err := tx.delAll(oldKeys); err != nil {
		return err
	}
	if err := tx.putEmpty(newKeys); err != nil {
		return err
	}

	key := fieldKey(id, fi.StorageID)
	if bytes.Equal(enc, defaultEncoding(fi.ft)) {
		err = tx.del(key)
	} else {
		err = tx.put(key, enc)
	}
	if err != nil {
		return err
	}
	tx.notify(&Change{Kind: SimpleFieldChange, ID: id, StorageID: fi.StorageID, FieldName: fi.Name, Old: decodeForChange(fi.ft, old), New: v})
	return nil
}

// decodeForChange decodes a stored value for a change notification. Values
// that do not decode are reported as raw bytes.
func decodeForChange(ft FieldType, raw []byte) any {
	v, err := Decode(ft, raw)
	if err != nil {
		return hexBytes(raw)
	}
	return v
}
