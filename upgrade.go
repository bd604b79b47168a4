package objdb

import (
	"bytes"
	"fmt"
)

// upgrade rewrites an object stored under meta.Version so that it conforms
// to the transaction's schema version.
//
// Fields missing from the new version, or whose kind changed, are dropped.
// Simple fields whose type changed are converted according to their upgrade
// policy. Complex fields whose element, key or value type changed are
// cleared. Index entries are recomputed from scratch, except for values left
// unconverted, which stay out of every index until they are rewritten.
func (tx *Tx) upgrade(id ObjID, meta objMeta) error {
	from := tx.versions[meta.Version]
	if from == nil {
		return tx.fail(dataErrf(objMetaKey(id), 0, nil, "object %v: unknown schema version %d", id, meta.Version))
	}
	fromType := from.types[id.StorageID()]
	if fromType == nil {
		return tx.fail(dataErrf(objMetaKey(id), 0, nil, "object %v: type %d not in schema version %d", id, id.StorageID(), meta.Version))
	}
	toType := tx.schema.types[id.StorageID()]

	oldKeys, err := tx.objectIndexKeys(id, fromType, nil)
	if err != nil {
		return tx.fail(err)
	}
	if err := tx.delAll(oldKeys); err != nil {
		return err
	}

	var unconverted map[uint32]bool
	for _, old := range fromType.fieldList {
		cur := toType.fields[old.StorageID]
		switch {
		case cur == nil || cur.Kind != old.Kind:
			if err := tx.dropField(id, old); err != nil {
				return err
			}
		case !old.Kind.IsComplex():
			kept, err := tx.upgradeSimple(id, old, cur)
			if err != nil {
				return err
			}
			if kept {
				if unconverted == nil {
					unconverted = make(map[uint32]bool)
				}
				unconverted[cur.StorageID] = true
			}
		case subFieldsChanged(old, cur):
			if err := tx.dropField(id, old); err != nil {
				return err
			}
		}
	}

	newKeys, err := tx.objectIndexKeys(id, toType, unconverted)
	if err != nil {
		return tx.fail(err)
	}
	if err := tx.putEmpty(newKeys); err != nil {
		return err
	}

	newMeta := objMeta{Version: tx.schema.version, Flags: meta.Flags}
	if err := tx.put(objMetaKey(id), newMeta.encode()); err != nil {
		return err
	}
	if err := tx.del(versionIndexKey(meta.Version, id)); err != nil {
		return err
	}
	if err := tx.put(versionIndexKey(newMeta.Version, id), nil); err != nil {
		return err
	}
	metricUpgrades.Inc()
	tx.logOp("UPGRADE", id, "from", meta.Version, "to", newMeta.Version)
	return nil
}

func (tx *Tx) dropField(id ObjID, fi *fieldInfo) error {
	if !fi.Kind.IsComplex() {
		return tx.del(fieldKey(id, fi.StorageID))
	}
	kvs, err := tx.scan(fieldKey(id, fi.StorageID))
	if err != nil {
		return err
	}
	return tx.delAll(keysOf(kvs))
}

// upgradeSimple converts a stored simple value to the field's new type. It
// returns true if the old bytes were kept unconverted.
func (tx *Tx) upgradeSimple(id ObjID, old, cur *fieldInfo) (bool, error) {
	if !typeChanged(old, cur) {
		return false, nil
	}
	key := fieldKey(id, cur.StorageID)
	raw, err := tx.get(key)
	if err != nil || raw == nil {
		return false, err
	}
	if cur.Upgrade == UpgradeIgnore {
		return true, nil
	}

	enc, err := convertEncoded(old.ft, cur.ft, raw)
	if err != nil {
		err = fmt.Errorf("object %v field %v: upgrade from %s to %s: %w", id, cur.Field, old.ft.Name(), cur.ft.Name(), err)
		if cur.Upgrade == UpgradeRequire {
			return false, tx.fail(err)
		}
		tx.logOp("UPGRADE-KEEP", id, "field", cur.Name, "err", err)
		tx.queueValidation(id)
		return true, nil
	}
	if bytes.Equal(enc, defaultEncoding(cur.ft)) {
		return false, tx.del(key)
	}
	return false, tx.put(key, enc)
}

func convertEncoded(from, to FieldType, raw []byte) ([]byte, error) {
	v, err := Decode(from, raw)
	if err != nil {
		return nil, err
	}
	v, err = Convert(from, to, v)
	if err != nil {
		return nil, err
	}
	return to.Append(nil, v)
}

func typeChanged(old, cur *fieldInfo) bool {
	return old.ft.Name() != cur.ft.Name() || old.ft.Signature() != cur.ft.Signature()
}

func subFieldsChanged(old, cur *fieldInfo) bool {
	pairs := [][2]*fieldInfo{{old.elem, cur.elem}, {old.key, cur.key}, {old.value, cur.value}}
	for _, p := range pairs {
		if (p[0] == nil) != (p[1] == nil) {
			return true
		}
		if p[0] != nil && (p[0].Kind != p[1].Kind || typeChanged(p[0], p[1])) {
			return true
		}
	}
	return false
}

func keysOf(kvs []storageKV) [][]byte {
	keys := make([][]byte, len(kvs))
	for i, kv := range kvs {
		keys[i] = kv.key
	}
	return keys
}
