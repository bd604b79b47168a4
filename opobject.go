package objdb

import (
	"fmt"
	"slices"
)

func (tx *Tx) readMeta(id ObjID) (objMeta, bool, error) {
	raw, err := tx.get(objMetaKey(id))
	if err != nil || raw == nil {
		return objMeta{}, false, err
	}
	meta, err := decodeObjMeta(raw)
	if err != nil {
		return objMeta{}, false, err
	}
	return meta, true, nil
}

// objectType returns the type of an existing object under the transaction's
// schema, upgrading the object first if it was written under another version.
func (tx *Tx) objectType(id ObjID) (*typeInfo, bool, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, false, err
	}
	meta, ok, err := tx.readMeta(id)
	if err != nil || !ok {
		return nil, false, err
	}
	ti := tx.schema.types[id.StorageID()]
	if ti == nil {
		return nil, true, illegalArgf("object %v: type %d is not in schema version %d", id, id.StorageID(), tx.schema.version)
	}
	if meta.Version != tx.schema.version {
		if err := tx.upgrade(id, meta); err != nil {
			return nil, true, err
		}
	}
	return ti, true, nil
}

func (tx *Tx) access(id ObjID) (*typeInfo, error) {
	ti, ok, err := tx.objectType(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &DeletedObjectError{ID: id}
	}
	return ti, nil
}

func (tx *Tx) accessField(id ObjID, sid uint32, kinds ...FieldKind) (*fieldInfo, error) {
	ti, err := tx.access(id)
	if err != nil {
		return nil, err
	}
	fi := ti.fields[sid]
	if fi == nil {
		return nil, illegalArgf("type %v has no field with storage ID %d", ti.ObjectType, sid)
	}
	if !slices.Contains(kinds, fi.Kind) {
		return nil, illegalArgf("field %v of %v is a %v field", fi.Field, ti.ObjectType, fi.Kind)
	}
	return fi, nil
}

// Create creates an object of the given type with every field at its
// default value.
func (tx *Tx) Create(sid uint32) (ObjID, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	ti := tx.schema.types[sid]
	if ti == nil {
		return 0, illegalArgf("no object type with storage ID %d in schema version %d", sid, tx.schema.version)
	}
	for {
		id := NewObjID(sid)
		_, exists, err := tx.readMeta(id)
		if err != nil {
			return 0, err
		}
		if !exists {
			return id, tx.create(id, ti)
		}
	}
}

// CreateWithID creates an object with a caller-chosen ID. It returns false if
// the object already exists.
func (tx *Tx) CreateWithID(id ObjID) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	sid, err := id.storageID()
	if err != nil {
		return false, illegalArgf("invalid object ID %v: %v", id, err)
	}
	ti := tx.schema.types[sid]
	if ti == nil {
		return false, illegalArgf("no object type with storage ID %d in schema version %d", sid, tx.schema.version)
	}
	_, exists, err := tx.readMeta(id)
	if err != nil || exists {
		return false, err
	}
	return true, tx.create(id, ti)
}

func (tx *Tx) create(id ObjID, ti *typeInfo) error {
	meta := objMeta{Version: tx.schema.version, Flags: mfDefault}
	if err := tx.put(objMetaKey(id), meta.encode()); err != nil {
		return err
	}
	if err := tx.put(versionIndexKey(meta.Version, id), nil); err != nil {
		return err
	}
	keys, err := tx.objectIndexKeys(id, ti, nil)
	if err != nil {
		return tx.fail(err)
	}
	if err := tx.putEmpty(keys); err != nil {
		return err
	}
	tx.logOp("CREATE", id, "type", ti.Name)
	metricObjects.WithLabelValues("create").Inc()
	tx.notify(&Change{Kind: ObjectCreate, ID: id, StorageID: ti.StorageID})
	return nil
}

// Exists reports whether the object exists. It does not upgrade the object.
func (tx *Tx) Exists(id ObjID) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	_, ok, err := tx.readMeta(id)
	return ok, err
}

// ObjectVersion returns the schema version the object is stored under,
// without upgrading it.
func (tx *Tx) ObjectVersion(id ObjID) (uint64, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	meta, ok, err := tx.readMeta(id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &DeletedObjectError{ID: id}
	}
	return meta.Version, nil
}

// GetAll returns every object of the given type, in ObjID order.
func (tx *Tx) GetAll(sid uint32) ([]ObjID, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if sid == 0 || sid > MaxStorageID {
		return nil, illegalArgf("invalid storage ID %d", sid)
	}
	prefix := appendOrderedUint(nil, uint64(sid))

	c := tx.stx.Cursor()
	defer c.Close()
	var out []ObjID
	k, _ := c.Seek(prefix)
	for k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix) {
		if len(k) < ObjIDLen {
			return nil, dataErrf(k, 0, nil, "short key under type prefix")
		}
		if len(k) == ObjIDLen {
			id, err := ObjIDFromBytes(k)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		end := prefixEnd(k[:ObjIDLen])
		if end == nil {
			break
		}
		k, _ = c.Seek(end)
	}
	if err := c.Err(); err != nil {
		return nil, tx.fail(fmt.Errorf("objdb: scan type %d: %w", sid, err))
	}
	return out, nil
}

// QueryVersion returns the objects stored under the given schema version.
func (tx *Tx) QueryVersion(version uint64) ([]ObjID, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	prefix := versionIndexVersionPrefix(version)
	kvs, err := tx.scan(prefix)
	if err != nil {
		return nil, err
	}
	var out []ObjID
	for _, kv := range kvs {
		id, err := ObjIDFromBytes(kv.key[len(prefix):])
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Upgrade brings the object to the transaction's schema version. It returns
// false if the object was already at that version.
func (tx *Tx) Upgrade(id ObjID) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	meta, ok, err := tx.readMeta(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, &DeletedObjectError{ID: id}
	}
	if meta.Version == tx.schema.version {
		return false, nil
	}
	if _, _, err := tx.objectType(id); err != nil {
		return false, err
	}
	return true, nil
}

func (tx *Tx) checkReference(fi *fieldInfo, v any) error {
	target, ok := v.(ObjID)
	if !ok {
		return nil // null
	}
	sid := target.StorageID()
	if sid == 0 {
		return illegalArgf("field %v: invalid object ID %v", fi.Field, target)
	}
	if !fi.AllowsTarget(sid) {
		return illegalArgf("field %v: object %v has type %d, allowed types are %v", fi.Field, target, sid, fi.Targets)
	}
	if fi.AllowDeleted {
		return nil
	}
	_, exists, err := tx.readMeta(target)
	if err != nil {
		return err
	}
	if !exists {
		return &DeletedObjectError{ID: target, Msg: fmt.Sprintf("cannot be assigned to field %v", fi.Field)}
	}
	return nil
}
