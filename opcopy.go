package objdb

import (
	"bytes"
	"fmt"
)

// copyField is the destination data of one field, fully encoded.
type copyField struct {
	fi    *fieldInfo
	enc   []byte
	value any
	elems []storageKV
}

// Copy copies an object from tx into dest, which may be tx itself. Object IDs
// found in remap are replaced, both for the copied object and for every
// reference it holds; the resulting ID is returned.
//
// Every check runs before the first write to dest: the destination must have
// the same type with identically typed fields, each remapped reference must
// be allowed by its field and, unless the field allows deleted targets, must
// exist in dest. The destination object is created if needed, and fields
// that the source lacks are reset.
func (tx *Tx) Copy(id ObjID, dest *Tx, remap map[ObjID]ObjID) (ObjID, error) {
	if err := dest.checkOpen(); err != nil {
		return 0, err
	}
	srcType, err := tx.access(id)
	if err != nil {
		return 0, err
	}
	destID, err := remapID(id, remap)
	if err != nil {
		return 0, err
	}
	if destID.StorageID() != id.StorageID() {
		return 0, illegalArgf("cannot copy %v to %v: different object types %d and %d", id, destID, id.StorageID(), destID.StorageID())
	}
	destType := dest.schema.types[id.StorageID()]
	if destType == nil {
		return 0, illegalArgf("cannot copy %v: type %v is not in destination schema version %d", id, srcType.ObjectType, dest.schema.version)
	}

	var plan []*copyField
	for _, sfi := range srcType.fieldList {
		cf, err := tx.planCopyField(id, sfi, destID, destType.fields[sfi.StorageID], dest, remap)
		if err != nil {
			return 0, fmt.Errorf("copy %v field %v: %w", id, sfi.Field, err)
		}
		if cf != nil {
			plan = append(plan, cf)
		}
	}

	_, exists, err := dest.readMeta(destID)
	if err != nil {
		return 0, err
	}
	if exists {
		if _, err := dest.access(destID); err != nil {
			return 0, err
		}
	} else if err := dest.create(destID, destType); err != nil {
		return 0, err
	}

	planned := make(map[uint32]*copyField, len(plan))
	for _, cf := range plan {
		planned[cf.fi.StorageID] = cf
	}
	for _, dfi := range destType.fieldList {
		cf := planned[dfi.StorageID]
		if err := dest.applyCopyField(destID, dfi, cf); err != nil {
			return 0, dest.fail(err)
		}
	}
	tx.logOp("COPY", id, "dest", destID.String())
	return destID, nil
}

func remapID(id ObjID, remap map[ObjID]ObjID) (ObjID, error) {
	r, ok := remap[id]
	if !ok {
		return id, nil
	}
	if r == 0 {
		return 0, illegalArgf("object %v is remapped to null", id)
	}
	return r, nil
}

// planCopyField reads one source field and converts it into destination
// encodings. It returns nil for a field the destination lacks and the
// source leaves at its default.
func (tx *Tx) planCopyField(id ObjID, sfi *fieldInfo, destID ObjID, dfi *fieldInfo, dest *Tx, remap map[ObjID]ObjID) (*copyField, error) {
	if !sfi.Kind.IsComplex() {
		raw, err := tx.rawSimple(id, sfi)
		if err != nil {
			return nil, err
		}
		if dfi == nil {
			if bytes.Equal(raw, defaultEncoding(sfi.ft)) {
				return nil, nil
			}
			return nil, illegalArgf("field does not exist in destination schema version %d", dest.schema.version)
		}
		if dfi.Kind != sfi.Kind || typeChanged(sfi, dfi) {
			return nil, illegalArgf("field is %v %s in destination, %v %s in source", dfi.Kind, dfi.ft.Name(), sfi.Kind, sfi.ft.Name())
		}
		cf := &copyField{fi: dfi, enc: raw}
		if dfi.Kind == KindReference {
			cf.enc, cf.value, err = dest.remapRef(dfi, raw, destID, remap)
			if err != nil {
				return nil, err
			}
		} else {
			cf.value = decodeForChange(dfi.ft, raw)
		}
		return cf, nil
	}

	elems, err := tx.elements(id, sfi)
	if err != nil {
		return nil, err
	}
	if dfi == nil {
		if len(elems) == 0 {
			return nil, nil
		}
		return nil, illegalArgf("field does not exist in destination schema version %d", dest.schema.version)
	}
	if dfi.Kind != sfi.Kind || subFieldsChanged(sfi, dfi) {
		return nil, illegalArgf("field has a different %v shape in destination", dfi.Kind)
	}
	cf := &copyField{fi: dfi}
	for _, kv := range elems {
		sub, value := kv.key, kv.value
		var err error
		switch dfi.Kind {
		case KindList:
			if dfi.elem.Kind == KindReference {
				value, _, err = dest.remapRef(dfi.elem, value, destID, remap)
			}
		case KindSet:
			if dfi.elem.Kind == KindReference {
				sub, _, err = dest.remapRef(dfi.elem, sub, destID, remap)
			}
		case KindMap:
			if dfi.key.Kind == KindReference {
				sub, _, err = dest.remapRef(dfi.key, sub, destID, remap)
			}
			if err == nil && dfi.value.Kind == KindReference {
				value, _, err = dest.remapRef(dfi.value, value, destID, remap)
			}
		}
		if err != nil {
			return nil, err
		}
		cf.elems = append(cf.elems, storageKV{sub, value})
	}
	return cf, nil
}

// remapRef applies remap to an encoded reference and checks that dest can
// hold the result in field fi of object self.
func (tx *Tx) remapRef(fi *fieldInfo, raw []byte, self ObjID, remap map[ObjID]ObjID) ([]byte, any, error) {
	v, err := Decode(ReferenceType, raw)
	if err != nil {
		return nil, nil, err
	}
	target, ok := v.(ObjID)
	if !ok {
		return raw, nil, nil
	}
	target, err = remapID(target, remap)
	if err != nil {
		return nil, nil, err
	}
	tsid := target.StorageID()
	if !fi.AllowsTarget(tsid) {
		return nil, nil, illegalArgf("reference %v: type %d is not allowed by field %v", target, tsid, fi.Field)
	}
	if tx.schema.types[tsid] == nil {
		return nil, nil, illegalArgf("reference %v: type %d is not in destination schema version %d", target, tsid, tx.schema.version)
	}
	if !fi.AllowDeleted && target != self {
		_, exists, err := tx.readMeta(target)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			return nil, nil, &DeletedObjectError{ID: target, Msg: fmt.Sprintf("referenced by field %v", fi.Field)}
		}
	}
	return target.appendTo(nil), target, nil
}

func (tx *Tx) applyCopyField(id ObjID, fi *fieldInfo, cf *copyField) error {
	if !fi.Kind.IsComplex() {
		if cf == nil {
			return tx.writeSimpleEncoded(id, fi, defaultEncoding(fi.ft), fi.ft.Default())
		}
		return tx.writeSimpleEncoded(id, fi, cf.enc, cf.value)
	}
	if err := tx.clearComplex(id, fi); err != nil {
		return err
	}
	if cf == nil {
		return nil
	}
	for _, kv := range cf.elems {
		if err := tx.putElem(id, fi, kv.key, kv.value); err != nil {
			return err
		}
		chg := &Change{ID: id, StorageID: fi.StorageID, FieldName: fi.Name}
		switch fi.Kind {
		case KindList:
			idx, _, _ := readOrderedUint(kv.key)
			chg.Kind, chg.Key, chg.New = ListFieldAdd, idx, decodeForChange(fi.elem.ft, kv.value)
		case KindSet:
			chg.Kind, chg.New = SetFieldAdd, decodeForChange(fi.elem.ft, kv.key)
		case KindMap:
			chg.Kind, chg.Key, chg.New = MapFieldAdd, decodeForChange(fi.key.ft, kv.key), decodeForChange(fi.value.ft, kv.value)
		}
		tx.notify(chg)
	}
	return nil
}
