package objdb

import (
	"cmp"
	"slices"
)

// refFixup is a reference from a surviving object into the set of objects
// being deleted, to be nulled or removed.
type refFixup struct {
	referrer ObjID
	sid      uint32
	fi       *fieldInfo
}

// Delete deletes an object and applies the delete action of every reference
// pointing at it. Referrers with DeleteReferrer, or DeleteException combined
// with CascadeDelete, are deleted too, recursively. It returns false if the
// object did not exist.
//
// Nothing is written until the whole set of deleted objects is known, so a
// ReferencedObjectError leaves the transaction untouched.
func (tx *Tx) Delete(id ObjID) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	_, exists, err := tx.readMeta(id)
	if err != nil || !exists {
		return false, err
	}

	closure := []ObjID{id}
	inClosure := map[ObjID]bool{id: true}
	var blockers []*ReferencedObjectError
	var fixups []refFixup
	for i := 0; i < len(closure); i++ {
		target := closure[i]
		for _, sid := range tx.refSIDs {
			referrers, err := tx.referrersOf(target, sid)
			if err != nil {
				return false, err
			}
			for _, r := range referrers {
				if inClosure[r] {
					continue
				}
				fi, err := tx.referrerField(r, sid)
				if err != nil {
					return false, err
				}
				switch {
				case fi == nil:
					continue
				case fi.OnDelete == DeleteReferrer || (fi.OnDelete == DeleteException && fi.CascadeDelete):
					inClosure[r] = true
					closure = append(closure, r)
				case fi.OnDelete == DeleteException:
					blockers = append(blockers, &ReferencedObjectError{ID: target, Referrer: r, StorageID: sid, FieldName: fi.Name})
				case fi.OnDelete == DeleteSetNull || fi.OnDelete == DeleteRemove:
					fixups = append(fixups, refFixup{r, sid, fi})
				}
			}
		}
	}
	for _, b := range blockers {
		if !inClosure[b.Referrer] {
			return false, b
		}
	}

	slices.SortFunc(fixups, func(a, b refFixup) int {
		return cmp.Or(cmp.Compare(a.referrer, b.referrer), cmp.Compare(a.sid, b.sid))
	})
	fixups = slices.Compact(fixups)
	for _, f := range fixups {
		if inClosure[f.referrer] {
			continue
		}
		if err := tx.fixReferences(f, inClosure); err != nil {
			return false, err
		}
	}
	for _, victim := range closure {
		if err := tx.deleteObject(victim); err != nil {
			return false, err
		}
	}
	return true, nil
}

// referrersOf scans the index of reference field sid for target.
func (tx *Tx) referrersOf(target ObjID, sid uint32) ([]ObjID, error) {
	prefix := target.appendTo(indexPrefix(sid))
	kvs, err := tx.scan(prefix)
	if err != nil {
		return nil, err
	}
	return collectIndexIDs(kvs, len(prefix))
}

// referrerField returns the reference field or sub-field sid of object id
// as it will be when the delete touches it: under the transaction's schema
// if the type is still there, since access upgrades the object first, and
// under the stored version otherwise. It returns nil if the reference does
// not survive that upgrade.
func (tx *Tx) referrerField(id ObjID, sid uint32) (*fieldInfo, error) {
	meta, ok, err := tx.readMeta(id)
	if err != nil || !ok {
		return nil, err
	}
	sv := tx.versions[meta.Version]
	if sv == nil {
		return nil, dataErrf(objMetaKey(id), 0, nil, "object %v: unknown schema version %d", id, meta.Version)
	}
	storedType := sv.types[id.StorageID()]
	if storedType == nil {
		return nil, nil
	}
	stored := storedType.subField(sid)
	if stored == nil || stored.Kind != KindReference {
		return nil, nil
	}
	curType := tx.schema.types[id.StorageID()]
	if curType == nil || meta.Version == tx.schema.version {
		return stored, nil
	}
	cur := curType.subField(sid)
	if cur == nil || cur.Kind != KindReference {
		return nil, nil
	}
	return cur, nil
}

// fixReferences nulls or removes every reference held in field f.sid of the
// referrer that points into the deleted set.
func (tx *Tx) fixReferences(f refFixup, deleted map[ObjID]bool) error {
	if tx.schema.types[f.referrer.StorageID()] != nil {
		if _, err := tx.access(f.referrer); err != nil {
			return err
		}
	}
	fi := f.fi
	action := fi.OnDelete
	id := f.referrer
	null := must(ReferenceType.Append(nil, nil))
	isDeleted := func(enc []byte) bool {
		v, err := Decode(ReferenceType, enc)
		if err != nil {
			return false
		}
		target, ok := v.(ObjID)
		return ok && deleted[target]
	}

	parent := fi.parent
	switch {
	case parent == nil:
		raw, err := tx.rawSimple(id, fi)
		if err != nil || !isDeleted(raw) {
			return err
		}
		return tx.writeSimpleEncoded(id, fi, null, nil)

	case parent.Kind == KindList:
		elems, err := tx.elements(id, parent)
		if err != nil {
			return err
		}
		for i := len(elems) - 1; i >= 0; i-- {
			if !isDeleted(elems[i].value) {
				continue
			}
			if action == DeleteRemove {
				err = tx.listRemove(id, parent, uint64(i))
			} else {
				err = tx.listReplace(id, parent, uint64(i), elems[i].value, null)
			}
			if err != nil {
				return err
			}
		}

	case parent.Kind == KindSet:
		elems, err := tx.elements(id, parent)
		if err != nil {
			return err
		}
		var removed bool
		for _, kv := range elems {
			if !isDeleted(kv.key) {
				continue
			}
			if _, err := tx.setRemove(id, parent, kv.key); err != nil {
				return err
			}
			removed = true
		}
		if removed && action == DeleteSetNull {
			raw, err := tx.get(subKey(id, parent.StorageID, null))
			if err != nil {
				return err
			}
			if raw == nil {
				if err := tx.putElem(id, parent, null, nil); err != nil {
					return err
				}
				tx.notify(&Change{Kind: SetFieldAdd, ID: id, StorageID: parent.StorageID, FieldName: parent.Name})
			}
		}

	case parent.Kind == KindMap && parent.key == fi:
		elems, err := tx.elements(id, parent)
		if err != nil {
			return err
		}
		for _, kv := range elems {
			if !isDeleted(kv.key) {
				continue
			}
			if _, err := tx.mapRemove(id, parent, kv.key); err != nil {
				return err
			}
		}

	case parent.Kind == KindMap:
		elems, err := tx.elements(id, parent)
		if err != nil {
			return err
		}
		for _, kv := range elems {
			if !isDeleted(kv.value) {
				continue
			}
			if action == DeleteRemove {
				_, err = tx.mapRemove(id, parent, kv.key)
			} else {
				err = tx.mapPutEncoded(id, parent, kv.key, null, decodeForChange(parent.key.ft, kv.key), nil)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (tx *Tx) listReplace(id ObjID, fi *fieldInfo, idx uint64, old, enc []byte) error {
	sub := appendOrderedUint(nil, idx)
	if err := tx.delAll(elementIndexKeys(id, fi, sub, old)); err != nil {
		return err
	}
	if err := tx.putElem(id, fi, sub, enc); err != nil {
		return err
	}
	tx.notify(&Change{Kind: ListFieldReplace, ID: id, StorageID: fi.StorageID, FieldName: fi.Name, Key: idx, Old: decodeForChange(fi.elem.ft, old), New: decodeForChange(fi.elem.ft, enc)})
	return nil
}

// deleteObject removes an object's keys and index entries as they were
// written under the object's own schema version.
func (tx *Tx) deleteObject(id ObjID) error {
	meta, ok, err := tx.readMeta(id)
	if err != nil || !ok {
		return err
	}
	sv := tx.versions[meta.Version]
	if sv == nil {
		return tx.fail(dataErrf(objMetaKey(id), 0, nil, "object %v: unknown schema version %d", id, meta.Version))
	}
	ti := sv.types[id.StorageID()]
	if ti != nil {
		keys, err := tx.objectIndexKeys(id, ti, nil)
		if err != nil {
			return tx.fail(err)
		}
		if err := tx.delAll(keys); err != nil {
			return err
		}
	}
	kvs, err := tx.scan(id.Bytes())
	if err != nil {
		return err
	}
	if err := tx.delAll(keysOf(kvs)); err != nil {
		return err
	}
	if err := tx.del(versionIndexKey(meta.Version, id)); err != nil {
		return err
	}
	tx.logOp("DELETE", id)
	metricObjects.WithLabelValues("delete").Inc()
	tx.notify(&Change{Kind: ObjectDelete, ID: id, StorageID: id.StorageID()})
	return nil
}
