package objdb

import (
	"context"
	"errors"
	"testing"
)

func TestDelete_blocked(t *testing.T) {
	db := setup(t)
	tx := begin(t, db, peopleSchema)
	alice := must(tx.Create(personType))
	bob := must(tx.Create(personType))
	rex := must(tx.Create(petType))
	ensure(tx.WriteSimpleField(rex, petVet, alice))
	ensure(tx.WriteSimpleField(bob, personFrnd, alice))
	before := must(tx.Stats())

	_, err := tx.Delete(alice)
	var roe *ReferencedObjectError
	if !errors.As(err, &roe) {
		t.Fatalf("Delete = %v, wanted ReferencedObjectError", err)
	}
	deepEqual(t, *roe, ReferencedObjectError{ID: alice, Referrer: rex, StorageID: petVet, FieldName: "vet"})

	// nothing was written, not even the SET_NULL of bob's friend
	deepEqual(t, tx.State(), TxOpen)
	deepEqual(t, must(tx.Exists(alice)), true)
	deepEqual(t, must(tx.ReadSimpleField(bob, personFrnd)), any(alice))
	deepEqual(t, must(tx.Stats()), before)

	ensure(tx.WriteSimpleField(rex, petVet, nil))
	deepEqual(t, must(tx.Delete(alice)), true)
	deepEqual(t, must(tx.Delete(alice)), false)
	deepEqual(t, must(tx.ReadSimpleField(bob, personFrnd)), nil)
	isempty(t, must(tx.QueryIndex(personFrnd, alice)))
}

func TestDelete_cascade(t *testing.T) {
	db := setup(t)
	tx := begin(t, db, peopleSchema)
	alice := must(tx.Create(personType))
	rex := must(tx.Create(petType))
	note := must(tx.Create(noteType))
	other := must(tx.Create(noteType))
	ensure(tx.WriteSimpleField(alice, personName, "alice"))
	ensure(tx.WriteSimpleField(rex, petOwner, alice))
	ensure(tx.WriteSimpleField(note, noteSubject, alice))
	ensure(tx.WriteSimpleField(other, noteAbout, note))

	// other blocks the cascade into note
	var roe *ReferencedObjectError
	if _, err := tx.Delete(alice); !errors.As(err, &roe) || roe.ID != note || roe.Referrer != other {
		t.Fatalf("Delete = %v, wanted note blocked by other", err)
	}

	ensure(tx.WriteSimpleField(other, noteAbout, rex))
	if _, err := tx.Delete(alice); !errors.As(err, &roe) || roe.ID != rex {
		t.Fatalf("Delete = %v, wanted rex blocked by other", err)
	}

	ensure(tx.WriteSimpleField(other, noteAbout, nil))
	var deleted []ObjID
	tx.OnChange(func(chg *Change) {
		if chg.Kind == ObjectDelete {
			deleted = append(deleted, chg.ID)
		}
	})
	deepEqual(t, must(tx.Delete(alice)), true)
	deepEqual(t, sortedIDs(deleted...), sortedIDs(alice, rex, note))
	deepEqual(t, must(tx.Exists(other)), true)

	s := must(tx.Stats())
	deepEqual(t, s.Objects, 1)
	deepEqual(t, s.ObjectsByType, map[uint32]int{noteType: 1})
	isempty(t, must(tx.QueryIndex(personName, "alice")))
	isempty(t, must(tx.QueryIndex(petOwner, alice)))
	deepEqual(t, must(tx.QueryVersion(1)), []ObjID{other})
}

func TestDelete_blockerInsideClosure(t *testing.T) {
	db := setup(t)
	tx := begin(t, db, peopleSchema)
	alice := must(tx.Create(personType))
	rex := must(tx.Create(petType))
	ensure(tx.WriteSimpleField(rex, petVet, alice))
	ensure(tx.WriteSimpleField(rex, petOwner, alice))

	deepEqual(t, must(tx.Delete(alice)), true)
	deepEqual(t, must(tx.Exists(rex)), false)
}

func TestDelete_selfReference(t *testing.T) {
	db := setup(t)
	tx := begin(t, db, peopleSchema)
	alice := must(tx.Create(personType))
	ensure(tx.WriteSimpleField(alice, personFrnd, alice))
	note := must(tx.Create(noteType))
	ensure(tx.WriteSimpleField(note, noteAbout, note))

	deepEqual(t, must(tx.Delete(alice)), true)
	deepEqual(t, must(tx.Delete(note)), true)
	s := must(tx.Stats())
	deepEqual(t, s.TotalKeys()-s.MetaKeys, 0)
}

func TestDelete_complexReferences(t *testing.T) {
	db := setup(t)
	tx := begin(t, db, peopleSchema)
	p1 := must(tx.Create(personType))
	p2 := must(tx.Create(personType))
	link := must(tx.Create(linkType))

	ensure(tx.ListAppend(link, linkList, p1))
	ensure(tx.ListAppend(link, linkList, p2))
	ensure(tx.ListAppend(link, linkList, p1))
	must(tx.SetAdd(link, linkSet, p1))
	must(tx.SetAdd(link, linkSet, p2))
	ensure(tx.MapPut(link, linkMap, p1, p2))
	ensure(tx.MapPut(link, linkMap, p2, p1))

	deepEqual(t, must(tx.Delete(p1)), true)

	deepEqual(t, must(tx.ReadListField(link, linkList)), []any{p2})
	deepEqual(t, must(tx.ReadSetField(link, linkSet)), []any{p2, nil})
	deepEqual(t, must(tx.ReadMapField(link, linkMap)), []MapEntry{{p2, nil}})

	isempty(t, must(tx.ReferringObjects(p1, linkListElem)))
	isempty(t, must(tx.ReferringObjects(p1, linkSetElem)))
	isempty(t, must(tx.ReferringObjects(p1, linkMapKey)))
	isempty(t, must(tx.ReferringObjects(p1, linkMapValue)))
	deepEqual(t, must(tx.QueryIndex(linkSetElem, nil)), []ObjID{link})
	deepEqual(t, must(tx.QueryIndex(linkMapValue, nil)), []ObjID{link})

	ensure(tx.Commit())
}

func TestDelete_changes(t *testing.T) {
	db := setup(t)
	tx := begin(t, db, peopleSchema)
	alice := must(tx.Create(personType))
	bob := must(tx.Create(personType))
	ensure(tx.WriteSimpleField(bob, personFrnd, alice))

	var changes []*Change
	tx.OnChange(func(chg *Change) {
		changes = append(changes, chg)
	})
	deepEqual(t, must(tx.Delete(alice)), true)
	deepEqual(t, changes, []*Change{
		{Kind: SimpleFieldChange, ID: bob, StorageID: personFrnd, FieldName: "friend", Old: alice, New: nil},
		{Kind: ObjectDelete, ID: alice, StorageID: personType},
	})
}

// delVersions builds two versions of a schema in which Tag#2.doc refers to
// Doc#1 with a different delete action in each.
func delVersions(v1, v2 DeleteAction) (*SchemaModel, *SchemaModel) {
	build := func(a DeleteAction) *SchemaModel {
		return must(BuildSchema(func(b *SchemaBuilder) {
			b.Type("Doc", 1, func(t *TypeBuilder) {})
			b.Type("Tag", 2, func(t *TypeBuilder) {
				t.Reference("doc", 3, 1).OnDelete(a)
			})
		}))
	}
	return build(v1), build(v2)
}

func TestDelete_referrerOnOldVersion(t *testing.T) {
	v1, v2 := delVersions(DeleteException, DeleteSetNull)
	db := setup(t)
	var doc, tag ObjID
	ensure(db.Update(context.Background(), v1, 1, func(tx *Tx) error {
		doc = must(tx.Create(1))
		tag = must(tx.Create(2))
		return tx.WriteSimpleField(tag, 3, doc)
	}))

	tx := must(db.CreateTransaction(v2, 2, true))
	t.Cleanup(tx.close)
	deepEqual(t, must(tx.Delete(doc)), true)
	deepEqual(t, must(tx.ObjectVersion(tag)), uint64(2))
	deepEqual(t, must(tx.ReadSimpleField(tag, 3)), nil)
	ensure(tx.Commit())
}

func TestDelete_referrerOnOldVersionBlocks(t *testing.T) {
	v1, v2 := delVersions(DeleteSetNull, DeleteException)
	db := setup(t)
	var doc, tag ObjID
	ensure(db.Update(context.Background(), v1, 1, func(tx *Tx) error {
		doc = must(tx.Create(1))
		tag = must(tx.Create(2))
		return tx.WriteSimpleField(tag, 3, doc)
	}))

	tx := must(db.CreateTransaction(v2, 2, true))
	t.Cleanup(tx.close)
	var roe *ReferencedObjectError
	if _, err := tx.Delete(doc); !errors.As(err, &roe) || roe.Referrer != tag {
		t.Fatalf("Delete = %v, wanted a ReferencedObjectError from %v", err, tag)
	}
	deepEqual(t, must(tx.ObjectVersion(tag)), uint64(1))
	deepEqual(t, must(tx.ReadSimpleField(tag, 3)), any(doc))
}
