package objdb

import (
	"context"
	"errors"
	"testing"
)

const (
	thingType  = 1
	thingCount = 2
	thingLabel = 3
	thingGone  = 4
	thingItems = 5
	thingItem  = 6
	thingReq   = 7
	thingIgn   = 8
)

var thingV1 = must(BuildSchema(func(b *SchemaBuilder) {
	b.Type("Thing", thingType, func(t *TypeBuilder) {
		t.Simple("count", thingCount, "long")
		t.Simple("label", thingLabel, "string")
		t.Simple("gone", thingGone, "string")
		t.List("items", thingItems, SimpleElem(thingItem, "long"))
		t.Simple("req", thingReq, "string").Upgrade(UpgradeRequire)
		t.Simple("ign", thingIgn, "string").Upgrade(UpgradeIgnore)
	})
}))

var thingV2 = must(BuildSchema(func(b *SchemaBuilder) {
	b.Type("Thing", thingType, func(t *TypeBuilder) {
		t.Simple("count", thingCount, "int")
		t.Simple("label", thingLabel, "string")
		t.List("items", thingItems, SimpleElem(thingItem, "string"))
		t.Simple("req", thingReq, "int").Upgrade(UpgradeRequire)
		t.Simple("ign", thingIgn, "long").Upgrade(UpgradeIgnore)
	})
}))

// createThing commits a version 1 object.
func createThing(t testing.TB, db *DB, count int64, req string) ObjID {
	t.Helper()
	var id ObjID
	ensure(db.Update(context.Background(), thingV1, 1, func(tx *Tx) error {
		id = must(tx.Create(thingType))
		ensure(tx.WriteSimpleField(id, thingCount, count))
		ensure(tx.WriteSimpleField(id, thingLabel, "hello"))
		ensure(tx.WriteSimpleField(id, thingGone, "bye"))
		ensure(tx.ListAppend(id, thingItems, int64(1)))
		ensure(tx.WriteSimpleField(id, thingReq, req))
		return tx.WriteSimpleField(id, thingIgn, "hi")
	}))
	return id
}

func TestUpgrade(t *testing.T) {
	db := setup(t)
	id := createThing(t, db, 42, "17")

	tx := must(db.CreateTransaction(thingV2, 2, true))
	t.Cleanup(tx.close)
	deepEqual(t, must(tx.ObjectVersion(id)), uint64(1))
	deepEqual(t, must(tx.QueryVersion(1)), []ObjID{id})

	deepEqual(t, must(tx.Upgrade(id)), true)
	deepEqual(t, must(tx.Upgrade(id)), false)
	deepEqual(t, must(tx.ObjectVersion(id)), uint64(2))
	isempty(t, must(tx.QueryVersion(1)))
	deepEqual(t, must(tx.QueryVersion(2)), []ObjID{id})

	deepEqual(t, must(tx.ReadSimpleField(id, thingCount)), any(int32(42)))
	deepEqual(t, must(tx.ReadSimpleField(id, thingLabel)), any("hello"))
	deepEqual(t, must(tx.ReadSimpleField(id, thingReq)), any(int32(17)))
	isempty(t, must(tx.ReadListField(id, thingItems)))
	if raw := must(tx.stx.Get(fieldKey(id, thingGone))); raw != nil {
		t.Fatalf("dropped field still stored: %x", raw)
	}
	if _, err := tx.ReadSimpleField(id, thingIgn); err == nil {
		t.Fatalf("ReadSimpleField(ign) succeeded on an unconverted value")
	}
	ensure(tx.Commit())

	tx = begin(t, db, nil)
	deepEqual(t, tx.SchemaVersion(), uint64(2))
	deepEqual(t, db.SchemaVersions(), []uint64{1, 2})
	deepEqual(t, must(tx.ObjectVersion(id)), uint64(2))
}

func TestUpgrade_attempt(t *testing.T) {
	db := setup(t)
	id := createThing(t, db, 1<<40, "17")

	tx := must(db.CreateTransaction(thingV2, 2, true))
	if _, err := tx.ReadSimpleField(id, thingCount); err == nil {
		t.Fatalf("ReadSimpleField(count) succeeded on an out of range value")
	}
	if err := tx.Commit(); err == nil {
		t.Fatalf("Commit succeeded with an unconverted value")
	}
	deepEqual(t, tx.State(), TxAborted)

	tx = must(db.CreateTransaction(thingV2, 2, true))
	t.Cleanup(tx.close)
	deepEqual(t, must(tx.Upgrade(id)), true)
	var iv *InvalidValueError
	if err := tx.Validate(); !errors.As(err, &iv) {
		t.Fatalf("Validate = %v, wanted InvalidValueError", err)
	}
	ensure(tx.WriteSimpleField(id, thingCount, int32(5)))
	ensure(tx.Validate())
	ensure(tx.Commit())

	tx = begin(t, db, nil)
	deepEqual(t, must(tx.ReadSimpleField(id, thingCount)), any(int32(5)))
}

func TestUpgrade_require(t *testing.T) {
	db := setup(t)
	id := createThing(t, db, 42, "abc")

	tx := must(db.CreateTransaction(thingV2, 2, true))
	if _, err := tx.ReadSimpleField(id, thingCount); err == nil {
		t.Fatalf("ReadSimpleField succeeded although a required conversion failed")
	}
	deepEqual(t, tx.State(), TxAborted)

	tx = begin(t, db, nil)
	deepEqual(t, tx.SchemaVersion(), uint64(1))
	deepEqual(t, must(tx.ReadSimpleField(id, thingReq)), any("abc"))
}

func TestUpgrade_unconvertedNotIndexed(t *testing.T) {
	const (
		gaugeType  = 1
		gaugeLevel = 2
		gaugeTag   = 3
		byLevelTag = 4
	)
	gaugeV1 := must(BuildSchema(func(b *SchemaBuilder) {
		b.Type("Gauge", gaugeType, func(t *TypeBuilder) {
			t.Simple("level", gaugeLevel, "long")
			t.Simple("tag", gaugeTag, "string")
		})
	}))
	gaugeV2 := must(BuildSchema(func(b *SchemaBuilder) {
		b.Type("Gauge", gaugeType, func(t *TypeBuilder) {
			t.Simple("level", gaugeLevel, "int").Indexed()
			t.Simple("tag", gaugeTag, "string")
			t.CompositeIndex("byLevelTag", byLevelTag, gaugeLevel, gaugeTag)
		})
	}))

	db := setup(t)
	var big, small ObjID
	ensure(db.Update(context.Background(), gaugeV1, 1, func(tx *Tx) error {
		big = must(tx.Create(gaugeType))
		ensure(tx.WriteSimpleField(big, gaugeLevel, int64(1)<<40))
		ensure(tx.WriteSimpleField(big, gaugeTag, "t"))
		small = must(tx.Create(gaugeType))
		ensure(tx.WriteSimpleField(small, gaugeLevel, int64(7)))
		return tx.WriteSimpleField(small, gaugeTag, "t")
	}))

	tx := must(db.CreateTransaction(gaugeV2, 2, true))
	t.Cleanup(tx.close)
	deepEqual(t, must(tx.Upgrade(big)), true)
	deepEqual(t, must(tx.Upgrade(small)), true)

	// the value that did not convert has no index entries to misdecode
	deepEqual(t, must(tx.IndexEntries(gaugeLevel)), []IndexEntry{{Value: int32(7), ID: small}})
	deepEqual(t, must(tx.QueryCompositeIndex(byLevelTag)), []ObjID{small})

	ensure(tx.WriteSimpleField(big, gaugeLevel, int32(5)))
	deepEqual(t, must(tx.QueryIndex(gaugeLevel, int32(5))), []ObjID{big})
	deepEqual(t, must(tx.QueryCompositeIndex(byLevelTag, int32(5), "t")), []ObjID{big})
	ensure(tx.Commit())
}
