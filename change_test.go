package objdb

import (
	"testing"
)

func TestTx_OnChange(t *testing.T) {
	db := setup(t)
	tx := begin(t, db, peopleSchema)
	var kinds []ChangeKind
	tx.OnChange(func(chg *Change) {
		kinds = append(kinds, chg.Kind)
	})

	id := must(tx.Create(personType))
	ensure(tx.WriteSimpleField(id, personName, "alice"))
	ensure(tx.WriteSimpleField(id, personName, "alice"))
	ensure(tx.ListAppend(id, personTags, "a"))
	ensure(tx.ListAppend(id, personTags, "b"))
	ensure(tx.ListSet(id, personTags, 1, "c"))
	ensure(tx.ListRemove(id, personTags, 0))
	must(tx.SetAdd(id, personNicks, "al"))
	must(tx.SetAdd(id, personNicks, "al"))
	must(tx.SetRemove(id, personNicks, "al"))
	ensure(tx.MapPut(id, personScore, "math", int32(5)))
	ensure(tx.MapPut(id, personScore, "math", int32(6)))
	must(tx.MapRemove(id, personScore, "math"))
	ensure(tx.ClearField(id, personTags))
	ensure(tx.ClearField(id, personNicks))
	must(tx.Delete(id))

	deepEqual(t, kinds, []ChangeKind{
		ObjectCreate,
		SimpleFieldChange,
		ListFieldAdd,
		ListFieldAdd,
		ListFieldReplace,
		ListFieldRemove,
		SetFieldAdd,
		SetFieldRemove,
		MapFieldAdd,
		MapFieldReplace,
		MapFieldRemove,
		ListFieldClear,
		ObjectDelete,
	})
}

func TestChange_String(t *testing.T) {
	id := ObjID(0x0123456789abcdef)
	tests := []struct {
		chg  Change
		want string
	}{
		{Change{Kind: ObjectCreate, ID: id, StorageID: 1}, "create 0123456789abcdef"},
		{Change{Kind: SimpleFieldChange, ID: id, FieldName: "name", Old: "a", New: "b"}, "simple 0123456789abcdef.name a => b"},
		{Change{Kind: ListFieldReplace, ID: id, FieldName: "tags", Key: uint64(2), Old: "a", New: "b"}, "list-replace 0123456789abcdef.tags[2] a => b"},
		{Change{Kind: MapFieldClear, ID: id, FieldName: "scores"}, "map-clear 0123456789abcdef.scores"},
	}
	for _, tt := range tests {
		if got := tt.chg.String(); got != tt.want {
			t.Errorf("String() = %q, wanted %q", got, tt.want)
		}
	}
	deepEqual(t, ChangeKind(99).String(), "invalid change kind 99")
}

type fieldCounter struct {
	ChangeAdapter
	simple, list int
}

func (c *fieldCounter) SimpleFieldChanged(chg *Change) { c.simple++ }
func (c *fieldCounter) ListFieldChanged(chg *Change)   { c.list++ }

func TestChange_Visit(t *testing.T) {
	var c fieldCounter
	for _, k := range []ChangeKind{ObjectCreate, SimpleFieldChange, ListFieldAdd, ListFieldClear, SetFieldAdd, MapFieldRemove, SimpleFieldChange} {
		(&Change{Kind: k}).Visit(&c)
	}
	deepEqual(t, c.simple, 2)
	deepEqual(t, c.list, 2)
}
