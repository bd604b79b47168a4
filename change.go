package objdb

import (
	"fmt"
)

type ChangeKind int

const (
	ObjectCreate ChangeKind = iota + 1
	ObjectDelete
	SimpleFieldChange
	ListFieldAdd
	ListFieldRemove
	ListFieldReplace
	ListFieldClear
	SetFieldAdd
	SetFieldRemove
	SetFieldClear
	MapFieldAdd
	MapFieldRemove
	MapFieldReplace
	MapFieldClear
)

var changeKindNames = map[ChangeKind]string{
	ObjectCreate:      "create",
	ObjectDelete:      "delete",
	SimpleFieldChange: "simple",
	ListFieldAdd:      "list-add",
	ListFieldRemove:   "list-remove",
	ListFieldReplace:  "list-replace",
	ListFieldClear:    "list-clear",
	SetFieldAdd:       "set-add",
	SetFieldRemove:    "set-remove",
	SetFieldClear:     "set-clear",
	MapFieldAdd:       "map-add",
	MapFieldRemove:    "map-remove",
	MapFieldReplace:   "map-replace",
	MapFieldClear:     "map-clear",
}

func (k ChangeKind) String() string {
	if s, ok := changeKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("invalid change kind %d", int(k))
}

// Change describes one mutation. For object changes StorageID is the object
// type; for field changes it is the field. Key is the list index or map key.
type Change struct {
	Kind      ChangeKind
	ID        ObjID
	StorageID uint32
	FieldName string
	Key       any
	Old       any
	New       any
}

func (chg *Change) String() string {
	switch chg.Kind {
	case ObjectCreate, ObjectDelete:
		return fmt.Sprintf("%v %v", chg.Kind, chg.ID)
	case ListFieldClear, SetFieldClear, MapFieldClear:
		return fmt.Sprintf("%v %v.%s", chg.Kind, chg.ID, chg.FieldName)
	case SimpleFieldChange, SetFieldAdd, SetFieldRemove:
		return fmt.Sprintf("%v %v.%s %v => %v", chg.Kind, chg.ID, chg.FieldName, chg.Old, chg.New)
	default:
		return fmt.Sprintf("%v %v.%s[%v] %v => %v", chg.Kind, chg.ID, chg.FieldName, chg.Key, chg.Old, chg.New)
	}
}

// ChangeVisitor receives changes by kind. Embed ChangeAdapter to implement
// only some of the methods.
type ChangeVisitor interface {
	ObjectCreated(chg *Change)
	ObjectDeleted(chg *Change)
	SimpleFieldChanged(chg *Change)
	ListFieldChanged(chg *Change)
	SetFieldChanged(chg *Change)
	MapFieldChanged(chg *Change)
}

func (chg *Change) Visit(v ChangeVisitor) {
	switch chg.Kind {
	case ObjectCreate:
		v.ObjectCreated(chg)
	case ObjectDelete:
		v.ObjectDeleted(chg)
	case SimpleFieldChange:
		v.SimpleFieldChanged(chg)
	case ListFieldAdd, ListFieldRemove, ListFieldReplace, ListFieldClear:
		v.ListFieldChanged(chg)
	case SetFieldAdd, SetFieldRemove, SetFieldClear:
		v.SetFieldChanged(chg)
	case MapFieldAdd, MapFieldRemove, MapFieldReplace, MapFieldClear:
		v.MapFieldChanged(chg)
	default:
		panic(fmt.Errorf("unknown change kind %d", int(chg.Kind)))
	}
}

type ChangeAdapter struct{}

func (ChangeAdapter) ObjectCreated(chg *Change)      {}
func (ChangeAdapter) ObjectDeleted(chg *Change)      {}
func (ChangeAdapter) SimpleFieldChanged(chg *Change) {}
func (ChangeAdapter) ListFieldChanged(chg *Change)   {}
func (ChangeAdapter) SetFieldChanged(chg *Change)    {}
func (ChangeAdapter) MapFieldChanged(chg *Change)    {}
