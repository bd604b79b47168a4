package objdb

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// SchemaModel describes object types, their fields and composite indexes.
// A model is treated as immutable once built; use Clone to derive a new one.
type SchemaModel struct {
	ObjectTypes []*ObjectType `msgpack:"t" yaml:"objectTypes"`
}

type ObjectType struct {
	Name             string            `msgpack:"n" yaml:"name"`
	StorageID        uint32            `msgpack:"s" yaml:"storageId"`
	Fields           []*Field          `msgpack:"f,omitempty" yaml:"fields,omitempty"`
	CompositeIndexes []*CompositeIndex `msgpack:"ci,omitempty" yaml:"compositeIndexes,omitempty"`
}

// Field describes a simple, reference or complex field, or a sub-field of a
// complex field (Element for lists and sets, Key and Value for maps).
type Field struct {
	Name          string        `msgpack:"n" yaml:"name"`
	StorageID     uint32        `msgpack:"s" yaml:"storageId"`
	Kind          FieldKind     `msgpack:"k" yaml:"kind"`
	Type          string        `msgpack:"t,omitempty" yaml:"type,omitempty"`
	TypeSignature uint64        `msgpack:"ts,omitempty" yaml:"typeSignature,omitempty"`
	Indexed       bool          `msgpack:"i,omitempty" yaml:"indexed,omitempty"`
	Upgrade       UpgradePolicy `msgpack:"u,omitempty" yaml:"upgrade,omitempty"`

	Targets       []uint32     `msgpack:"rt,omitempty" yaml:"targets,omitempty,flow"`
	OnDelete      DeleteAction `msgpack:"rd,omitempty" yaml:"onDelete,omitempty"`
	CascadeDelete bool         `msgpack:"rc,omitempty" yaml:"cascadeDelete,omitempty"`
	AllowDeleted  bool         `msgpack:"ra,omitempty" yaml:"allowDeleted,omitempty"`

	Element *Field `msgpack:"e,omitempty" yaml:"element,omitempty"`
	Key     *Field `msgpack:"mk,omitempty" yaml:"key,omitempty"`
	Value   *Field `msgpack:"mv,omitempty" yaml:"value,omitempty"`
}

// CompositeIndex indexes the tuple of several simple fields of one type.
type CompositeIndex struct {
	Name      string   `msgpack:"n" yaml:"name"`
	StorageID uint32   `msgpack:"s" yaml:"storageId"`
	Fields    []uint32 `msgpack:"f" yaml:"fields,flow"`
}

type FieldKind int

const (
	KindSimple FieldKind = iota
	KindReference
	KindList
	KindSet
	KindMap
)

var fieldKindNames = []string{"simple", "reference", "list", "set", "map"}

func (k FieldKind) String() string {
	if k >= 0 && int(k) < len(fieldKindNames) {
		return fieldKindNames[k]
	}
	return fmt.Sprintf("kind%d", int(k))
}

func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FieldKind) UnmarshalText(b []byte) error {
	i := slices.Index(fieldKindNames, string(b))
	if i < 0 {
		return fmt.Errorf("invalid field kind %q", b)
	}
	*k = FieldKind(i)
	return nil
}

// IsComplex reports whether fields of this kind store one key per element.
func (k FieldKind) IsComplex() bool {
	return k == KindList || k == KindSet || k == KindMap
}

// DeleteAction says what happens to a reference when its target is deleted.
type DeleteAction int

const (
	// DeleteException blocks the delete with ReferencedObjectError unless the
	// field also has CascadeDelete, in which case the referrer is deleted.
	DeleteException DeleteAction = iota
	// DeleteReferrer deletes the referring object too.
	DeleteReferrer
	// DeleteSetNull sets the reference to null.
	DeleteSetNull
	// DeleteRemove removes the list/set element or map entry; simple
	// references are set to null.
	DeleteRemove
	// DeleteNothing leaves a dangling reference; requires AllowDeleted.
	DeleteNothing
)

var deleteActionNames = []string{"EXCEPTION", "DELETE", "SET_NULL", "REMOVE", "NOTHING"}

func (a DeleteAction) String() string {
	if a >= 0 && int(a) < len(deleteActionNames) {
		return deleteActionNames[a]
	}
	return fmt.Sprintf("DeleteAction(%d)", int(a))
}

func (a DeleteAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *DeleteAction) UnmarshalText(b []byte) error {
	i := slices.Index(deleteActionNames, strings.ToUpper(string(b)))
	if i < 0 {
		return fmt.Errorf("invalid delete action %q", b)
	}
	*a = DeleteAction(i)
	return nil
}

// UpgradePolicy says how a simple field's stored value is treated when an
// object is upgraded to a schema version in which the field's type changed.
type UpgradePolicy int

const (
	// UpgradeAttempt converts when possible; otherwise the raw bytes stay
	// and the object is queued for validation.
	UpgradeAttempt UpgradePolicy = iota
	// UpgradeRequire fails the transaction when conversion is impossible.
	UpgradeRequire
	// UpgradeIgnore reinterprets the raw bytes as the new type.
	UpgradeIgnore
)

var upgradePolicyNames = []string{"ATTEMPT", "REQUIRE", "IGNORE"}

func (p UpgradePolicy) String() string {
	if p >= 0 && int(p) < len(upgradePolicyNames) {
		return upgradePolicyNames[p]
	}
	return fmt.Sprintf("UpgradePolicy(%d)", int(p))
}

func (p UpgradePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *UpgradePolicy) UnmarshalText(b []byte) error {
	i := slices.Index(upgradePolicyNames, strings.ToUpper(string(b)))
	if i < 0 {
		return fmt.Errorf("invalid upgrade policy %q", b)
	}
	*p = UpgradePolicy(i)
	return nil
}

// ObjectType returns the type with the given storage ID, or nil.
func (m *SchemaModel) ObjectType(sid uint32) *ObjectType {
	for _, t := range m.ObjectTypes {
		if t.StorageID == sid {
			return t
		}
	}
	return nil
}

// ObjectTypeByName returns the type with the given name, or nil.
func (m *SchemaModel) ObjectTypeByName(name string) *ObjectType {
	for _, t := range m.ObjectTypes {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (t *ObjectType) Field(sid uint32) *Field {
	for _, f := range t.Fields {
		if f.StorageID == sid {
			return f
		}
	}
	return nil
}

func (t *ObjectType) FieldByName(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (t *ObjectType) CompositeIndex(sid uint32) *CompositeIndex {
	for _, ci := range t.CompositeIndexes {
		if ci.StorageID == sid {
			return ci
		}
	}
	return nil
}

func (t *ObjectType) String() string {
	return fmt.Sprintf("%s#%d", t.Name, t.StorageID)
}

func (f *Field) String() string {
	return fmt.Sprintf("%s#%d", f.Name, f.StorageID)
}

// SubFields returns the element, key and value sub-fields that are set.
func (f *Field) SubFields() []*Field {
	var out []*Field
	for _, sf := range []*Field{f.Element, f.Key, f.Value} {
		if sf != nil {
			out = append(out, sf)
		}
	}
	return out
}

// IsIndexed reports whether the field has index entries. References are
// always indexed so that deletes can find referrers.
func (f *Field) IsIndexed() bool {
	return f.Indexed || f.Kind == KindReference
}

// AllowsTarget reports whether a reference field may point at objects of the
// given type. An empty target list allows every type.
func (f *Field) AllowsTarget(sid uint32) bool {
	return len(f.Targets) == 0 || slices.Contains(f.Targets, sid)
}

func (m *SchemaModel) Clone() *SchemaModel {
	out := &SchemaModel{ObjectTypes: make([]*ObjectType, len(m.ObjectTypes))}
	for i, t := range m.ObjectTypes {
		ct := &ObjectType{Name: t.Name, StorageID: t.StorageID}
		for _, f := range t.Fields {
			ct.Fields = append(ct.Fields, f.clone())
		}
		for _, ci := range t.CompositeIndexes {
			ct.CompositeIndexes = append(ct.CompositeIndexes, &CompositeIndex{ci.Name, ci.StorageID, slices.Clone(ci.Fields)})
		}
		out.ObjectTypes[i] = ct
	}
	return out
}

func (f *Field) clone() *Field {
	if f == nil {
		return nil
	}
	c := *f
	c.Targets = slices.Clone(f.Targets)
	c.Element = f.Element.clone()
	c.Key = f.Key.clone()
	c.Value = f.Value.clone()
	return &c
}

// normalize sorts types, fields and targets by storage ID and names
// sub-fields, so that equal models have equal encodings.
func (m *SchemaModel) normalize() {
	slices.SortFunc(m.ObjectTypes, func(a, b *ObjectType) int { return cmp.Compare(a.StorageID, b.StorageID) })
	for _, t := range m.ObjectTypes {
		slices.SortFunc(t.Fields, func(a, b *Field) int { return cmp.Compare(a.StorageID, b.StorageID) })
		slices.SortFunc(t.CompositeIndexes, func(a, b *CompositeIndex) int { return cmp.Compare(a.StorageID, b.StorageID) })
		for _, f := range t.Fields {
			f.normalize()
		}
	}
}

func (f *Field) normalize() {
	slices.Sort(f.Targets)
	f.Targets = slices.Compact(f.Targets)
	if f.Kind == KindReference && f.Type == "" {
		f.Type = ReferenceType.Name()
	}
	if f.Element != nil {
		f.Element.Name = "element"
		f.Element.normalize()
	}
	if f.Key != nil {
		f.Key.Name = "key"
		f.Key.normalize()
	}
	if f.Value != nil {
		f.Value.Name = "value"
		f.Value.normalize()
	}
}
