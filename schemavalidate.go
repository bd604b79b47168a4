package objdb

import (
	"errors"
	"fmt"
	"slices"
)

type sidRole int

const (
	roleType sidRole = iota + 1
	roleField
	roleIndex
)

func (r sidRole) String() string {
	switch r {
	case roleType:
		return "object type"
	case roleField:
		return "field"
	case roleIndex:
		return "composite index"
	default:
		return fmt.Sprintf("role%d", int(r))
	}
}

type sidUse struct {
	role  sidRole
	path  string
	field *Field
	index *CompositeIndex
	typ   *ObjectType
}

// storageIDUses maps every storage ID in m to its first use. Sub-fields are
// fields. Conflicts are passed to conflict, if non-nil.
func (m *SchemaModel) storageIDUses(conflict func(sid uint32, prev, cur sidUse)) map[uint32]sidUse {
	uses := make(map[uint32]sidUse)
	add := func(sid uint32, u sidUse) {
		if prev, ok := uses[sid]; ok {
			if conflict != nil {
				conflict(sid, prev, u)
			}
			return
		}
		uses[sid] = u
	}
	var addField func(path string, f *Field)
	addField = func(path string, f *Field) {
		p := path + "." + f.String()
		add(f.StorageID, sidUse{role: roleField, path: p, field: f})
		for _, sf := range f.SubFields() {
			addField(p, sf)
		}
	}
	for _, t := range m.ObjectTypes {
		add(t.StorageID, sidUse{role: roleType, path: t.String(), typ: t})
	}
	for _, t := range m.ObjectTypes {
		for _, f := range t.Fields {
			addField(t.String(), f)
		}
		for _, ci := range t.CompositeIndexes {
			add(ci.StorageID, sidUse{role: roleIndex, path: t.String() + "." + ci.Name + "#" + fmt.Sprint(ci.StorageID), index: ci})
		}
	}
	return uses
}

// Validate checks the model's internal consistency. With a non-nil registry
// it also checks that every field type resolves. All problems are reported
// together.
func (m *SchemaModel) Validate(reg *Registry) error {
	var errs []error
	fail := func(path string, err error, format string, args ...any) {
		errs = append(errs, schemaErrf(path, err, format, args...))
	}

	m.storageIDUses(func(sid uint32, prev, cur sidUse) {
		if prev.role == roleField && cur.role == roleField && sameFieldShape(prev.field, cur.field) {
			return
		}
		fail(cur.path, nil, "storage ID %d already used by %s %s", sid, prev.role, prev.path)
	})

	typeNames := make(map[string]bool)
	for _, t := range m.ObjectTypes {
		path := t.String()
		if t.Name == "" {
			fail(path, nil, "empty type name")
		} else if typeNames[t.Name] {
			fail(path, nil, "duplicate type name")
		}
		typeNames[t.Name] = true
		checkStorageID(path, t.StorageID, fail)

		fieldNames := make(map[string]bool)
		fieldSIDs := make(map[uint32]bool)
		for _, f := range t.Fields {
			fpath := path + "." + f.String()
			if f.Name == "" {
				fail(fpath, nil, "empty field name")
			} else if fieldNames[f.Name] {
				fail(fpath, nil, "duplicate field name")
			}
			fieldNames[f.Name] = true
			if fieldSIDs[f.StorageID] {
				fail(fpath, nil, "duplicate field storage ID")
			}
			fieldSIDs[f.StorageID] = true
			m.validateField(fpath, f, reg, false, fail)
		}

		for _, ci := range t.CompositeIndexes {
			cpath := fmt.Sprintf("%s.%s#%d", path, ci.Name, ci.StorageID)
			checkStorageID(cpath, ci.StorageID, fail)
			if ci.Name == "" {
				fail(cpath, nil, "empty index name")
			}
			if len(ci.Fields) < 2 {
				fail(cpath, nil, "composite index needs at least two fields")
			}
			seen := make(map[uint32]bool)
			for _, fsid := range ci.Fields {
				if seen[fsid] {
					fail(cpath, nil, "field %d listed twice", fsid)
				}
				seen[fsid] = true
				f := t.Field(fsid)
				if f == nil {
					fail(cpath, nil, "unknown field %d", fsid)
				} else if f.Kind.IsComplex() {
					fail(cpath, nil, "field %v is not simple", f)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func checkStorageID(path string, sid uint32, fail func(string, error, string, ...any)) {
	if sid == 0 || sid > MaxStorageID {
		fail(path, nil, "storage ID %d out of range 1..%d", sid, MaxStorageID)
	}
}

func (m *SchemaModel) validateField(path string, f *Field, reg *Registry, sub bool, fail func(string, error, string, ...any)) {
	checkStorageID(path, f.StorageID, fail)
	if f.Kind != KindReference && (f.OnDelete != DeleteException || f.CascadeDelete || f.AllowDeleted || len(f.Targets) > 0) {
		fail(path, nil, "reference options on a %v field", f.Kind)
	}
	switch f.Kind {
	case KindSimple:
		if f.Type == "" {
			fail(path, nil, "missing type")
		} else if f.Type == ReferenceType.Name() {
			fail(path, nil, "use a reference field for references")
		} else if reg != nil {
			if _, err := reg.Lookup(f.Type, f.TypeSignature); err != nil {
				fail(path, err, "invalid type")
			}
		}
	case KindReference:
		if f.Type != "" && f.Type != ReferenceType.Name() {
			fail(path, nil, "reference field has type %q", f.Type)
		}
		for _, sid := range f.Targets {
			if m.ObjectType(sid) == nil {
				fail(path, nil, "unknown target type %d", sid)
			}
		}
		if f.OnDelete == DeleteNothing && !f.AllowDeleted {
			fail(path, nil, "delete action NOTHING requires allowDeleted")
		}
		if f.OnDelete < DeleteException || f.OnDelete > DeleteNothing {
			fail(path, nil, "invalid delete action %v", f.OnDelete)
		}
	case KindList, KindSet, KindMap:
		if sub {
			fail(path, nil, "%v fields cannot be nested", f.Kind)
			return
		}
		if f.Indexed {
			fail(path, nil, "complex fields are indexed through their sub-fields")
		}
		var want []*Field
		if f.Kind == KindMap {
			want = []*Field{f.Key, f.Value}
			if f.Element != nil {
				fail(path, nil, "map field has an element sub-field")
			}
		} else {
			want = []*Field{f.Element}
			if f.Key != nil || f.Value != nil {
				fail(path, nil, "%v field has key/value sub-fields", f.Kind)
			}
		}
		for _, sf := range want {
			if sf == nil {
				fail(path, nil, "missing sub-field")
				continue
			}
			m.validateField(path+"."+sf.String(), sf, reg, true, fail)
		}
		return
	default:
		fail(path, nil, "invalid field kind %v", f.Kind)
	}
	if !f.Kind.IsComplex() && (f.Element != nil || f.Key != nil || f.Value != nil) {
		fail(path, nil, "sub-fields on a %v field", f.Kind)
	}
	if f.Upgrade < UpgradeAttempt || f.Upgrade > UpgradeIgnore {
		fail(path, nil, "invalid upgrade policy %v", f.Upgrade)
	}
}

// sameFieldShape reports whether two definitions of one storage ID store the
// same data the same way.
func sameFieldShape(a, b *Field) bool {
	if a.Kind != b.Kind || a.Type != b.Type || a.IsIndexed() != b.IsIndexed() {
		return false
	}
	if a.TypeSignature != 0 && b.TypeSignature != 0 && a.TypeSignature != b.TypeSignature {
		return false
	}
	if !slices.Equal(a.Targets, b.Targets) {
		return false
	}
	as, bs := a.SubFields(), b.SubFields()
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i].StorageID != bs[i].StorageID || !sameFieldShape(as[i], bs[i]) {
			return false
		}
	}
	return true
}
