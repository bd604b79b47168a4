package objdb

import (
	"errors"
	"slices"
)

// SchemaBuilder declares object types. Use BuildSchema or BuildSchemaWith.
//
//	model, err := objdb.BuildSchema(func(b *objdb.SchemaBuilder) {
//		b.Type("Foo", 1, func(t *objdb.TypeBuilder) {
//			t.Simple("value", 2, "long").Indexed()
//		})
//		b.Type("Bar", 3, func(t *objdb.TypeBuilder) {
//			t.Reference("foo", 4, 1).OnDelete(objdb.DeleteSetNull)
//			t.List("tags", 5, objdb.SimpleElem(6, "string").Indexed())
//		})
//	})
type SchemaBuilder struct {
	reg   *Registry
	model *SchemaModel
	errs  []error
}

type TypeBuilder struct {
	sb  *SchemaBuilder
	typ *ObjectType
}

// FieldBuilder tweaks a declared field or sub-field.
type FieldBuilder struct {
	field *Field
}

// BuildSchema builds a model whose field types resolve in DefaultRegistry.
func BuildSchema(fn func(b *SchemaBuilder)) (*SchemaModel, error) {
	return BuildSchemaWith(DefaultRegistry(), fn)
}

// BuildSchemaWith builds and validates a model against reg, filling in the
// type signature of every simple field.
func BuildSchemaWith(reg *Registry, fn func(b *SchemaBuilder)) (*SchemaModel, error) {
	b := &SchemaBuilder{reg: reg, model: &SchemaModel{}}
	fn(b)
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	m := b.model
	m.normalize()
	if err := fillSignatures(m, reg); err != nil {
		return nil, err
	}
	if err := m.Validate(reg); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *SchemaBuilder) Type(name string, sid uint32, fn func(t *TypeBuilder)) {
	tb := &TypeBuilder{sb: b, typ: &ObjectType{Name: name, StorageID: sid}}
	if fn != nil {
		fn(tb)
	}
	b.model.ObjectTypes = append(b.model.ObjectTypes, tb.typ)
}

func (t *TypeBuilder) add(f *Field) *FieldBuilder {
	t.typ.Fields = append(t.typ.Fields, f)
	return &FieldBuilder{f}
}

// Simple declares a field holding one value of the named field type.
func (t *TypeBuilder) Simple(name string, sid uint32, typeName string) *FieldBuilder {
	return t.add(&Field{Name: name, StorageID: sid, Kind: KindSimple, Type: typeName})
}

// Reference declares a reference field. With no targets, any type is allowed.
func (t *TypeBuilder) Reference(name string, sid uint32, targets ...uint32) *FieldBuilder {
	return t.add(&Field{Name: name, StorageID: sid, Kind: KindReference, Targets: slices.Clone(targets)})
}

func (t *TypeBuilder) List(name string, sid uint32, elem *FieldBuilder) *FieldBuilder {
	return t.add(&Field{Name: name, StorageID: sid, Kind: KindList, Element: elem.field})
}

func (t *TypeBuilder) Set(name string, sid uint32, elem *FieldBuilder) *FieldBuilder {
	return t.add(&Field{Name: name, StorageID: sid, Kind: KindSet, Element: elem.field})
}

func (t *TypeBuilder) Map(name string, sid uint32, key, value *FieldBuilder) *FieldBuilder {
	return t.add(&Field{Name: name, StorageID: sid, Kind: KindMap, Key: key.field, Value: value.field})
}

// CompositeIndex declares an index over the given fields, in order.
func (t *TypeBuilder) CompositeIndex(name string, sid uint32, fields ...uint32) {
	t.typ.CompositeIndexes = append(t.typ.CompositeIndexes, &CompositeIndex{Name: name, StorageID: sid, Fields: slices.Clone(fields)})
}

// SimpleElem declares a simple sub-field for List, Set or Map.
func SimpleElem(sid uint32, typeName string) *FieldBuilder {
	return &FieldBuilder{&Field{StorageID: sid, Kind: KindSimple, Type: typeName}}
}

// RefElem declares a reference sub-field for List, Set or Map.
func RefElem(sid uint32, targets ...uint32) *FieldBuilder {
	return &FieldBuilder{&Field{StorageID: sid, Kind: KindReference, Targets: slices.Clone(targets)}}
}

func (fb *FieldBuilder) Indexed() *FieldBuilder {
	fb.field.Indexed = true
	return fb
}

func (fb *FieldBuilder) OnDelete(a DeleteAction) *FieldBuilder {
	fb.field.OnDelete = a
	return fb
}

func (fb *FieldBuilder) CascadeDelete() *FieldBuilder {
	fb.field.CascadeDelete = true
	return fb
}

func (fb *FieldBuilder) AllowDeleted() *FieldBuilder {
	fb.field.AllowDeleted = true
	return fb
}

func (fb *FieldBuilder) Upgrade(p UpgradePolicy) *FieldBuilder {
	fb.field.Upgrade = p
	return fb
}

// Field returns the field being built.
func (fb *FieldBuilder) Field() *Field {
	return fb.field
}
