package objdb

import (
	"strings"
	"testing"
)

func fooBarSchema(t testing.TB, fooName, valueName, valueType string, indexed bool, targets ...uint32) *SchemaModel {
	t.Helper()
	return must(BuildSchema(func(b *SchemaBuilder) {
		b.Type(fooName, 1, func(t *TypeBuilder) {
			f := t.Simple(valueName, 2, valueType)
			if indexed {
				f.Indexed()
			}
			t.Simple("label", 3, "string")
			t.CompositeIndex("byValueLabel", 4, 2, 3)
		})
		b.Type("Bar", 5, func(t *TypeBuilder) {
			t.Reference("foo", 6, targets...).OnDelete(DeleteSetNull)
		})
		b.Type("Baz", 7, nil)
	}))
}

func entry(t testing.TB, r *Report, path string) ReportEntry {
	t.Helper()
	for _, e := range r.Entries {
		if e.Path == path {
			return e
		}
	}
	t.Fatalf("no report entry for %q in:\n%s", path, r)
	return ReportEntry{}
}

func TestCheckCompatible_identical(t *testing.T) {
	a := fooBarSchema(t, "Foo", "value", "long", true, 1)
	b := fooBarSchema(t, "Foo", "value", "long", true, 1)
	r := CheckCompatible(a, b)
	if !r.OK() {
		t.Fatalf("CheckCompatible = \n%s", r)
	}
	for _, e := range r.Entries {
		if e.Status != StatusMatch || e.Reason != "" {
			t.Errorf("entry %v, wanted plain MATCH", e)
		}
	}
	if !CheckIdentical(a, b).OK() {
		t.Fatalf("CheckIdentical failed")
	}
}

func TestCheckCompatible_rename(t *testing.T) {
	a := fooBarSchema(t, "Foo", "amount", "long", true, 1)
	b := fooBarSchema(t, "Foo2", "value", "long", true, 1)

	r := CheckCompatible(a, b)
	if !r.OK() {
		t.Fatalf("CheckCompatible = \n%s", r)
	}
	deepEqual(t, entry(t, r, "type Foo#1").Status, StatusCompatibleRename)
	deepEqual(t, entry(t, r, "type Foo#1 field amount#2"), ReportEntry{StatusCompatibleRename, "type Foo#1 field amount#2", `field named "amount", recorded as "value"`})

	r = CheckIdentical(a, b)
	if r.OK() {
		t.Fatalf("CheckIdentical accepted renames")
	}
	deepEqual(t, len(r.Incompatible()), 2)
	deepEqual(t, entry(t, r, "type Foo#1").Reason, `name mismatch: type named "Foo", recorded as "Foo2"`)

	deepEqual(t, Compare(a, b, false).OK(), true)
	deepEqual(t, Compare(a, b, true).OK(), false)
}

func TestCheckCompatible_incompatible(t *testing.T) {
	base := fooBarSchema(t, "Foo", "value", "long", true, 1)
	tests := []struct {
		name   string
		cand   *SchemaModel
		path   string
		reason string
	}{
		{"type change", fooBarSchema(t, "Foo", "value", "int", true, 1), "type Foo#1 field value#2", "type int, recorded as long"},
		{"index change", fooBarSchema(t, "Foo", "value", "long", false, 1), "type Foo#1 field value#2", "indexed=false, recorded as indexed=true"},
		{"narrowed targets", fooBarSchema(t, "Foo", "value", "long", true, 7), "type Bar#5 field foo#6", "targets [7] do not include recorded target 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CheckCompatible(tt.cand, base)
			if r.OK() {
				t.Fatalf("CheckCompatible accepted:\n%s", r)
			}
			e := entry(t, r, tt.path)
			deepEqual(t, e.Status, StatusIncompatible)
			deepEqual(t, e.Reason, tt.reason)
		})
	}

	anyTarget := fooBarSchema(t, "Foo", "value", "long", true)
	r := CheckCompatible(base, anyTarget)
	deepEqual(t, entry(t, r, "type Bar#5 field foo#6").Reason, "targets narrowed from any type to [1]")
}

func TestCheckCompatible_widenedTargets(t *testing.T) {
	rec := fooBarSchema(t, "Foo", "value", "long", true, 1)
	cand := fooBarSchema(t, "Foo", "value", "long", true, 1, 7)
	r := CheckCompatible(cand, rec)
	if !r.OK() {
		t.Fatalf("CheckCompatible = \n%s", r)
	}
	deepEqual(t, entry(t, r, "type Bar#5 field foo#6"), ReportEntry{StatusMatch, "type Bar#5 field foo#6", "targets widened from [1] to [1 7]"})

	r = CheckCompatible(fooBarSchema(t, "Foo", "value", "long", true), rec)
	if !r.OK() {
		t.Fatalf("widening to any type rejected:\n%s", r)
	}
}

func TestCheckCompatible_missing(t *testing.T) {
	full := fooBarSchema(t, "Foo", "value", "long", true, 1)
	small := must(BuildSchema(func(b *SchemaBuilder) {
		b.Type("Foo", 1, func(t *TypeBuilder) {
			t.Simple("value", 2, "long").Indexed()
		})
	}))
	r := CheckCompatible(small, full)
	deepEqual(t, entry(t, r, "type Bar#5").Reason, "missing in candidate")
	deepEqual(t, entry(t, r, "type Foo#1 field label#3").Reason, "missing in candidate")
	deepEqual(t, entry(t, r, "type Foo#1 index byValueLabel#4").Reason, "missing in candidate")

	r = CheckCompatible(full, small)
	deepEqual(t, entry(t, r, "type Baz#7").Reason, "not in recorded schema")
	deepEqual(t, entry(t, r, "type Foo#1 field label#3").Reason, "not in recorded schema")
}

func TestCheckCompatible_behaviorNotes(t *testing.T) {
	rec := fooBarSchema(t, "Foo", "value", "long", true, 1)
	cand := rec.Clone()
	cand.ObjectType(5).Field(6).OnDelete = DeleteRemove
	cand.ObjectType(1).Field(2).Upgrade = UpgradeRequire
	r := CheckCompatible(cand, rec)
	if !r.OK() {
		t.Fatalf("CheckCompatible = \n%s", r)
	}
	deepEqual(t, entry(t, r, "type Bar#5 field foo#6").Reason, "onDelete REMOVE, recorded as SET_NULL")
	deepEqual(t, entry(t, r, "type Foo#1 field value#2").Reason, "upgrade REQUIRE, recorded as ATTEMPT")
}

func TestCheckConsistent(t *testing.T) {
	v1 := withoutComposites(fooBarSchema(t, "Foo", "value", "long", false, 1))

	r := CheckConsistent(withoutComposites(fooBarSchema(t, "Renamed", "amount", "string", false, 1)), v1)
	if !r.OK() {
		t.Fatalf("CheckConsistent = \n%s", r)
	}
	deepEqual(t, entry(t, r, "storage ID 2 (Renamed#1.amount#2)").Reason, "type changes from string to long; values are upgraded on access")
	deepEqual(t, entry(t, r, "storage ID 1 (Renamed#1)").Status, StatusCompatibleRename)

	indexed := withoutComposites(fooBarSchema(t, "Foo", "value", "long", true, 1))
	r = CheckConsistent(withoutComposites(fooBarSchema(t, "Foo", "value", "string", true, 1)), indexed)
	deepEqual(t, entry(t, r, "storage ID 2 (Foo#1.value#2)"), ReportEntry{StatusIncompatible, "storage ID 2 (Foo#1.value#2)", "type changes from string to long while indexed in both versions"})

	// a type change is allowed when only one version indexes the field
	r = CheckConsistent(withoutComposites(fooBarSchema(t, "Foo", "value", "string", false, 1)), indexed)
	if !r.OK() {
		t.Fatalf("CheckConsistent = \n%s", r)
	}

	// composite indexes hold the encoding too
	r = CheckConsistent(fooBarSchema(t, "Foo", "value", "string", false, 1), fooBarSchema(t, "Foo", "value", "long", false, 1))
	deepEqual(t, entry(t, r, "storage ID 2 (Foo#1.value#2)").Status, StatusIncompatible)

	roles := must(BuildSchema(func(b *SchemaBuilder) {
		b.Type("Foo", 2, nil)
	}))
	r = CheckConsistent(roles, v1)
	deepEqual(t, entry(t, r, "storage ID 2 (Foo#2)").Reason, "object type in one version, field Foo#1.value#2 in the other")

	kinds := must(BuildSchema(func(b *SchemaBuilder) {
		b.Type("Foo", 1, func(t *TypeBuilder) {
			t.List("value", 2, SimpleElem(8, "long"))
		})
	}))
	r = CheckConsistent(kinds, v1)
	deepEqual(t, entry(t, r, "storage ID 2 (Foo#1.value#2)").Reason, "kind list in one version and simple in the other")
}

func withoutComposites(m *SchemaModel) *SchemaModel {
	m = m.Clone()
	for _, t := range m.ObjectTypes {
		t.CompositeIndexes = nil
	}
	return m
}

func TestReport_String(t *testing.T) {
	r := &Report{}
	r.add(StatusMatch, "type A#1", "")
	r.add(StatusIncompatible, "type B#2", "missing in candidate")
	s := r.String()
	if !strings.Contains(s, "MATCH type A#1\n") || !strings.Contains(s, "INCOMPATIBLE type B#2: missing in candidate\n") {
		t.Fatalf("Report.String() = %q", s)
	}
	deepEqual(t, len(r.Incompatible()), 1)
}
