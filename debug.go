package objdb

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTypeHeaders = DumpFlags(1 << iota)
	DumpObjects
	DumpStats
	DumpIndices
	DumpIndexRows
	DumpSchemaVersions

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the database contents as seen by the transaction. Objects are
// printed as stored, without upgrading them.
func (tx *Tx) Dump(f DumpFlags) string {
	var buf strings.Builder
	if err := tx.checkOpen(); err != nil {
		fmt.Fprintf(&buf, "** ERROR: %v\n", err)
		return buf.String()
	}
	if f.Contains(DumpSchemaVersions) {
		fmt.Fprintln(&buf, dumpSep1)
		for _, v := range sortedVersions(tx.versions) {
			marker := ""
			if v == tx.schema.version {
				marker = " (current)"
			}
			fmt.Fprintf(&buf, "schema.%d%s: %d types\n", v, marker, len(tx.versions[v].model.ObjectTypes))
		}
	}
	if f.Contains(DumpStats) {
		s, err := tx.Stats()
		if err != nil {
			fmt.Fprintf(&buf, "stats: ** ERROR: %v\n", err)
		} else {
			fmt.Fprintf(&buf, "stats: objects = %d, field_keys = %d, index_entries = %d, meta_keys = %d, total_size = %d\n", s.Objects, s.FieldKeys, s.IndexEntries, s.MetaKeys, s.TotalSize())
		}
	}
	for _, t := range tx.schema.model.ObjectTypes {
		tx.dumpType(&buf, f, tx.schema.types[t.StorageID])
	}
	return buf.String()
}

func (tx *Tx) dumpType(w *strings.Builder, f DumpFlags, ti *typeInfo) {
	prefix := ti.ObjectType.String()
	ids, err := tx.GetAll(ti.StorageID)
	if f.Contains(DumpTypeHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d objects)\n", prefix, len(ids))
	}
	if err != nil {
		fmt.Fprintf(w, "%s ** ERROR: %v\n", prefix, err)
		return
	}
	if f.Contains(DumpObjects) {
		for i, id := range ids {
			tx.dumpObject(w, prefix, i+1, id)
		}
	}
	if f.Contains(DumpIndices) {
		for _, fi := range ti.fieldList {
			for _, sub := range []*fieldInfo{fi, fi.elem, fi.key, fi.value} {
				if sub != nil && sub.ft != nil && sub.IsIndexed() {
					tx.dumpIndex(w, prefix, f, sub)
				}
			}
		}
		for _, ci := range ti.composites {
			fmt.Fprintln(w, dumpSep2)
			fmt.Fprintf(w, "%s.ci.%s#%d (%d fields)\n", prefix, ci.Name, ci.StorageID, len(ci.fields))
		}
	}
}

func (tx *Tx) dumpObject(w *strings.Builder, prefix string, pos int, id ObjID) {
	meta, _, err := tx.readMeta(id)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = %v ** ERROR: %v\n", prefix, pos, id, err)
		return
	}
	sv := tx.versions[meta.Version]
	var ti *typeInfo
	if sv != nil {
		ti = sv.types[id.StorageID()]
	}
	if ti == nil {
		fmt.Fprintf(w, "%s.%d = %v (v%d) ** ERROR: unknown type\n", prefix, pos, id, meta.Version)
		return
	}
	var parts []string
	for _, fi := range ti.fieldList {
		if s := tx.dumpField(id, fi); s != "" {
			parts = append(parts, fi.Name+": "+s)
		}
	}
	fmt.Fprintf(w, "%s.%d = %v (v%d) {%s}\n", prefix, pos, id, meta.Version, strings.Join(parts, ", "))
}

// dumpField formats a field's stored value, or returns "" for a default.
func (tx *Tx) dumpField(id ObjID, fi *fieldInfo) string {
	if !fi.Kind.IsComplex() {
		raw, err := tx.get(fieldKey(id, fi.StorageID))
		if err != nil || raw == nil {
			return ""
		}
		return dumpValue(fi.ft, raw)
	}
	elems, err := tx.elements(id, fi)
	if err != nil || len(elems) == 0 {
		return ""
	}
	var items []string
	for _, kv := range elems {
		switch fi.Kind {
		case KindList:
			items = append(items, dumpValue(fi.elem.ft, kv.value))
		case KindSet:
			items = append(items, dumpValue(fi.elem.ft, kv.key))
		case KindMap:
			items = append(items, dumpValue(fi.key.ft, kv.key)+": "+dumpValue(fi.value.ft, kv.value))
		}
	}
	if fi.Kind == KindList {
		return "[" + strings.Join(items, ", ") + "]"
	}
	return "{" + strings.Join(items, ", ") + "}"
}

func dumpValue(ft FieldType, raw []byte) string {
	v, err := Decode(ft, raw)
	if err != nil {
		return "0x" + hexstr(raw)
	}
	s, err := ft.String(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return s
}

func (tx *Tx) dumpIndex(w *strings.Builder, prefix string, f DumpFlags, fi *fieldInfo) {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + fi.Field.String()
	entries, err := tx.IndexEntries(fi.StorageID)
	if err != nil {
		fmt.Fprintf(w, "%s ** ERROR: %v\n", prefix, err)
		return
	}
	fmt.Fprintf(w, "%s (%d entries)\n", prefix, len(entries))
	if f.Contains(DumpIndexRows) {
		for i, e := range entries {
			fmt.Fprintf(w, "%s.%d: %s => %v\n", prefix, i+1, dumpAny(fi.ft, e.Value), e.ID)
		}
	}
}

func dumpAny(ft FieldType, v any) string {
	s, err := ft.String(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return s
}
