package objdb

import (
	"fmt"
	"slices"
	"strings"
)

type Status int

const (
	StatusMatch Status = iota
	StatusCompatibleRename
	StatusIncompatible
)

func (s Status) String() string {
	switch s {
	case StatusMatch:
		return "MATCH"
	case StatusCompatibleRename:
		return "COMPATIBLE_RENAME"
	case StatusIncompatible:
		return "INCOMPATIBLE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ReportEntry is the verdict for one object type, field or index.
type ReportEntry struct {
	Status Status
	Path   string
	Reason string
}

func (e ReportEntry) String() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s %s", e.Status, e.Path)
	}
	return fmt.Sprintf("%s %s: %s", e.Status, e.Path, e.Reason)
}

// Report lists every finding of a schema comparison.
type Report struct {
	Entries []ReportEntry
}

func (r *Report) add(st Status, path string, format string, args ...any) {
	r.Entries = append(r.Entries, ReportEntry{st, path, fmt.Sprintf(format, args...)})
}

// OK reports whether no entry is incompatible.
func (r *Report) OK() bool {
	for _, e := range r.Entries {
		if e.Status == StatusIncompatible {
			return false
		}
	}
	return true
}

func (r *Report) Incompatible() []ReportEntry {
	var out []ReportEntry
	for _, e := range r.Entries {
		if e.Status == StatusIncompatible {
			out = append(out, e)
		}
	}
	return out
}

func (r *Report) String() string {
	var buf strings.Builder
	for _, e := range r.Entries {
		buf.WriteString(e.String())
		buf.WriteByte('\n')
	}
	return buf.String()
}

// Compare checks candidate against recorded with CheckIdentical when
// matchNames is set and with CheckCompatible otherwise.
func Compare(candidate, recorded *SchemaModel, matchNames bool) *Report {
	if matchNames {
		return CheckIdentical(candidate, recorded)
	}
	return CheckCompatible(candidate, recorded)
}

// CheckIdentical is CheckCompatible plus name equality: every rename is
// reported as incompatible.
func CheckIdentical(candidate, recorded *SchemaModel) *Report {
	r := CheckCompatible(candidate, recorded)
	for i, e := range r.Entries {
		if e.Status == StatusCompatibleRename {
			r.Entries[i].Status = StatusIncompatible
			r.Entries[i].Reason = "name mismatch: " + e.Reason
		}
	}
	return r
}

// CheckCompatible compares the structure of two models, ignoring names. The
// models are compatible when they have the same object types, fields and
// composite indexes by storage ID, with equal field kinds, types, type
// signatures and indexed flags, equal sub-fields and reference targets that
// are the same or wider in candidate.
func CheckCompatible(candidate, recorded *SchemaModel) *Report {
	r := &Report{}
	for _, rt := range recorded.ObjectTypes {
		ct := candidate.ObjectType(rt.StorageID)
		if ct == nil {
			r.add(StatusIncompatible, "type "+rt.String(), "missing in candidate")
			continue
		}
		compareObjectTypes(r, ct, rt)
	}
	for _, ct := range candidate.ObjectTypes {
		if recorded.ObjectType(ct.StorageID) == nil {
			r.add(StatusIncompatible, "type "+ct.String(), "not in recorded schema")
		}
	}
	return r
}

func compareNames(r *Report, path, kind, cand, rec string) {
	if cand == rec {
		r.add(StatusMatch, path, "")
	} else {
		r.add(StatusCompatibleRename, path, "%s named %q, recorded as %q", kind, cand, rec)
	}
}

func compareObjectTypes(r *Report, ct, rt *ObjectType) {
	path := "type " + ct.String()
	compareNames(r, path, "type", ct.Name, rt.Name)

	for _, rf := range rt.Fields {
		cf := ct.Field(rf.StorageID)
		if cf == nil {
			r.add(StatusIncompatible, path+" field "+rf.String(), "missing in candidate")
			continue
		}
		compareFields(r, path+" field "+cf.String(), cf, rf)
	}
	for _, cf := range ct.Fields {
		if rt.Field(cf.StorageID) == nil {
			r.add(StatusIncompatible, path+" field "+cf.String(), "not in recorded schema")
		}
	}

	for _, ri := range rt.CompositeIndexes {
		ci := ct.CompositeIndex(ri.StorageID)
		ipath := fmt.Sprintf("%s index %s#%d", path, ri.Name, ri.StorageID)
		if ci == nil {
			r.add(StatusIncompatible, ipath, "missing in candidate")
			continue
		}
		if !slices.Equal(ci.Fields, ri.Fields) {
			r.add(StatusIncompatible, ipath, "indexes fields %v, recorded as %v", ci.Fields, ri.Fields)
			continue
		}
		compareNames(r, ipath, "index", ci.Name, ri.Name)
	}
	for _, ci := range ct.CompositeIndexes {
		if rt.CompositeIndex(ci.StorageID) == nil {
			r.add(StatusIncompatible, fmt.Sprintf("%s index %s#%d", path, ci.Name, ci.StorageID), "not in recorded schema")
		}
	}
}

func compareFields(r *Report, path string, cf, rf *Field) {
	if reason := fieldIncompatibility(cf, rf); reason != "" {
		r.add(StatusIncompatible, path, "%s", reason)
		return
	}
	note := describeBehavior(cf, rf)
	if cf.Name != rf.Name {
		reason := fmt.Sprintf("field named %q, recorded as %q", cf.Name, rf.Name)
		if note != "" {
			reason += "; " + note
		}
		r.add(StatusCompatibleRename, path, "%s", reason)
	} else {
		r.add(StatusMatch, path, "%s", note)
	}
	for _, sub := range [][2]*Field{{cf.Element, rf.Element}, {cf.Key, rf.Key}, {cf.Value, rf.Value}} {
		if sub[0] != nil && sub[1] != nil {
			compareFields(r, path+" "+sub[0].String(), sub[0], sub[1])
		}
	}
}

// fieldIncompatibility returns why cf cannot read data written under rf
// within the same schema version, or "" if it can.
func fieldIncompatibility(cf, rf *Field) string {
	if cf.Kind != rf.Kind {
		return fmt.Sprintf("kind %v, recorded as %v", cf.Kind, rf.Kind)
	}
	if cf.Kind.IsComplex() {
		cs, rs := cf.SubFields(), rf.SubFields()
		if len(cs) != len(rs) {
			return "different sub-fields"
		}
		for i := range cs {
			if cs[i].StorageID != rs[i].StorageID {
				return fmt.Sprintf("sub-field storage ID %d, recorded as %d", cs[i].StorageID, rs[i].StorageID)
			}
		}
		return ""
	}
	if cf.Type != rf.Type {
		return fmt.Sprintf("type %s, recorded as %s", cf.Type, rf.Type)
	}
	if cf.TypeSignature != 0 && rf.TypeSignature != 0 && cf.TypeSignature != rf.TypeSignature {
		return fmt.Sprintf("type signature %016x, recorded as %016x", cf.TypeSignature, rf.TypeSignature)
	}
	if cf.IsIndexed() != rf.IsIndexed() {
		return fmt.Sprintf("indexed=%v, recorded as indexed=%v", cf.IsIndexed(), rf.IsIndexed())
	}
	if cf.Kind == KindReference && len(cf.Targets) > 0 {
		if len(rf.Targets) == 0 {
			return fmt.Sprintf("targets narrowed from any type to %v", cf.Targets)
		}
		for _, sid := range rf.Targets {
			if !slices.Contains(cf.Targets, sid) {
				return fmt.Sprintf("targets %v do not include recorded target %d", cf.Targets, sid)
			}
		}
	}
	return ""
}

// describeBehavior lists differences in field options that do not affect
// stored data.
func describeBehavior(cf, rf *Field) string {
	var diffs []string
	if cf.Upgrade != rf.Upgrade {
		diffs = append(diffs, fmt.Sprintf("upgrade %v, recorded as %v", cf.Upgrade, rf.Upgrade))
	}
	if !slices.Equal(cf.Targets, rf.Targets) {
		diffs = append(diffs, fmt.Sprintf("targets widened from %v to %v", rf.Targets, cf.Targets))
	}
	if cf.OnDelete != rf.OnDelete {
		diffs = append(diffs, fmt.Sprintf("onDelete %v, recorded as %v", cf.OnDelete, rf.OnDelete))
	}
	if cf.CascadeDelete != rf.CascadeDelete {
		diffs = append(diffs, fmt.Sprintf("cascadeDelete=%v, recorded as %v", cf.CascadeDelete, rf.CascadeDelete))
	}
	if cf.AllowDeleted != rf.AllowDeleted {
		diffs = append(diffs, fmt.Sprintf("allowDeleted=%v, recorded as %v", cf.AllowDeleted, rf.AllowDeleted))
	}
	return strings.Join(diffs, "; ")
}

// CheckConsistent checks two schema versions that coexist in one database.
// Each storage ID used by both must keep its role and field kind. A simple
// field may change type unless both versions index it, directly or through
// a composite index, and a type name must keep its signature. Names may
// differ freely.
func CheckConsistent(a, b *SchemaModel) *Report {
	r := &Report{}
	ua, ub := a.storageIDUses(nil), b.storageIDUses(nil)
	ca, cb := a.compositeFieldSIDs(), b.compositeFieldSIDs()
	sids := make([]uint32, 0, len(ua))
	for sid := range ua {
		if _, ok := ub[sid]; ok {
			sids = append(sids, sid)
		}
	}
	slices.Sort(sids)

	for _, sid := range sids {
		x, y := ua[sid], ub[sid]
		path := fmt.Sprintf("storage ID %d (%s)", sid, x.path)
		if x.role != y.role {
			r.add(StatusIncompatible, path, "%v in one version, %v %s in the other", x.role, y.role, y.path)
			continue
		}
		switch x.role {
		case roleType:
			compareNames(r, path, "type", x.typ.Name, y.typ.Name)
		case roleIndex:
			if !slices.Equal(x.index.Fields, y.index.Fields) {
				r.add(StatusIncompatible, path, "indexes fields %v in one version and %v in the other", x.index.Fields, y.index.Fields)
			} else {
				compareNames(r, path, "index", x.index.Name, y.index.Name)
			}
		case roleField:
			if reason := fieldInconsistency(x.field, y.field, ca[sid], cb[sid]); reason != "" {
				r.add(StatusIncompatible, path, "%s", reason)
			} else if x.field.Type != y.field.Type {
				r.add(StatusMatch, path, "type changes from %s to %s; values are upgraded on access", x.field.Type, y.field.Type)
			} else {
				compareNames(r, path, "field", x.field.Name, y.field.Name)
			}
		}
	}
	return r
}

// fieldInconsistency checks two definitions of one storage ID. xc and yc
// tell whether the field is part of a composite index, which stores its
// encoding just like a plain index does.
func fieldInconsistency(x, y *Field, xc, yc bool) string {
	if x.Kind != y.Kind {
		return fmt.Sprintf("kind %v in one version and %v in the other", x.Kind, y.Kind)
	}
	if x.Kind.IsComplex() {
		xs, ys := x.SubFields(), y.SubFields()
		if len(xs) != len(ys) {
			return "different sub-fields"
		}
		for i := range xs {
			if xs[i].StorageID != ys[i].StorageID {
				return fmt.Sprintf("sub-field storage ID %d in one version and %d in the other", xs[i].StorageID, ys[i].StorageID)
			}
		}
		return ""
	}
	if x.Type == y.Type {
		if x.TypeSignature != 0 && y.TypeSignature != 0 && x.TypeSignature != y.TypeSignature {
			return fmt.Sprintf("type %s has signature %016x in one version and %016x in the other", x.Type, x.TypeSignature, y.TypeSignature)
		}
		return ""
	}
	if (x.IsIndexed() || xc) && (y.IsIndexed() || yc) {
		return fmt.Sprintf("type changes from %s to %s while indexed in both versions", x.Type, y.Type)
	}
	return ""
}

func (m *SchemaModel) compositeFieldSIDs() map[uint32]bool {
	out := make(map[uint32]bool)
	for _, t := range m.ObjectTypes {
		for _, ci := range t.CompositeIndexes {
			for _, sid := range ci.Fields {
				out[sid] = true
			}
		}
	}
	return out
}
