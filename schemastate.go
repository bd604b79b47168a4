package objdb

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// schemaRecord is stored under schemaRecordKey(version).
type schemaRecord struct {
	Version  uint64       `msgpack:"v"`
	Model    *SchemaModel `msgpack:"m"`
	Recorded time.Time    `msgpack:"t"`
}

func encodeSchemaRecord(rec *schemaRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(rec)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema version %d: %w", rec.Version, err)
	}
	return buf.Bytes(), nil
}

func decodeSchemaRecord(raw []byte) (*schemaRecord, error) {
	var r bytes.Reader
	r.Reset(raw)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	rec := new(schemaRecord)
	err := dec.Decode(rec)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(raw, 0, err, "failed to decode schema record")
	}
	if rec.Model == nil {
		return nil, dataErrf(raw, 0, nil, "schema record without a model")
	}
	rec.Model.normalize()
	return rec, nil
}

// schemaVersion is a recorded model with field types resolved and lookup
// tables built for the engine.
type schemaVersion struct {
	version  uint64
	model    *SchemaModel
	raw      []byte
	recorded time.Time

	types      map[uint32]*typeInfo
	indexed    map[uint32]*fieldInfo // indexed fields and sub-fields by storage ID
	composites map[uint32]*compositeInfo
}

type typeInfo struct {
	*ObjectType
	fields     map[uint32]*fieldInfo
	fieldList  []*fieldInfo
	composites []*compositeInfo
}

// fieldInfo is a field or a sub-field. Simple and reference fields, and all
// sub-fields, have ft set.
type fieldInfo struct {
	*Field
	typ    *typeInfo
	parent *fieldInfo
	ft     FieldType

	elem, key, value *fieldInfo
	composites       []*compositeInfo
}

type compositeInfo struct {
	*CompositeIndex
	typ    *typeInfo
	fields []*fieldInfo
}

func newSchemaVersion(version uint64, m *SchemaModel, reg *Registry) (*schemaVersion, error) {
	sv := &schemaVersion{
		version:    version,
		model:      m,
		types:      make(map[uint32]*typeInfo),
		indexed:    make(map[uint32]*fieldInfo),
		composites: make(map[uint32]*compositeInfo),
	}
	var resolve func(ti *typeInfo, parent *fieldInfo, f *Field) (*fieldInfo, error)
	resolve = func(ti *typeInfo, parent *fieldInfo, f *Field) (*fieldInfo, error) {
		fi := &fieldInfo{Field: f, typ: ti, parent: parent}
		if !f.Kind.IsComplex() {
			typeName := f.Type
			if f.Kind == KindReference {
				typeName = ReferenceType.Name()
			}
			ft, err := reg.Lookup(typeName, f.TypeSignature)
			if err != nil {
				return nil, fmt.Errorf("%v.%v: %w", ti.ObjectType, f, err)
			}
			fi.ft = ft
			if f.IsIndexed() {
				if _, dup := sv.indexed[f.StorageID]; !dup {
					sv.indexed[f.StorageID] = fi
				}
			}
			return fi, nil
		}
		var err error
		if f.Element != nil {
			if fi.elem, err = resolve(ti, fi, f.Element); err != nil {
				return nil, err
			}
		}
		if f.Key != nil {
			if fi.key, err = resolve(ti, fi, f.Key); err != nil {
				return nil, err
			}
		}
		if f.Value != nil {
			if fi.value, err = resolve(ti, fi, f.Value); err != nil {
				return nil, err
			}
		}
		return fi, nil
	}

	for _, t := range m.ObjectTypes {
		ti := &typeInfo{ObjectType: t, fields: make(map[uint32]*fieldInfo)}
		for _, f := range t.Fields {
			fi, err := resolve(ti, nil, f)
			if err != nil {
				return nil, err
			}
			ti.fields[f.StorageID] = fi
			ti.fieldList = append(ti.fieldList, fi)
		}
		for _, ci := range t.CompositeIndexes {
			cinfo := &compositeInfo{CompositeIndex: ci, typ: ti}
			for _, fsid := range ci.Fields {
				fi := ti.fields[fsid]
				if fi == nil || fi.ft == nil {
					return nil, fmt.Errorf("%v: composite index %s: field %d is not simple", t, ci.Name, fsid)
				}
				cinfo.fields = append(cinfo.fields, fi)
				fi.composites = append(fi.composites, cinfo)
			}
			ti.composites = append(ti.composites, cinfo)
			sv.composites[ci.StorageID] = cinfo
		}
		sv.types[t.StorageID] = ti
	}
	return sv, nil
}

// subField returns the field or sub-field with the given storage ID.
func (ti *typeInfo) subField(sid uint32) *fieldInfo {
	if fi := ti.fields[sid]; fi != nil {
		return fi
	}
	for _, fi := range ti.fieldList {
		for _, sub := range []*fieldInfo{fi.elem, fi.key, fi.value} {
			if sub != nil && sub.StorageID == sid {
				return sub
			}
		}
	}
	return nil
}

// referenceSIDs lists the storage IDs of reference fields and sub-fields in
// any of the versions.
func referenceSIDs(versions map[uint64]*schemaVersion) []uint32 {
	seen := make(map[uint32]bool)
	var out []uint32
	for _, v := range sortedVersions(versions) {
		for sid, fi := range versions[v].indexed {
			if fi.Kind == KindReference && !seen[sid] {
				seen[sid] = true
				out = append(out, sid)
			}
		}
	}
	slices.Sort(out)
	return out
}
