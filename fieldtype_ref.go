package objdb

import "cmp"

// nullRef encodes a null reference. No ObjID starts with 0xFF because storage
// ID prefixes never exceed four bytes.
const nullRef = 0xFF

// ReferenceType holds ObjID values or nil for a null reference. Allowed
// target types are a property of the field, not of the type.
var ReferenceType FieldType = refType{}

type refType struct{}

func (refType) Name() string      { return "reference" }
func (refType) Signature() uint64 { return typeSignature("reference", "objid8|ff") }
func (refType) Ordered() bool     { return true }
func (refType) Default() any      { return nil }

func (refType) Validate(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case ObjID:
		if v.StorageID() == 0 {
			return nil, invalidValuef("reference", v, nil, "malformed object ID")
		}
		return v, nil
	default:
		return nil, invalidValuef("reference", v, nil, "wanted ObjID or nil")
	}
}

func (t refType) Append(buf []byte, v any) ([]byte, error) {
	v, err := t.Validate(v)
	if err != nil {
		return buf, err
	}
	if v == nil {
		return append(buf, nullRef), nil
	}
	return v.(ObjID).appendTo(buf), nil
}

func (refType) Read(buf []byte) (any, []byte, error) {
	if len(buf) > 0 && buf[0] == nullRef {
		return nil, buf[1:], nil
	}
	id, err := ObjIDFromBytes(buf)
	if err != nil {
		return nil, buf, err
	}
	return id, buf[ObjIDLen:], nil
}

func (t refType) String(v any) (string, error) {
	v, err := t.Validate(v)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "null", nil
	}
	return v.(ObjID).String(), nil
}

func (refType) Parse(s string) (any, error) {
	if s == "null" {
		return nil, nil
	}
	id, err := ParseObjID(s)
	if err != nil {
		return nil, invalidValuef("reference", s, err, "cannot parse")
	}
	return id, nil
}

func (refType) Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return cmp.Compare(a.(ObjID), b.(ObjID))
	}
}

func isReferenceType(ft FieldType) bool {
	_, ok := ft.(refType)
	return ok
}
