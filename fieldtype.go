package objdb

import (
	"fmt"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// FieldType is the codec of one value domain. Implementations are immutable
// and safe for concurrent use.
//
// Encodings produced by Append are self-delimiting: Read consumes exactly the
// bytes Append produced and returns the remainder, which lets encoded values
// be concatenated inside index keys.
type FieldType interface {
	Name() string

	// Signature identifies the shape of the encoding. Two definitions of the
	// same type name with different signatures cannot share stored data.
	Signature() uint64

	// Default is the value of a field whose key is absent.
	Default() any

	// Validate checks that v belongs to the domain and returns its canonical form.
	Validate(v any) (any, error)

	Append(buf []byte, v any) ([]byte, error)
	Read(buf []byte) (v any, rest []byte, err error)

	String(v any) (string, error)
	Parse(s string) (any, error)

	Compare(a, b any) int

	// Ordered reports whether byte order of encodings matches Compare.
	Ordered() bool
}

func typeSignature(name, shape string) uint64 {
	return xxhash.Sum64String(name + "\x00" + shape)
}

// Encode returns the encoding of v.
func Encode(ft FieldType, v any) ([]byte, error) {
	return ft.Append(nil, v)
}

// Decode decodes a single value that must span all of data.
func Decode(ft FieldType, data []byte) (any, error) {
	v, rest, err := ft.Read(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, dataErrf(data, len(data)-len(rest), nil, "%s: %d trailing bytes", ft.Name(), len(rest))
	}
	return v, nil
}

// Registry is an immutable set of field types keyed by name.
type Registry struct {
	types map[string]FieldType
}

// RegistryBuilder collects field types for a Registry.
type RegistryBuilder struct {
	types map[string]FieldType
	err   error
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{types: make(map[string]FieldType)}
}

// AddBuiltins adds every type in BuiltinTypes.
func (b *RegistryBuilder) AddBuiltins() *RegistryBuilder {
	for _, ft := range BuiltinTypes() {
		b.Add(ft)
	}
	return b
}

func (b *RegistryBuilder) Add(ft FieldType) *RegistryBuilder {
	if b.err != nil {
		return b
	}
	name := ft.Name()
	if name == "" {
		b.err = fmt.Errorf("field type %T has an empty name", ft)
	} else if _, dup := b.types[name]; dup {
		b.err = fmt.Errorf("duplicate field type %q", name)
	} else {
		b.types[name] = ft
	}
	return b
}

func (b *RegistryBuilder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	r := &Registry{types: make(map[string]FieldType, len(b.types))}
	for k, v := range b.types {
		r.types[k] = v
	}
	return r, nil
}

// DefaultRegistry returns a new registry holding the built-in types.
func DefaultRegistry() *Registry {
	return must(NewRegistryBuilder().AddBuiltins().Build())
}

// Lookup resolves a type name. A non-zero signature must match the
// registered type's signature.
func (r *Registry) Lookup(name string, signature uint64) (FieldType, error) {
	ft := r.types[name]
	if ft == nil {
		return nil, &UnknownTypeError{Name: name}
	}
	if signature != 0 && signature != ft.Signature() {
		return nil, &SignatureMismatchError{Name: name, Recorded: signature, Actual: ft.Signature()}
	}
	return ft, nil
}

// Names returns the sorted names of all registered types.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for k := range r.types {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BuiltinTypes returns the field types every default registry contains.
func BuiltinTypes() []FieldType {
	return slices.Clone(builtinTypes)
}

var builtinTypes = []FieldType{
	BooleanType,
	ByteType,
	ShortType,
	IntType,
	LongType,
	CharType,
	FloatType,
	DoubleType,
	StringType,
	BytesType,
	InstantType,
	UUIDType,
	Inet4Type,
	Inet6Type,
	InetType,
	ReferenceType,
}
