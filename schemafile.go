package objdb

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaFormatVersion is written into every schema file.
const SchemaFormatVersion = 1

// Schema files come in two syntaxes picked by extension: XML (.xml) in the
// element layout below, and YAML (.yaml, .yml) mirroring SchemaModel.
//
//	<Schema formatVersion="1">
//	  <ObjectType name="Foo" storageId="1">
//	    <SimpleField name="value" storageId="2" type="long" encodingSignature="..."/>
//	    <ReferenceField name="bar" storageId="3" onDelete="SET_NULL">
//	      <ObjectTypes><ObjectType storageId="4"/></ObjectTypes>
//	    </ReferenceField>
//	    <ListField name="tags" storageId="5">
//	      <SimpleField storageId="6" type="string" indexed="true"/>
//	    </ListField>
//	    <CompositeIndex name="byValueBar" storageId="7">
//	      <IndexedField storageId="2"/>
//	      <IndexedField storageId="3"/>
//	    </CompositeIndex>
//	  </ObjectType>
//	</Schema>

type xmlSchema struct {
	XMLName       xml.Name        `xml:"Schema"`
	FormatVersion int             `xml:"formatVersion,attr"`
	ObjectTypes   []xmlObjectType `xml:"ObjectType"`
}

type xmlObjectType struct {
	Name             string              `xml:"name,attr"`
	StorageID        uint32              `xml:"storageId,attr"`
	Fields           []xmlField          `xml:",any"`
	CompositeIndexes []xmlCompositeIndex `xml:"CompositeIndex"`
}

type xmlField struct {
	XMLName       xml.Name
	Name          string      `xml:"name,attr,omitempty"`
	StorageID     uint32      `xml:"storageId,attr"`
	Type          string      `xml:"type,attr,omitempty"`
	TypeSignature uint64      `xml:"encodingSignature,attr,omitempty"`
	Indexed       bool        `xml:"indexed,attr,omitempty"`
	OnDelete      string      `xml:"onDelete,attr,omitempty"`
	CascadeDelete bool        `xml:"cascadeDelete,attr,omitempty"`
	AllowDeleted  bool        `xml:"allowDeleted,attr,omitempty"`
	Upgrade       string      `xml:"upgradeConversion,attr,omitempty"`
	Targets       *xmlTargets `xml:"ObjectTypes,omitempty"`
	SubFields     []xmlField  `xml:",any"`
}

type xmlTargets struct {
	Types []xmlStorageIDRef `xml:"ObjectType"`
}

type xmlStorageIDRef struct {
	StorageID uint32 `xml:"storageId,attr"`
}

type xmlCompositeIndex struct {
	Name      string            `xml:"name,attr"`
	StorageID uint32            `xml:"storageId,attr"`
	Fields    []xmlStorageIDRef `xml:"IndexedField"`
}

var xmlFieldElements = map[FieldKind]string{
	KindSimple:    "SimpleField",
	KindReference: "ReferenceField",
	KindList:      "ListField",
	KindSet:       "SetField",
	KindMap:       "MapField",
}

func xmlFieldKind(elem string) (FieldKind, bool) {
	for k, v := range xmlFieldElements {
		if v == elem {
			return k, true
		}
	}
	return 0, false
}

func MarshalSchemaXML(m *SchemaModel) ([]byte, error) {
	doc := xmlSchema{FormatVersion: SchemaFormatVersion}
	for _, t := range m.ObjectTypes {
		xt := xmlObjectType{Name: t.Name, StorageID: t.StorageID}
		for _, f := range t.Fields {
			xt.Fields = append(xt.Fields, fieldToXML(f, false))
		}
		for _, ci := range t.CompositeIndexes {
			xci := xmlCompositeIndex{Name: ci.Name, StorageID: ci.StorageID}
			for _, sid := range ci.Fields {
				xci.Fields = append(xci.Fields, xmlStorageIDRef{sid})
			}
			xt.CompositeIndexes = append(xt.CompositeIndexes, xci)
		}
		doc.ObjectTypes = append(doc.ObjectTypes, xt)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("objdb: encoding schema: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func fieldToXML(f *Field, sub bool) xmlField {
	xf := xmlField{
		XMLName:       xml.Name{Local: xmlFieldElements[f.Kind]},
		StorageID:     f.StorageID,
		Indexed:       f.Indexed,
		CascadeDelete: f.CascadeDelete,
		AllowDeleted:  f.AllowDeleted,
	}
	if !sub {
		xf.Name = f.Name
	}
	if f.Kind == KindSimple {
		xf.Type = f.Type
		xf.TypeSignature = f.TypeSignature
	}
	if f.Kind == KindReference {
		if f.OnDelete != DeleteException {
			xf.OnDelete = f.OnDelete.String()
		}
		if len(f.Targets) > 0 {
			xf.Targets = &xmlTargets{}
			for _, sid := range f.Targets {
				xf.Targets.Types = append(xf.Targets.Types, xmlStorageIDRef{sid})
			}
		}
	}
	if f.Upgrade != UpgradeAttempt {
		xf.Upgrade = f.Upgrade.String()
	}
	for _, sf := range f.SubFields() {
		xf.SubFields = append(xf.SubFields, fieldToXML(sf, true))
	}
	return xf
}

func UnmarshalSchemaXML(data []byte) (*SchemaModel, error) {
	var doc xmlSchema
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("objdb: decoding schema: %w", err)
	}
	if doc.FormatVersion != SchemaFormatVersion {
		return nil, fmt.Errorf("objdb: unsupported schema format version %d", doc.FormatVersion)
	}
	m := &SchemaModel{}
	for _, xt := range doc.ObjectTypes {
		t := &ObjectType{Name: xt.Name, StorageID: xt.StorageID}
		for _, xf := range xt.Fields {
			f, err := fieldFromXML(xf)
			if err != nil {
				return nil, fmt.Errorf("objdb: decoding schema: type %s: %w", xt.Name, err)
			}
			t.Fields = append(t.Fields, f)
		}
		for _, xci := range xt.CompositeIndexes {
			ci := &CompositeIndex{Name: xci.Name, StorageID: xci.StorageID}
			for _, ref := range xci.Fields {
				ci.Fields = append(ci.Fields, ref.StorageID)
			}
			t.CompositeIndexes = append(t.CompositeIndexes, ci)
		}
		m.ObjectTypes = append(m.ObjectTypes, t)
	}
	m.normalize()
	return m, nil
}

func fieldFromXML(xf xmlField) (*Field, error) {
	kind, ok := xmlFieldKind(xf.XMLName.Local)
	if !ok {
		return nil, fmt.Errorf("unexpected element <%s>", xf.XMLName.Local)
	}
	f := &Field{
		Name:          xf.Name,
		StorageID:     xf.StorageID,
		Kind:          kind,
		Type:          xf.Type,
		TypeSignature: xf.TypeSignature,
		Indexed:       xf.Indexed,
		CascadeDelete: xf.CascadeDelete,
		AllowDeleted:  xf.AllowDeleted,
	}
	if xf.OnDelete != "" {
		if err := f.OnDelete.UnmarshalText([]byte(xf.OnDelete)); err != nil {
			return nil, err
		}
	}
	if xf.Upgrade != "" {
		if err := f.Upgrade.UnmarshalText([]byte(xf.Upgrade)); err != nil {
			return nil, err
		}
	}
	if xf.Targets != nil {
		for _, ref := range xf.Targets.Types {
			f.Targets = append(f.Targets, ref.StorageID)
		}
	}
	var subs []*Field
	for _, xsf := range xf.SubFields {
		sf, err := fieldFromXML(xsf)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sf)
	}
	switch {
	case kind == KindMap && len(subs) == 2:
		f.Key, f.Value = subs[0], subs[1]
	case (kind == KindList || kind == KindSet) && len(subs) == 1:
		f.Element = subs[0]
	case len(subs) != 0 || kind.IsComplex():
		return nil, fmt.Errorf("field %s: %d sub-fields for a %v field", f.Name, len(subs), kind)
	}
	return f, nil
}

type yamlSchema struct {
	FormatVersion int            `yaml:"formatVersion"`
	ObjectTypes   []*ObjectType `yaml:"objectTypes"`
}

func MarshalSchemaYAML(m *SchemaModel) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(yamlSchema{SchemaFormatVersion, m.ObjectTypes}); err != nil {
		return nil, fmt.Errorf("objdb: encoding schema: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("objdb: encoding schema: %w", err)
	}
	return buf.Bytes(), nil
}

func UnmarshalSchemaYAML(data []byte) (*SchemaModel, error) {
	var doc yamlSchema
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("objdb: decoding schema: %w", err)
	}
	if doc.FormatVersion != SchemaFormatVersion {
		return nil, fmt.Errorf("objdb: unsupported schema format version %d", doc.FormatVersion)
	}
	m := &SchemaModel{ObjectTypes: doc.ObjectTypes}
	m.normalize()
	return m, nil
}

// IsSchemaFile reports whether path has a schema file extension.
func IsSchemaFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func ReadSchemaFile(path string) (*SchemaModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m *SchemaModel
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		m, err = UnmarshalSchemaXML(data)
	case ".yaml", ".yml":
		m, err = UnmarshalSchemaYAML(data)
	default:
		return nil, fmt.Errorf("objdb: %s: unknown schema file extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func WriteSchemaFile(path string, m *SchemaModel) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		data, err = MarshalSchemaXML(m)
	case ".yaml", ".yml":
		data, err = MarshalSchemaYAML(m)
	default:
		return fmt.Errorf("objdb: %s: unknown schema file extension", path)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
