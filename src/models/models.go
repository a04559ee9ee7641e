package models

import (
	"strings"
)

// Field types understood by the engine when casting filter values.
const (
	FieldTypeString   = "string"
	FieldTypeNumber   = "number"
	FieldTypeBool     = "bool"
	FieldTypeObjectID = "objectId"
	FieldTypeDocument = "document"
	FieldTypeAny      = "any"
)

// Cardinality tells whether a reference field holds one identifier or a list of them.
type Cardinality int

const (
	Scalar Cardinality = iota
	Array
)

func (c Cardinality) String() string {
	if c == Array {
		return "array"
	}
	return "scalar"
}

type FieldDefinition struct {
	Name         string
	Type         string
	IsRequired   bool // Indicates if the field can be null
	IsUnique     bool
	DefaultValue interface{} // Optional default value for the field

	// Ref is the name of the referenced bundle. Empty for plain fields.
	Ref         string
	Cardinality Cardinality
}

// IsReference reports whether the field points at documents of another bundle.
func (f FieldDefinition) IsReference() bool {
	return f.Ref != ""
}

// Schema describes the document structure of one bundle.
// It is built once with NewSchema and never mutated afterwards.
type Schema struct {
	name   string
	fields map[string]FieldDefinition
	order  []string
}

// NewSchema builds an immutable schema. Later definitions with the same name replace earlier ones.
func NewSchema(name string, fields ...FieldDefinition) *Schema {
	s := &Schema{
		name:   name,
		fields: make(map[string]FieldDefinition, len(fields)),
	}
	for _, f := range fields {
		if f.Type == "" {
			if f.IsReference() {
				f.Type = FieldTypeObjectID
			} else {
				f.Type = FieldTypeAny
			}
		}
		if _, exists := s.fields[f.Name]; !exists {
			s.order = append(s.order, f.Name)
		}
		s.fields[f.Name] = f
	}
	return s
}

func (s *Schema) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Field returns the definition of the first segment of a dotted path.
func (s *Schema) Field(path string) (FieldDefinition, bool) {
	if s == nil {
		return FieldDefinition{}, false
	}
	first, _, _ := strings.Cut(path, ".")
	f, ok := s.fields[first]
	return f, ok
}

// Reference is like Field but only reports reference fields.
func (s *Schema) Reference(path string) (FieldDefinition, bool) {
	f, ok := s.Field(path)
	if !ok || !f.IsReference() {
		return FieldDefinition{}, false
	}
	return f, true
}

// Fields returns the definitions in declaration order.
func (s *Schema) Fields() []FieldDefinition {
	if s == nil {
		return nil
	}
	out := make([]FieldDefinition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}
