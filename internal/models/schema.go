// Package models defines the normalized schema representation shared by
// every extractor and renderer.
package models

import (
	"fmt"
	"regexp"
)

// IdentifierRe matches a plain TypeScript identifier.
var IdentifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// FieldType is the closed set of types a normalized field can resolve to.
type FieldType string

// Field types.
const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeBoolean   FieldType = "boolean"
	TypeDate      FieldType = "date"
	TypeArray     FieldType = "array"
	TypeObject    FieldType = "object"
	TypeAny       FieldType = "any"
	TypeNull      FieldType = "null"
	TypeUndefined FieldType = "undefined"
)

// FieldTypes lists every valid FieldType.
var FieldTypes = []FieldType{
	TypeString, TypeNumber, TypeBoolean, TypeDate, TypeArray,
	TypeObject, TypeAny, TypeNull, TypeUndefined,
}

// Valid reports whether t is a member of the closed set.
func (t FieldType) Valid() bool {
	for _, ft := range FieldTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// ParseFieldType converts s into a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(s)
	if !t.Valid() {
		return "", fmt.Errorf("models: unknown field type %q", s)
	}
	return t, nil
}

// SourceUnknown is the provenance tag used when an extractor does not set one.
const SourceUnknown = "unknown"

// Field is a normalized schema field. Values are built by NewField and are
// not mutated afterwards.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`

	IsArray bool   `json:"isArray"`
	ArrayOf *Field `json:"arrayOf,omitempty"`

	IsEnum     bool  `json:"isEnum"`
	EnumValues []any `json:"enumValues,omitempty"`

	IsReference bool   `json:"isReference"`
	ReferenceTo string `json:"referenceTo,omitempty"`

	IsPrimary    bool `json:"isPrimary"`
	IsUnique     bool `json:"isUnique"`
	HasDefault   bool `json:"hasDefault"`
	DefaultValue any  `json:"defaultValue,omitempty"`

	// Nested holds the members of an embedded sub-object. A field owns its
	// nested fields exclusively; references to other models go through
	// ReferenceTo instead.
	Nested []Field `json:"nested,omitempty"`
}

// HasNested reports whether the field describes an embedded object.
func (f Field) HasNested() bool {
	return len(f.Nested) > 0
}

// Model is a normalized schema model.
type Model struct {
	ModelName string  `json:"modelName"`
	TableName string  `json:"tableName"`
	Fields    []Field `json:"fields"`
	Source    string  `json:"source"`
	FilePath  string  `json:"filePath,omitempty"`
}

// FieldOption configures a Field during construction.
type FieldOption func(*Field)

// WithRequired sets whether the field is required.
func WithRequired(required bool) FieldOption {
	return func(f *Field) { f.Required = required }
}

// WithArrayOf marks the field as an array of elem.
func WithArrayOf(elem Field) FieldOption {
	return func(f *Field) {
		f.IsArray = true
		f.Type = TypeArray
		e := elem
		f.ArrayOf = &e
	}
}

// WithEnum attaches literal enum values. An empty list leaves the field
// untouched so IsEnum always implies a non-empty EnumValues.
func WithEnum(values ...any) FieldOption {
	return func(f *Field) {
		if len(values) == 0 {
			return
		}
		f.IsEnum = true
		f.EnumValues = append([]any(nil), values...)
	}
}

// WithReference marks the field as a reference to the named model.
func WithReference(model string) FieldOption {
	return func(f *Field) {
		if model == "" {
			return
		}
		f.IsReference = true
		f.ReferenceTo = model
	}
}

// WithPrimary marks the field as the model's primary key.
func WithPrimary(primary bool) FieldOption {
	return func(f *Field) { f.IsPrimary = primary }
}

// WithUnique marks the field as unique.
func WithUnique(unique bool) FieldOption {
	return func(f *Field) { f.IsUnique = unique }
}

// WithDefault attaches a default value.
func WithDefault(v any) FieldOption {
	return func(f *Field) {
		f.HasDefault = true
		f.DefaultValue = v
	}
}

// WithNested attaches embedded fields and forces the type to object.
func WithNested(fields ...Field) FieldOption {
	return func(f *Field) {
		if len(fields) == 0 {
			return
		}
		f.Type = TypeObject
		f.Nested = append([]Field(nil), fields...)
	}
}

// NewField returns a fully initialized field. Required defaults to true and
// an invalid type collapses to TypeAny.
func NewField(name string, t FieldType, opts ...FieldOption) Field {
	if !t.Valid() {
		t = TypeAny
	}
	f := Field{
		Name:     name,
		Type:     t,
		Required: true,
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// ModelOption configures a Model during construction.
type ModelOption func(*Model)

// WithTableName overrides the table (collection) name.
func WithTableName(name string) ModelOption {
	return func(m *Model) {
		if name != "" {
			m.TableName = name
		}
	}
}

// WithSource sets the provenance tag.
func WithSource(source string) ModelOption {
	return func(m *Model) {
		if source != "" {
			m.Source = source
		}
	}
}

// WithFilePath records the file the model was extracted from.
func WithFilePath(path string) ModelOption {
	return func(m *Model) { m.FilePath = path }
}

// NewModel returns a fully initialized model. TableName defaults to the
// model name and Source to SourceUnknown. Fields is never nil.
func NewModel(name string, fields []Field, opts ...ModelOption) Model {
	m := Model{
		ModelName: name,
		TableName: name,
		Fields:    append(make([]Field, 0, len(fields)), fields...),
		Source:    SourceUnknown,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}
