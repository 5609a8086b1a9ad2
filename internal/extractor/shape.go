package extractor

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Shape is the parsed form of a raw field definition. The set of variants
// is closed: PrimitiveShape, ArrayShape, TypedObjectShape, EnumObjectShape
// and NestedShape.
type Shape interface {
	shape()
}

// PrimitiveShape is a bare type marker such as "String" or
// "Schema.Types.ObjectId".
type PrimitiveShape struct {
	Marker string
}

// ArrayShape wraps the definition of a single array element.
// Elem is nil for an empty array literal.
type ArrayShape struct {
	Elem Shape
}

// TypedObjectShape is an object carrying a "type" key plus attributes.
type TypedObjectShape struct {
	Type Shape
	Attributes
}

// EnumObjectShape is an object carrying "enum" but no "type".
type EnumObjectShape struct {
	Attributes
}

// NestedShape is an embedded object: every key is itself a field.
type NestedShape struct {
	Fields []RawField
}

func (PrimitiveShape) shape()   {}
func (ArrayShape) shape()       {}
func (TypedObjectShape) shape() {}
func (EnumObjectShape) shape()  {}
func (NestedShape) shape()      {}

// Attributes are the optional keys of an object-shaped definition.
type Attributes struct {
	Required   *bool
	Enum       []any
	Ref        string
	Default    any
	HasDefault bool
	Unique     bool
	Primary    bool
}

// RawField is a named raw definition in declaration order.
type RawField struct {
	Name  string
	Shape Shape
}

// ParseShape classifies a YAML node into one of the raw shapes. Unknown
// scalars become a PrimitiveShape with an empty marker, which resolves to
// "any" downstream.
func ParseShape(n *yaml.Node) (Shape, error) {
	n = resolveAlias(n)
	if n == nil {
		return PrimitiveShape{}, nil
	}

	switch n.Kind {
	case yaml.ScalarNode:
		if n.ShortTag() == "!!str" {
			return PrimitiveShape{Marker: n.Value}, nil
		}
		return PrimitiveShape{}, nil

	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			return ArrayShape{}, nil
		}
		elem, err := ParseShape(n.Content[0])
		if err != nil {
			return nil, err
		}
		return ArrayShape{Elem: elem}, nil

	case yaml.MappingNode:
		if typeNode := mappingValue(n, "type"); typeNode != nil {
			t, err := ParseShape(typeNode)
			if err != nil {
				return nil, err
			}
			attrs, err := parseAttributes(n)
			if err != nil {
				return nil, err
			}
			return TypedObjectShape{Type: t, Attributes: attrs}, nil
		}
		if mappingValue(n, "enum") != nil {
			attrs, err := parseAttributes(n)
			if err != nil {
				return nil, err
			}
			return EnumObjectShape{Attributes: attrs}, nil
		}
		fields, err := ParseFields(n)
		if err != nil {
			return nil, err
		}
		return NestedShape{Fields: fields}, nil
	}

	return nil, fmt.Errorf("unsupported node kind %d at line %d", n.Kind, n.Line)
}

// ParseFields parses every key of a mapping node as a field definition,
// keeping declaration order. Keys with a leading underscore are skipped.
func ParseFields(n *yaml.Node) ([]RawField, error) {
	n = resolveAlias(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping of fields")
	}
	fields := make([]RawField, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		if name == "" || strings.HasPrefix(name, "_") {
			continue
		}
		s, err := ParseShape(n.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, RawField{Name: name, Shape: s})
	}
	return fields, nil
}

func parseAttributes(n *yaml.Node) (Attributes, error) {
	var a Attributes

	if req := mappingValue(n, "required"); req != nil {
		// Mongoose allows [true, "message"]; the flag is the first element.
		if req.Kind == yaml.SequenceNode && len(req.Content) > 0 {
			req = resolveAlias(req.Content[0])
		}
		if b, ok := boolValue(req); ok {
			a.Required = &b
		}
	}

	if en := mappingValue(n, "enum"); en != nil {
		// Mongoose also accepts {values: [...], message: "..."}.
		if en.Kind == yaml.MappingNode {
			en = mappingValue(en, "values")
		}
		if en != nil {
			var values []any
			if err := en.Decode(&values); err != nil {
				return a, fmt.Errorf("enum at line %d: %w", en.Line, err)
			}
			a.Enum = values
		}
	}

	if ref := mappingValue(n, "ref"); ref != nil && ref.Kind == yaml.ScalarNode {
		a.Ref = ref.Value
	}

	if def := mappingValue(n, "default"); def != nil {
		var v any
		if err := def.Decode(&v); err != nil {
			return a, fmt.Errorf("default at line %d: %w", def.Line, err)
		}
		a.Default = v
		a.HasDefault = true
	}

	if u, ok := boolValue(mappingValue(n, "unique")); ok {
		a.Unique = u
	}
	if p, ok := boolValue(mappingValue(n, "primary")); ok {
		a.Primary = p
	} else if p, ok := boolValue(mappingValue(n, "primaryKey")); ok {
		a.Primary = p
	}

	return a, nil
}

// mappingValue returns the value node for key in a mapping, or nil.
func mappingValue(n *yaml.Node, key string) *yaml.Node {
	n = resolveAlias(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return resolveAlias(n.Content[i+1])
		}
	}
	return nil
}

func boolValue(n *yaml.Node) (bool, bool) {
	if n == nil || n.Kind != yaml.ScalarNode || n.ShortTag() != "!!bool" {
		return false, false
	}
	var b bool
	if err := n.Decode(&b); err != nil {
		return false, false
	}
	return b, true
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}
