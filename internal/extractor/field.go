package extractor

import "github.com/starford/typegen/internal/models"

// FieldSpec is a resolved but not yet normalized field. Optional attributes
// keep their "unset" state (nil Required, empty Enum) so the normalizer can
// apply defaults in one place.
type FieldSpec struct {
	Name       string
	Type       models.FieldType
	Required   *bool
	IsArray    bool
	ArrayOf    *FieldSpec
	Enum       []any
	Ref        string
	Default    any
	HasDefault bool
	Unique     bool
	Primary    bool
	Nested     []FieldSpec
	IsNested   bool
}

// ExtractFields resolves every raw field of a mapping.
func ExtractFields(fields []RawField, types TypeMap) []FieldSpec {
	out := make([]FieldSpec, 0, len(fields))
	for _, rf := range fields {
		spec := ExtractFieldType(rf.Shape, types)
		spec.Name = rf.Name
		out = append(out, spec)
	}
	return out
}

// ExtractFieldType resolves a raw shape to a field spec. It never fails:
// unknown markers resolve to "any".
func ExtractFieldType(s Shape, types TypeMap) FieldSpec {
	switch v := s.(type) {
	case ArrayShape:
		spec := FieldSpec{Type: models.TypeArray, IsArray: true}
		if v.Elem != nil {
			elem := ExtractFieldType(v.Elem, types)
			spec.ArrayOf = &elem
			spec.Ref = elem.Ref
		}
		return spec

	case TypedObjectShape:
		spec := ExtractFieldType(v.Type, types)
		applyAttributes(&spec, v.Attributes)
		return spec

	case EnumObjectShape:
		spec := FieldSpec{Type: models.TypeString}
		applyAttributes(&spec, v.Attributes)
		return spec

	case NestedShape:
		return FieldSpec{
			Type:     models.TypeObject,
			Nested:   ExtractFields(v.Fields, types),
			IsNested: true,
		}

	case PrimitiveShape:
		t := types.Lookup(v.Marker)
		spec := FieldSpec{Type: t}
		if t == models.TypeArray {
			spec.IsArray = true
		}
		return spec
	}

	return FieldSpec{Type: models.TypeAny}
}

// applyAttributes overlays object attributes on a resolved type. Enum and
// ref on an array-typed field describe the element.
func applyAttributes(spec *FieldSpec, a Attributes) {
	if len(a.Enum) > 0 {
		if spec.IsArray {
			elem := elementOf(spec)
			elem.Enum = a.Enum
		} else {
			spec.Enum = a.Enum
		}
	}
	if a.Ref != "" {
		spec.Ref = a.Ref
		if spec.IsArray {
			elem := elementOf(spec)
			if elem.Ref == "" {
				elem.Ref = a.Ref
			}
		}
	}
	if a.Required != nil {
		req := *a.Required
		spec.Required = &req
	}
	if a.HasDefault {
		spec.Default = a.Default
		spec.HasDefault = true
	}
	spec.Unique = spec.Unique || a.Unique
	spec.Primary = spec.Primary || a.Primary
}

// elementOf returns the array element spec, creating an "any" element for
// a bare Array marker.
func elementOf(spec *FieldSpec) *FieldSpec {
	if spec.ArrayOf == nil {
		spec.ArrayOf = &FieldSpec{Type: models.TypeAny}
	}
	return spec.ArrayOf
}

// HasEnumAndRef reports whether a spec, or its array element, carries both
// an enum and a reference.
func (s FieldSpec) HasEnumAndRef() bool {
	if len(s.Enum) > 0 && s.Ref != "" {
		return true
	}
	return s.ArrayOf != nil && s.ArrayOf.HasEnumAndRef()
}
