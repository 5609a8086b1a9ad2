package extractor

import (
	"fmt"
	"strings"

	"github.com/starford/typegen/internal/models"
)

// TypeMap maps canonical type markers to normalized field types.
type TypeMap map[string]models.FieldType

var markerPrefixes = []string{
	"mongoose.schema.types.",
	"schema.types.",
	"types.",
}

// DefaultTypeMap returns the built-in marker table.
func DefaultTypeMap() TypeMap {
	return TypeMap{
		"string":     models.TypeString,
		"number":     models.TypeNumber,
		"boolean":    models.TypeBoolean,
		"date":       models.TypeDate,
		"buffer":     models.TypeString,
		"objectid":   models.TypeString,
		"mixed":      models.TypeAny,
		"any":        models.TypeAny,
		"decimal128": models.TypeNumber,
		"map":        models.TypeObject,
		"bigint":     models.TypeNumber,
		"uuid":       models.TypeString,
		"array":      models.TypeArray,
		"object":     models.TypeObject,
	}
}

// NewTypeMap returns the default table with custom overrides merged on top.
// Override values must name a normalized field type.
func NewTypeMap(custom map[string]string) (TypeMap, error) {
	tm := DefaultTypeMap()
	for marker, typ := range custom {
		ft, err := models.ParseFieldType(typ)
		if err != nil {
			return nil, fmt.Errorf("custom type map %q: %w", marker, err)
		}
		tm[canonicalMarker(marker)] = ft
	}
	return tm, nil
}

// Lookup resolves a marker. Unknown markers resolve to TypeAny.
func (tm TypeMap) Lookup(marker string) models.FieldType {
	if t, ok := tm[canonicalMarker(marker)]; ok {
		return t
	}
	return models.TypeAny
}

func canonicalMarker(marker string) string {
	m := strings.ToLower(strings.TrimSpace(marker))
	for _, p := range markerPrefixes {
		if strings.HasPrefix(m, p) {
			return strings.TrimPrefix(m, p)
		}
	}
	return m
}
