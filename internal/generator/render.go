package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/typegen/internal/models"
)

const indentUnit = "  "

// placeholderType stands in for a referenced document's identifier.
const placeholderType = "string"

var primitiveTypes = map[models.FieldType]string{
	models.TypeString:    "string",
	models.TypeNumber:    "number",
	models.TypeBoolean:   "boolean",
	models.TypeDate:      "Date",
	models.TypeObject:    "Record<string, any>",
	models.TypeAny:       "any",
	models.TypeNull:      "null",
	models.TypeUndefined: "undefined",
	models.TypeArray:     "any[]",
}

type renderer struct {
	opts     Options
	warnings []string
}

func (r *renderer) writeModel(b *strings.Builder, m models.Model, style string) {
	keyword := "export interface"
	if style == ExportDefault {
		keyword = "export default interface"
	}
	if len(m.Fields) == 0 {
		fmt.Fprintf(b, "%s %s {}\n", keyword, m.ModelName)
		return
	}
	fmt.Fprintf(b, "%s %s {\n", keyword, m.ModelName)
	r.writeMembers(b, m.ModelName, m.Fields, indentUnit)
	b.WriteString("}\n")
}

func (r *renderer) writeMembers(b *strings.Builder, scope string, fields []models.Field, indent string) {
	for _, f := range fields {
		if doc := docComment(f); doc != "" {
			fmt.Fprintf(b, "%s%s\n", indent, doc)
		}
		opt := ""
		if !f.Required {
			opt = "?"
		}
		fmt.Fprintf(b, "%s%s%s: %s;\n", indent, propertyName(f.Name), opt, r.typeExpr(scope+"."+f.Name, f, indent))
	}
}

// typeExpr renders the TypeScript type of f. indent is the indentation of
// the member line, used for inline object types.
func (r *renderer) typeExpr(path string, f models.Field, indent string) string {
	switch {
	case f.IsArray:
		elem := models.NewField(f.Name, models.TypeAny)
		if f.ArrayOf != nil {
			elem = *f.ArrayOf
		}
		if f.IsEnum && !elem.IsEnum {
			elem.IsEnum = true
			elem.EnumValues = f.EnumValues
		}
		inner := r.typeExpr(path+"[]", elem, indent)
		if strings.Contains(inner, " | ") {
			inner = "(" + inner + ")"
		}
		return inner + "[]"

	case f.IsEnum:
		return r.enumUnion(path, f)

	case f.IsReference:
		if r.opts.ResolveReferences {
			return placeholderType + " | " + f.ReferenceTo
		}
		return placeholderType

	case f.HasNested():
		var b strings.Builder
		b.WriteString("{\n")
		r.writeMembers(&b, path, f.Nested, indent+indentUnit)
		b.WriteString(indent)
		b.WriteString("}")
		return b.String()
	}

	if ts, ok := primitiveTypes[f.Type]; ok {
		return ts
	}
	r.warnings = append(r.warnings, fmt.Sprintf("%s: cannot render type %q, using any", path, f.Type))
	return "any"
}

func (r *renderer) enumUnion(path string, f models.Field) string {
	parts := make([]string, 0, len(f.EnumValues))
	for _, v := range f.EnumValues {
		lit, err := literal(v)
		if err != nil {
			r.warnings = append(r.warnings, fmt.Sprintf("%s: cannot render enum value %v, using any", path, v))
			return "any"
		}
		parts = append(parts, lit)
	}
	return strings.Join(parts, " | ")
}

// literal renders v as a TypeScript literal.
func literal(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func docComment(f models.Field) string {
	var tags []string
	if f.IsPrimary {
		tags = append(tags, "@primaryKey")
	}
	if f.IsUnique {
		tags = append(tags, "@unique")
	}
	if f.HasDefault {
		if lit, err := literal(f.DefaultValue); err == nil {
			tags = append(tags, "@default "+lit)
		}
	}
	if len(tags) == 0 {
		return ""
	}
	return "/** " + strings.ReplaceAll(strings.Join(tags, " "), "*/", "*\\/") + " */"
}

func propertyName(name string) string {
	if models.IdentifierRe.MatchString(name) {
		return name
	}
	lit, err := literal(name)
	if err != nil {
		return name
	}
	return lit
}
