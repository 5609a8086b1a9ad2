// Package normalizer converts extracted field specs into the normalized
// schema representation and validates the result.
package normalizer

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/extractor"
	"github.com/starford/typegen/internal/models"
)

// NormalizeField fills every optional attribute of spec with its default.
func NormalizeField(spec extractor.FieldSpec) models.Field {
	opts := []models.FieldOption{
		models.WithUnique(spec.Unique),
		models.WithPrimary(spec.Primary),
	}
	if spec.Required != nil {
		opts = append(opts, models.WithRequired(*spec.Required))
	}
	if spec.IsArray {
		elem := models.NewField(spec.Name, models.TypeAny)
		if spec.ArrayOf != nil {
			e := *spec.ArrayOf
			e.Name = spec.Name
			elem = NormalizeField(e)
		}
		opts = append(opts, models.WithArrayOf(elem))
	}
	if len(spec.Enum) > 0 {
		opts = append(opts, models.WithEnum(spec.Enum...))
	}
	opts = append(opts, models.WithReference(spec.Ref))
	if spec.HasDefault {
		opts = append(opts, models.WithDefault(spec.Default))
	}
	if len(spec.Nested) > 0 {
		nested := make([]models.Field, 0, len(spec.Nested))
		for _, n := range spec.Nested {
			nested = append(nested, NormalizeField(n))
		}
		opts = append(opts, models.WithNested(nested...))
	}

	t := spec.Type
	if spec.IsNested {
		t = models.TypeObject
	}
	return models.NewField(spec.Name, t, opts...)
}

// NormalizeModel maps a raw model to a normalized one, keeping field order.
func NormalizeModel(raw extractor.RawModel) models.Model {
	var fields []models.Field
	if raw.Fields != nil {
		fields = make([]models.Field, 0, len(raw.Fields))
		for _, f := range raw.Fields {
			fields = append(fields, NormalizeField(f))
		}
	}
	m := models.NewModel(raw.Name, fields,
		models.WithTableName(raw.TableName),
		models.WithSource(raw.Source),
		models.WithFilePath(raw.FilePath),
	)
	if raw.Fields == nil {
		// A raw model without a field list is reported by ValidateSchema.
		m.Fields = nil
	}
	return m
}

// ValidationResult is the outcome of ValidateSchema.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Err returns the result as a coded error, or nil when valid.
func (r ValidationResult) Err(model string) error {
	if r.Valid {
		return nil
	}
	return apperr.New(apperr.CodeValidationFailed,
		fmt.Sprintf("model %q is invalid: %s", model, strings.Join(r.Errors, "; ")),
		"give every model an identifier name (letters, digits, _ or $) and every field a name and a type")
}

// ValidateSchema checks that the model name is an identifier, that it has a
// field list, and that every field (recursively) has a name and a known
// type. It never panics.
func ValidateSchema(m models.Model) ValidationResult {
	var errs []string

	if err := validation.Validate(m.ModelName,
		validation.Required,
		validation.Match(models.IdentifierRe).Error("must be a TypeScript identifier"),
	); err != nil {
		errs = append(errs, "modelName: "+err.Error())
	}
	if m.Fields == nil {
		errs = append(errs, "fields: must be a list")
	}
	for i, f := range m.Fields {
		errs = append(errs, validateField(fmt.Sprintf("fields[%d]", i), f)...)
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validateField(path string, f models.Field) []string {
	var errs []string
	err := validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Type, validation.Required, validation.By(knownType)),
		validation.Field(&f.EnumValues, validation.When(f.IsEnum, validation.Required)),
		validation.Field(&f.ReferenceTo, validation.When(f.IsReference, validation.Required)),
	)
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for _, key := range sortedKeys(verrs) {
			errs = append(errs, fmt.Sprintf("%s.%s: %s", path, key, verrs[key].Error()))
		}
	} else if err != nil {
		errs = append(errs, fmt.Sprintf("%s: %s", path, err.Error()))
	}

	if f.ArrayOf != nil {
		errs = append(errs, validateField(path+".arrayOf", *f.ArrayOf)...)
	}
	for i, n := range f.Nested {
		errs = append(errs, validateField(fmt.Sprintf("%s.nested[%d]", path, i), n)...)
	}
	return errs
}

func knownType(value any) error {
	t, _ := value.(models.FieldType)
	if !t.Valid() {
		return fmt.Errorf("unknown type %q", t)
	}
	return nil
}

func sortedKeys(errs validation.Errors) []string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
