// Package extractor reads schema definition files and produces raw models
// for the normalizer.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/models"
)

// SourceMongoose tags models produced by the Mongoose extractor.
const SourceMongoose = "mongoose"

// Type-identity marker that distinguishes a model export from a plain object.
const (
	kindKey   = "kind"
	kindModel = "Model"
)

// RawModel is one model found in a source file, before normalization.
type RawModel struct {
	Name      string
	TableName string
	Source    string
	FilePath  string
	Fields    []FieldSpec
}

// Extractor produces raw models from a source file. It returns
// apperr.ErrNoModels when the file contains nothing recognizable.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]RawModel, error)
}

// Mongoose extracts Mongoose-shaped schema documents stored as YAML or JSON.
type Mongoose struct {
	types      TypeMap
	extensions []string
	logger     *slog.Logger
}

// MongooseOption configures a Mongoose extractor.
type MongooseOption func(*Mongoose)

// WithExtensions sets the file extensions Extract accepts. The content is
// decoded as YAML whatever the extension, so any extension works.
func WithExtensions(exts ...string) MongooseOption {
	return func(m *Mongoose) {
		if len(exts) > 0 {
			m.extensions = exts
		}
	}
}

// NewMongoose creates a Mongoose extractor. A nil type map uses the defaults.
func NewMongoose(types TypeMap, logger *slog.Logger, opts ...MongooseOption) *Mongoose {
	if types == nil {
		types = DefaultTypeMap()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mongoose{types: types, extensions: DefaultExtensions, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Extract reads path fresh and returns its models in declaration order.
func (m *Mongoose) Extract(ctx context.Context, path string) ([]RawModel, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if !SupportedExtension(path, m.extensions) {
		return nil, apperr.New(apperr.CodeUnsupportedSource,
			fmt.Sprintf("unsupported schema file %s", filepath.Base(path)),
			"use one of: "+strings.Join(m.extensions, ", "),
			"or add the extension to generator.extensions")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read %s: %w", path, err)
	}

	docs, err := decodeDocuments(data)
	if err != nil {
		return nil, fmt.Errorf("extract: decode %s: %w", path, err)
	}

	var out []RawModel
	for _, doc := range docs {
		found, err := m.recognize(doc, path)
		if err != nil {
			return nil, fmt.Errorf("extract: %s: %w", path, err)
		}
		out = append(out, found...)
	}
	if len(out) == 0 {
		return nil, apperr.ErrNoModels
	}

	for _, rm := range out {
		for _, f := range rm.Fields {
			if f.HasEnumAndRef() {
				m.logger.Debug("extract: field sets both enum and ref; enum takes precedence",
					slog.String("path", path),
					slog.String("model", rm.Name),
					slog.String("field", f.Name))
			}
		}
	}
	return out, nil
}

// decodeDocuments decodes every YAML document in data. JSON input is a
// single document.
func decodeDocuments(data []byte) ([]*yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []*yaml.Node
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		if len(doc.Content) > 0 {
			docs = append(docs, resolveAlias(doc.Content[0]))
		}
	}
}

// recognize applies the recognition rules to one document root: model
// exports first, then a bare schema object.
func (m *Mongoose) recognize(root *yaml.Node, path string) ([]RawModel, error) {
	if root == nil || root.Kind != yaml.MappingNode || len(root.Content) == 0 {
		return nil, nil
	}

	var exports []RawModel
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := resolveAlias(root.Content[i+1])
		if !isModelExport(val) {
			continue
		}
		rm, err := m.modelFromDefinition(val, key, path)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", key, err)
		}
		exports = append(exports, rm)
	}
	if len(exports) > 0 {
		return exports, nil
	}

	name := nameFromPath(path)
	if schema := mappingValue(root, "schema"); schema != nil && schema.Kind == yaml.MappingNode {
		rm, err := m.modelFromDefinition(root, name, path)
		if err != nil {
			return nil, err
		}
		return []RawModel{rm}, nil
	}

	if !isBareSchema(root) {
		return nil, nil
	}
	raw, err := ParseFields(root)
	if err != nil {
		return nil, err
	}
	return []RawModel{{
		Name:     name,
		Source:   SourceMongoose,
		FilePath: path,
		Fields:   ExtractFields(raw, m.types),
	}}, nil
}

// modelFromDefinition builds a model from a mapping carrying "schema" and
// optional "name", "collection" and "options" keys.
func (m *Mongoose) modelFromDefinition(def *yaml.Node, fallbackName, path string) (RawModel, error) {
	name := fallbackName
	if n := mappingValue(def, "name"); n != nil && n.Kind == yaml.ScalarNode && n.Value != "" {
		name = n.Value
	}
	var table string
	if c := mappingValue(def, "collection"); c != nil && c.Kind == yaml.ScalarNode {
		table = c.Value
	}

	raw, err := ParseFields(mappingValue(def, "schema"))
	if err != nil {
		return RawModel{}, err
	}
	fields := ExtractFields(raw, m.types)
	fields = append(fields, timestampFields(mappingValue(def, "options"))...)

	return RawModel{
		Name:      name,
		TableName: table,
		Source:    SourceMongoose,
		FilePath:  path,
		Fields:    fields,
	}, nil
}

// timestampFields returns the fields added by the Mongoose "timestamps"
// schema option. It accepts true or a mapping renaming or disabling either
// field.
func timestampFields(options *yaml.Node) []FieldSpec {
	ts := mappingValue(options, "timestamps")
	if ts == nil {
		return nil
	}
	names := []string{"createdAt", "updatedAt"}
	switch ts.Kind {
	case yaml.ScalarNode:
		if on, ok := boolValue(ts); !ok || !on {
			return nil
		}
	case yaml.MappingNode:
		for i, key := range names {
			v := mappingValue(ts, key)
			if v == nil {
				continue
			}
			if on, ok := boolValue(v); ok {
				if !on {
					names[i] = ""
				}
				continue
			}
			if v.ShortTag() == "!!str" && v.Value != "" {
				names[i] = v.Value
			}
		}
	default:
		return nil
	}

	var out []FieldSpec
	for _, n := range names {
		if n != "" {
			out = append(out, FieldSpec{Name: n, Type: models.TypeDate})
		}
	}
	return out
}

func isModelExport(n *yaml.Node) bool {
	if n == nil || n.Kind != yaml.MappingNode {
		return false
	}
	kind := mappingValue(n, kindKey)
	schema := mappingValue(n, "schema")
	return kind != nil && kind.Value == kindModel && schema != nil && schema.Kind == yaml.MappingNode
}

// isBareSchema reports whether every public key of root holds a
// field-shaped value and at least one such key exists.
func isBareSchema(root *yaml.Node) bool {
	found := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if strings.HasPrefix(root.Content[i].Value, "_") {
			continue
		}
		v := resolveAlias(root.Content[i+1])
		switch {
		case v.Kind == yaml.ScalarNode && v.ShortTag() == "!!str":
		case v.Kind == yaml.SequenceNode, v.Kind == yaml.MappingNode:
		default:
			return false
		}
		found = true
	}
	return found
}

// nameFromPath derives a model name from the file's base name:
// "user.schema.yaml" becomes "User".
func nameFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	r, size := utf8.DecodeRuneInString(base)
	if r == utf8.RuneError {
		return base
	}
	return string(unicode.ToUpper(r)) + base[size:]
}
