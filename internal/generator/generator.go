// Package generator renders normalized models as TypeScript declarations.
package generator

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/models"
	"github.com/starford/typegen/internal/normalizer"
)

// Banner is the first line of every generated file.
const Banner = "// This file is auto-generated by typegen. Do not edit manually."

// Output modes.
const (
	ModeSingle   = "single"
	ModeSeparate = "separate"
)

// Export styles.
const (
	ExportNamed   = "export"
	ExportDefault = "export default"
)

// DefaultFileName is the single-mode output file name.
const DefaultFileName = "models.ts"

// IndexFileName is the barrel written in separate mode.
const IndexFileName = "index.ts"

// Options controls rendering.
type Options struct {
	Mode              string
	ExportStyle       string
	ResolveReferences bool
	// FileName is the output name in single mode.
	FileName string
}

// File is one rendered output file. Name is relative to the output root.
type File struct {
	Name    string
	Models  []string
	Content []byte
}

// Output is the result of Render.
type Output struct {
	Files []File
	// Warnings lists fields that fell back to "any" and option downgrades.
	Warnings []string
}

// Render renders ms according to opts. Every model must pass validation;
// the first invalid model aborts rendering with a coded error. Output is
// byte-identical for identical input.
func Render(ms []models.Model, opts Options) (Output, error) {
	for _, m := range ms {
		if err := normalizer.ValidateSchema(m).Err(m.ModelName); err != nil {
			return Output{}, err
		}
	}

	var out Output
	switch opts.Mode {
	case "", ModeSingle:
		out = renderSingle(ms, opts)
	case ModeSeparate:
		out = renderSeparate(ms, opts)
	default:
		return Output{}, apperr.New(apperr.CodeRenderFailed,
			fmt.Sprintf("unknown output mode %q", opts.Mode),
			`set generator.output_mode to "single" or "separate"`)
	}
	if err := checkFileNames(out.Files); err != nil {
		return Output{}, err
	}
	return out, nil
}

// checkFileNames refuses names that leave the output directory and names
// that collide, ignoring case, with another output file.
func checkFileNames(files []File) error {
	owners := make(map[string]File, len(files))
	for _, f := range files {
		if !filepath.IsLocal(f.Name) {
			return apperr.New(apperr.CodeRenderFailed,
				fmt.Sprintf("output file %q is outside the output directory", f.Name),
				"use plain identifiers as model names")
		}
		key := strings.ToLower(filepath.Clean(f.Name))
		if prev, dup := owners[key]; dup {
			return apperr.New(apperr.CodeRenderFailed,
				fmt.Sprintf("output file %s for %s collides with %s", f.Name, describe(f), describe(prev)),
				"rename one of the models; file names are compared ignoring case",
				fmt.Sprintf("%q is reserved for the barrel in separate mode", strings.TrimSuffix(IndexFileName, ".ts")))
		}
		owners[key] = f
	}
	return nil
}

func describe(f File) string {
	if len(f.Models) == 0 {
		return "the index barrel"
	}
	return "model " + strings.Join(f.Models, ", ")
}

// RenderModel renders a single model declaration without a banner.
func RenderModel(m models.Model, opts Options) (string, []string) {
	r := &renderer{opts: opts}
	var b strings.Builder
	r.writeModel(&b, m, opts.ExportStyle)
	return b.String(), r.warnings
}

func renderSingle(ms []models.Model, opts Options) Output {
	r := &renderer{opts: opts}
	style := opts.ExportStyle
	if style == ExportDefault {
		if len(ms) > 1 {
			r.warnings = append(r.warnings, "export default is not possible for several models in one file; using named exports")
		}
		if len(ms) != 1 {
			style = ExportNamed
		}
	}

	var b strings.Builder
	b.WriteString(Banner)
	b.WriteString("\n")
	names := make([]string, 0, len(ms))
	for _, m := range ms {
		b.WriteString("\n")
		r.writeModel(&b, m, style)
		names = append(names, m.ModelName)
	}

	name := opts.FileName
	if name == "" {
		name = DefaultFileName
	}
	return Output{
		Files:    []File{{Name: name, Models: names, Content: []byte(b.String())}},
		Warnings: r.warnings,
	}
}

func renderSeparate(ms []models.Model, opts Options) Output {
	r := &renderer{opts: opts}
	files := make([]File, 0, len(ms)+1)

	var index strings.Builder
	index.WriteString(Banner)
	index.WriteString("\n\n")

	for _, m := range ms {
		var b strings.Builder
		b.WriteString(Banner)
		b.WriteString("\n\n")
		r.writeModel(&b, m, opts.ExportStyle)
		files = append(files, File{
			Name:    m.ModelName + ".ts",
			Models:  []string{m.ModelName},
			Content: []byte(b.String()),
		})

		if opts.ExportStyle == ExportDefault {
			fmt.Fprintf(&index, "export type { default as %s } from \"./%s\";\n", m.ModelName, m.ModelName)
		} else {
			fmt.Fprintf(&index, "export * from \"./%s\";\n", m.ModelName)
		}
	}

	files = append(files, File{Name: IndexFileName, Content: []byte(index.String())})
	return Output{Files: files, Warnings: r.warnings}
}
