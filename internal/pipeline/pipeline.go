// Package pipeline runs one full generation pass: discover schema files,
// extract, normalize, render and write the TypeScript output, then record
// the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/checksum"
	"github.com/starford/typegen/internal/extractor"
	"github.com/starford/typegen/internal/generator"
	"github.com/starford/typegen/internal/history"
	"github.com/starford/typegen/internal/models"
	"github.com/starford/typegen/internal/normalizer"
	"github.com/starford/typegen/internal/writer"
)

// Event kinds published during a run.
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// Run triggers.
const (
	TriggerCLI   = "cli"
	TriggerWatch = "watch"
	TriggerAPI   = "api"
	TriggerMCP   = "mcp"
)

// Publisher receives run lifecycle events.
type Publisher interface {
	PublishEvent(kind string, data any)
}

// Options configures a Service.
type Options struct {
	ModelsPath        string
	OutputPath        string
	OutputMode        string
	OutputFile        string
	ExportStyle       string
	ResolveReferences bool
	Extensions        []string
	Exclude           []string
	CustomTypeMap     map[string]string
	// Workers bounds parallel extraction. Zero means one.
	Workers int
}

// Service runs generation passes. Runs are not serialized here; callers
// that may overlap (watch mode, API, MCP) go through the watcher.
type Service struct {
	opts      Options
	filter    extractor.Filter
	outputDir string
	fileName  string
	extractor extractor.Extractor
	writer    *writer.Writer
	history   history.Store
	publisher Publisher
	logger    *slog.Logger
}

// New builds a Service. history and publisher may be nil.
func New(opts Options, store history.Store, publisher Publisher, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	types, err := extractor.NewTypeMap(opts.CustomTypeMap)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "invalid custom type map",
			"map each marker to one of: "+joinFieldTypes())
	}
	root, err := filepath.Abs(opts.ModelsPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: models path: %w", err)
	}
	out, err := filepath.Abs(opts.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: output path: %w", err)
	}
	if opts.OutputMode == "" {
		opts.OutputMode = generator.ModeSingle
	}
	if opts.ExportStyle == "" {
		opts.ExportStyle = generator.ExportNamed
	}
	if store == nil {
		store = history.NewMemory()
	}

	s := &Service{
		opts:      opts,
		filter:    extractor.Filter{Root: root, Extensions: opts.Extensions, Exclude: opts.Exclude},
		outputDir: out,
		fileName:  opts.OutputFile,
		extractor: extractor.NewMongoose(types, logger, extractor.WithExtensions(opts.Extensions...)),
		writer:    writer.New(logger),
		history:   store,
		publisher: publisher,
		logger:    logger,
	}
	// An output path naming a .ts file is the single-mode target itself.
	if opts.OutputMode == generator.ModeSingle && strings.HasSuffix(out, ".ts") {
		s.outputDir, s.fileName = filepath.Dir(out), filepath.Base(out)
	}
	if s.fileName == "" {
		s.fileName = generator.DefaultFileName
	}
	return s, nil
}

// ModelsRoot returns the absolute schema root.
func (s *Service) ModelsRoot() string { return s.filter.Root }

// OutputDir returns the absolute output directory.
func (s *Service) OutputDir() string { return s.outputDir }

// WatchIgnore returns the paths a file watcher should drop events for. In
// single mode that is the output file and its backup, so an output kept
// inside the models directory does not hide the schemas next to it. In
// separate mode it is the output directory, unless that directory holds
// the models root.
func (s *Service) WatchIgnore() []string {
	if s.opts.OutputMode != generator.ModeSeparate {
		file := filepath.Join(s.outputDir, s.fileName)
		return []string{file, file + writer.BackupSuffix}
	}
	if rel, err := filepath.Rel(s.outputDir, s.filter.Root); err == nil && filepath.IsLocal(rel) {
		return nil
	}
	return []string{s.outputDir}
}

// Match reports whether path is a schema source this service reads.
func (s *Service) Match(path string) bool { return s.filter.Match(path) }

// History returns the run history store.
func (s *Service) History() history.Store { return s.history }

// Generate runs a full pass over every schema file. Per-file and per-model
// failures are collected in the result. The returned error is reserved for
// conditions that stop the pass: nothing to generate, discovery or render
// failure, or cancellation.
func (s *Service) Generate(ctx context.Context, trigger string) (*Result, error) {
	start := time.Now()
	res := &Result{Trigger: trigger}

	runID, err := s.history.BeginRun(trigger, start)
	if err != nil {
		s.logger.Warn("pipeline: begin run", slog.String("error", err.Error()))
	}
	res.RunID = runID
	s.publish(EventRunStarted, map[string]any{"runId": runID, "trigger": trigger})

	err = s.generate(ctx, res)
	res.Duration = time.Since(start)
	s.finish(res, err)
	return res, err
}

func (s *Service) generate(ctx context.Context, res *Result) error {
	paths, err := extractor.Discover(s.filter)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return noModels(s.filter.Root)
		}
		return fmt.Errorf("pipeline: discover: %w", err)
	}
	s.logger.Debug("pipeline: discovered", slog.Int("files", len(paths)))

	ms, err := s.extractAll(ctx, paths, res)
	if err != nil {
		return err
	}
	if len(ms) == 0 {
		return noModels(s.filter.Root)
	}
	res.Models = make([]string, 0, len(ms))
	for _, m := range ms {
		res.Models = append(res.Models, m.ModelName)
	}

	out, err := generator.Render(ms, s.renderOptions())
	if err != nil {
		return err
	}
	res.Warnings = out.Warnings
	for _, w := range out.Warnings {
		s.logger.Warn("generate: warning", slog.String("detail", w))
	}

	files := make([]writer.File, 0, len(out.Files))
	owners := make(map[string][]string, len(out.Files))
	for _, f := range out.Files {
		p := filepath.Join(s.outputDir, f.Name)
		s.checkDrift(p)
		files = append(files, writer.File{Path: p, Content: f.Content})
		owners[p] = f.Models
	}

	written := s.writer.WriteMultiple(files)
	res.Files = written.Results
	for _, r := range written.Results {
		if !r.Success {
			res.WriteFailures = append(res.WriteFailures, Failure{Path: r.Path, Error: r.Err.Error()})
			continue
		}
		if err := s.history.RecordOutput(history.OutputRow{
			Path:      r.Path,
			Checksum:  r.Checksum,
			Models:    owners[r.Path],
			RunID:     res.RunID,
			UpdatedAt: time.Now(),
		}); err != nil {
			s.logger.Warn("pipeline: record output", slog.String("path", r.Path), slog.String("error", err.Error()))
		}
	}
	return nil
}

// extractAll extracts and normalizes every path, recording failures on res.
func (s *Service) extractAll(ctx context.Context, paths []string, res *Result) ([]models.Model, error) {
	batch, err := extractor.ExtractAll(ctx, s.extractor, paths, s.opts.Workers, s.logger)
	if err != nil {
		return nil, err
	}
	for _, f := range batch.Failures() {
		res.ExtractFailures = append(res.ExtractFailures, Failure{Path: f.Path, Error: f.Err.Error()})
	}

	norm, _ := normalizer.NormalizeAll(batch.Models, normalizer.PolicySkip)
	for _, r := range norm.Rejected {
		s.logger.Warn("normalize: skipping model",
			slog.String("model", r.Model),
			slog.String("path", r.FilePath),
			slog.String("error", strings.Join(r.Errors, "; ")))
		res.ValidationFailures = append(res.ValidationFailures, Failure{
			Path:  r.FilePath,
			Model: r.Model,
			Error: strings.Join(r.Errors, "; "),
		})
	}
	return norm.Models, nil
}

// checkDrift warns when an output was edited since typegen last wrote it.
func (s *Service) checkDrift(path string) {
	recorded, err := s.history.OutputChecksum(path)
	if err != nil || recorded == "" {
		return
	}
	current, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if !checksum.Equal(current, recorded) {
		s.logger.Warn("pipeline: generated file was edited by hand and will be overwritten",
			slog.String("path", path))
	}
}

func (s *Service) finish(res *Result, runErr error) {
	status := history.StatusSucceeded
	var msg string
	switch {
	case apperr.HasCode(runErr, apperr.CodeNoModelsFound):
		status = history.StatusEmpty
		msg = runErr.Error()
	case runErr != nil:
		status = history.StatusFailed
		msg = runErr.Error()
	case !res.OK():
		status = history.StatusFailed
	}
	res.Status = status
	if res.RunID != 0 {
		if err := s.history.FinishRun(res.RunID, status, len(res.Models), res.Failed(), msg, time.Now()); err != nil {
			s.logger.Warn("pipeline: finish run", slog.String("error", err.Error()))
		}
	}

	attrs := []any{
		slog.Int64("run", res.RunID),
		slog.String("trigger", res.Trigger),
		slog.Int("models", len(res.Models)),
		slog.Int("failures", res.Failed()),
		slog.Duration("duration", res.Duration),
	}
	if runErr != nil || !res.OK() {
		if runErr != nil {
			attrs = append(attrs, slog.String("error", runErr.Error()))
		}
		s.logger.Warn("pipeline: run finished with failures", attrs...)
		s.publish(EventRunFailed, res)
		return
	}
	s.logger.Info("pipeline: run finished", attrs...)
	s.publish(EventRunCompleted, res)
}

func (s *Service) publish(kind string, data any) {
	if s.publisher != nil {
		s.publisher.PublishEvent(kind, data)
	}
}

func (s *Service) renderOptions() generator.Options {
	return generator.Options{
		Mode:              s.opts.OutputMode,
		ExportStyle:       s.opts.ExportStyle,
		ResolveReferences: s.opts.ResolveReferences,
		FileName:          s.fileName,
	}
}

// Models extracts and validates every schema without rendering or writing.
func (s *Service) Models(ctx context.Context) ([]models.Model, error) {
	paths, err := extractor.Discover(s.filter)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, noModels(s.filter.Root)
		}
		return nil, fmt.Errorf("pipeline: discover: %w", err)
	}
	var res Result
	return s.extractAll(ctx, paths, &res)
}

// Preview renders the models of a single schema file without writing.
// Relative paths are resolved against the models root.
func (s *Service) Preview(ctx context.Context, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.filter.Root, path)
	}
	raws, err := s.extractor.Extract(ctx, path)
	if errors.Is(err, apperr.ErrNoModels) {
		return "", noModels(path)
	}
	if err != nil {
		return "", err
	}
	norm, err := normalizer.NormalizeAll(raws, normalizer.PolicyFail)
	if err != nil {
		return "", err
	}
	opts := s.renderOptions()
	opts.Mode = generator.ModeSingle
	out, err := generator.Render(norm.Models, opts)
	if err != nil {
		return "", err
	}
	return string(out.Files[0].Content), nil
}

func noModels(root string) error {
	return apperr.Wrap(apperr.ErrNoModels, apperr.CodeNoModelsFound,
		"no models found under "+root,
		"check generator.models_path points at your schema directory",
		"schema files need a `kind: Model` export or a top-level field map",
		"check generator.extensions and generator.exclude")
}

func joinFieldTypes() string {
	names := make([]string, 0, len(models.FieldTypes))
	for _, t := range models.FieldTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
