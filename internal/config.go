package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/typegen/internal/extractor"
	"github.com/starford/typegen/internal/generator"
	"github.com/starford/typegen/internal/pipeline"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Generator GeneratorConfig   `yaml:"generator"`
	History   HistoryConfig     `yaml:"history"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.Required, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds the optional status server configuration. The server
// only runs in watch mode.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Token   string `yaml:"token"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AuthEnabled returns true when a bearer token is required.
func (c *HTTPConfig) AuthEnabled() bool {
	return c.Token != ""
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.When(c.Enabled, validation.Required, validation.Min(1), validation.Max(65535))),
	)
}

// Duration is a time.Duration that decodes from a Go duration string
// ("300ms") or a bare integer of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	if ms, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", n.Line, n.Value)
	}
	*d = Duration(v)
	return nil
}

// GeneratorConfig holds the code generation settings.
type GeneratorConfig struct {
	ModelsPath        string            `yaml:"models_path"`
	OutputPath        string            `yaml:"output_path"`
	OutputMode        string            `yaml:"output_mode"`
	OutputFile        string            `yaml:"output_file"`
	WatchDebounce     Duration          `yaml:"watch_debounce"`
	ExportStyle       string            `yaml:"export_style"`
	ResolveReferences bool              `yaml:"resolve_references"`
	Extensions        []string          `yaml:"extensions"`
	Exclude           []string          `yaml:"exclude"`
	CustomTypeMap     map[string]string `yaml:"custom_type_map"`
	Workers           int               `yaml:"workers"`
}

var extensionRe = regexp.MustCompile(`^\.[A-Za-z0-9]+$`)

// Validate validates the generator configuration.
func (c *GeneratorConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ModelsPath, validation.Required),
		validation.Field(&c.OutputPath, validation.Required),
		validation.Field(&c.OutputMode, validation.Required, validation.In(generator.ModeSingle, generator.ModeSeparate)),
		validation.Field(&c.OutputFile, validation.When(c.OutputMode == generator.ModeSingle, validation.Required)),
		validation.Field(&c.WatchDebounce, validation.By(nonNegativeDuration)),
		validation.Field(&c.ExportStyle, validation.Required, validation.In(generator.ExportNamed, generator.ExportDefault)),
		validation.Field(&c.Extensions, validation.Required, validation.Each(validation.Match(extensionRe))),
		validation.Field(&c.Workers, validation.Min(0)),
	); err != nil {
		return err
	}
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("exclude: bad pattern %q", pattern)
		}
	}
	if _, err := extractor.NewTypeMap(c.CustomTypeMap); err != nil {
		return fmt.Errorf("custom_type_map: %w", err)
	}
	return nil
}

func nonNegativeDuration(value any) error {
	if d, ok := value.(Duration); ok && d < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

// PipelineOptions converts the generator settings into pipeline options.
func (c *GeneratorConfig) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		ModelsPath:        c.ModelsPath,
		OutputPath:        c.OutputPath,
		OutputMode:        c.OutputMode,
		OutputFile:        c.OutputFile,
		ExportStyle:       c.ExportStyle,
		ResolveReferences: c.ResolveReferences,
		Extensions:        c.Extensions,
		Exclude:           c.Exclude,
		CustomTypeMap:     c.CustomTypeMap,
		Workers:           c.Workers,
	}
}

// HistoryConfig holds the run history database configuration. An empty path
// keeps history in memory for the lifetime of the process.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Overrides carries command-line flags that take precedence over the
// config file. Nil fields are left alone.
type Overrides struct {
	ModelsPath        *string
	OutputPath        *string
	OutputMode        *string
	ResolveReferences *bool
}

// Apply copies every set override onto c.
func (o Overrides) Apply(c *Config) {
	if o.ModelsPath != nil {
		c.Generator.ModelsPath = *o.ModelsPath
	}
	if o.OutputPath != nil {
		c.Generator.OutputPath = *o.OutputPath
	}
	if o.OutputMode != nil {
		c.Generator.OutputMode = *o.OutputMode
	}
	if o.ResolveReferences != nil {
		c.Generator.ResolveReferences = *o.ResolveReferences
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8090,
			},
		},
		Generator: GeneratorConfig{
			ModelsPath:    "./models",
			OutputPath:    "./types",
			OutputMode:    generator.ModeSingle,
			OutputFile:    generator.DefaultFileName,
			WatchDebounce: Duration(300 * time.Millisecond),
			ExportStyle:   generator.ExportNamed,
			Extensions:    append([]string(nil), extractor.DefaultExtensions...),
			Exclude:       append([]string(nil), extractor.DefaultExclude...),
		},
		History: HistoryConfig{
			Path: "./.typegen/history.db",
		},
	}
}
