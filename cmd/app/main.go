package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/typegen/internal"
	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/pipeline"
	pkgconfig "github.com/starford/typegen/pkg/config"
)

var version = "dev"

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitNoModels  = 2
	defaultConfig = "config/config.yaml"
)

// exitError carries the process exit code out of a command action.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config file",
			DefaultText: defaultConfig,
			Value:       defaultConfig,
			Sources:     cli.EnvVars("APP_CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:  "models",
			Usage: "Directory containing schema files",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory (or .ts file in single mode)",
		},
		&cli.StringFlag{
			Name:  "mode",
			Usage: "Output mode: single or separate",
		},
		&cli.BoolFlag{
			Name:  "resolve-references",
			Usage: "Type reference fields as string | Model",
		},
	}
}

// loadConfig merges defaults, the config file and flag overrides, in that
// order, and validates the result.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()

	path := cmd.String("config")
	if _, err := pkgconfig.DecodeOptional(path, cfg); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "cannot read "+path,
			"check the YAML syntax of the config file")
	}

	var o internal.Overrides
	if cmd.IsSet("models") {
		v := cmd.String("models")
		o.ModelsPath = &v
	}
	if cmd.IsSet("output") {
		v := cmd.String("output")
		o.OutputPath = &v
	}
	if cmd.IsSet("mode") {
		v := cmd.String("mode")
		o.OutputMode = &v
	}
	if cmd.IsSet("resolve-references") {
		v := cmd.Bool("resolve-references")
		o.ResolveReferences = &v
	}
	o.Apply(cfg)

	if err := pkgconfig.Validate(cfg); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "invalid configuration",
			"fix the reported field in "+path+" or on the command line")
	}
	return cfg, nil
}

func options(cfg *internal.Config) []internal.Option {
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}
}

func generate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	res, err := internal.Generate(ctx, options(cfg)...)
	if res != nil {
		printSummary(os.Stdout, res)
	}
	if code := exitCode(res, err); code != exitOK {
		return &exitError{code: code, err: err}
	}
	return nil
}

func watch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	if err := internal.Run(ctx, options(cfg)...); err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("watch: %w", err)}
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	if err := internal.ServeMCP(ctx, options(cfg)...); err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("mcp: %w", err)}
	}
	return nil
}

// exitCode maps a generation outcome to the process exit code. Failed
// files outrank an empty model set.
func exitCode(res *pipeline.Result, err error) int {
	if res != nil && res.Failed() > 0 {
		return exitFailure
	}
	switch {
	case err == nil:
		return exitOK
	case apperr.HasCode(err, apperr.CodeNoModelsFound):
		return exitNoModels
	default:
		return exitFailure
	}
}

func printSummary(w io.Writer, res *pipeline.Result) {
	for _, f := range res.Files {
		switch {
		case !f.Success:
			fmt.Fprintf(w, "  failed     %s\n", f.Path)
		case f.Unchanged:
			fmt.Fprintf(w, "  unchanged  %s\n", f.Path)
		default:
			fmt.Fprintf(w, "  wrote      %s\n", f.Path)
		}
	}
	for _, group := range [][]pipeline.Failure{res.ExtractFailures, res.ValidationFailures, res.WriteFailures} {
		for _, f := range group {
			if f.Model != "" {
				fmt.Fprintf(w, "  error      %s (%s): %s\n", f.Path, f.Model, f.Error)
				continue
			}
			fmt.Fprintf(w, "  error      %s: %s\n", f.Path, f.Error)
		}
	}
	fmt.Fprintf(w, "%d models, %d files written, %d failed in %s\n",
		len(res.Models), res.Written(), res.Failed(), res.Duration.Round(time.Millisecond))
}

func main() {
	cmd := &cli.Command{
		Name:    "typegen",
		Usage:   "Generate TypeScript declarations from Mongoose-style schema files",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Run one generation pass and exit",
				Flags:  commonFlags(),
				Action: generate,
			},
			{
				Name:   "watch",
				Usage:  "Regenerate whenever a schema file changes",
				Flags:  commonFlags(),
				Action: watch,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the generator as MCP tools over stdio",
				Flags:  commonFlags(),
				Action: serveMCP,
			},
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err == nil {
		return
	}

	var exit *exitError
	if !errors.As(err, &exit) {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(exitFailure)
	}
	if exit.err != nil {
		fmt.Fprintln(os.Stderr, apperr.Format(exit.err))
	}
	os.Exit(exit.code)
}
