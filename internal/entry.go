// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/typegen/internal/api"
	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/history"
	"github.com/starford/typegen/internal/mcpserver"
	"github.com/starford/typegen/internal/pipeline"
	"github.com/starford/typegen/internal/sse"
	"github.com/starford/typegen/internal/watcher"
)

// runtime holds the components shared by every command.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  history.Store
	svc    *pipeline.Service
	close  func()
}

func setup(opts []Option, publisher pipeline.Publisher) (*application, *runtime, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = newLogger(cfg.App)
		slog.SetDefault(logger)
	}

	logger.Info("Configuration loaded",
		slog.String("models_path", cfg.Generator.ModelsPath),
		slog.String("output_path", cfg.Generator.OutputPath),
		slog.String("output_mode", cfg.Generator.OutputMode),
		slog.String("history_path", cfg.History.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, closeStore, err := openHistory(cfg.History.Path)
	if err != nil {
		return nil, nil, err
	}

	svc, err := pipeline.New(cfg.Generator.PipelineOptions(), store, publisher, logger)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	return app, &runtime{cfg: cfg, logger: logger, store: store, svc: svc, close: closeStore}, nil
}

// newLogger builds the structured logger. Logs go to stderr; stdout carries
// command output and the MCP protocol.
func newLogger(cfg ApplicationConfig) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatText {
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
}

// openHistory opens the SQLite history at path, or an in-memory store when
// path is empty.
func openHistory(path string) (history.Store, func(), error) {
	if path == "" {
		return history.NewMemory(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := history.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("init history: %w", err)
	}
	return db, func() { db.Close() }, nil
}

// Generate runs a single generation pass.
func Generate(ctx context.Context, opts ...Option) (*pipeline.Result, error) {
	_, rt, err := setup(opts, nil)
	if err != nil {
		return nil, err
	}
	defer rt.close()
	return rt.svc.Generate(ctx, pipeline.TriggerCLI)
}

// ServeMCP serves the MCP tools on stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, rt, err := setup(opts, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.logger.Info("MCP server starting", slog.String("transport", "stdio"))
	return mcpserver.New(rt.svc, rt.store, app.version).ServeStdio()
}

// Run starts watch mode: an initial generation pass, then a regeneration
// after every settled burst of schema changes, plus the optional HTTP
// status server.
func Run(ctx context.Context, opts ...Option) error {
	broker := sse.NewBroker(sse.WithChangedThrottle(2 * time.Second))
	defer broker.Close()

	_, rt, err := setup(opts, broker)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger, svc := rt.cfg, rt.logger, rt.svc

	if err := os.MkdirAll(svc.ModelsRoot(), 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}

	runOnce := watchRun(svc, logger)
	if err := runOnce(ctx, nil); err != nil {
		logger.Error("initial generation failed", slog.String("error", err.Error()))
	}

	coord := watcher.New(watcher.Config{
		Roots:    []string{svc.ModelsRoot()},
		Debounce: time.Duration(cfg.Generator.WatchDebounce),
		Match:    svc.Match,
		Ignore:   svc.WatchIgnore(),
		OnRun: func(rep watcher.Report) {
			logger.Debug("watcher: run reported",
				slog.Int("seq", rep.Seq),
				slog.Int("changed", len(rep.Paths)),
				slog.Duration("duration", rep.Duration))
		},
	}, runOnce, logger)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(sigCtx)

	// Start the change coordinator.
	g.Go(func() error {
		return coord.Run(gCtx)
	})

	if cfg.App.HTTP.Enabled {
		httpServer := &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: newRouter(cfg, rt, coord, broker),
		}

		// Start HTTP server.
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})

		// Stop the HTTP server on shutdown.
		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Watcher stopped successfully")
	return nil
}

// watchRun returns the coordinator's run function. A batch holding an API
// request is recorded with the api trigger; file changes alone are watch
// runs. An empty models directory is a warning, not a failure.
func watchRun(svc *pipeline.Service, logger *slog.Logger) watcher.RunFunc {
	return func(ctx context.Context, changed []string) error {
		trigger := pipeline.TriggerWatch
		if slices.Contains(changed, pipeline.TriggerAPI) {
			trigger = pipeline.TriggerAPI
		}
		_, err := svc.Generate(ctx, trigger)
		if apperr.HasCode(err, apperr.CodeNoModelsFound) {
			logger.Warn("watcher: nothing to generate", slog.String("models_path", svc.ModelsRoot()))
			return nil
		}
		return err
	}
}

func newRouter(cfg *Config, rt *runtime, coord *watcher.Coordinator, broker *sse.Broker) http.Handler {
	apiRouter := api.NewRouter(rt.svc, rt.store, coord, cfg.App.HTTP.AuthEnabled(), cfg.App.HTTP.Token, broker, rt.logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	return r
}
