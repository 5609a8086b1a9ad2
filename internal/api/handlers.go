package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/history"
	"github.com/starford/typegen/internal/models"
	"github.com/starford/typegen/internal/pipeline"
)

// ModelLister extracts the current models without generating output.
type ModelLister interface {
	Models(ctx context.Context) ([]models.Model, error)
}

// Trigger schedules a generation run.
type Trigger interface {
	Notify(path string)
}

// maxRunsLimit caps GET /runs?limit=.
const maxRunsLimit = 200

// Handler holds API route handlers.
type Handler struct {
	lister  ModelLister
	store   history.Store
	trigger Trigger
	logger  *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(lister ModelLister, store history.Store, trigger Trigger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{lister: lister, store: store, trigger: trigger, logger: logger}
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List generation runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum number of runs"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	runs, err := h.store.ListRuns(limit)
	if err != nil {
		h.logger.Error("api: list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if runs == nil {
		runs = []history.RunRow{}
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// LastRun handles GET /api/runs/last.
//
//	@Summary		Get the most recent generation run
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	history.RunRow
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/last [get]
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.LastRun()
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("no runs yet"))
		} else {
			h.logger.Error("api: last run failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListModels handles GET /api/models.
//
//	@Summary		List the models found in the schema directory
//	@Tags			models
//	@Produce		json
//	@Success		200	{object}	ModelListResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/models [get]
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	ms, err := h.lister.Models(r.Context())
	if err != nil {
		var coded *apperr.Error
		switch {
		case errors.As(err, &coded) && coded.Code == apperr.CodeNoModelsFound:
			writeJSON(w, http.StatusNotFound, codedBody(coded))
		default:
			h.logger.Error("api: list models failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	if ms == nil {
		ms = []models.Model{}
	}
	writeJSON(w, http.StatusOK, ModelListResponse{Models: ms, Total: len(ms)})
}

// ListOutputs handles GET /api/outputs.
//
//	@Summary		List generated files and their checksums
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	OutputListResponse
//	@Security		BearerAuth
//	@Router			/outputs [get]
func (h *Handler) ListOutputs(w http.ResponseWriter, r *http.Request) {
	outs, err := h.store.Outputs()
	if err != nil {
		h.logger.Error("api: list outputs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if outs == nil {
		outs = []history.OutputRow{}
	}
	writeJSON(w, http.StatusOK, OutputListResponse{Outputs: outs})
}

// Generate handles POST /api/generate. The run is scheduled through the
// watcher so it is debounced and never overlaps another run.
//
//	@Summary		Schedule a generation run
//	@Tags			runs
//	@Produce		json
//	@Success		202	{object}	GenerateResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/generate [post]
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("generation is not available"))
		return
	}
	h.trigger.Notify(pipeline.TriggerAPI)
	writeJSON(w, http.StatusAccepted, GenerateResponse{Status: "scheduled"})
}
