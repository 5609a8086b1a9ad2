package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/typegen/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error       string   `json:"error"`
	Code        string   `json:"code,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// codedBody renders a coded application error.
func codedBody(e *apperr.Error) errResponse {
	return errResponse{Error: e.Cause, Code: string(e.Code), Suggestions: e.Suggestions}
}
