package api

import (
	"github.com/starford/typegen/internal/history"
	"github.com/starford/typegen/internal/models"
)

// RunListResponse wraps run history listings, newest first.
type RunListResponse struct {
	Runs []history.RunRow `json:"runs"`
}

// ModelListResponse wraps the models currently extracted from the schema
// directory.
type ModelListResponse struct {
	Models []models.Model `json:"models"`
	Total  int            `json:"total" example:"3"`
}

// OutputListResponse wraps the generated files recorded in history.
type OutputListResponse struct {
	Outputs []history.OutputRow `json:"outputs"`
}

// GenerateResponse is returned when a generation run has been scheduled.
type GenerateResponse struct {
	Status string `json:"status" example:"scheduled"`
}
