package pipeline

import (
	"time"

	"github.com/starford/typegen/internal/writer"
)

// Failure is one file or model that did not make it into the output.
type Failure struct {
	Path  string `json:"path"`
	Model string `json:"model,omitempty"`
	Error string `json:"error"`
}

// Result is the outcome of one generation pass.
type Result struct {
	RunID              int64           `json:"runId"`
	Trigger            string          `json:"trigger"`
	Status             string          `json:"status"`
	Models             []string        `json:"models"`
	Files              []writer.Result `json:"files"`
	ExtractFailures    []Failure       `json:"extractFailures,omitempty"`
	ValidationFailures []Failure       `json:"validationFailures,omitempty"`
	WriteFailures      []Failure       `json:"writeFailures,omitempty"`
	Warnings           []string        `json:"warnings,omitempty"`
	Duration           time.Duration   `json:"duration"`
}

// Failed returns the number of files and models that failed.
func (r *Result) Failed() int {
	return len(r.ExtractFailures) + len(r.ValidationFailures) + len(r.WriteFailures)
}

// OK reports whether every file and model succeeded.
func (r *Result) OK() bool {
	return r.Failed() == 0
}

// Written returns the number of files whose content changed.
func (r *Result) Written() int {
	n := 0
	for _, f := range r.Files {
		if f.Success && !f.Unchanged {
			n++
		}
	}
	return n
}
