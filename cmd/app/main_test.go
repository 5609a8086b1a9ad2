package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/pipeline"
	"github.com/starford/typegen/internal/writer"
)

func TestExitCode(t *testing.T) {
	noModels := apperr.New(apperr.CodeNoModelsFound, "no models found under ./models")
	failed := &pipeline.Result{ExtractFailures: []pipeline.Failure{{Path: "bad.yaml", Error: "boom"}}}

	cases := []struct {
		name string
		res  *pipeline.Result
		err  error
		want int
	}{
		{"ok", &pipeline.Result{}, nil, exitOK},
		{"partial failure", failed, nil, exitFailure},
		{"nothing to generate", &pipeline.Result{}, noModels, exitNoModels},
		{"failures outrank no models", failed, noModels, exitFailure},
		{"hard error", nil, errors.New("render"), exitFailure},
	}
	for _, tc := range cases {
		if got := exitCode(tc.res, tc.err); got != tc.want {
			t.Errorf("%s: exit code = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	res := &pipeline.Result{
		Models: []string{"Post", "User"},
		Files: []writer.Result{
			{Path: "types/models.ts", Success: true},
			{Path: "types/index.ts", Success: true, Unchanged: true},
		},
		ValidationFailures: []pipeline.Failure{{Path: "dup.yaml", Model: "User", Error: "duplicate"}},
		Duration:           1500 * time.Microsecond,
	}
	var buf bytes.Buffer
	printSummary(&buf, res)
	out := buf.String()

	for _, want := range []string{
		"  wrote      types/models.ts\n",
		"  unchanged  types/index.ts\n",
		"  error      dup.yaml (User): duplicate\n",
		"2 models, 1 files written, 1 failed in 2ms\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
