// Package testutil provides shared test helpers for setting up schema
// projects and history databases.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/typegen/internal/history"
)

// TestDB creates a temporary history database that is automatically cleaned up.
func TestDB(t *testing.T) *history.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "typegen-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := history.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestProject creates a temporary project with a models directory holding
// files (relative path to content) and returns the models and output
// directories. The output directory is not created.
func TestProject(t *testing.T, files map[string]string) (modelsDir, outputDir string) {
	t.Helper()
	root := t.TempDir()
	modelsDir = filepath.Join(root, "models")
	outputDir = filepath.Join(root, "types")
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		WriteFile(t, filepath.Join(modelsDir, rel), content)
	}
	return modelsDir, outputDir
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of path or fails the test.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// UserSchema is a model export with a reference and timestamps.
const UserSchema = `User:
  kind: Model
  name: User
  schema:
    name: { type: String, required: true }
    age: Number
    role: { type: String, enum: [admin, member] }
  options:
    timestamps: true
`

// PostSchema is a bare schema; its model name comes from the file name.
const PostSchema = `title: String
tags: [String]
author: { type: ObjectId, ref: User }
`
