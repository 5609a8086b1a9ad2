// Package writer persists generated files with backup and rollback so a
// destination is either fully replaced or left untouched.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/checksum"
)

// BackupSuffix is appended to a destination path to name its backup.
const BackupSuffix = ".bak"

// Result is the outcome of writing one file.
type Result struct {
	Path          string `json:"path"`
	Success       bool   `json:"success"`
	BackupCreated bool   `json:"backupCreated"`
	// Unchanged is set when the destination already held the content and
	// nothing was written.
	Unchanged bool   `json:"unchanged,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	Err       error  `json:"-"`
}

// File is a pending write.
type File struct {
	Path    string
	Content []byte
}

// BatchResult aggregates WriteMultiple.
type BatchResult struct {
	Results   []Result
	Succeeded int
	Failed    int
}

// Writer writes files atomically.
type Writer struct {
	ops    fileOps
	logger *slog.Logger
}

// New creates a Writer backed by the local file system.
func New(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{ops: osOps{}, logger: logger}
}

// Write replaces path with content. On any failure the previous content is
// restored and the failure is returned in the result, never as a panic.
func (w *Writer) Write(path string, content []byte) Result {
	res := Result{Path: path, Checksum: checksum.Sum(content)}
	dir := filepath.Dir(path)

	fail := func(step string, err error) Result {
		res.Success = false
		res.Err = apperr.Wrap(fmt.Errorf("%s %s: %w", step, path, err), apperr.CodeWriteFailed,
			fmt.Sprintf("could not write %s", filepath.Base(path)),
			"check that the output directory exists and is writable",
			"check free disk space")
		return res
	}

	if err := w.ops.MkdirAll(dir); err != nil {
		return fail("mkdir", err)
	}
	if err := w.ops.CheckWritable(dir); err != nil {
		return fail("check permission", err)
	}

	existing, err := w.ops.ReadFile(path)
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fail("read existing", err)
	}
	if exists && bytes.Equal(existing, content) {
		res.Success = true
		res.Unchanged = true
		return res
	}

	backup := path + BackupSuffix
	if exists {
		if err := w.ops.CopyFile(path, backup); err != nil {
			_ = w.ops.Remove(backup)
			return fail("backup", err)
		}
		res.BackupCreated = true
	}

	tmp, err := w.ops.WriteTemp(dir, tempPattern(path), content, fileMode(path))
	if err != nil {
		w.rollback(path, backup, existing, res.BackupCreated)
		return fail("write", err)
	}
	if err := w.ops.Rename(tmp, path); err != nil {
		_ = w.ops.Remove(tmp)
		w.rollback(path, backup, existing, res.BackupCreated)
		return fail("rename", err)
	}

	if res.BackupCreated {
		if err := w.ops.Remove(backup); err != nil {
			w.logger.Warn("writer: remove backup failed",
				slog.String("path", backup),
				slog.String("error", err.Error()))
		}
	}
	res.Success = true
	return res
}

// rollback restores path from its backup when its content no longer
// matches the original, then removes the backup.
func (w *Writer) rollback(path, backup string, original []byte, hasBackup bool) {
	if !hasBackup {
		return
	}
	current, err := w.ops.ReadFile(path)
	if err != nil || !bytes.Equal(current, original) {
		if cpErr := w.ops.CopyFile(backup, path); cpErr != nil {
			w.logger.Error("writer: restore from backup failed",
				slog.String("path", path),
				slog.String("backup", backup),
				slog.String("error", cpErr.Error()))
			return
		}
		w.logger.Warn("writer: restored from backup", slog.String("path", path))
	}
	if err := w.ops.Remove(backup); err != nil {
		w.logger.Warn("writer: remove backup failed",
			slog.String("path", backup),
			slog.String("error", err.Error()))
	}
}

// WriteMultiple writes each file independently; a failure does not stop
// the remaining writes.
func (w *Writer) WriteMultiple(files []File) BatchResult {
	var out BatchResult
	out.Results = make([]Result, 0, len(files))
	for _, f := range files {
		r := w.Write(f.Path, f.Content)
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
			w.logger.Warn("writer: write failed",
				slog.String("path", f.Path),
				slog.String("error", r.Err.Error()))
		}
		out.Results = append(out.Results, r)
	}
	return out
}
