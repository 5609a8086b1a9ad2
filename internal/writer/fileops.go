package writer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// fileOps is the set of file system steps used by Writer.
type fileOps interface {
	MkdirAll(dir string) error
	CheckWritable(dir string) error
	ReadFile(path string) ([]byte, error)
	CopyFile(src, dst string) error
	WriteTemp(dir, pattern string, data []byte, perm fs.FileMode) (string, error)
	Rename(oldPath, newPath string) error
	Remove(path string) error
}

type osOps struct{}

func (osOps) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// CheckWritable tests dir by creating and removing an empty file.
func (osOps) CheckWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".typegen-check-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (osOps) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (osOps) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// WriteTemp writes data to a new temp file in dir: write, fsync, chmod,
// close. The temp file is removed on any failure.
func (osOps) WriteTemp(dir, pattern string, data []byte, perm fs.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return "", fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp: %w", err)
	}
	success = true
	return tmpName, nil
}

func (osOps) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (osOps) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func fileMode(path string) fs.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

func tempPattern(path string) string {
	return "." + filepath.Base(path) + ".tmp-*"
}
