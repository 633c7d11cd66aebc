// Package atomicfile provides the create-temp/fsync/rename/fsync-directory
// dance used everywhere the archive needs a durable, atomically-visible
// write: both the database snapshot and the file store's blob commits rely
// on it. Adapted from the teacher's storage/posix file_ops helpers.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	DirPerm  = 0o755
	FilePerm = 0o644
)

// SyncDir fsyncs the directory at path so that directory-entry mutations
// (create, rename) made within it are durable.
func SyncDir(path string) error {
	fd, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dir %q: %w", path, err)
	}
	if err := fd.Sync(); err != nil {
		_ = fd.Close()
		return fmt.Errorf("fsync dir %q: %w", path, err)
	}
	return fd.Close()
}

// MkdirAll creates dir (and parents) if needed, then fsyncs dir's parent so
// the new directory entry is durable. Intermediate parents created along
// the way are not fsynced.
func MkdirAll(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	return SyncDir(filepath.Dir(filepath.Clean(dir)))
}

// CreateTemp creates a uniquely-named temp file in dir, opened for
// read-write. The name is randomized with a UUID so concurrent callers never
// collide. The caller owns closing/removing/renaming it.
func CreateTemp(dir, prefix string) (*os.File, string, error) {
	name := filepath.Join(dir, prefix+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, FilePerm)
	if err != nil {
		return nil, "", fmt.Errorf("create temp %q: %w", name, err)
	}
	return f, name, nil
}

// Overwrite atomically replaces the file at path with data: write to a temp
// file in the same directory, fsync it, rename over path, then fsync the
// directory so the rename is durable.
func Overwrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := MkdirAll(dir); err != nil {
		return err
	}
	f, tmp, err := CreateTemp(dir, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp %q: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("fsync temp %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %q -> %q: %w", tmp, path, err)
	}
	return SyncDir(dir)
}
