// Package posix implements the archive's file store: a flat directory where
// file i is stored under the decimal name "i", published atomically by
// rename from a same-filesystem temp file. Adapted from the teacher's
// storage/posix file_ops idiom (temp-then-rename-then-fsync-directory).
package posix

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/archiveproof/archiveproof/internal/atomicfile"
)

// Store is a flat-file blob store rooted at a single directory.
type Store struct {
	dir string
}

// NewStore creates (if needed) and returns a Store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := atomicfile.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("posix: %w", err)
	}
	return &Store{dir: dir}, nil
}

// TempHandle exclusively owns a not-yet-published temp file until Commit
// transfers it to its final name or Discard removes it.
type TempHandle struct {
	f         *os.File
	path      string
	store     *Store
	finalized bool
}

// Write appends to the temp file; the caller is expected to stream chunks
// through this as they're received.
func (t *TempHandle) Write(p []byte) (int, error) {
	return t.f.Write(p)
}

// ReserveTemp creates a uniquely named temp file in the store's directory.
func (s *Store) ReserveTemp() (*TempHandle, error) {
	f, path, err := atomicfile.CreateTemp(s.dir, "upload")
	if err != nil {
		return nil, fmt.Errorf("posix: reserve temp: %w", err)
	}
	t := &TempHandle{f: f, path: path, store: s}
	runtime.SetFinalizer(t, func(t *TempHandle) {
		if !t.finalized {
			klog.Warningf("posix: temp file %q was garbage collected without Commit or Discard", t.path)
			_ = t.f.Close()
			_ = os.Remove(t.path)
		}
	})
	return t, nil
}

// Commit fsyncs the temp file's contents, renames it to <dir>/<index>, and
// fsyncs the directory so the rename is durable.
func (s *Store) Commit(t *TempHandle, index uint64) error {
	if t.finalized {
		return fmt.Errorf("posix: temp file %q already committed or discarded", t.path)
	}
	if err := t.f.Sync(); err != nil {
		return fmt.Errorf("posix: fsync %q: %w", t.path, err)
	}
	if err := t.f.Close(); err != nil {
		return fmt.Errorf("posix: close %q: %w", t.path, err)
	}
	final := filepath.Join(s.dir, strconv.FormatUint(index, 10))
	if err := os.Rename(t.path, final); err != nil {
		return fmt.Errorf("posix: rename %q -> %q: %w", t.path, final, err)
	}
	if err := atomicfile.SyncDir(s.dir); err != nil {
		return fmt.Errorf("posix: %w", err)
	}
	t.finalized = true
	runtime.SetFinalizer(t, nil)
	return nil
}

// Discard best-effort removes the temp file.
func (s *Store) Discard(t *TempHandle) {
	if t == nil || t.finalized {
		return
	}
	t.finalized = true
	runtime.SetFinalizer(t, nil)
	_ = t.f.Close()
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		klog.Warningf("posix: failed to remove discarded temp file %q: %v", t.path, err)
	}
}

// Open streams the bytes of blob index.
func (s *Store) Open(index uint64) (io.ReadCloser, error) {
	path := filepath.Join(s.dir, strconv.FormatUint(index, 10))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("posix: open %q: %w", path, err)
	}
	return f, nil
}

// ListIndices returns the set of blob indices currently present on disk,
// used at startup to detect orphans left by a crash between commit steps.
func (s *Store) ListIndices() (map[uint64]bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("posix: read dir %q: %w", s.dir, err)
	}
	out := make(map[uint64]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		i, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue // not a decimal blob name (e.g. a leftover .tmp file)
		}
		out[i] = true
	}
	return out, nil
}
