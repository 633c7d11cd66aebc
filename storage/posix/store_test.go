package posix

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestCommitThenOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	th, err := s.ReserveTemp()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := th.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(th, 0); err != nil {
		t.Fatal(err)
	}

	rc, err := s.Open(0)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	if _, err := os.Stat(filepath.Join(dir, "0")); err != nil {
		t.Fatalf("blob 0 not found on disk: %v", err)
	}
}

func TestDiscardRemovesTemp(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	th, err := s.ReserveTemp()
	if err != nil {
		t.Fatal(err)
	}
	path := th.path
	s.Discard(th)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("discarded temp file still exists: %v", err)
	}
}

func TestListIndices(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 3; i++ {
		th, err := s.ReserveTemp()
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Commit(th, i); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListIndices()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || !got[0] || !got[1] || !got[2] {
		t.Fatalf("ListIndices() = %v, want {0,1,2}", got)
	}
}
