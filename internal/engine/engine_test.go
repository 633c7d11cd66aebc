package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/archiveproof/archiveproof/internal/hasher"
	"github.com/archiveproof/archiveproof/internal/merkle"
	"github.com/archiveproof/archiveproof/internal/telemetry"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "db.bin"), filepath.Join(dir, "files"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestS1SingleFile(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	body := []byte("hello")
	declared := hasher.HashBytes(body)
	idx, root, err := e.Upload(ctx, "h.txt", declared, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("index = %d, want 0", idx)
	}
	if root != declared {
		t.Fatalf("root = %x, want %x", root, declared)
	}

	filename, proof, rc, err := e.Download(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	if filename != "h.txt" {
		t.Fatalf("filename = %q, want %q", filename, "h.txt")
	}
	if len(proof.Siblings) != 0 {
		t.Fatalf("siblings = %d, want 0", len(proof.Siblings))
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("body = %q, want %q", got, body)
	}
}

func TestS4IntegrityMismatch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wrong := hasher.HashBytes([]byte("HELLO"))
	_, _, err := e.Upload(ctx, "h.txt", wrong, bytes.NewReader([]byte("hello")))
	if err == nil {
		t.Fatal("expected IntegrityMismatch error")
	}
	var archErr *Error
	if !errors.As(err, &archErr) || archErr.Kind != KindIntegrityMismatch {
		t.Fatalf("err = %v, want KindIntegrityMismatch", err)
	}
	if e.Count(ctx) != 0 {
		t.Fatalf("Count() = %d, want 0 after rejected upload", e.Count(ctx))
	}
}

func TestEmptyArchiveErrors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Root(ctx)
	var archErr *Error
	if !errors.As(err, &archErr) || archErr.Kind != KindEmpty {
		t.Fatalf("Root() err = %v, want KindEmpty", err)
	}

	_, err = e.Proof(ctx, 0)
	if !errors.As(err, &archErr) || archErr.Kind != KindNotFound {
		t.Fatalf("Proof(0) err = %v, want KindNotFound", err)
	}
}

func TestS5ConcurrentUploads(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	const n = 16

	var wg sync.WaitGroup
	indices := make([]uint64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := []byte{byte(i), byte(i), byte(i)}
			declared := hasher.HashBytes(body)
			idx, _, err := e.Upload(ctx, "f", declared, bytes.NewReader(body))
			indices[i] = idx
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("upload %d failed: %v", i, err)
		}
		seen[indices[i]] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct indices, want %d (permutation of 0..%d)", len(seen), n, n-1)
	}
	for i := uint64(0); i < n; i++ {
		if !seen[i] {
			t.Fatalf("index %d never assigned", i)
		}
	}
	if e.Count(ctx) != n {
		t.Fatalf("Count() = %d, want %d", e.Count(ctx), n)
	}
}

func TestS6Restart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db.bin")
	filesDir := filepath.Join(dir, "files")
	ctx := context.Background()

	e1, err := Open(dbPath, filesDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	b0 := []byte("hello")
	b1 := []byte("world")
	e1.Upload(ctx, "h.txt", hasher.HashBytes(b0), bytes.NewReader(b0))
	_, preRestartRoot, err := e1.Upload(ctx, "w.txt", hasher.HashBytes(b1), bytes.NewReader(b1))
	if err != nil {
		t.Fatal(err)
	}

	e2, err := Open(dbPath, filesDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	root, err := e2.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != preRestartRoot {
		t.Fatalf("root after restart = %x, want %x", root, preRestartRoot)
	}

	for i, want := range [][]byte{b0, b1} {
		filename, proof, rc, err := e2.Download(ctx, uint64(i))
		if err != nil {
			t.Fatal(err)
		}
		got, _ := io.ReadAll(rc)
		rc.Close()
		if !bytes.Equal(got, want) {
			t.Fatalf("download(%d) body = %q, want %q", i, got, want)
		}
		leaf := hasher.HashBytes(want)
		if !merkle.Verify(leaf, *proof, root) {
			t.Fatalf("download(%d) proof for %q failed to verify", i, filename)
		}
	}
}

func TestDownloadNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, _, _, err := e.Download(context.Background(), 0)
	var archErr *Error
	if !errors.As(err, &archErr) || archErr.Kind != KindNotFound {
		t.Fatalf("err = %v, want KindNotFound", err)
	}
}

func TestFlushPersistsSnapshot(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db.bin")
	filesDir := filepath.Join(dir, "files")
	ctx := context.Background()

	e1, err := Open(dbPath, filesDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	body := []byte("flush me")
	_, root, err := e1.Upload(ctx, "f.txt", hasher.HashBytes(body), bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if err := e1.Flush(); err != nil {
		t.Fatalf("Flush() = %v, want nil", err)
	}

	e2, err := Open(dbPath, filesDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := e2.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Fatalf("root after reopen = %x, want %x", got, root)
	}
}

func TestUploadDownloadObserveByteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "db.bin"), filepath.Join(dir, "files"), metrics)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	body := []byte("twelve bytes")
	_, _, err = e.Upload(ctx, "m.txt", hasher.HashBytes(body), bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if n := histogramSampleCount(t, metrics.UploadBytes); n != 1 {
		t.Fatalf("UploadBytes observation count = %d, want 1", n)
	}

	_, _, rc, err := e.Download(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(rc); err != nil {
		t.Fatal(err)
	}
	if err := rc.Close(); err != nil {
		t.Fatal(err)
	}
	if n := histogramSampleCount(t, metrics.DownloadBytes); n != 1 {
		t.Fatalf("DownloadBytes observation count = %d, want 1", n)
	}
}

// histogramSampleCount returns how many observations h has recorded.
func histogramSampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetHistogram().GetSampleCount()
}
