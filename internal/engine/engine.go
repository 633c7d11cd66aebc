// Package engine implements the archive engine (component F): the
// transaction boundary that glues the in-memory database to the file
// store, serializes writers, and defines the upload/download transactions
// and durability rules.
package engine

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/archiveproof/archiveproof/internal/archive"
	"github.com/archiveproof/archiveproof/internal/hasher"
	"github.com/archiveproof/archiveproof/internal/merkle"
	"github.com/archiveproof/archiveproof/internal/telemetry"
	"github.com/archiveproof/archiveproof/storage/posix"
)

const chunkBufferSize = 32 * 1024

const proofCacheSize = 4096

// Engine is the single process-wide archive engine. One shared instance
// owns the database and file store; readers take a shared lock and writers
// (upload commits) are serialized to at most one in flight at a time.
type Engine struct {
	mu      sync.RWMutex // guards db + dbPath consistency; readers RLock, writers Lock
	db      *archive.Database
	store   *posix.Store
	dbPath  string
	cache   *proofCache
	metrics *telemetry.Metrics
}

// Open loads the database at dbPath (initializing an empty one if absent)
// and opens the file store at filesDir, reconciling any orphaned blobs left
// by a crash between the database replace and the blob rename.
func Open(dbPath, filesDir string, metrics *telemetry.Metrics) (*Engine, error) {
	db, err := loadOrInit(dbPath)
	if err != nil {
		return nil, &Error{Kind: KindCorruption, Err: err}
	}
	store, err := posix.NewStore(filesDir)
	if err != nil {
		return nil, &Error{Kind: KindIO, Err: err}
	}
	e := &Engine{db: db, store: store, dbPath: dbPath, cache: newProofCache(proofCacheSize), metrics: metrics}
	e.reconcileOrphans()
	return e, nil
}

func loadOrInit(path string) (*archive.Database, error) {
	db, err := archive.LoadFromFile(path)
	if err == nil {
		return db, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return archive.New(), nil
	}
	return nil, err
}

// reconcileOrphans logs (but does not delete) any blob on disk whose index
// is >= the database's count: per §9, such a blob was written by a commit
// that crashed before the database replace and is simply ignored.
func (e *Engine) reconcileOrphans() {
	present, err := e.store.ListIndices()
	if err != nil {
		klog.Warningf("engine: could not scan file store for orphans: %v", err)
		return
	}
	count := e.db.Count()
	for idx := range present {
		if idx >= count {
			klog.Warningf("engine: ignoring orphan blob %d (database count is %d)", idx, count)
		}
	}
}

// Count returns the current number of archived files.
func (e *Engine) Count(ctx context.Context) uint64 {
	_, span := telemetry.StartSpan(ctx, "Engine.Count")
	defer span.End()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.db.Count()
}

// Root returns the current Merkle root, failing with KindEmpty if the
// archive has no entries.
func (e *Engine) Root(ctx context.Context) (hasher.Hash, error) {
	_, span := telemetry.StartSpan(ctx, "Engine.Root")
	defer span.End()
	e.mu.RLock()
	defer e.mu.RUnlock()
	root, ok := e.db.Root()
	if !ok {
		return hasher.Hash{}, newErr(KindEmpty, "archive is empty")
	}
	return root, nil
}

// Proof returns the inclusion proof for index i, failing with KindNotFound
// if i is out of range. The result is cached keyed by (i, count) so repeat
// requests against a stable tree size skip recomputation.
func (e *Engine) Proof(ctx context.Context, i uint64) (*merkle.Proof, error) {
	_, span := telemetry.StartSpan(ctx, "Engine.Proof")
	defer span.End()

	e.mu.RLock()
	defer e.mu.RUnlock()

	count := e.db.Count()
	if i >= count {
		return nil, newErr(KindNotFound, "index %d >= count %d", i, count)
	}
	if p, ok := e.cache.get(i, count); ok {
		return p, nil
	}
	p, ok := e.db.Proof(i)
	if !ok {
		return nil, newErr(KindNotFound, "index %d >= count %d", i, count)
	}
	e.cache.put(i, count, p)
	return p, nil
}

// Upload runs the upload transaction described by §4.F: chunks are hashed
// and staged to a temp file lock-free, the declared hash is checked before
// any mutation is attempted, and only the brief commit (blob rename,
// in-memory append, snapshot replace, in that order) is serialized against
// other writers.
func (e *Engine) Upload(ctx context.Context, filename string, declared hasher.Hash, body io.Reader) (index uint64, root hasher.Hash, err error) {
	ctx, span := telemetry.StartSpan(ctx, "Engine.Upload")
	defer span.End()

	if err := archive.ValidateFilename(filename); err != nil {
		return 0, hasher.Hash{}, &Error{Kind: KindProtocolViolation, Err: err}
	}

	temp, err := e.store.ReserveTemp()
	if err != nil {
		return 0, hasher.Hash{}, &Error{Kind: KindIO, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			e.store.Discard(temp)
		}
	}()

	computed, nBytes, ingestErr := ingest(ctx, temp, body)
	if ingestErr != nil {
		var fpe *FrameProtocolError
		switch {
		case errors.As(ingestErr, &fpe):
			return 0, hasher.Hash{}, &Error{Kind: KindProtocolViolation, Err: fpe.Err}
		case errors.Is(ingestErr, context.Canceled), errors.Is(ingestErr, context.DeadlineExceeded):
			return 0, hasher.Hash{}, &Error{Kind: KindCancelled, Err: ingestErr}
		default:
			return 0, hasher.Hash{}, &Error{Kind: KindIO, Err: ingestErr}
		}
	}

	if !hasher.Equal(computed, declared) {
		if e.metrics != nil {
			e.metrics.IntegrityFailure.Inc()
		}
		return 0, hasher.Hash{}, newErr(KindIntegrityMismatch, "computed hash %x != declared %x", computed, declared)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	// The blob is committed to disk before the in-memory append: if Commit
	// fails, the transaction aborts with nothing observable having changed
	// (Count/Root still reflect only what's on disk). Appending first and
	// committing second would let a failed Commit leave the in-memory tree
	// and entry table ahead of both the blob store and the persisted
	// snapshot, which a reader could observe and which the next upload
	// would then misindex against.
	idx := e.db.Count()
	if err := e.store.Commit(temp, idx); err != nil {
		return 0, hasher.Hash{}, &Error{Kind: KindIO, Err: err}
	}
	committed = true

	assigned, err := e.db.Append(filename, computed)
	if err != nil {
		// The blob is already committed at idx with no matching entry; it's
		// left in place as an orphan for reconcileOrphans to log on restart.
		return 0, hasher.Hash{}, &Error{Kind: KindProtocolViolation, Err: err}
	}
	if assigned != idx {
		// Can't happen while writers are serialized by e.mu, but would mean
		// the blob on disk and the entry table have diverged indices.
		klog.Fatalf("engine: committed blob at index %d but database assigned index %d", idx, assigned)
	}

	if err := e.db.SaveToFile(e.dbPath); err != nil {
		// The append and blob rename already succeeded: per §7 this is the
		// one failure mode that can strand state, and it is fatal.
		klog.Fatalf("engine: database replace failed after commit of index %d: %v", idx, err)
	}

	if e.metrics != nil {
		e.metrics.Uploads.Inc()
		e.metrics.UploadBytes.Observe(float64(nBytes))
		e.metrics.ObserveCommit(start)
	}

	newRoot, _ := e.db.Root()
	return idx, newRoot, nil
}

// ingest streams body into temp while feeding a streaming SHA-256, honoring
// ctx cancellation between chunks. Disk writes and hash updates for a given
// chunk run concurrently via an errgroup, following the rule that hashing
// work beyond a single chunk should be offloaded from the I/O path. It
// returns the total number of bytes ingested alongside the digest, for the
// caller to record as an upload-size observation.
func ingest(ctx context.Context, temp io.Writer, body io.Reader) (hasher.Hash, int64, error) {
	h := sha256.New()
	buf := make([]byte, chunkBufferSize)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return hasher.Hash{}, total, ctx.Err()
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if err := writeAndHash(temp, h, chunk); err != nil {
				return hasher.Hash{}, total, err
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return hasher.Hash{}, total, readErr
		}
	}
	var sum hasher.Hash
	copy(sum[:], h.Sum(nil))
	return sum, total, nil
}

func writeAndHash(w io.Writer, h hash.Hash, chunk []byte) error {
	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := w.Write(chunk)
		return err
	})
	g.Go(func() error {
		_, err := h.Write(chunk)
		return err
	})
	return g.Wait()
}

// Download runs the download transaction described by §4.F: entry and
// proof are resolved under a reader lock, which is released before the
// blob's bytes are streamed (safe, since entries are immutable once
// appended).
func (e *Engine) Download(ctx context.Context, i uint64) (filename string, proof *merkle.Proof, body io.ReadCloser, err error) {
	ctx, span := telemetry.StartSpan(ctx, "Engine.Download")
	defer span.End()

	e.mu.RLock()
	count := e.db.Count()
	if i >= count {
		e.mu.RUnlock()
		return "", nil, nil, newErr(KindNotFound, "index %d >= count %d", i, count)
	}
	entry, ok := e.db.Entry(i)
	if !ok {
		e.mu.RUnlock()
		return "", nil, nil, newErr(KindNotFound, "index %d >= count %d", i, count)
	}
	p, cached := e.cache.get(i, count)
	if !cached {
		p, ok = e.db.Proof(i)
		if !ok {
			e.mu.RUnlock()
			return "", nil, nil, newErr(KindNotFound, "index %d >= count %d", i, count)
		}
		e.cache.put(i, count, p)
	}
	e.mu.RUnlock()

	rc, err := e.store.Open(i)
	if err != nil {
		return "", nil, nil, &Error{Kind: KindIO, Err: fmt.Errorf("open blob %d: %w", i, err)}
	}
	if e.metrics != nil {
		e.metrics.Downloads.Inc()
		rc = &countingReadCloser{ReadCloser: rc, observe: e.metrics.DownloadBytes.Observe}
	}
	return entry.Filename, p, rc, nil
}

// countingReadCloser counts bytes read through it and reports the total,
// once, to observe when the stream is closed. Download's body is read by
// the service layer as it streams to the client, so byte-size observation
// has to ride along on the returned io.ReadCloser rather than happen inside
// Download itself.
type countingReadCloser struct {
	io.ReadCloser
	observe func(float64)
	n       int64
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	if c.observe != nil {
		c.observe(float64(c.n))
		c.observe = nil
	}
	return c.ReadCloser.Close()
}

// DBPath returns the path the database snapshot is persisted to, primarily
// for tests and startup logging.
func (e *Engine) DBPath() string { return e.dbPath }

// Flush persists the current database state to disk. Every successful
// commit already writes the same snapshot synchronously (Upload calls
// SaveToFile directly), so in steady state Flush is a
// no-op write of identical bytes; it exists so a graceful shutdown path has
// an explicit, named step to call rather than relying on that synchronous
// behavior implicitly.
func (e *Engine) Flush() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.db.SaveToFile(e.dbPath); err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	return nil
}
