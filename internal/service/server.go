package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/archiveproof/archiveproof/internal/engine"
	"github.com/archiveproof/archiveproof/internal/hasher"
	"github.com/archiveproof/archiveproof/internal/wire"
)

// Server binds the five RPCs from §6 directly to archive engine operations.
// It holds no archive state of its own.
type Server struct {
	engine *engine.Engine
}

// NewServer wraps eng as a service surface.
func NewServer(eng *engine.Engine) *Server {
	return &Server{engine: eng}
}

// Count implements the Count RPC.
func (s *Server) Count(ctx context.Context) uint64 {
	return s.engine.Count(ctx)
}

// Root implements the Root RPC.
func (s *Server) Root(ctx context.Context) (hasher.Hash, error) {
	return s.engine.Root(ctx)
}

// Proof implements the Proof RPC, writing a single framed proof payload to
// w in the wire encoding from §6 (root, then length-prefixed siblings).
func (s *Server) Proof(ctx context.Context, index uint64, w io.Writer) error {
	p, err := s.engine.Proof(ctx, index)
	if err != nil {
		return err
	}
	return wire.EncodeProof(w, p)
}

// frameReader adapts an UploadReceiver's Chunk frames into an io.Reader, the
// shape the engine's Upload transaction wants for streaming ingestion. Any
// frame received that isn't a Chunk (i.e. out-of-order or duplicate
// Metadata/Sha256) is surfaced as an *engine.FrameProtocolError.
type frameReader struct {
	recv UploadReceiver
	buf  []byte
	err  error
}

func (f *frameReader) Read(p []byte) (int, error) {
	for len(f.buf) == 0 {
		if f.err != nil {
			return 0, f.err
		}
		frame, err := f.recv.Recv()
		if err == io.EOF {
			f.err = io.EOF
			return 0, io.EOF
		}
		if err != nil {
			f.err = err
			return 0, err
		}
		if frame.Kind != FrameChunk {
			f.err = &engine.FrameProtocolError{Err: fmt.Errorf("expected Chunk frame, got frame kind %d", frame.Kind)}
			return 0, f.err
		}
		f.buf = frame.Chunk
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

// Upload implements the Upload RPC's receive-side state machine:
// AwaitMetadata -> AwaitDeclaredHash -> AwaitChunks* -> Finalize. Receiving
// the wrong frame variant in any state is a ProtocolViolation.
func (s *Server) Upload(ctx context.Context, recv UploadReceiver) (index uint64, root hasher.Hash, err error) {
	meta, err := recv.Recv()
	if err != nil {
		return 0, hasher.Hash{}, protocolViolation("stream ended before Metadata frame", err)
	}
	if meta.Kind != FrameMetadata {
		return 0, hasher.Hash{}, protocolViolation(fmt.Sprintf("expected Metadata frame first, got kind %d", meta.Kind), nil)
	}

	sha, err := recv.Recv()
	if err != nil {
		return 0, hasher.Hash{}, protocolViolation("stream ended before Sha256 frame", err)
	}
	if sha.Kind != FrameSha256 {
		return 0, hasher.Hash{}, protocolViolation(fmt.Sprintf("expected Sha256 frame second, got kind %d", sha.Kind), nil)
	}

	return s.engine.Upload(ctx, meta.Filename, hasher.Hash(sha.Sha256), &frameReader{recv: recv})
}

func protocolViolation(msg string, cause error) *engine.Error {
	if cause != nil {
		return &engine.Error{Kind: engine.KindProtocolViolation, Err: fmt.Errorf("%s: %w", msg, cause)}
	}
	return &engine.Error{Kind: engine.KindProtocolViolation, Err: errors.New(msg)}
}

// Download implements the Download RPC's send-side state machine:
// Header -> Chunks* -> End. On any I/O error mid-stream, streaming stops and
// the error is returned for the transport to log and terminate the
// connection; the client simply sees a truncated stream.
func (s *Server) Download(ctx context.Context, index uint64, send DownloadSender) error {
	filename, proof, body, err := s.engine.Download(ctx, index)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := send.Send(&DownloadFrame{Kind: FrameHeader, Filename: filename, Proof: proof}); err != nil {
		return fmt.Errorf("service: send header: %w", err)
	}

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if err := send.Send(&DownloadFrame{Kind: FrameDataChunk, Chunk: chunk}); err != nil {
				return fmt.Errorf("service: send chunk: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("service: read blob %d: %w", index, readErr)
		}
	}
}
