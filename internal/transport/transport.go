// Package transport binds the service surface (component G) to the wire:
// each RPC is one gob-encoded request followed by a gob-encoded response (or,
// for Upload/Download, a stream of gob-encoded frames) over a single
// net.Conn, each value framed with a uint32 length prefix so the decoder
// never blocks reading a partial value.
package transport

import (
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"

	"github.com/archiveproof/archiveproof/internal/engine"
	"github.com/archiveproof/archiveproof/internal/hasher"
	"github.com/archiveproof/archiveproof/internal/service"
)

// Op identifies which RPC a connection is opening.
type Op byte

const (
	OpCount Op = iota
	OpRoot
	OpProof
	OpUpload
	OpDownload
)

// WireError carries an *engine.Error's Kind and message across the wire,
// where the concrete Go error type can't travel.
type WireError struct {
	Kind    string
	Message string
}

func (e *WireError) Error() string { return e.Message }

// errorToWire maps an engine error (or any error) to a WireError, preserving
// the Kind when present.
func errorToWire(err error) *WireError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*engine.Error); ok {
		return &WireError{Kind: ee.Kind.String(), Message: err.Error()}
	}
	return &WireError{Kind: "Io", Message: err.Error()}
}

// frameWriter and frameReader implement length-prefixed gob framing on top
// of an arbitrary io.ReadWriter, one gob value per frame.
type frameWriter struct {
	w io.Writer
}

func (fw *frameWriter) writeValue(v any) error {
	bw := &byteBuffer{}
	enc := gob.NewEncoder(bw)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	buf := bw.b
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := fw.w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("transport: write length: %w", err)
	}
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("transport: write payload: %w", err)
	}
	return nil
}

type frameReader struct {
	r io.Reader
}

const maxFrameBytes = 64 * 1024 * 1024

func (fr *frameReader) readValue(v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(fr.r, lenPrefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameBytes {
		return fmt.Errorf("transport: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return fmt.Errorf("transport: read payload: %w", err)
	}
	dec := gob.NewDecoder(&byteBuffer{b: buf})
	return dec.Decode(v)
}

// byteBuffer is a minimal io.ReadWriter over a byte slice, avoiding a
// dependency on bytes.Buffer's growth semantics for the fixed-size frames
// used here.
type byteBuffer struct {
	b   []byte
	off int
}

func (bb *byteBuffer) Write(p []byte) (int, error) {
	bb.b = append(bb.b, p...)
	return len(p), nil
}

func (bb *byteBuffer) Read(p []byte) (int, error) {
	if bb.off >= len(bb.b) {
		return 0, io.EOF
	}
	n := copy(p, bb.b[bb.off:])
	bb.off += n
	return n, nil
}

// countRequest/Response, rootRequest/Response and proofRequest/Response are
// the per-RPC payloads for the three unary calls.
type countRequest struct{}
type countResponse struct {
	Count uint64
	Err   *WireError
}

type rootRequest struct{}
type rootResponse struct {
	Root hasher.Hash
	Err  *WireError
}

type proofRequest struct{ Index uint64 }
type proofResponse struct {
	ProofBytes []byte
	Err        *WireError
}

// downloadRequest carries the index a Download dial sends before the
// DownloadFrame stream begins. Upload needs no request value: its
// UploadFrame stream starts right after the Op byte.
type downloadRequest struct{ Index uint64 }

type uploadResponse struct {
	Index uint64
	Root  hasher.Hash
	Err   *WireError
}

// connUploadReceiver adapts a gob frame stream into a service.UploadReceiver.
type connUploadReceiver struct{ fr *frameReader }

func (r *connUploadReceiver) Recv() (*service.UploadFrame, error) {
	var f service.UploadFrame
	if err := r.fr.readValue(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// connDownloadSender adapts a service.DownloadSender onto a gob frame stream.
type connDownloadSender struct{ fw *frameWriter }

func (s *connDownloadSender) Send(f *service.DownloadFrame) error {
	return s.fw.writeValue(f)
}

// init registers the frame types with gob once per process. None of the
// frame fields are interface values, so the frames encode without it; the
// registration only matters if a frame is ever sent inside an interface.
func init() {
	gob.Register(service.UploadFrame{})
	gob.Register(service.DownloadFrame{})
}

// ListenAndServe accepts connections on addr and serves each with srv,
// one RPC per connection, until ctx-independent net.Listener.Accept fails.
func ListenAndServe(addr string, srv *service.Server) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("transport: accept: %w", err)
		}
		go serveConn(conn, srv)
	}
}
