// Package service implements the service surface (component G): it decodes
// stream frames into archive engine inputs and encodes engine outputs back
// into stream frames. It contains no archive logic of its own.
package service

import "github.com/archiveproof/archiveproof/internal/merkle"

// UploadFrameKind discriminates the tagged union described by §6's
// UploadFrame: exactly one Metadata, then exactly one Sha256, then zero or
// more Chunks.
type UploadFrameKind int

const (
	FrameMetadata UploadFrameKind = iota
	FrameSha256
	FrameChunk
)

// UploadFrame is one frame of an Upload request stream.
type UploadFrame struct {
	Kind     UploadFrameKind
	Filename string   // valid when Kind == FrameMetadata
	Sha256   [32]byte // valid when Kind == FrameSha256
	Chunk    []byte   // valid when Kind == FrameChunk
}

// DownloadFrameKind discriminates the tagged union described by §6's
// DownloadFrame: exactly one Header, then zero or more Chunks.
type DownloadFrameKind int

const (
	FrameHeader DownloadFrameKind = iota
	FrameDataChunk
)

// DownloadFrame is one frame of a Download response stream.
type DownloadFrame struct {
	Kind     DownloadFrameKind
	Filename string        // valid when Kind == FrameHeader
	Proof    *merkle.Proof // valid when Kind == FrameHeader
	Chunk    []byte        // valid when Kind == FrameDataChunk
}

// UploadReceiver is the minimal interface a transport's inbound upload
// stream must satisfy; a real gRPC-generated server stream would satisfy
// this directly. Recv returns io.EOF once the client has sent every frame.
type UploadReceiver interface {
	Recv() (*UploadFrame, error)
}

// DownloadSender is the minimal interface a transport's outbound download
// stream must satisfy.
type DownloadSender interface {
	Send(*DownloadFrame) error
}
