package transport

import (
	"context"
	"encoding/gob"
	"net"

	"k8s.io/klog/v2"

	"github.com/archiveproof/archiveproof/internal/merkle"
	"github.com/archiveproof/archiveproof/internal/service"
	"github.com/archiveproof/archiveproof/internal/wire"
)

// serveConn reads a single Op byte, dispatches to the matching RPC, and
// closes the connection once that RPC completes. One connection serves
// exactly one RPC, following the request/response (or request/stream)
// shape of each call in §6.
func serveConn(conn net.Conn, srv *service.Server) {
	defer conn.Close()

	var opByte [1]byte
	if _, err := conn.Read(opByte[:]); err != nil {
		klog.Warningf("transport: read op: %v", err)
		return
	}
	op := Op(opByte[0])
	fr := &frameReader{r: conn}
	fw := &frameWriter{w: conn}
	ctx := context.Background()

	switch op {
	case OpCount:
		var req countRequest
		if err := fr.readValue(&req); err != nil {
			klog.Warningf("transport: count: read request: %v", err)
			return
		}
		resp := countResponse{Count: srv.Count(ctx)}
		if err := fw.writeValue(resp); err != nil {
			klog.Warningf("transport: count: write response: %v", err)
		}

	case OpRoot:
		var req rootRequest
		if err := fr.readValue(&req); err != nil {
			klog.Warningf("transport: root: read request: %v", err)
			return
		}
		root, err := srv.Root(ctx)
		resp := rootResponse{Root: root, Err: errorToWire(err)}
		if werr := fw.writeValue(resp); werr != nil {
			klog.Warningf("transport: root: write response: %v", werr)
		}

	case OpProof:
		var req proofRequest
		if err := fr.readValue(&req); err != nil {
			klog.Warningf("transport: proof: read request: %v", err)
			return
		}
		pbuf := &byteBuffer{}
		err := srv.Proof(ctx, req.Index, pbuf)
		resp := proofResponse{Err: errorToWire(err)}
		if err == nil {
			resp.ProofBytes = pbuf.b
		}
		if werr := fw.writeValue(resp); werr != nil {
			klog.Warningf("transport: proof: write response: %v", werr)
		}

	case OpUpload:
		idx, root, err := srv.Upload(ctx, &connUploadReceiver{fr: fr})
		resp := uploadResponse{Index: idx, Root: root, Err: errorToWire(err)}
		if werr := fw.writeValue(resp); werr != nil {
			klog.Warningf("transport: upload: write response: %v", werr)
		}

	case OpDownload:
		var req downloadRequest
		if err := fr.readValue(&req); err != nil {
			klog.Warningf("transport: download: read request: %v", err)
			return
		}
		if err := srv.Download(ctx, req.Index, &connDownloadSender{fw: fw}); err != nil {
			klog.Warningf("transport: download %d: %v", req.Index, err)
		}

	default:
		klog.Warningf("transport: unknown op %d", op)
	}
}

// decodeWireProof turns the raw proof bytes a Proof RPC response carries
// back into a *merkle.Proof using the §6 wire format.
func decodeWireProof(b []byte) (*merkle.Proof, error) {
	return wire.DecodeProof(&byteBuffer{b: b})
}

func init() {
	// gob needs every concrete type crossing the wire inside an interface
	// registered; none of the RPC payloads here use interfaces directly,
	// but registering keeps future additions (e.g. typed errors) safe.
	gob.Register(&WireError{})
}
