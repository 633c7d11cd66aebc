package transport

import (
	"fmt"
	"io"
	"net"

	"github.com/archiveproof/archiveproof/internal/hasher"
	"github.com/archiveproof/archiveproof/internal/merkle"
	"github.com/archiveproof/archiveproof/internal/service"
)

// Client dials the archive server at addr, opening one connection per RPC.
type Client struct {
	addr string
}

// NewClient returns a Client targeting addr ("host:port").
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) dial(op Op) (net.Conn, error) {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	if _, err := conn.Write([]byte{byte(op)}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: write op: %w", err)
	}
	return conn, nil
}

// Count calls the Count RPC.
func (c *Client) Count() (uint64, error) {
	conn, err := c.dial(OpCount)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	fw := &frameWriter{w: conn}
	fr := &frameReader{r: conn}
	if err := fw.writeValue(countRequest{}); err != nil {
		return 0, err
	}
	var resp countResponse
	if err := fr.readValue(&resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Root calls the Root RPC.
func (c *Client) Root() (hasher.Hash, error) {
	conn, err := c.dial(OpRoot)
	if err != nil {
		return hasher.Hash{}, err
	}
	defer conn.Close()
	fw := &frameWriter{w: conn}
	fr := &frameReader{r: conn}
	if err := fw.writeValue(rootRequest{}); err != nil {
		return hasher.Hash{}, err
	}
	var resp rootResponse
	if err := fr.readValue(&resp); err != nil {
		return hasher.Hash{}, err
	}
	if resp.Err != nil {
		return hasher.Hash{}, resp.Err
	}
	return resp.Root, nil
}

// Proof calls the Proof RPC for index i.
func (c *Client) Proof(i uint64) (*merkle.Proof, error) {
	conn, err := c.dial(OpProof)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	fw := &frameWriter{w: conn}
	fr := &frameReader{r: conn}
	if err := fw.writeValue(proofRequest{Index: i}); err != nil {
		return nil, err
	}
	var resp proofResponse
	if err := fr.readValue(&resp); err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return decodeWireProof(resp.ProofBytes)
}

// Upload calls the Upload RPC, streaming body's bytes (in chunkSize pieces)
// after the Metadata and Sha256 frames.
func (c *Client) Upload(filename string, declared hasher.Hash, body io.Reader, chunkSize int) (index uint64, root hasher.Hash, err error) {
	conn, err := c.dial(OpUpload)
	if err != nil {
		return 0, hasher.Hash{}, err
	}
	defer conn.Close()
	fw := &frameWriter{w: conn}
	fr := &frameReader{r: conn}

	if err := fw.writeValue(&service.UploadFrame{Kind: service.FrameMetadata, Filename: filename}); err != nil {
		return 0, hasher.Hash{}, err
	}
	if err := fw.writeValue(&service.UploadFrame{Kind: service.FrameSha256, Sha256: declared}); err != nil {
		return 0, hasher.Hash{}, err
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if err := fw.writeValue(&service.UploadFrame{Kind: service.FrameChunk, Chunk: chunk}); err != nil {
				return 0, hasher.Hash{}, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, hasher.Hash{}, readErr
		}
	}

	// Half-close the write side so the server's Recv sees io.EOF after the
	// last Chunk frame; the read side stays open for the response.
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return 0, hasher.Hash{}, fmt.Errorf("transport: close write: %w", err)
		}
	}

	var resp uploadResponse
	if err := fr.readValue(&resp); err != nil {
		return 0, hasher.Hash{}, err
	}
	if resp.Err != nil {
		return 0, hasher.Hash{}, resp.Err
	}
	return resp.Index, resp.Root, nil
}

// Download calls the Download RPC for index i, writing the file's bytes to
// w and returning its filename and inclusion proof.
func (c *Client) Download(i uint64, w io.Writer) (filename string, proof *merkle.Proof, err error) {
	conn, err := c.dial(OpDownload)
	if err != nil {
		return "", nil, err
	}
	defer conn.Close()
	fw := &frameWriter{w: conn}
	fr := &frameReader{r: conn}

	if err := fw.writeValue(downloadRequest{Index: i}); err != nil {
		return "", nil, err
	}

	var header service.DownloadFrame
	if err := fr.readValue(&header); err != nil {
		return "", nil, err
	}
	if header.Kind != service.FrameHeader {
		return "", nil, fmt.Errorf("transport: expected Header frame, got kind %d", header.Kind)
	}

	for {
		var f service.DownloadFrame
		err := fr.readValue(&f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, err
		}
		if f.Kind != service.FrameDataChunk {
			return "", nil, fmt.Errorf("transport: expected Chunk frame, got kind %d", f.Kind)
		}
		if _, err := w.Write(f.Chunk); err != nil {
			return "", nil, err
		}
	}

	return header.Filename, header.Proof, nil
}
