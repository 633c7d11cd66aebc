// Package wire implements the proof wire encoding from §6: a 32-byte root
// followed by a length-prefixed sequence of {hash(32), side(1)} records.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/archiveproof/archiveproof/internal/hasher"
	"github.com/archiveproof/archiveproof/internal/merkle"
)

// sideLeft and sideRight encode merkle.Side on the wire: 0 = Left, 1 = Right.
const (
	sideLeft  byte = 0
	sideRight byte = 1
)

// EncodeProof writes p in the wire format described by §6.
func EncodeProof(w io.Writer, p *merkle.Proof) error {
	if _, err := w.Write(p.Root[:]); err != nil {
		return fmt.Errorf("wire: write root: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(p.Siblings))); err != nil {
		return fmt.Errorf("wire: write sibling count: %w", err)
	}
	for i, s := range p.Siblings {
		if _, err := w.Write(s.Hash[:]); err != nil {
			return fmt.Errorf("wire: write sibling %d hash: %w", i, err)
		}
		side := sideRight
		if s.Side == merkle.Left {
			side = sideLeft
		}
		if _, err := w.Write([]byte{side}); err != nil {
			return fmt.Errorf("wire: write sibling %d side: %w", i, err)
		}
	}
	return nil
}

// DecodeProof is the inverse of EncodeProof.
func DecodeProof(r io.Reader) (*merkle.Proof, error) {
	var root hasher.Hash
	if _, err := io.ReadFull(r, root[:]); err != nil {
		return nil, fmt.Errorf("wire: read root: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("wire: read sibling count: %w", err)
	}
	sibs := make([]merkle.Sibling, count)
	for i := range sibs {
		var h hasher.Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return nil, fmt.Errorf("wire: read sibling %d hash: %w", i, err)
		}
		var sideByte [1]byte
		if _, err := io.ReadFull(r, sideByte[:]); err != nil {
			return nil, fmt.Errorf("wire: read sibling %d side: %w", i, err)
		}
		side := merkle.Right
		if sideByte[0] == sideLeft {
			side = merkle.Left
		} else if sideByte[0] != sideRight {
			return nil, fmt.Errorf("wire: sibling %d has invalid side byte %d", i, sideByte[0])
		}
		sibs[i] = merkle.Sibling{Hash: h, Side: side}
	}
	return &merkle.Proof{Root: root, Siblings: sibs}, nil
}
