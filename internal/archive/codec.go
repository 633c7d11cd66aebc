package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/archiveproof/archiveproof/internal/atomicfile"
	"github.com/archiveproof/archiveproof/internal/hasher"
)

// magic identifies the snapshot encoding so a corrupt or foreign file fails
// fast at load rather than silently misparsing.
var magic = [4]byte{'A', 'F', 'D', '1'}

// encode writes the deterministic {entries, L0} binary encoding: a 4-byte
// magic, a uint64 entry count, that many length-prefixed filenames, then
// that many 32-byte leaf hashes.
func encode(w io.Writer, s snapshot) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint64(len(s.Filenames))); err != nil {
		return err
	}
	for _, name := range s.Filenames {
		if err := binary.Write(w, binary.BigEndian, uint32(len(name))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, name); err != nil {
			return err
		}
	}
	for _, leaf := range s.Leaves {
		if _, err := w.Write(leaf[:]); err != nil {
			return err
		}
	}
	return nil
}

// decode is the inverse of encode. It returns an error (to be treated as
// fatal startup Corruption per §7) if the magic doesn't match or the stream
// is truncated.
func decode(r io.Reader) (snapshot, error) {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return snapshot{}, fmt.Errorf("archive: read magic: %w", err)
	}
	if got != magic {
		return snapshot{}, fmt.Errorf("archive: bad magic %x, want %x", got, magic)
	}
	var count uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return snapshot{}, fmt.Errorf("archive: read count: %w", err)
	}
	names := make([]string, count)
	for i := range names {
		var l uint32
		if err := binary.Read(r, binary.BigEndian, &l); err != nil {
			return snapshot{}, fmt.Errorf("archive: read filename length %d: %w", i, err)
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return snapshot{}, fmt.Errorf("archive: read filename %d: %w", i, err)
		}
		names[i] = string(buf)
	}
	leaves := make([]hasher.Hash, count)
	for i := range leaves {
		if _, err := io.ReadFull(r, leaves[i][:]); err != nil {
			return snapshot{}, fmt.Errorf("archive: read leaf %d: %w", i, err)
		}
	}
	return snapshot{Filenames: names, Leaves: leaves}, nil
}

// SaveToFile zstd-compresses the database's current snapshot and atomically
// replaces path (temp file in the same directory, fsync, rename, fsync
// directory) so a crash mid-write never leaves a half-written db.bin.
func (d *Database) SaveToFile(path string) error {
	var raw bytes.Buffer
	if err := encode(&raw, d.Snapshot()); err != nil {
		return fmt.Errorf("archive: encode snapshot: %w", err)
	}

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("archive: zstd writer: %w", err)
	}
	if _, err := enc.Write(raw.Bytes()); err != nil {
		_ = enc.Close()
		return fmt.Errorf("archive: zstd compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("archive: zstd close: %w", err)
	}

	return atomicfile.Overwrite(path, compressed.Bytes())
}

// LoadFromFile reconstructs a Database from a zstd-compressed snapshot
// written by SaveToFile. A missing file is reported distinctly (so callers
// can initialize an empty database) from a present-but-corrupt one.
func LoadFromFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err // caller distinguishes os.IsNotExist
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("archive: zstd reader: %w", err)
	}
	defer dec.Close()

	s, err := decode(dec)
	if err != nil {
		return nil, fmt.Errorf("archive: corrupt database %q: %w", path, err)
	}
	return FromSnapshot(s.Filenames, s.Leaves)
}
