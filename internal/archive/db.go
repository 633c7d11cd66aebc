// Package archive holds the in-memory database that binds archive index,
// filename, and leaf hash together (component D of the archive engine),
// plus its deterministic on-disk encoding.
package archive

import (
	"fmt"
	"sync"

	"github.com/archiveproof/archiveproof/internal/hasher"
	"github.com/archiveproof/archiveproof/internal/merkle"
)

// Database owns the entry table and the Merkle tree, and keeps their
// indices in lock-step: entries[i] and leaf i are pushed together by
// Append and are immutable thereafter.
type Database struct {
	mu      sync.RWMutex
	tree    *merkle.Tree
	entries []Entry
}

// New returns an empty database.
func New() *Database {
	return &Database{tree: merkle.New()}
}

// Append pushes a new entry and its leaf hash, returning the shared index.
func (d *Database) Append(filename string, leaf hasher.Hash) (uint64, error) {
	if err := ValidateFilename(filename); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := d.tree.AppendLeaf(leaf)
	d.entries = append(d.entries, Entry{Filename: filename})
	if uint64(len(d.entries)) != idx+1 {
		return 0, fmt.Errorf("archive: entry/leaf index mismatch: %d entries, leaf index %d", len(d.entries), idx)
	}
	return idx, nil
}

// Count returns the number of archived files.
func (d *Database) Count() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return uint64(len(d.entries))
}

// Root returns the current Merkle root, or false if the archive is empty.
func (d *Database) Root() (hasher.Hash, bool) {
	return d.tree.Root()
}

// Proof returns the inclusion proof for index i, or false if out of range.
func (d *Database) Proof(i uint64) (*merkle.Proof, bool) {
	return d.tree.Proof(i)
}

// Entry returns the metadata for index i, or false if out of range.
func (d *Database) Entry(i uint64) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i >= uint64(len(d.entries)) {
		return Entry{}, false
	}
	return d.entries[i], true
}

// Leaf returns the leaf hash for index i, or false if out of range.
func (d *Database) Leaf(i uint64) (hasher.Hash, bool) {
	leaves := d.tree.Leaves()
	if i >= uint64(len(leaves)) {
		return hasher.Hash{}, false
	}
	return leaves[i], true
}

// snapshot is the serializable {entries, L0} pair described by §3/§4.D.
// Higher tree levels are never persisted; they're cheap to recompute.
type snapshot struct {
	Filenames []string
	Leaves    []hasher.Hash
}

// Snapshot captures the current {entries, L0} state for serialization.
func (d *Database) Snapshot() snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.entries))
	for i, e := range d.entries {
		names[i] = e.Filename
	}
	return snapshot{Filenames: names, Leaves: d.tree.Leaves()}
}

// FromSnapshot rebuilds a Database (including all higher tree levels) from a
// persisted {entries, L0}. A length mismatch between filenames and leaves is
// fatal corruption per §7.
func FromSnapshot(filenames []string, leaves []hasher.Hash) (*Database, error) {
	if len(filenames) != len(leaves) {
		return nil, fmt.Errorf("archive: corrupt snapshot: %d filenames, %d leaves", len(filenames), len(leaves))
	}
	entries := make([]Entry, len(filenames))
	for i, n := range filenames {
		entries[i] = Entry{Filename: n}
	}
	return &Database{tree: merkle.FromLeaves(leaves), entries: entries}, nil
}
