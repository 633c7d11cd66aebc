// Package merkle implements the level-array Merkle tree described by the
// archive's commitment scheme: L0 holds leaves in insertion order, and each
// higher level is derived by pairing adjacent nodes, duplicating the last
// node of an odd-length level to stand in for its missing sibling.
//
// Unlike a pointer-based tree, levels are plain slices and parent/child
// relationships are arithmetic (child level[2i], level[2i+1] -> parent
// level[i]); there is no node identity to track.
package merkle

import (
	"sync"

	"github.com/archiveproof/archiveproof/internal/hasher"
)

// Side records which side of the walked node a proof sibling sits on.
type Side uint8

const (
	Left Side = iota
	Right
)

// Sibling is one entry of an inclusion proof, ordered bottom (just above the
// leaf) to top (just below the root).
type Sibling struct {
	Hash hasher.Hash
	Side Side
}

// Proof is an inclusion proof bound to the root it was generated against.
type Proof struct {
	Root     hasher.Hash
	Siblings []Sibling
}

// Tree is a level-array Merkle tree. The zero value is an empty tree.
type Tree struct {
	mu     sync.RWMutex
	levels [][]hasher.Hash
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{levels: [][]hasher.Hash{{}}}
}

// AppendLeaf appends h as the next leaf and returns its index.
func (t *Tree) AppendLeaf(h hasher.Hash) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.levels == nil {
		t.levels = [][]hasher.Hash{{}}
	}
	t.levels[0] = append(t.levels[0], h)
	idx := uint64(len(t.levels[0]) - 1)
	t.rebuildSpine()
	return idx
}

// rebuildSpine recomputes the rightmost path from L0 to the root after an
// append. Only the last node of each level can have changed (either by
// gaining a true sibling or by the duplicate-last rule shifting), so this is
// O(log n) rather than a full rebuild, while remaining bit-identical to one.
func (t *Tree) rebuildSpine() {
	level := 0
	for len(t.levels[level]) > 1 {
		cur := t.levels[level]
		n := len(cur)
		parentLen := (n + 1) / 2

		if len(t.levels) == level+1 {
			t.levels = append(t.levels, make([]hasher.Hash, 0, parentLen))
		}

		leftIdx := 2 * (parentLen - 1)
		var right hasher.Hash
		if leftIdx+1 < n {
			right = cur[leftIdx+1]
		} else {
			right = cur[leftIdx] // duplicate-last rule
		}
		parent := hasher.HashPair(cur[leftIdx], right)

		next := t.levels[level+1]
		if len(next) < parentLen {
			t.levels[level+1] = append(next, parent)
		} else {
			next[parentLen-1] = parent
		}
		level++
	}
}

// Len returns the number of leaves.
func (t *Tree) Len() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.len()
}

func (t *Tree) len() uint64 {
	if len(t.levels) == 0 {
		return 0
	}
	return uint64(len(t.levels[0]))
}

// Root returns the current root, or false if the tree is empty.
func (t *Tree) Root() (hasher.Hash, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.len() == 0 {
		return hasher.Hash{}, false
	}
	top := t.levels[len(t.levels)-1]
	return top[0], true
}

// Proof returns the inclusion proof for leaf i, or false if i is out of range.
func (t *Tree) Proof(i uint64) (*Proof, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.len()
	if i >= n {
		return nil, false
	}

	var sibs []Sibling
	j := i
	for level := 0; len(t.levels[level]) > 1; level++ {
		cur := t.levels[level]
		var sib hasher.Hash
		var side Side
		if j%2 == 0 {
			if int(j)+1 < len(cur) {
				sib, side = cur[j+1], Right
			} else {
				sib, side = cur[j], Right // duplicate-last rule
			}
		} else {
			sib, side = cur[j-1], Left
		}
		sibs = append(sibs, Sibling{Hash: sib, Side: side})
		j /= 2
	}

	root := t.levels[len(t.levels)-1][0]
	return &Proof{Root: root, Siblings: sibs}, true
}

// Verify reports whether folding leaf through proof's siblings reproduces
// expectedRoot, and that proof.Root itself matches expectedRoot.
func Verify(leaf hasher.Hash, proof Proof, expectedRoot hasher.Hash) bool {
	if !hasher.Equal(proof.Root, expectedRoot) {
		return false
	}
	acc := leaf
	for _, s := range proof.Siblings {
		if s.Side == Left {
			acc = hasher.HashPair(s.Hash, acc)
		} else {
			acc = hasher.HashPair(acc, s.Hash)
		}
	}
	return hasher.Equal(acc, expectedRoot)
}

// Leaves returns a copy of the leaves in insertion order, used when
// snapshotting L0 for persistence.
func (t *Tree) Leaves() []hasher.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.levels) == 0 {
		return nil
	}
	out := make([]hasher.Hash, len(t.levels[0]))
	copy(out, t.levels[0])
	return out
}

// FromLeaves rebuilds a tree (all higher levels included) from a persisted L0.
func FromLeaves(leaves []hasher.Hash) *Tree {
	t := New()
	for _, l := range leaves {
		t.AppendLeaf(l)
	}
	return t
}
