package engine

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/archiveproof/archiveproof/internal/merkle"
)

// proofKey pins a cached proof to the tree size it was computed against.
// Because the tree is append-only and proofs for existing indices are only
// ever invalidated by later appends (never by anything at or before their
// own index), including count in the key means a cache hit is never stale:
// the entry simply stops being looked up once count moves on, following the
// same cache-wraps-a-delegate idiom as the teacher's in-memory dedupe cache.
type proofKey struct {
	index uint64
	count uint64
}

// proofCache is a bounded LRU of recently generated proofs.
type proofCache struct {
	c *lru.Cache[proofKey, *merkle.Proof]
}

func newProofCache(size int) *proofCache {
	c, err := lru.New[proofKey, *merkle.Proof](size)
	if err != nil {
		// Only returns an error for size <= 0, which we never pass.
		panic(err)
	}
	return &proofCache{c: c}
}

func (p *proofCache) get(index, count uint64) (*merkle.Proof, bool) {
	return p.c.Get(proofKey{index: index, count: count})
}

func (p *proofCache) put(index, count uint64, proof *merkle.Proof) {
	p.c.Add(proofKey{index: index, count: count}, proof)
}
