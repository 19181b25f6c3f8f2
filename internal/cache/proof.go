package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ProofKey identifies one proof-cache entry.
type ProofKey struct {
	Container string
	FilePath  string
	TaskID    string
}

const proofTTL = 60 * time.Second

// ProofCache caches remote-blob proof lists for 60 s, shared across HTTP
// requests and safe for concurrent use. expirable.LRU runs its own
// background sweep to drop expired entries, so nothing here needs a
// hand-rolled ticker to reclaim stale proofs.
type ProofCache struct {
	c *lru.LRU[ProofKey, []string]
}

// NewProofCache constructs a proof cache holding up to capacity entries,
// each expiring 60 s after insertion.
func NewProofCache(capacity int) *ProofCache {
	return &ProofCache{c: lru.NewLRU[ProofKey, []string](capacity, nil, proofTTL)}
}

// Get returns the cached proofs for key, if present and unexpired.
func (p *ProofCache) Get(key ProofKey) ([]string, bool) {
	return p.c.Get(key)
}

// Put inserts proofs for key, resetting its 60 s expiry.
func (p *ProofCache) Put(key ProofKey, proofs []string) {
	p.c.Add(key, proofs)
}

// Len reports the number of entries held, which can include expired entries
// the background sweep has not dropped yet.
func (p *ProofCache) Len() int {
	return p.c.Len()
}
