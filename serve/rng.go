package serve

import (
	"hash/fnv"
	"math/rand"
)

// === EngineSeed ===

// EngineSeed uniquely identifies a reproducible serving session.
// Two sessions with the same EngineSeed and identical request streams MUST
// sample identically.
type EngineSeed int64

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per
// request. The sampling coordinator takes one *rand.Rand per sampled
// branch; deriving them from the request id keeps a request's randomness
// independent of batch composition.
//
// Derivation formula: masterSeed XOR fnv1a64(requestID).
// Thread-safety: NOT thread-safe. Must be called from the engine goroutine.
type PartitionedRNG struct {
	seed     EngineSeed
	requests map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from an EngineSeed.
func NewPartitionedRNG(seed EngineSeed) *PartitionedRNG {
	return &PartitionedRNG{
		seed:     seed,
		requests: make(map[string]*rand.Rand),
	}
}

// ForRequest returns a deterministically-seeded RNG for the request.
// The same request id always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForRequest(requestID string) *rand.Rand {
	if rng, ok := p.requests[requestID]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.seed) ^ fnv1a64(requestID)))
	p.requests[requestID] = rng
	return rng
}

// Forget drops the cached RNG of a retired request.
func (p *PartitionedRNG) Forget(requestID string) {
	delete(p.requests, requestID)
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
