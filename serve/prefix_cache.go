// A reference in-process PrefixCache: tracks per-sequence token history,
// indexes block-aligned prefixes by chained xxhash for reuse lookups, and
// keeps lazily recycled sequences resident until capacity pressure evicts
// them through an owner-supplied release hook.
//
// The engine core depends only on the PrefixCache interface; this
// implementation backs the replay harness and the tests.

package serve

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

type cachedSeq struct {
	tokens      []int
	blockHashes []uint64
	recycled    bool  // lazily recycled: resident, reusable, evictable
	lastUse     int64 // monotonic use counter for LRU ordering
}

// TokenPrefixCache implements PrefixCache over block-aligned token
// prefixes. Sequences register on first extension; lazy recycling keeps a
// sequence's tokens resident for reuse until the token budget forces
// eviction, at which point the release hook returns the sequence to its
// owner (backend removal plus id recycling).
type TokenPrefixCache struct {
	capacityTokens int
	blockSize      int
	seqs           map[int64]*cachedSeq
	hashToSeq      map[uint64]int64
	totalTokens    int
	useCounter     int64
	onRelease      func(seqID int64)
}

// NewTokenPrefixCache creates a cache holding at most capacityTokens tokens
// of recycled history, indexing prefixes at blockSize granularity.
// onRelease is invoked exactly once per sequence when it finally leaves the
// cache (eviction or non-lazy recycle); it must release the backend
// sequence and reclaim its id. A nil onRelease is allowed for tests.
func NewTokenPrefixCache(capacityTokens, blockSize int, onRelease func(seqID int64)) *TokenPrefixCache {
	if blockSize <= 0 {
		panic("NewTokenPrefixCache: blockSize must be positive")
	}
	return &TokenPrefixCache{
		capacityTokens: capacityTokens,
		blockSize:      blockSize,
		seqs:           make(map[int64]*cachedSeq),
		hashToSeq:      make(map[uint64]int64),
		onRelease:      onRelease,
	}
}

// HasSequence reports whether the cache tracks the sequence.
func (c *TokenPrefixCache) HasSequence(seqID int64) bool {
	_, ok := c.seqs[seqID]
	return ok
}

// ExtendSequence appends tokens to the sequence's cached history,
// registering the sequence on first use. Full blocks are chain-hashed into
// the prefix index as they complete.
func (c *TokenPrefixCache) ExtendSequence(seqID int64, tokenIDs []int) {
	if len(tokenIDs) == 0 {
		return
	}
	seq, ok := c.seqs[seqID]
	if !ok {
		seq = &cachedSeq{}
		c.seqs[seqID] = seq
	}
	if seq.recycled {
		panic(fmt.Sprintf("ExtendSequence: sequence %d already recycled", seqID))
	}
	seq.tokens = append(seq.tokens, tokenIDs...)
	c.totalTokens += len(tokenIDs)
	c.touch(seq)

	// Index newly completed blocks.
	for next := len(seq.blockHashes); (next+1)*c.blockSize <= len(seq.tokens); next++ {
		var prev uint64
		if next > 0 {
			prev = seq.blockHashes[next-1]
		}
		h := chainHash(prev, seq.tokens[next*c.blockSize:(next+1)*c.blockSize])
		seq.blockHashes = append(seq.blockHashes, h)
		if _, taken := c.hashToSeq[h]; !taken {
			c.hashToSeq[h] = seqID
		}
	}
	c.evictOver(c.capacityTokens)
}

// RecycleSequence hands the sequence back to the cache. With lazy=true the
// tokens stay resident for reuse until evicted; with lazy=false the
// sequence is released immediately.
func (c *TokenPrefixCache) RecycleSequence(seqID int64, lazy bool) {
	seq, ok := c.seqs[seqID]
	if !ok {
		panic(fmt.Sprintf("RecycleSequence: sequence %d not tracked", seqID))
	}
	if !lazy {
		c.dropSeq(seqID, seq)
		return
	}
	seq.recycled = true
	c.touch(seq)
	c.evictOver(c.capacityTokens)
}

// MatchPrefix returns the tracked sequence sharing the longest block-aligned
// prefix with tokens, and the number of matched tokens. Zero when nothing
// matches.
func (c *TokenPrefixCache) MatchPrefix(tokenIDs []int) (seqID int64, matched int) {
	var prev uint64
	for i := 0; (i+1)*c.blockSize <= len(tokenIDs); i++ {
		h := chainHash(prev, tokenIDs[i*c.blockSize:(i+1)*c.blockSize])
		owner, ok := c.hashToSeq[h]
		if !ok {
			break
		}
		seqID = owner
		matched = (i + 1) * c.blockSize
		prev = h
	}
	return seqID, matched
}

// NumTrackedSequences returns the number of sequences the cache tracks.
func (c *TokenPrefixCache) NumTrackedSequences() int {
	return len(c.seqs)
}

func (c *TokenPrefixCache) touch(seq *cachedSeq) {
	c.useCounter++
	seq.lastUse = c.useCounter
}

// evictOver evicts least-recently-used recycled sequences until the token
// total fits the budget. Live (non-recycled) sequences are never evicted.
func (c *TokenPrefixCache) evictOver(budget int) {
	for c.totalTokens > budget {
		victimID := int64(-1)
		var victim *cachedSeq
		for id, seq := range c.seqs {
			if !seq.recycled {
				continue
			}
			if victim == nil || seq.lastUse < victim.lastUse {
				victimID, victim = id, seq
			}
		}
		if victim == nil {
			return
		}
		c.dropSeq(victimID, victim)
	}
}

func (c *TokenPrefixCache) dropSeq(seqID int64, seq *cachedSeq) {
	for _, h := range seq.blockHashes {
		if c.hashToSeq[h] == seqID {
			delete(c.hashToSeq, h)
		}
	}
	c.totalTokens -= len(seq.tokens)
	delete(c.seqs, seqID)
	if c.onRelease != nil {
		c.onRelease(seqID)
	}
}

// chainHash hashes one block of tokens linked to its prefix hash, the
// scheme used for block-level prefix identity.
func chainHash(prev uint64, tokenIDs []int) uint64 {
	h := xxhash.New()
	var buf [8]byte
	if prev != 0 {
		binary.LittleEndian.PutUint64(buf[:], prev)
		h.Write(buf[:])
	}
	for _, id := range tokenIDs {
		binary.LittleEndian.PutUint64(buf[:], uint64(id))
		h.Write(buf[:])
	}
	return h.Sum64()
}
