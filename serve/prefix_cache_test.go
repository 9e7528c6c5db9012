package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func seqTokens(n, start int) []int {
	tokens := make([]int, n)
	for i := range tokens {
		tokens[i] = start + i
	}
	return tokens
}

func TestTokenPrefixCache_RegistersOnFirstExtension(t *testing.T) {
	c := NewTokenPrefixCache(1024, 4, nil)
	assert.False(t, c.HasSequence(1))

	c.ExtendSequence(1, seqTokens(4, 0))

	assert.True(t, c.HasSequence(1))
	assert.Equal(t, 1, c.NumTrackedSequences())
}

func TestTokenPrefixCache_MatchPrefix_BlockAligned(t *testing.T) {
	c := NewTokenPrefixCache(1024, 4, nil)
	c.ExtendSequence(1, seqTokens(10, 0)) // blocks [0..3] [4..7], tail 8,9 unindexed

	seqID, matched := c.MatchPrefix(seqTokens(10, 0))
	assert.Equal(t, int64(1), seqID)
	assert.Equal(t, 8, matched, "only completed blocks are indexed")

	_, matched = c.MatchPrefix(seqTokens(3, 0))
	assert.Zero(t, matched, "shorter than one block")

	_, matched = c.MatchPrefix(seqTokens(8, 100))
	assert.Zero(t, matched, "disjoint tokens")
}

func TestTokenPrefixCache_MatchPrefix_StopsAtDivergence(t *testing.T) {
	c := NewTokenPrefixCache(1024, 4, nil)
	c.ExtendSequence(1, seqTokens(8, 0))

	probe := append(seqTokens(4, 0), seqTokens(4, 100)...)
	seqID, matched := c.MatchPrefix(probe)

	assert.Equal(t, int64(1), seqID)
	assert.Equal(t, 4, matched)
}

func TestTokenPrefixCache_LazyRecycle_KeepsTokensResident(t *testing.T) {
	var released []int64
	c := NewTokenPrefixCache(1024, 4, func(seqID int64) { released = append(released, seqID) })
	c.ExtendSequence(1, seqTokens(8, 0))

	c.RecycleSequence(1, true)

	assert.True(t, c.HasSequence(1), "lazily recycled sequence stays resident")
	assert.Empty(t, released)
	_, matched := c.MatchPrefix(seqTokens(8, 0))
	assert.Equal(t, 8, matched, "recycled history still reusable")
}

func TestTokenPrefixCache_NonLazyRecycle_ReleasesImmediately(t *testing.T) {
	var released []int64
	c := NewTokenPrefixCache(1024, 4, func(seqID int64) { released = append(released, seqID) })
	c.ExtendSequence(1, seqTokens(8, 0))

	c.RecycleSequence(1, false)

	assert.False(t, c.HasSequence(1))
	assert.Equal(t, []int64{1}, released)
	_, matched := c.MatchPrefix(seqTokens(8, 0))
	assert.Zero(t, matched, "index entries removed with the sequence")
}

func TestTokenPrefixCache_CapacityPressure_EvictsLRURecycled(t *testing.T) {
	var released []int64
	c := NewTokenPrefixCache(16, 4, func(seqID int64) { released = append(released, seqID) })
	c.ExtendSequence(1, seqTokens(8, 0))
	c.ExtendSequence(2, seqTokens(8, 100))
	c.RecycleSequence(1, true)
	c.RecycleSequence(2, true)

	// 16 tokens resident; 8 more forces the least recently used out.
	c.ExtendSequence(3, seqTokens(8, 200))

	assert.Equal(t, []int64{1}, released)
	assert.False(t, c.HasSequence(1))
	assert.True(t, c.HasSequence(2))
}

func TestTokenPrefixCache_LiveSequencesNeverEvicted(t *testing.T) {
	var released []int64
	c := NewTokenPrefixCache(8, 4, func(seqID int64) { released = append(released, seqID) })
	c.ExtendSequence(1, seqTokens(8, 0))

	// Over budget with no recycled candidates; the live sequence must stay.
	c.ExtendSequence(2, seqTokens(8, 100))

	assert.True(t, c.HasSequence(1))
	assert.True(t, c.HasSequence(2))
	assert.Empty(t, released)
}

func TestTokenPrefixCache_ExtendAfterLazyRecycle_Panics(t *testing.T) {
	c := NewTokenPrefixCache(1024, 4, nil)
	c.ExtendSequence(1, seqTokens(4, 0))
	c.RecycleSequence(1, true)

	assert.Panics(t, func() { c.ExtendSequence(1, seqTokens(4, 4)) })
}

func TestTokenPrefixCache_RecycleUntracked_Panics(t *testing.T) {
	c := NewTokenPrefixCache(1024, 4, nil)
	assert.Panics(t, func() { c.RecycleSequence(9, true) })
}
