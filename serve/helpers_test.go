package serve

import "time"

// Shared fakes for the external collaborators. Tests configure tracked
// sequences explicitly so both the cache-tracked and untracked release
// paths can be exercised.

type fakeModel struct {
	removed []int64
}

func (m *fakeModel) RemoveSequence(seqID int64) {
	m.removed = append(m.removed, seqID)
}

type extendCall struct {
	seqID  int64
	tokens []int
}

type recycleCall struct {
	seqID int64
	lazy  bool
}

type fakePrefixCache struct {
	tracked  map[int64]bool
	extends  []extendCall
	recycles []recycleCall
}

func newFakePrefixCache() *fakePrefixCache {
	return &fakePrefixCache{tracked: make(map[int64]bool)}
}

func (c *fakePrefixCache) HasSequence(seqID int64) bool {
	return c.tracked[seqID]
}

func (c *fakePrefixCache) ExtendSequence(seqID int64, tokenIDs []int) {
	copied := append([]int(nil), tokenIDs...)
	c.extends = append(c.extends, extendCall{seqID: seqID, tokens: copied})
}

func (c *fakePrefixCache) RecycleSequence(seqID int64, lazy bool) {
	c.recycles = append(c.recycles, recycleCall{seqID: seqID, lazy: lazy})
	if !lazy {
		delete(c.tracked, seqID)
	}
}

type fakeWorkspace struct {
	freed [][]int
}

func (w *fakeWorkspace) FreeSlots(slots []int) {
	w.freed = append(w.freed, append([]int(nil), slots...))
}

// letterTokenizer decodes token ids onto lowercase letters.
type letterTokenizer struct{}

func (letterTokenizer) Decode(tokenIDs []int) string {
	out := make([]byte, len(tokenIDs))
	for i, id := range tokenIDs {
		out[i] = byte('a' + (id % 26))
	}
	return string(out)
}

func newTestEngine() (*EngineState, *fakePrefixCache) {
	cache := newFakePrefixCache()
	return NewEngineState(cache), cache
}

// admitAlive admits a request and marks every entry alive with its inputs
// prefilled, the state a request is in mid-decode.
func admitAlive(estate *EngineState, req *Request) *RequestState {
	rstate := estate.AdmitRequest(req, 1)
	for _, entry := range rstate.Entries {
		entry.Status = StatusAlive
		for _, mstate := range entry.MStates {
			mstate.PrefilledInputs = append(mstate.PrefilledInputs, mstate.Inputs...)
			mstate.NumPrefilledTokens += DataLength(mstate.Inputs)
			mstate.Inputs = nil
		}
	}
	return rstate
}

func tokenRequest(id string, n int, prompt []int, cfg GenerationConfig) *Request {
	cfg.N = n
	return NewRequest(id, []Data{NewTokenData(prompt)}, &cfg)
}

func commitAll(mstate *RequestModelState, tokenIDs ...int) {
	for _, tok := range tokenIDs {
		mstate.CommitToken(SampleResult{TokenID: tok, LogProb: -0.5})
	}
}

func testTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}
