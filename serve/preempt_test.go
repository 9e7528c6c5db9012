package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreemptLastRunningEntry_EmptyQueue_Panics(t *testing.T) {
	estate, _ := newTestEngine()
	assert.Panics(t, func() {
		PreemptLastRunningEntry(estate, nil, nil, nil)
	})
}

func TestPreemptLastRunningEntry_PicksLastAdmittedRequest(t *testing.T) {
	estate, _ := newTestEngine()
	model := &fakeModel{}
	admitAlive(estate, tokenRequest("old", 1, []int{1, 2}, GenerationConfig{MaxTokens: 8}))
	victim := admitAlive(estate, tokenRequest("young", 1, []int{3, 4}, GenerationConfig{MaxTokens: 8}))

	entry := PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	assert.Same(t, victim.Entries[0], entry, "LIFO: youngest request is preempted")
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, StatusAlive, estate.GetRequestState(estate.RunningQueue.Front()).Entries[0].Status)
	assert.Equal(t, 1, estate.Metrics.PreemptionCount)
	assert.True(t, estate.ConsumeDirty())
}

func TestPreemptLastRunningEntry_FoldsCommittedTokensIntoPrompt(t *testing.T) {
	estate, _ := newTestEngine()
	model := &fakeModel{}
	rstate := admitAlive(estate, tokenRequest("r1", 1, []int{1, 2}, GenerationConfig{MaxTokens: 8}))
	mstate := rstate.Entries[0].PrimaryState()
	commitAll(mstate, 10, 11)
	mstate.CachedCommittedTokens = 1

	PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	// The rebuilt pending inputs replay the prompt plus generated history in
	// one token chunk, ready for a single resumption prefill.
	assert.Equal(t, []int{1, 2, 10, 11}, FlattenTokens(mstate.Inputs))
	assert.Zero(t, mstate.NumPrefilledTokens)
	assert.Empty(t, mstate.PrefilledInputs)
	assert.Zero(t, mstate.CachedCommittedTokens)
	assert.Equal(t, []int{10, 11}, mstate.CommittedTokenIDs(), "generated history kept")
}

func TestPreemptLastRunningEntry_RequeuesAtWaitingFront(t *testing.T) {
	estate, _ := newTestEngine()
	model := &fakeModel{}
	admitAlive(estate, tokenRequest("r1", 1, []int{1}, GenerationConfig{MaxTokens: 8}))
	waiter := tokenRequest("waiter", 1, []int{2}, GenerationConfig{MaxTokens: 8})
	estate.WaitingQueue.Enqueue(waiter)

	PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	assert.Zero(t, estate.RunningQueue.Len(), "sole branch preempted removes the request")
	assert.Equal(t, 2, estate.WaitingQueue.Len())
	assert.Equal(t, "r1", estate.WaitingQueue.Front().ID, "preempted request cuts the line")
}

func TestPreemptLastRunningEntry_UntrackedSequence_ReleasedImmediately(t *testing.T) {
	estate, _ := newTestEngine()
	model := &fakeModel{}
	rstate := admitAlive(estate, tokenRequest("r1", 1, []int{1}, GenerationConfig{MaxTokens: 8}))
	oldID := rstate.Entries[0].PrimaryState().InternalID

	PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	assert.Equal(t, []int64{oldID}, model.removed)
	assert.NotEqual(t, oldID, rstate.Entries[0].PrimaryState().InternalID, "fresh id bound")
	assert.Equal(t, 1, estate.IDs.NumLive(), "old id recycled, new id live")
}

func TestPreemptLastRunningEntry_TrackedSequence_RecycledEagerly(t *testing.T) {
	estate, cache := newTestEngine()
	model := &fakeModel{}
	rstate := admitAlive(estate, tokenRequest("r1", 1, []int{1}, GenerationConfig{MaxTokens: 8}))
	oldID := rstate.Entries[0].PrimaryState().InternalID
	cache.tracked[oldID] = true

	PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	assert.Equal(t, []recycleCall{{seqID: oldID, lazy: false}}, cache.recycles,
		"preempted sequence is reclaimed now, not at a later eviction")
	assert.Empty(t, model.removed, "cache owns the backend removal for tracked sequences")
}

func TestPreemptLastRunningEntry_SynchronousReleaseHook_BindsDistinctID(t *testing.T) {
	// Wire the reference cache the way the replay harness does: the release
	// hook removes the backend sequence and recycles its id synchronously
	// during the eager recycle. The rebound id must still be a different one.
	model := &fakeModel{}
	var estate *EngineState
	cache := NewTokenPrefixCache(1024, 4, func(seqID int64) {
		model.RemoveSequence(seqID)
		estate.IDs.RecycleID(seqID)
	})
	estate = NewEngineState(cache)

	rstate := admitAlive(estate, tokenRequest("r1", 1, []int{1, 2, 3, 4}, GenerationConfig{MaxTokens: 8}))
	mstate := rstate.Entries[0].PrimaryState()
	oldID := mstate.InternalID
	cache.ExtendSequence(oldID, FlattenTokens(mstate.PrefilledInputs))

	PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	assert.NotEqual(t, oldID, mstate.InternalID)
	assert.Equal(t, []int64{oldID}, model.removed, "release hook owns the backend removal")
	assert.False(t, cache.HasSequence(oldID))
	assert.Equal(t, 1, estate.IDs.NumLive(), "old id recycled, rebound id live")
}

func TestPreemptLastRunningEntry_FreesDraftTokenSlots(t *testing.T) {
	estate, _ := newTestEngine()
	model := &fakeModel{}
	ws := &fakeWorkspace{}
	rstate := admitAlive(estate, tokenRequest("r1", 1, []int{1}, GenerationConfig{MaxTokens: 8}))
	mstate := rstate.Entries[0].PrimaryState()
	mstate.DraftTokenSlots = []int{4, 7}

	PreemptLastRunningEntry(estate, []Model{model}, ws, nil)

	assert.Equal(t, [][]int{{4, 7}}, ws.freed)
	assert.Empty(t, mstate.DraftTokenSlots)
}

func TestPreemptLastRunningEntry_PartiallyPrefilled_NotRequeued(t *testing.T) {
	// A branch with unsubmitted inputs never left the waiting phase, so
	// preemption must not re-add its request to the waiting queue.
	estate, _ := newTestEngine()
	model := &fakeModel{}
	rstate := admitAlive(estate, tokenRequest("r1", 1, []int{1, 2}, GenerationConfig{MaxTokens: 8}))
	mstate := rstate.Entries[0].PrimaryState()
	mstate.Inputs = []Data{NewTokenData([]int{3, 4})}

	PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	assert.Zero(t, estate.WaitingQueue.Len())
	assert.Zero(t, estate.RunningQueue.Len())
}

func TestPreemptLastRunningEntry_ParallelSampling_PeelsBranchesBackToFront(t *testing.T) {
	estate, _ := newTestEngine()
	model := &fakeModel{}
	rstate := admitAlive(estate, tokenRequest("r1", 2, []int{1, 2}, GenerationConfig{MaxTokens: 8}))
	commitAll(rstate.Entries[1].PrimaryState(), 20)
	commitAll(rstate.Entries[2].PrimaryState(), 30)

	first := PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	assert.Same(t, rstate.Entries[2], first, "last branch goes first")
	// Child branches replay only their own sampled continuation; the shared
	// prompt lives in the root's sequence.
	assert.Equal(t, []int{30}, FlattenTokens(first.PrimaryState().Inputs))
	assert.Equal(t, 1, estate.RunningQueue.Len(), "other branches still running")
	assert.Equal(t, 1, estate.WaitingQueue.Len(), "request queued for re-admission once")

	second := PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	assert.Same(t, rstate.Entries[1], second)
	assert.Equal(t, 1, estate.RunningQueue.Len(), "root branch keeps the request running")
	assert.Equal(t, 1, estate.WaitingQueue.Len(), "middle branches do not requeue again")

	third := PreemptLastRunningEntry(estate, []Model{model}, nil, nil)

	assert.Same(t, rstate.Entries[0], third)
	assert.Zero(t, estate.RunningQueue.Len(), "preempting the root removes the request")
}

func TestPreemptLastRunningEntry_NoAliveEntry_Panics(t *testing.T) {
	estate, _ := newTestEngine()
	rstate := admitAlive(estate, tokenRequest("r1", 1, []int{1}, GenerationConfig{MaxTokens: 8}))
	rstate.Entries[0].Status = StatusFinished

	assert.Panics(t, func() {
		PreemptLastRunningEntry(estate, nil, nil, nil)
	})
}
