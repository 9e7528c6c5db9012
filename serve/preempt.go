// Preemption: reclaims the backend resources of the most recently admitted
// running request's latest alive branch, re-queuing the request for future
// re-admission.

package serve

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-core/inference-core/serve/trace"
)

// PreemptLastRunningEntry evicts the last alive branch of the last request
// in the running queue and returns it. The branch is reset to Pending with
// its committed tokens folded back into its pending inputs, its backend
// sequence reclaimed, and a fresh sequence id bound for a later resumption.
// LIFO selection protects older requests that have invested more forward
// progress, and is O(1) given the running queue's admission order.
//
// draftWS may be nil when speculative decoding is not configured.
func PreemptLastRunningEntry(estate *EngineState, models []Model,
	draftWS DraftTokenWorkspaceManager, rec trace.Recorder) *RequestStateEntry {
	if estate.RunningQueue.Len() == 0 {
		panic("PreemptLastRunningEntry: running queue is empty")
	}
	request := estate.RunningQueue.Back()

	// Find the last alive entry; that is the one to preempt.
	rstate := estate.GetRequestState(request)
	preemptIdx := -1
	for i := len(rstate.Entries) - 1; i >= 0; i-- {
		if rstate.Entries[i].Status == StatusAlive {
			preemptIdx = i
			break
		}
	}
	if preemptIdx == -1 {
		panic("PreemptLastRunningEntry: running request has no alive entry")
	}
	entry := rstate.Entries[preemptIdx]

	// A branch with unsubmitted inputs was never fully prefilled; it is
	// still effectively waiting.
	partiallyAlive := len(entry.PrimaryState().Inputs) > 0

	trace.RecordEvent(rec, request.ID, "preempt")
	logrus.Warnf("preempting request %s entry %d", request.ID, preemptIdx)
	entry.Status = StatusPending
	for _, mstate := range entry.MStates {
		if draftWS != nil {
			var draftSlots []int
			mstate.RemoveAllDraftTokens(&draftSlots)
			draftWS.FreeSlots(draftSlots)
		}
		committedTokenIDs := mstate.CommittedTokenIDs()
		mstate.NumPrefilledTokens = 0

		// Rebuild the pending inputs for a future prefill, merging the
		// committed tokens into the trailing token chunk so resumption
		// embeds them in one pass.
		var inputs []Data
		if entry.ParentIdx == -1 {
			inputs = append([]Data(nil), request.Inputs...)
			if td, ok := last(inputs).(*TokenData); ok {
				merged := append(append([]int(nil), td.TokenIDs...), committedTokenIDs...)
				inputs[len(inputs)-1] = &TokenData{TokenIDs: merged}
			} else if len(committedTokenIDs) > 0 {
				inputs = append(inputs, &TokenData{TokenIDs: committedTokenIDs})
			}
		} else if len(committedTokenIDs) > 0 {
			inputs = append(inputs, &TokenData{TokenIDs: committedTokenIDs})
		}
		mstate.Inputs = inputs
		mstate.PrefilledInputs = nil
		mstate.CachedCommittedTokens = 0
	}

	// Mint the replacement id while the old one is still outstanding. The
	// reclaim below may return the old id to the allocator synchronously
	// (directly, or through the cache's release hook), and the allocator
	// reissues freed ids first; allocating after the reclaim could hand the
	// branch its own id back.
	newSeqID := estate.IDs.GetNewID()

	// The branch leaves the running set entirely, so reclaim its sequence
	// eagerly instead of leaving it for lazy cache eviction.
	seqID := entry.PrimaryState().InternalID
	if estate.PrefixCache.HasSequence(seqID) {
		estate.PrefixCache.RecycleSequence(seqID, false)
	} else {
		removeRequestFromModels(seqID, models)
		estate.IDs.RecycleID(seqID)
	}
	// Bind the fresh id so a later resumption starts from a clean sequence.
	for _, mstate := range entry.MStates {
		mstate.InternalID = newSeqID
	}

	if preemptIdx == 0 {
		estate.RunningQueue.Remove(request)
	}
	if !partiallyAlive && preemptIdx == len(rstate.Entries)-1 {
		estate.WaitingQueue.PrependFront(request)
	}
	estate.Metrics.PreemptionCount++
	estate.RunningEntriesChanged = true
	return entry
}

func last(chunks []Data) Data {
	if len(chunks) == 0 {
		return nil
	}
	return chunks[len(chunks)-1]
}
