// Finish cascade: marks stopped leaves finished, releases their backend
// resources, climbs the branch tree finishing ancestors whose children are
// all done, and retires fully-finished requests from the engine.

package serve

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-core/inference-core/serve/trace"
)

// removeRequestFromModels drops the sequence from every backend model
// (usually the KV cache).
func removeRequestFromModels(seqID int64, models []Model) {
	for _, model := range models {
		model.RemoveSequence(seqID)
	}
}

// removeEntrySequence releases the backend sequence of one branch.
// Cache-tracked sequences of unpinned requests are recycled lazily: the
// cache may keep the tokens resident for reuse by a future request with a
// matching prefix. Pinned sequences are left untouched. Untracked sequences
// are removed from the models and their id reclaimed immediately.
func removeEntrySequence(estate *EngineState, entry *RequestStateEntry, models []Model) {
	seqID := entry.PrimaryState().InternalID
	if estate.PrefixCache.HasSequence(seqID) {
		if !entry.Request.GenerationCfg.DebugConfig.PinnedSystemPrompt {
			estate.PrefixCache.RecycleSequence(seqID, true)
		}
	} else {
		removeRequestFromModels(seqID, models)
		estate.IDs.RecycleID(seqID)
	}
}

// ProcessFinishedEntries retires the given just-stopped leaf entries.
// For each one it marks the entry finished, releases its resources, then
// walks ParentIdx upward finishing every ancestor whose children are all
// finished. When the root finishes, the owning request is removed from the
// running queue and the request state map, its metrics folded into the
// engine aggregate, and a usage-summary record appended to outputs.
func ProcessFinishedEntries(finished []*RequestStateEntry, estate *EngineState, models []Model,
	rec trace.Recorder, outputs *[]*RequestStreamOutput) {
	for _, entry := range finished {
		// Only leaves stop on their own; a non-leaf here is a defect upstream.
		if len(entry.ChildIndices) != 0 {
			panic("ProcessFinishedEntries: finished entry has children")
		}
		entry.Status = StatusFinished
		removeEntrySequence(estate, entry, models)

		rstate := estate.GetRequestState(entry.Request)
		parentIdx := entry.ParentIdx
		for parentIdx != -1 {
			allChildrenFinished := true
			for _, childIdx := range rstate.Entries[parentIdx].ChildIndices {
				if rstate.Entries[childIdx].Status != StatusFinished {
					allChildrenFinished = false
					break
				}
			}
			if !allChildrenFinished {
				break
			}

			rstate.Entries[parentIdx].Status = StatusFinished
			removeEntrySequence(estate, rstate.Entries[parentIdx], models)
			parentIdx = rstate.Entries[parentIdx].ParentIdx
		}

		if parentIdx == -1 {
			// The root finished: retire the request from the engine.
			estate.RunningQueue.Remove(entry.Request)
			delete(estate.RequestStates, entry.Request.ID)

			rstate.Metrics.FinishTime = time.Now()
			estate.Metrics.RequestFinishUpdate(&rstate.Metrics)
			trace.RecordEvent(rec, entry.Request.ID, "finish")
			logrus.Debugf("request %s retired", entry.Request.ID)

			*outputs = append(*outputs, NewUsageOutput(entry.Request.ID, rstate.Metrics.AsUsageJSON()))
		}
		estate.RunningEntriesChanged = true
	}
}
