// Post-step aggregation: runs once per engine step over the requests that
// had work done, synchronizes the prefix cache, collects per-branch deltas,
// triggers the finish cascade, and delivers one batched stream callback.

package serve

import (
	"github.com/inference-core/inference-core/serve/trace"
)

// StepPostProcess turns the step's raw per-branch decode results into
// externally observable output. The stream callback is invoked at most once
// per step, with the full batch of records.
func StepPostProcess(requests []*Request, estate *EngineState, models []Model,
	tokenizer Tokenizer, callback StreamCallback, maxSequenceLength int, rec trace.Recorder) {
	rstates := make([]*RequestState, 0, len(requests))
	var finishedEntries []*RequestStateEntry
	outputs := make([]*RequestStreamOutput, 0, len(requests))

	// Prefill accounting is per branch: parallel branches contribute to the
	// request's prefill metric independently.
	for _, request := range requests {
		rstate := estate.GetRequestState(request)
		rstates = append(rstates, rstate)
		for _, entry := range rstate.Entries {
			for _, chunk := range entry.PrimaryState().PrefilledInputs {
				rstate.Metrics.PrefillTokens += chunk.Length()
			}
		}
	}

	SyncPrefixCache(rstates, estate)

	for r, request := range requests {
		n := request.GenerationCfg.N
		rstate := rstates[r]
		groups := make([]StreamGroup, 0, n)

		invokeCallback := false
		for i := 0; i < n; i++ {
			// With n == 1 the sole branch is the root; otherwise branch i
			// maps to entry i+1, entry 0 being the structural root.
			entry := rstate.Entries[0]
			if n > 1 {
				entry = rstate.Entries[i+1]
			}
			delta := entry.DeltaOutput(tokenizer, maxSequenceLength)
			if delta.FinishReason != "" {
				invokeCallback = true
				finishedEntries = append(finishedEntries, entry)
			}
			if len(delta.DeltaTokenIDs) > 0 || len(delta.DeltaLogProbJSONs) > 0 || delta.ExtraText != "" {
				invokeCallback = true
			}
			rstate.Metrics.DecodeTokens += len(delta.DeltaTokenIDs)

			group := StreamGroup{
				DeltaTokenIDs: delta.DeltaTokenIDs,
				FinishReason:  delta.FinishReason,
				ExtraText:     delta.ExtraText,
			}
			if request.GenerationCfg.LogProbs {
				group.DeltaLogProbJSONs = delta.DeltaLogProbJSONs
			}
			groups = append(groups, group)
		}

		if invokeCallback {
			outputs = append(outputs, &RequestStreamOutput{
				RequestID: request.ID,
				Groups:    groups,
			})
		}
	}

	ProcessFinishedEntries(finishedEntries, estate, models, rec, &outputs)

	if len(outputs) > 0 {
		// One invocation for the whole step; never one per request.
		callback(outputs)
	}
}
