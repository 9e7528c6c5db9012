// Stream-output records delivered through the request stream callback.

package serve

import "encoding/json"

// StreamGroup is the per-branch slice of a stream output: the delta token
// ids of one of the request's n sample branches, optional logprob payloads,
// an optional finish reason, and any literal text the branch must emit.
type StreamGroup struct {
	DeltaTokenIDs     []int
	DeltaLogProbJSONs []string // nil unless the request asked for logprobs
	FinishReason      FinishReason
	ExtraText         string
}

// RequestStreamOutput is one record of the per-step callback batch. Either
// Groups is populated (per-branch deltas, one group per sample branch) or
// Usage is (final usage summary of a fully finished request), never both.
type RequestStreamOutput struct {
	RequestID string
	Groups    []StreamGroup
	Usage     json.RawMessage
}

// NewUsageOutput builds the usage-summary record streamed back when a
// request fully finishes.
func NewUsageOutput(requestID string, usage json.RawMessage) *RequestStreamOutput {
	return &RequestStreamOutput{RequestID: requestID, Usage: usage}
}
