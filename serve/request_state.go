// Per-request generation state: the branch tree, per-model decoding state,
// and the streaming-delta computation that turns committed tokens into
// externally observable output.

package serve

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a request state entry.
type Status int

const (
	// StatusPending marks an entry that is not scheduled for decoding yet.
	StatusPending Status = iota
	// StatusAlive marks an entry that is actively decoding.
	StatusAlive
	// StatusFinished marks a terminal entry whose resources are released.
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAlive:
		return "alive"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// FinishReason explains why a branch stopped generating.
// The empty string means "not finished".
type FinishReason string

const (
	FinishStop   FinishReason = "stop"   // stop token or stop string matched
	FinishLength FinishReason = "length" // token budget or model length exhausted
	FinishAbort  FinishReason = "abort"  // cancelled by the caller
)

// TokenProb is one (token, logprob) alternative at a sampled position.
type TokenProb struct {
	TokenID int     `json:"token"`
	LogProb float64 `json:"logprob"`
}

// SampleResult is one sampled token accepted into a branch's output history.
type SampleResult struct {
	TokenID   int
	LogProb   float64
	TopTokens []TokenProb // top alternatives, populated only when requested
}

// LogProbJSON renders the sample's logprob payload as a compact JSON string,
// the form in which it is carried through the stream callback.
func (s SampleResult) LogProbJSON() string {
	payload := struct {
		TokenID int         `json:"token"`
		LogProb float64     `json:"logprob"`
		Top     []TokenProb `json:"top_logprobs,omitempty"`
	}{s.TokenID, s.LogProb, s.TopTokens}
	b, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("marshal logprob payload: %v", err))
	}
	return string(b)
}

// RequestModelState is the per-branch, per-model decoding state.
// All model states of one entry share the same InternalID.
type RequestModelState struct {
	// InternalID is the backend sequence id currently bound to this branch.
	// Reassigned when the branch is preempted and later resumes.
	InternalID int64

	// Inputs are data chunks not yet submitted to the backend for prefill.
	Inputs []Data
	// PrefilledInputs are chunks submitted this step, awaiting prefix-cache
	// notification.
	PrefilledInputs []Data

	// CommittedTokens are the sampled tokens accepted so far.
	CommittedTokens []SampleResult
	// CachedCommittedTokens counts committed tokens already pushed to the
	// prefix cache. Always <= len(CommittedTokens)-1: the newest committed
	// token is not guaranteed to be in the backend KV cache yet.
	CachedCommittedTokens int

	// NumPrefilledTokens counts positions prefilled for this branch so far.
	NumPrefilledTokens int

	// DraftTokenSlots are workspace slots held for speculative draft tokens.
	DraftTokenSlots []int
}

// CommitToken appends a sampled token to the branch's output history.
func (m *RequestModelState) CommitToken(sample SampleResult) {
	m.CommittedTokens = append(m.CommittedTokens, sample)
}

// CommittedTokenIDs flattens the committed samples into bare token ids.
func (m *RequestModelState) CommittedTokenIDs() []int {
	ids := make([]int, len(m.CommittedTokens))
	for i, sample := range m.CommittedTokens {
		ids[i] = sample.TokenID
	}
	return ids
}

// RemoveAllDraftTokens drains the branch's draft-token slots into slots so
// the caller can hand them back to the draft token workspace.
func (m *RequestModelState) RemoveAllDraftTokens(slots *[]int) {
	*slots = append(*slots, m.DraftTokenSlots...)
	m.DraftTokenSlots = nil
}

// DeltaResult is the per-step output delta of one branch.
type DeltaResult struct {
	DeltaTokenIDs     []int
	DeltaLogProbJSONs []string
	FinishReason      FinishReason
	ExtraText         string
}

// RequestStateEntry is one node ("branch") of a request's generation tree.
type RequestStateEntry struct {
	Request *Request
	Status  Status

	// ParentIdx indexes the owning RequestState's entry list; -1 for the root.
	ParentIdx int
	// ChildIndices are the direct children; empty for leaves.
	ChildIndices []int

	// MStates holds one state per participating model. Index 0 is the
	// primary model and is authoritative for prefix-cache and sequence-id
	// operations.
	MStates []*RequestModelState

	// Streaming-delta state, owned by DeltaOutput.
	streamCursor int
	heldSamples  []SampleResult
	heldTexts    []string
	heldText     string
	pendingAbort bool
}

// PrimaryState returns the model state of the primary (target) model.
func (e *RequestStateEntry) PrimaryState() *RequestModelState {
	return e.MStates[0]
}

// MarkAbort flags the branch so its next delta carries an abort finish
// reason. Cancellation is modeled as a finish reason, not a separate path.
func (e *RequestStateEntry) MarkAbort() {
	e.pendingAbort = true
}

// DeltaOutput computes the branch's newly observable output: token ids
// committed since the previous call, logprob payloads when requested, an
// optional finish reason, and any literal text the branch must emit (the
// remainder preceding a matched stop string).
//
// Stop strings are matched over streamed text. Tokens whose decoded text
// could still begin a stop string are withheld from the delta; once the
// window can no longer match, the withheld tokens are released in order. On
// a match the branch finishes with FinishStop and the safe text before the
// match is delivered as ExtraText instead of token ids.
func (e *RequestStateEntry) DeltaOutput(tokenizer Tokenizer, maxSequenceLength int) DeltaResult {
	var out DeltaResult
	if e.Status == StatusFinished {
		return out
	}
	mstate := e.PrimaryState()
	cfg := e.Request.GenerationCfg
	maxStopLen := maxStopStringLength(cfg.StopStrings)
	stoppedByString := false

	for e.streamCursor < len(mstate.CommittedTokens) && out.FinishReason == "" {
		sample := mstate.CommittedTokens[e.streamCursor]
		e.streamCursor++

		if containsTokenID(cfg.StopTokenIDs, sample.TokenID) {
			// The stop token itself is never streamed.
			out.FinishReason = FinishStop
			break
		}

		if maxStopLen == 0 {
			e.emitSample(sample, cfg, &out)
			continue
		}

		e.heldSamples = append(e.heldSamples, sample)
		text := tokenizer.Decode([]int{sample.TokenID})
		e.heldTexts = append(e.heldTexts, text)
		e.heldText += text

		if pos := earliestStopMatch(e.heldText, cfg.StopStrings); pos >= 0 {
			out.FinishReason = FinishStop
			stoppedByString = true
			out.ExtraText += e.heldText[:pos]
			e.dropHeld()
			break
		}

		// Release withheld tokens whose text can no longer take part in a
		// future stop-string match.
		for len(e.heldSamples) > 0 && len(e.heldText)-len(e.heldTexts[0]) >= maxStopLen-1 {
			e.emitSample(e.heldSamples[0], cfg, &out)
			e.heldText = e.heldText[len(e.heldTexts[0]):]
			e.heldSamples = e.heldSamples[1:]
			e.heldTexts = e.heldTexts[1:]
		}
	}

	if out.FinishReason == "" {
		if cfg.MaxTokens > 0 && len(mstate.CommittedTokens) >= cfg.MaxTokens {
			out.FinishReason = FinishLength
		} else if maxSequenceLength > 0 &&
			mstate.NumPrefilledTokens+len(mstate.CommittedTokens) >= maxSequenceLength {
			out.FinishReason = FinishLength
		} else if e.pendingAbort {
			out.FinishReason = FinishAbort
		}
	}

	if out.FinishReason != "" && !stoppedByString {
		// Withheld tokens are real output everywhere except before a matched
		// stop string; flush them when the branch finishes for any other
		// reason.
		for _, sample := range e.heldSamples {
			e.emitSample(sample, cfg, &out)
		}
		e.dropHeld()
	}
	return out
}

func (e *RequestStateEntry) emitSample(sample SampleResult, cfg *GenerationConfig, out *DeltaResult) {
	out.DeltaTokenIDs = append(out.DeltaTokenIDs, sample.TokenID)
	if cfg.LogProbs {
		out.DeltaLogProbJSONs = append(out.DeltaLogProbJSONs, sample.LogProbJSON())
	}
}

func (e *RequestStateEntry) dropHeld() {
	e.heldSamples = nil
	e.heldTexts = nil
	e.heldText = ""
}

func maxStopStringLength(stops []string) int {
	maxLen := 0
	for _, s := range stops {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	return maxLen
}

// earliestStopMatch returns the byte offset of the earliest stop-string
// occurrence in text, or -1.
func earliestStopMatch(text string, stops []string) int {
	pos := -1
	for _, s := range stops {
		if s == "" {
			continue
		}
		if idx := strings.Index(text, s); idx >= 0 && (pos < 0 || idx < pos) {
			pos = idx
		}
	}
	return pos
}

func containsTokenID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// RequestState owns the branch tree of one admitted request.
// Entries reference each other only by index; index 0 is always the root.
type RequestState struct {
	Request *Request
	Entries []*RequestStateEntry
	Metrics RequestMetrics
}

// NewRequestState builds the branch tree for a request across numModels
// participating models. With N == 1 the tree is a single root entry carrying
// the request inputs. With N > 1 the root is a structural branching point
// and N child entries are spawned under it, each with its own sequence id.
func NewRequestState(req *Request, numModels int, ids *SeqIDAllocator, addTime time.Time) *RequestState {
	if numModels <= 0 {
		panic("NewRequestState: numModels must be positive")
	}
	rstate := &RequestState{Request: req}
	rstate.Metrics.AddTime = addTime

	rstate.Entries = append(rstate.Entries, newEntry(req, numModels, ids.GetNewID(), -1, req.Inputs))
	if n := req.GenerationCfg.N; n > 1 {
		root := rstate.Entries[0]
		for i := 0; i < n; i++ {
			root.ChildIndices = append(root.ChildIndices, i+1)
			rstate.Entries = append(rstate.Entries, newEntry(req, numModels, ids.GetNewID(), 0, nil))
		}
	}
	return rstate
}

func newEntry(req *Request, numModels int, seqID int64, parentIdx int, inputs []Data) *RequestStateEntry {
	entry := &RequestStateEntry{
		Request:   req,
		Status:    StatusPending,
		ParentIdx: parentIdx,
	}
	for i := 0; i < numModels; i++ {
		entry.MStates = append(entry.MStates, &RequestModelState{
			InternalID: seqID,
			Inputs:     append([]Data(nil), inputs...),
		})
	}
	return entry
}
