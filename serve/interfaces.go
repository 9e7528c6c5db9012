// Contracts the engine core relies on from its collaborators: the backend
// models, the prefix cache, the tokenizer, and the speculative-decoding
// draft token workspace. The internals behind these interfaces are owned by
// the surrounding server.

package serve

// Model is one backend model participating in generation (usually a wrapper
// over a KV cache plus forward-pass machinery). The core only needs to drop
// sequences.
type Model interface {
	// RemoveSequence releases all backend resources bound to the sequence id.
	RemoveSequence(seqID int64)
}

// PrefixCache tracks which backend sequences have reusable token history.
type PrefixCache interface {
	// HasSequence reports whether the cache tracks the sequence id.
	HasSequence(seqID int64) bool
	// ExtendSequence appends tokens to the cache's view of the sequence's
	// token history.
	ExtendSequence(seqID int64, tokenIDs []int)
	// RecycleSequence hands the sequence back to the cache. Lazy recycling
	// keeps the backend sequence alive for reuse by a future request with a
	// matching prefix; non-lazy recycling releases it immediately.
	RecycleSequence(seqID int64, lazy bool)
}

// Tokenizer decodes token ids into text. Only the decode direction is
// needed here, for stop-string matching and extra-text emission.
type Tokenizer interface {
	Decode(tokenIDs []int) string
}

// DraftTokenWorkspaceManager reclaims draft-token storage slots under
// speculative decoding. Optional: a nil handle means speculative decoding
// is not configured.
type DraftTokenWorkspaceManager interface {
	FreeSlots(slots []int)
}

// StreamCallback receives one batch of stream outputs per engine step.
// It is invoked synchronously from the post-step pipeline and must not
// re-enter the engine; it should hand the batch off and return quickly.
type StreamCallback func(outputs []*RequestStreamOutput)
