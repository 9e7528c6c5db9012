// Prefix-cache synchronization: pushes newly prefilled and newly committed
// tokens into the prefix cache once per step, keeping the cache's view of
// each sequence's token history consistent with the backend.

package serve

// SyncPrefixCache walks every branch of the given request states and
// extends the prefix cache with (a) tokens prefilled this step and (b)
// committed tokens past the per-branch cursor. The most recent committed
// token is always excluded: it is not guaranteed to be in the backend KV
// cache yet. Safe to call when nothing changed; no-ops push nothing.
func SyncPrefixCache(rstates []*RequestState, estate *EngineState) {
	for _, rstate := range rstates {
		for _, entry := range rstate.Entries {
			mstate := entry.PrimaryState()
			if len(mstate.PrefilledInputs) > 0 {
				// Embedding chunks have no token representation and are
				// skipped; they cannot feed a prefix-cache key.
				if tokenIDs := FlattenTokens(mstate.PrefilledInputs); len(tokenIDs) > 0 {
					estate.PrefixCache.ExtendSequence(mstate.InternalID, tokenIDs)
				}
				mstate.PrefilledInputs = nil
			}
			if mstate.CachedCommittedTokens < len(mstate.CommittedTokens)-1 {
				confirmed := len(mstate.CommittedTokens) - 1
				tokenIDs := make([]int, 0, confirmed-mstate.CachedCommittedTokens)
				for i := mstate.CachedCommittedTokens; i < confirmed; i++ {
					tokenIDs = append(tokenIDs, mstate.CommittedTokens[i].TokenID)
				}
				estate.PrefixCache.ExtendSequence(mstate.InternalID, tokenIDs)
				mstate.CachedCommittedTokens = confirmed
			}
		}
	}
}
