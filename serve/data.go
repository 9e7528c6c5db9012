// Input data chunks that make up a request's prompt.
// A request's inputs are an ordered list of chunks; most chunks carry token
// ids, but opaque embedding chunks (e.g. image features) are also possible.

package serve

// Data is one chunk of request input.
type Data interface {
	// Length returns the number of backend positions this chunk occupies.
	Length() int
}

// TokenData is a chunk of token ids.
type TokenData struct {
	TokenIDs []int
}

// NewTokenData copies the given token ids into a fresh chunk.
func NewTokenData(tokenIDs []int) *TokenData {
	ids := make([]int, len(tokenIDs))
	copy(ids, tokenIDs)
	return &TokenData{TokenIDs: ids}
}

func (d *TokenData) Length() int {
	return len(d.TokenIDs)
}

// EmbeddingData is a chunk of precomputed embeddings. It occupies backend
// positions but has no token-id representation, so it cannot contribute to
// prefix-cache keys.
type EmbeddingData struct {
	NumPositions int
}

func (d *EmbeddingData) Length() int {
	return d.NumPositions
}

// FlattenTokens collects the token ids of all token-bearing chunks in order.
// Embedding chunks are skipped.
func FlattenTokens(chunks []Data) []int {
	var tokenIDs []int
	for _, chunk := range chunks {
		if td, ok := chunk.(*TokenData); ok {
			tokenIDs = append(tokenIDs, td.TokenIDs...)
		}
	}
	return tokenIDs
}

// DataLength sums the positions occupied by the given chunks.
func DataLength(chunks []Data) int {
	total := 0
	for _, chunk := range chunks {
		total += chunk.Length()
	}
	return total
}
