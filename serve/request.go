// Defines the Request struct as submitted by the surrounding server, and the
// generation configuration that controls sampling, branching and stopping.
// A Request is immutable once admitted into the engine.

package serve

import (
	"fmt"
)

// DebugConfig carries per-request debugging knobs.
type DebugConfig struct {
	// PinnedSystemPrompt marks the underlying backend sequence as pinned:
	// its KV data must stay resident and is never recycled, even after the
	// request finishes.
	PinnedSystemPrompt bool `yaml:"pinned_system_prompt"`
}

// GenerationConfig controls how a request's output is generated.
type GenerationConfig struct {
	// N is the number of parallel sample branches generated for the request.
	N           int     `yaml:"n"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	// MaxTokens caps the completion tokens per branch; 0 means unlimited.
	MaxTokens int `yaml:"max_tokens"`
	// StopTokenIDs and StopStrings terminate a branch with reason stop. The
	// matched stop token or stop string itself is never streamed.
	StopTokenIDs []int    `yaml:"stop_token_ids"`
	StopStrings  []string `yaml:"stop_strings"`
	// LogProbs requests per-token logprob payloads; TopLogProbs sets the
	// number of alternatives reported per position.
	LogProbs    bool `yaml:"logprobs"`
	TopLogProbs int  `yaml:"top_logprobs"`

	DebugConfig DebugConfig `yaml:"debug_config"`
}

// Request models a single generation request submitted to the engine.
// Inputs are an ordered list of data chunks; GenerationConfig is fixed for
// the request's lifetime.
type Request struct {
	ID            string
	Inputs        []Data
	GenerationCfg *GenerationConfig
}

// NewRequest constructs a Request, defaulting N to 1 when unset.
func NewRequest(id string, inputs []Data, cfg *GenerationConfig) *Request {
	if cfg.N <= 0 {
		cfg.N = 1
	}
	return &Request{
		ID:            id,
		Inputs:        inputs,
		GenerationCfg: cfg,
	}
}

// PromptLength returns the total number of input positions across chunks.
func (r *Request) PromptLength() int {
	return DataLength(r.Inputs)
}

func (r *Request) String() string {
	return fmt.Sprintf("Request: (ID: %s, PromptLength: %d, N: %d)", r.ID, r.PromptLength(), r.GenerationCfg.N)
}
