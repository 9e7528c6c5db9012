// Tracks per-request and engine-wide metrics: token counts, timestamps,
// and the usage summary streamed back when a request fully finishes.

package serve

import (
	"encoding/json"
	"fmt"
	"time"
)

// RequestMetrics aggregates per-request accounting over the request's
// lifetime in the engine.
type RequestMetrics struct {
	PrefillTokens int // prompt tokens prefilled, counted across all branches
	DecodeTokens  int // completion tokens committed, counted across all branches

	AddTime    time.Time // when the request was admitted
	FinishTime time.Time // when the root entry finished
}

// usageSummary is the outward-facing usage payload.
type usageSummary struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	E2ELatencySecs   float64 `json:"end_to_end_latency_s"`
}

// AsUsageJSON renders the request's usage summary for the stream callback.
func (m *RequestMetrics) AsUsageJSON() json.RawMessage {
	u := usageSummary{
		PromptTokens:     m.PrefillTokens,
		CompletionTokens: m.DecodeTokens,
		TotalTokens:      m.PrefillTokens + m.DecodeTokens,
	}
	if !m.FinishTime.IsZero() && !m.AddTime.IsZero() {
		u.E2ELatencySecs = m.FinishTime.Sub(m.AddTime).Seconds()
	}
	b, err := json.Marshal(u)
	if err != nil {
		panic(fmt.Sprintf("marshal usage summary: %v", err))
	}
	return b
}

// EngineMetrics aggregates engine-wide statistics across the serving
// session.
type EngineMetrics struct {
	FinishedRequests   int // requests fully finished and retired
	PreemptionCount    int // branch preemptions performed
	TotalPrefillTokens int // sum of prefill tokens across finished requests
	TotalDecodeTokens  int // sum of decode tokens across finished requests
	TotalE2ELatency    time.Duration
}

// NewEngineMetrics creates an empty metrics aggregate.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{}
}

// RequestFinishUpdate folds a finished request's metrics into the engine
// aggregate.
func (m *EngineMetrics) RequestFinishUpdate(rm *RequestMetrics) {
	m.FinishedRequests++
	m.TotalPrefillTokens += rm.PrefillTokens
	m.TotalDecodeTokens += rm.DecodeTokens
	if !rm.FinishTime.IsZero() && !rm.AddTime.IsZero() {
		m.TotalE2ELatency += rm.FinishTime.Sub(rm.AddTime)
	}
}

// Print displays aggregated metrics at the end of a serving session.
func (m *EngineMetrics) Print() {
	fmt.Println("=== Engine Metrics ===")
	fmt.Printf("Finished Requests    : %d\n", m.FinishedRequests)
	fmt.Printf("Preemptions          : %d\n", m.PreemptionCount)
	fmt.Printf("Total Prefill Tokens : %d\n", m.TotalPrefillTokens)
	fmt.Printf("Total Decode Tokens  : %d\n", m.TotalDecodeTokens)
	if m.FinishedRequests > 0 {
		avg := m.TotalE2ELatency / time.Duration(m.FinishedRequests)
		fmt.Printf("Average E2E Latency  : %s\n", avg)
	}
}
