package serve

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestMetrics_AsUsageJSON(t *testing.T) {
	m := RequestMetrics{
		PrefillTokens: 12,
		DecodeTokens:  30,
		AddTime:       testTime(),
		FinishTime:    testTime().Add(1500 * time.Millisecond),
	}

	var usage map[string]float64
	assert.NoError(t, json.Unmarshal(m.AsUsageJSON(), &usage))
	assert.Equal(t, 12.0, usage["prompt_tokens"])
	assert.Equal(t, 30.0, usage["completion_tokens"])
	assert.Equal(t, 42.0, usage["total_tokens"])
	assert.Equal(t, 1.5, usage["end_to_end_latency_s"])
}

func TestRequestMetrics_AsUsageJSON_UnfinishedOmitsLatency(t *testing.T) {
	m := RequestMetrics{PrefillTokens: 1, DecodeTokens: 2, AddTime: testTime()}

	var usage map[string]float64
	assert.NoError(t, json.Unmarshal(m.AsUsageJSON(), &usage))
	assert.Zero(t, usage["end_to_end_latency_s"])
}

func TestEngineMetrics_RequestFinishUpdate(t *testing.T) {
	em := NewEngineMetrics()
	em.RequestFinishUpdate(&RequestMetrics{
		PrefillTokens: 10, DecodeTokens: 5,
		AddTime: testTime(), FinishTime: testTime().Add(2 * time.Second),
	})
	em.RequestFinishUpdate(&RequestMetrics{
		PrefillTokens: 6, DecodeTokens: 4,
		AddTime: testTime(), FinishTime: testTime().Add(4 * time.Second),
	})

	assert.Equal(t, 2, em.FinishedRequests)
	assert.Equal(t, 16, em.TotalPrefillTokens)
	assert.Equal(t, 9, em.TotalDecodeTokens)
	assert.Equal(t, 6*time.Second, em.TotalE2ELatency)
}
