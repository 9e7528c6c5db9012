package serve

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineStateCollector_ReflectsState(t *testing.T) {
	estate, _ := newTestEngine()
	admitAlive(estate, tokenRequest("r1", 1, []int{1}, GenerationConfig{MaxTokens: 8}))
	estate.WaitingQueue.Enqueue(tokenRequest("w1", 1, []int{2}, GenerationConfig{MaxTokens: 8}))
	estate.Metrics.FinishedRequests = 3
	estate.Metrics.PreemptionCount = 2
	estate.Metrics.TotalPrefillTokens = 40
	estate.Metrics.TotalDecodeTokens = 15

	collector := NewEngineStateCollector(estate)

	expected := `
# HELP engine_running_requests Number of requests currently in the running queue.
# TYPE engine_running_requests gauge
engine_running_requests 1
# HELP engine_waiting_requests Number of requests awaiting (re)admission.
# TYPE engine_waiting_requests gauge
engine_waiting_requests 1
# HELP engine_finished_requests_total Requests fully finished and retired from the engine.
# TYPE engine_finished_requests_total counter
engine_finished_requests_total 3
# HELP engine_preemptions_total Branch preemptions performed to reclaim backend resources.
# TYPE engine_preemptions_total counter
engine_preemptions_total 2
# HELP engine_prefill_tokens_total Prompt tokens prefilled across finished requests.
# TYPE engine_prefill_tokens_total counter
engine_prefill_tokens_total 40
# HELP engine_decode_tokens_total Completion tokens committed across finished requests.
# TYPE engine_decode_tokens_total counter
engine_decode_tokens_total 15
`
	assert.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected)))
}

func TestEngineStateCollector_Registers(t *testing.T) {
	estate, _ := newTestEngine()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewEngineStateCollector(estate)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)
}
