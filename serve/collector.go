// Prometheus collector over EngineState: queue depths, retirement and
// preemption counters, token totals. Collected on scrape from the engine's
// aggregate metrics; callers register it on their own registry.

package serve

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	descRunningRequests = prometheus.NewDesc(
		"engine_running_requests",
		"Number of requests currently in the running queue.",
		nil, nil,
	)
	descWaitingRequests = prometheus.NewDesc(
		"engine_waiting_requests",
		"Number of requests awaiting (re)admission.",
		nil, nil,
	)
	descFinishedRequests = prometheus.NewDesc(
		"engine_finished_requests_total",
		"Requests fully finished and retired from the engine.",
		nil, nil,
	)
	descPreemptions = prometheus.NewDesc(
		"engine_preemptions_total",
		"Branch preemptions performed to reclaim backend resources.",
		nil, nil,
	)
	descPrefillTokens = prometheus.NewDesc(
		"engine_prefill_tokens_total",
		"Prompt tokens prefilled across finished requests.",
		nil, nil,
	)
	descDecodeTokens = prometheus.NewDesc(
		"engine_decode_tokens_total",
		"Completion tokens committed across finished requests.",
		nil, nil,
	)
)

type engineStateCollector struct {
	estate *EngineState
}

// Check that engineStateCollector implements the necessary interface
var _ prometheus.Collector = &engineStateCollector{}

// NewEngineStateCollector implements prometheus.Collector over the engine
// state. Scrapes read the single-owner state without locking, so the
// collector must be scraped from the engine goroutine's side (e.g. between
// steps) or accepted as approximate.
func NewEngineStateCollector(estate *EngineState) prometheus.Collector {
	return &engineStateCollector{estate: estate}
}

// Describe implements the prometheus.Collector interface.
func (c *engineStateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRunningRequests
	ch <- descWaitingRequests
	ch <- descFinishedRequests
	ch <- descPreemptions
	ch <- descPrefillTokens
	ch <- descDecodeTokens
}

// Collect implements the prometheus.Collector interface.
func (c *engineStateCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(descRunningRequests, prometheus.GaugeValue,
		float64(c.estate.RunningQueue.Len()))
	ch <- prometheus.MustNewConstMetric(descWaitingRequests, prometheus.GaugeValue,
		float64(c.estate.WaitingQueue.Len()))
	ch <- prometheus.MustNewConstMetric(descFinishedRequests, prometheus.CounterValue,
		float64(c.estate.Metrics.FinishedRequests))
	ch <- prometheus.MustNewConstMetric(descPreemptions, prometheus.CounterValue,
		float64(c.estate.Metrics.PreemptionCount))
	ch <- prometheus.MustNewConstMetric(descPrefillTokens, prometheus.CounterValue,
		float64(c.estate.Metrics.TotalPrefillTokens))
	ch <- prometheus.MustNewConstMetric(descDecodeTokens, prometheus.CounterValue,
		float64(c.estate.Metrics.TotalDecodeTokens))
}
