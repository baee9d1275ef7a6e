package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiPromptTokens,
		aiCallsLatencyMs,
		resourceSearchLatencyMs,
	)
}

var (
	aiPromptTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_prompt_tokens_total",
			Help: "Sum of prompt tokens sent per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "Plan generation call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"provider", "model", "success"},
	)

	resourceSearchLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resource_search_latency_ms",
			Help:    "Upstream resource search latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000},
		},
		[]string{"source", "success"},
	)
)

func ObservePlanCall(provider, model string, promptTokens, latencyMs int, success bool) {
	aiPromptTokens.WithLabelValues(norm(provider), norm(model)).Add(float64(promptTokens))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func ObserveResourceSearch(source string, latencyMs int, success bool) {
	resourceSearchLatencyMs.WithLabelValues(norm(source), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
