package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetql_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetql_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ingestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetql_ingest_total",
			Help: "Total number of upload ingestions by outcome.",
		},
		[]string{"outcome"},
	)
	ingestRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetql_ingest_rows_total",
			Help: "Total number of rows committed by successful ingestions.",
		},
	)
	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sheetql_ingest_duration_seconds",
			Help:    "End-to-end ingestion latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	queryRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetql_query_rejections_total",
			Help: "Total number of model-issued statements rejected by the validator.",
		},
		[]string{"reason"},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetql_tool_calls_total",
			Help: "Total number of tool invocations by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)
	toolDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetql_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"tool"},
	)
	modelRoundTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetql_model_round_trips_total",
			Help: "Total number of model endpoint round trips by outcome.",
		},
		[]string{"outcome"},
	)
	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetql_chat_turns_total",
			Help: "Total number of chat turns by terminal outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		ingestTotal,
		ingestRowsTotal,
		ingestDurationSeconds,
		queryRejectionsTotal,
		toolCallsTotal,
		toolDurationSeconds,
		modelRoundTripsTotal,
		chatTurnsTotal,
	)
}

// ObserveIngest records one ingestion. outcome is "ok" or the ingest error kind.
func ObserveIngest(outcome string, rows int64, elapsed time.Duration) {
	ingestTotal.WithLabelValues(outcome).Inc()
	if rows > 0 {
		ingestRowsTotal.Add(float64(rows))
	}
	ingestDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementQueryRejection(reason string) {
	queryRejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveToolCall(tool, outcome string, elapsed time.Duration) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	toolDurationSeconds.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func IncrementModelRoundTrip(outcome string) {
	modelRoundTripsTotal.WithLabelValues(outcome).Inc()
}

func IncrementChatTurn(outcome string) {
	chatTurnsTotal.WithLabelValues(outcome).Inc()
}
