package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RouterDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codask",
		Name:      "router_decisions_total",
		Help:      "Context switch decisions by mode and reason.",
	}, []string{"mode", "reason"})

	PlanOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codask",
		Name:      "plan_executions_total",
		Help:      "Plan executions by terminal state.",
	}, []string{"state"})

	PlanSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codask",
		Name:      "plan_steps_total",
		Help:      "Executed plan steps by action and status.",
	}, []string{"action", "status"})

	RetrievalCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codask",
		Name:      "retrieval_calls_total",
		Help:      "Nearest-neighbour searches by namespace and outcome.",
	}, []string{"namespace", "outcome"})

	AssembleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codask",
		Name:      "assemble_duration_seconds",
		Help:      "Context assembly latency.",
		Buckets:   prometheus.DefBuckets,
	})

	BundleEntries = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codask",
		Name:      "bundle_entries",
		Help:      "Entries per assembled context bundle.",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codask",
		Name:      "generation_failures_total",
		Help:      "Answers returned without model phrasing.",
	})

	AskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codask",
		Name:      "ask_duration_seconds",
		Help:      "End-to-end latency of one conversation turn.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codask",
		Name:      "active_sessions",
		Help:      "Sessions currently held in memory.",
	})
)

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
