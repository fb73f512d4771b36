package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "till_pending_operations",
		Help: "Operations waiting in the local sync queue",
	})

	OperationsReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "till_operations_replayed_total",
		Help: "Pending operations confirmed by the remote store",
	}, []string{"kind", "collection"})

	DrainHalts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "till_drain_halts_total",
		Help: "Drains stopped at a failing operation",
	}, []string{"collection"})

	DrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "till_drain_duration_seconds",
		Help:    "Latency distribution of queue drains",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
	})

	RepositoryWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "till_repository_writes_total",
		Help: "Entity writes by routing path and outcome",
	}, []string{"collection", "path", "outcome"})

	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "till_saga_outcomes_total",
		Help: "Cash session sagas by terminal state",
	}, []string{"operation", "state"})

	LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "till_credit_rejections_total",
		Help: "Credit movements refused before any write",
	}, []string{"reason"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "till_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "till_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})
)

// Write routing paths
const (
	PathDirect = "direct"
	PathQueued = "queued"
)

// Write outcomes
const (
	OutcomeOK         = "ok"
	OutcomeRolledBack = "rolled_back"
	OutcomeDegraded   = "degraded"
)
