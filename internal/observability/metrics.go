package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_cycles_total",
		Help: "Keyword fetch cycles by outcome",
	}, []string{"status"})

	CycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_cycle_duration_seconds",
		Help:    "Duration of a keyword fetch cycle",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	ItemsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_items_fetched_total",
		Help: "Items fetched from the content network",
	}, []string{"type"})

	ItemsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_items_stored_total",
		Help: "Items persisted after enrichment",
	}, []string{"type"})

	DuplicatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_duplicates_skipped_total",
		Help: "Items skipped because their external id was already stored",
	}, []string{"type"})

	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_analyses_total",
		Help: "Item analyses by method (ai or fallback)",
	}, []string{"method"})

	AIRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_ai_request_duration_seconds",
		Help:    "Duration of single-item AI analysis calls",
		Buckets: prometheus.DefBuckets,
	})

	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_fetch_failures_total",
		Help: "Failed content network requests by stage",
	}, []string{"stage"})

	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_lock_contention_total",
		Help: "Fetch requests rejected because the keyword was already processing",
	})
)
