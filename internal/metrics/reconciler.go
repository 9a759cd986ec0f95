package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockscan",
		Subsystem: "reconciler",
		Name:      "runs_total",
		Help:      "Count of HeaderReconciler runs by outcome.",
	}, []string{"outcome"})

	reconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockscan",
		Subsystem: "reconciler",
		Name:      "duration_seconds",
		Help:      "Duration of a HeaderReconciler run.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	reconcileResumeHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blockscan",
		Subsystem: "reconciler",
		Name:      "resume_height",
		Help:      "Height HeaderReconciler determined the scan should resume from.",
	})
)

// Reconciler tracks metrics for HeaderReconciler.
type Reconciler struct{}

// NewReconciler constructs a Reconciler metrics wrapper.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// ObserveRun records one reconciliation run's outcome and duration.
// outcome is one of "resumed", "corrupt_header_db", or "genesis".
func (m Reconciler) ObserveRun(outcome string, resumeHeight uint32, started time.Time) {
	reconcileRuns.WithLabelValues(outcome).Inc()
	reconcileDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	reconcileResumeHeight.Set(float64(resumeHeight))
}
