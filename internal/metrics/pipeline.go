// Package metrics exposes application metrics collectors for the
// block-scanning core, following the teacher's per-component Observe*
// wrapper pattern (internal/metrics/backfill_ingestor.go) over
// promauto-registered prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineBatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockscan",
		Subsystem: "pipeline",
		Name:      "batches_total",
		Help:      "Count of batches processed by the scan pipeline.",
	}, []string{"network", "status"})

	pipelineBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockscan",
		Subsystem: "pipeline",
		Name:      "batch_duration_seconds",
		Help:      "Duration of scanning and committing one batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "status"})

	pipelineBatchHeights = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockscan",
		Subsystem: "pipeline",
		Name:      "batch_heights",
		Help:      "Number of heights covered per batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"network"})

	pipelineMatchedOutputs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockscan",
		Subsystem: "pipeline",
		Name:      "matched_outputs_total",
		Help:      "Count of outputs matched by the address filter.",
	}, []string{"network"})

	pipelineMatchedInputs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockscan",
		Subsystem: "pipeline",
		Name:      "matched_inputs_total",
		Help:      "Count of inputs resolved against the batch utxo map.",
	}, []string{"network"})
)

// Pipeline tracks metrics for ScanPipeline.
type Pipeline struct {
	network string
}

// NewPipeline constructs a Pipeline metrics wrapper for network.
func NewPipeline(network string) *Pipeline {
	if network == "" {
		network = "unknown"
	}
	return &Pipeline{network: network}
}

// ObserveBatch records a completed batch's outcome and duration.
func (m Pipeline) ObserveBatch(err error, heights int, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pipelineBatchTotal.WithLabelValues(m.network, status).Inc()
	pipelineBatchDuration.WithLabelValues(m.network, status).Observe(time.Since(started).Seconds())
	pipelineBatchHeights.WithLabelValues(m.network).Observe(float64(heights))
}

// ObserveMatchedOutputs adds n matched outputs to the running counter.
func (m Pipeline) ObserveMatchedOutputs(n int) {
	pipelineMatchedOutputs.WithLabelValues(m.network).Add(float64(n))
}

// ObserveMatchedInputs adds n matched inputs to the running counter.
func (m Pipeline) ObserveMatchedInputs(n int) {
	pipelineMatchedInputs.WithLabelValues(m.network).Add(float64(n))
}
