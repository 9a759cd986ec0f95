package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	committerWriteTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockscan",
		Subsystem: "committer",
		Name:      "writes_total",
		Help:      "Count of IndexCommitter table writes.",
	}, []string{"table", "status"})

	committerWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockscan",
		Subsystem: "committer",
		Name:      "write_duration_seconds",
		Help:      "Duration of writing one table for one batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"table", "status"})

	committerSentinelHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blockscan",
		Subsystem: "committer",
		Name:      "top_scanned_height",
		Help:      "Height of the last durably committed TopScannedHash.",
	})
)

// Committer tracks metrics for IndexCommitter.
type Committer struct{}

// NewCommitter constructs a Committer metrics wrapper.
func NewCommitter() *Committer {
	return &Committer{}
}

// ObserveWrite records one table write's outcome and duration.
func (m Committer) ObserveWrite(table string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	committerWriteTotal.WithLabelValues(table, status).Inc()
	committerWriteDuration.WithLabelValues(table, status).Observe(time.Since(started).Seconds())
}

// SetTopScannedHeight publishes the most recently committed sentinel height.
func (m Committer) SetTopScannedHeight(height uint32) {
	committerSentinelHeight.Set(float64(height))
}
