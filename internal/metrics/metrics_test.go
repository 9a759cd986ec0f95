package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func delta(t *testing.T, collector prometheus.Collector, observe func()) float64 {
	t.Helper()

	before := testutil.ToFloat64(collector)
	observe()
	after := testutil.ToFloat64(collector)
	return after - before
}

func TestPipelineRecords(t *testing.T) {
	m := NewPipeline("")
	start := time.Now().Add(-time.Second)

	if inc := delta(t, pipelineBatchTotal.WithLabelValues("unknown", "success"), func() {
		m.ObserveBatch(nil, 10, start)
	}); inc != 1 {
		t.Fatalf("expected batch total increment, got %v", inc)
	}

	if inc := delta(t, pipelineBatchTotal.WithLabelValues("unknown", "error"), func() {
		m.ObserveBatch(errors.New("boom"), 3, start)
	}); inc != 1 {
		t.Fatalf("expected batch error increment, got %v", inc)
	}

	if inc := delta(t, pipelineMatchedOutputs.WithLabelValues("unknown"), func() {
		m.ObserveMatchedOutputs(5)
	}); inc != 5 {
		t.Fatalf("expected matched outputs increment of 5, got %v", inc)
	}

	m.ObserveMatchedInputs(2)
}

func TestCommitterRecords(t *testing.T) {
	m := NewCommitter()
	start := time.Now().Add(-time.Second)

	if inc := delta(t, committerWriteTotal.WithLabelValues("STXO", "success"), func() {
		m.ObserveWrite("STXO", nil, start)
	}); inc != 1 {
		t.Fatalf("expected write total increment, got %v", inc)
	}

	m.SetTopScannedHeight(42)
	if got := testutil.ToFloat64(committerSentinelHeight); got != 42 {
		t.Fatalf("expected sentinel height 42, got %v", got)
	}
}

func TestReconcilerRecords(t *testing.T) {
	m := NewReconciler()
	start := time.Now().Add(-time.Second)

	if inc := delta(t, reconcileRuns.WithLabelValues("resumed"), func() {
		m.ObserveRun("resumed", 100, start)
	}); inc != 1 {
		t.Fatalf("expected run counter increment, got %v", inc)
	}

	if got := testutil.ToFloat64(reconcileResumeHeight); got != 100 {
		t.Fatalf("expected resume height 100, got %v", got)
	}
}
