// Package progress implements ProgressReporter (spec §4.7): an
// exponentially-smoothed throughput/ETA estimator, sampled at intervals no
// tighter than 10 seconds, whose events are queued through a batcher. The EMA
// itself is grounded on github.com/VividCortex/ewma, a dependency
// _examples/p9c-p9 also carries for its own throughput smoothing, rather
// than hand-rolling the smoothing formula.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/goodnatureofminers/blockscan-core/pkg/batcher"
	"go.uber.org/zap"
)

// threeQuarterAge is the ewma "age" parameter yielding an alpha of 0.75 in
// the library's alpha = 2/(age+1) encoding, matching spec §4.7's
// three-quarter EMA weight on the latest sample.
const threeQuarterAge = 2.0/0.75 - 1

// minSampleInterval is the floor spec §4.7 places on how often samples may
// be taken.
const minSampleInterval = 10 * time.Second

// Event is one progress observation emitted for a named phase.
type Event struct {
	Phase             string
	FractionCompleted float64
	ElapsedSeconds    float64
	IntegerPercent    int
}

// phaseState tracks one phase's smoothed rate and cumulative counters.
type phaseState struct {
	rate      ewma.MovingAverage
	total     float64
	done      float64
	started   time.Time
	lastSample time.Time
	sampledDone float64
}

// Reporter is the default ProgressReporter. Samples are queued through a
// pkg/batcher.Batcher that flushes every 10 seconds or every 32 events;
// Advance itself enforces the 10-second sampling floor spec §4.7 requires.
type Reporter struct {
	mu     sync.Mutex
	phases map[string]*phaseState
	logger *zap.Logger

	batch *batcher.Batcher[Event]
	sink  func(Event)
}

// New constructs a Reporter delivering events to sink, batched and rate
// limited via pkg/batcher.
func New(logger *zap.Logger, sink func(Event)) *Reporter {
	r := &Reporter{
		phases: make(map[string]*phaseState),
		logger: logger,
		sink:   sink,
	}
	r.batch = batcher.New(logger, r.flush, 32, minSampleInterval, 1)
	return r
}

// Start begins the reporter's background flush loop.
func (r *Reporter) Start(ctx context.Context) {
	r.batch.Start(ctx)
}

// Stop drains and stops the reporter.
func (r *Reporter) Stop() {
	r.batch.Stop()
}

// BeginPhase registers a new phase with its total unit count (e.g. block
// height range width).
func (r *Reporter) BeginPhase(phase string, total float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases[phase] = &phaseState{
		rate:    ewma.NewMovingAverage(threeQuarterAge),
		total:   total,
		started: time.Now(),
	}
}

// Advance records progress of delta units in phase and, if the minimum
// sample interval has elapsed, queues a progress event. Queuing waits while
// the batcher's queue is full, until there is room or ctx is done; samples
// are not dropped.
func (r *Reporter) Advance(ctx context.Context, phase string, delta float64) {
	r.mu.Lock()
	st, ok := r.phases[phase]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.done += delta
	now := time.Now()
	last := st.lastSample
	if last.IsZero() {
		last = st.started
	}
	sinceLast := now.Sub(last)
	shouldSample := st.lastSample.IsZero() || sinceLast >= minSampleInterval
	var ev Event
	if shouldSample {
		secs := sinceLast.Seconds()
		if secs <= 0 {
			secs = 1
		}
		st.rate.Add((st.done - st.sampledDone) / secs)
		st.sampledDone = st.done
		st.lastSample = now

		fraction := 0.0
		if st.total > 0 {
			fraction = st.done / st.total
		}
		ev = Event{
			Phase:             phase,
			FractionCompleted: fraction,
			ElapsedSeconds:    now.Sub(st.started).Seconds(),
			IntegerPercent:    int(fraction * 100),
		}
	}
	r.mu.Unlock()

	if !shouldSample {
		return
	}
	select {
	case <-ctx.Done():
	default:
		_ = r.batch.Add(ctx, ev)
	}
}

// UnitsPerSecond returns the current smoothed throughput for phase.
func (r *Reporter) UnitsPerSecond(phase string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.phases[phase]
	if !ok {
		return 0
	}
	return st.rate.Value()
}

// RemainingSeconds estimates the time left in phase from its smoothed rate.
func (r *Reporter) RemainingSeconds(phase string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.phases[phase]
	if !ok || st.rate.Value() <= 0 {
		return 0
	}
	remaining := st.total - st.done
	if remaining < 0 {
		remaining = 0
	}
	return remaining / st.rate.Value()
}

func (r *Reporter) flush(_ context.Context, events []Event) error {
	for _, ev := range events {
		r.sink(ev)
	}
	return nil
}
