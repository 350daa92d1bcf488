package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/codahale/hdrhistogram"

	"github.com/studiowebux/flux/internal/types"
)

// Live is the sampled view the progress callback sees
type Live struct {
	Elapsed   time.Duration
	Total     int64
	Succeeded int64
	Failed    int64
	ErrorRate float64
	P50Ns     int64
	P95Ns     int64
}

// Collector owns the shared aggregation state for one run: the outcome log,
// the per-worker histogram windows, and the counters the progress sampler
// reads without touching either.
type Collector struct {
	start time.Time
	log   *OutcomeLog

	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	mu           sync.Mutex
	windows      []*Window
	statusCounts map[int]int64
}

func NewCollector(start time.Time) *Collector {
	return &Collector{
		start:        start,
		log:          NewOutcomeLog(),
		statusCounts: make(map[int]int64),
	}
}

// Recorder is a worker-local handle. Latency samples land in the worker's
// own window; the log append and counter increments are the only shared
// writes on the hot path.
type Recorder struct {
	c      *Collector
	window *Window
}

// NewRecorder registers a fresh window and returns a handle for one worker
func (c *Collector) NewRecorder() *Recorder {
	w := newWindow()
	c.mu.Lock()
	c.windows = append(c.windows, w)
	c.mu.Unlock()
	return &Recorder{c: c, window: w}
}

// Record publishes one outcome. Steps that never reached the transport
// (template failures, skipped dependents) contribute no latency sample.
func (r *Recorder) Record(o types.Outcome) {
	r.c.log.Append(o)

	r.c.total.Add(1)
	if o.Success() {
		r.c.succeeded.Add(1)
	} else {
		r.c.failed.Add(1)
	}

	if o.Status != 0 {
		r.c.mu.Lock()
		r.c.statusCounts[o.Status]++
		r.c.mu.Unlock()
	}

	if o.ErrorKind != types.ErrKindTemplate && o.ErrorKind != types.ErrKindDependencyFailed {
		r.window.Record(o.LatencyNs)
	}
}

// Start returns the run's monotonic start time
func (c *Collector) Start() time.Time {
	return c.start
}

// Total returns the number of outcomes recorded so far
func (c *Collector) Total() int64 {
	return c.total.Load()
}

// Histogram merges every worker window into a fresh histogram and
// summarizes it. The result reflects all records completed before the call.
func (c *Collector) Histogram() HistogramSnapshot {
	merged := hdrhistogram.New(histMinNs, histMaxNs, histSigFigs)
	c.mu.Lock()
	windows := make([]*Window, len(c.windows))
	copy(windows, c.windows)
	c.mu.Unlock()

	for _, w := range windows {
		w.mergeInto(merged)
	}
	return snapshotOf(merged)
}

// StatusCounts copies the status code distribution
func (c *Collector) StatusCounts() map[int]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[int]int64, len(c.statusCounts))
	for code, n := range c.statusCounts {
		counts[code] = n
	}
	return counts
}

// Outcomes snapshots the outcome log
func (c *Collector) Outcomes() []types.Outcome {
	return c.log.Snapshot()
}

// Live samples the aggregate counters and current percentiles
func (c *Collector) Live() Live {
	total := c.total.Load()
	failed := c.failed.Load()

	live := Live{
		Elapsed:   time.Since(c.start),
		Total:     total,
		Succeeded: c.succeeded.Load(),
		Failed:    failed,
	}
	if total > 0 {
		live.ErrorRate = float64(failed) / float64(total) * 100
	}

	hist := c.Histogram()
	live.P50Ns = hist.P50Ns
	live.P95Ns = hist.P95Ns
	return live
}
