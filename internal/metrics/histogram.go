// Package metrics aggregates per-request outcomes under contention.
//
// Latencies go into HDR histograms (1 µs to 60 s range, three significant
// digits) so tail percentiles stay accurate with constant memory. Each
// worker records into its own window; windows are merged on every snapshot,
// which keeps the hot path free of a shared lock.
package metrics

import (
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
)

const (
	histMinNs   = int64(time.Microsecond)
	histMaxNs   = int64(60 * time.Second)
	histSigFigs = 3
)

// Window is one worker's latency histogram. The mutex is uncontended in
// steady state; only snapshots take it from another goroutine.
type Window struct {
	mu sync.Mutex
	h  *hdrhistogram.Histogram
}

func newWindow() *Window {
	return &Window{h: hdrhistogram.New(histMinNs, histMaxNs, histSigFigs)}
}

// Record adds one latency sample, clamped to the histogram range
func (w *Window) Record(ns int64) {
	if ns < histMinNs {
		ns = histMinNs
	}
	if ns > histMaxNs {
		ns = histMaxNs
	}
	w.mu.Lock()
	w.h.RecordValue(ns)
	w.mu.Unlock()
}

func (w *Window) mergeInto(dst *hdrhistogram.Histogram) {
	w.mu.Lock()
	dst.Merge(w.h)
	w.mu.Unlock()
}

// HistogramSnapshot is a point-in-time percentile summary in nanoseconds
type HistogramSnapshot struct {
	Count  int64
	MinNs  int64
	MaxNs  int64
	MeanNs float64
	P50Ns  int64
	P90Ns  int64
	P95Ns  int64
	P99Ns  int64
}

func snapshotOf(h *hdrhistogram.Histogram) HistogramSnapshot {
	if h.TotalCount() == 0 {
		return HistogramSnapshot{}
	}
	return HistogramSnapshot{
		Count:  h.TotalCount(),
		MinNs:  h.Min(),
		MaxNs:  h.Max(),
		MeanNs: h.Mean(),
		P50Ns:  h.ValueAtQuantile(50),
		P90Ns:  h.ValueAtQuantile(90),
		P95Ns:  h.ValueAtQuantile(95),
		P99Ns:  h.ValueAtQuantile(99),
	}
}
