// Package report assembles the final run report and serializes it to JSON
// and HTML. Output files are written atomically (temp file + rename).
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/studiowebux/flux/internal/metrics"
	"github.com/studiowebux/flux/internal/types"
)

// Summary is the aggregate view of one run. Latencies are milliseconds.
type Summary struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	DurationSecs       float64       `json:"duration_secs"`
	ThroughputRPS      float64       `json:"throughput_rps"`
	MinMs              float64       `json:"min_ms"`
	MeanMs             float64       `json:"mean_ms"`
	P50Ms              float64       `json:"p50_ms"`
	P90Ms              float64       `json:"p90_ms"`
	P95Ms              float64       `json:"p95_ms"`
	P99Ms              float64       `json:"p99_ms"`
	MaxMs              float64       `json:"max_ms"`
	StatusCodeCounts   map[int]int64 `json:"status_code_counts"`
	ErrorRate          float64       `json:"error_rate"`
}

// Report is the structured object handed to the host for serialization
type Report struct {
	Summary Summary         `json:"summary"`
	Results []types.Outcome `json:"results"`
}

// Build snapshots the collector into a report. Percentiles reflect every
// outcome recorded before the call.
func Build(c *metrics.Collector, elapsed time.Duration) *Report {
	hist := c.Histogram()
	outcomes := c.Outcomes()

	var succeeded, failed int64
	for _, o := range outcomes {
		if o.Success() {
			succeeded++
		} else {
			failed++
		}
	}
	total := succeeded + failed

	summary := Summary{
		TotalRequests:      total,
		SuccessfulRequests: succeeded,
		FailedRequests:     failed,
		DurationSecs:       elapsed.Seconds(),
		MinMs:              nsToMs(float64(hist.MinNs)),
		MeanMs:             nsToMs(hist.MeanNs),
		P50Ms:              nsToMs(float64(hist.P50Ns)),
		P90Ms:              nsToMs(float64(hist.P90Ns)),
		P95Ms:              nsToMs(float64(hist.P95Ns)),
		P99Ms:              nsToMs(float64(hist.P99Ns)),
		MaxMs:              nsToMs(float64(hist.MaxNs)),
		StatusCodeCounts:   c.StatusCounts(),
	}
	if elapsed > 0 {
		summary.ThroughputRPS = float64(total) / elapsed.Seconds()
	}
	if total > 0 {
		summary.ErrorRate = float64(failed) / float64(total) * 100
	}

	return &Report{Summary: summary, Results: outcomes}
}

func nsToMs(ns float64) float64 {
	return ns / 1e6
}

// WriteJSON serializes the report as pretty JSON
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return writeAtomic(path, data)
}

// writeAtomic lands content via a temp file in the target directory so a
// crash never leaves a half-written report.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close report: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}
