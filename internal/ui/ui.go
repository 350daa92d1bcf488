// Package ui renders run progress and the final summary on the terminal
package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/studiowebux/flux/internal/metrics"
	"github.com/studiowebux/flux/internal/report"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Printer writes progress and summary output. It is not safe for
// concurrent use; the engine's progress callback is the only caller during
// a run.
type Printer struct {
	out       io.Writer
	duration  time.Duration
	lastTotal int64
	lastAt    time.Time
}

func NewPrinter(out io.Writer, duration time.Duration) *Printer {
	return &Printer{out: out, duration: duration}
}

// Banner prints the run header
func (p *Printer) Banner(target, mode string, concurrency int) {
	fmt.Fprintln(p.out, titleStyle.Render("flux load test"))
	fmt.Fprintf(p.out, "%s %s  %s %s  %s %d  %s %s\n\n",
		labelStyle.Render("target:"), valueStyle.Render(target),
		labelStyle.Render("mode:"), mode,
		labelStyle.Render("workers:"), concurrency,
		labelStyle.Render("duration:"), p.duration)
}

// Progress renders one sampled line, overwriting the previous one. The RPS
// window is derived from the delta since the last sample.
func (p *Printer) Progress(live metrics.Live) {
	now := time.Now()
	windowRPS := 0.0
	if !p.lastAt.IsZero() {
		dt := now.Sub(p.lastAt).Seconds()
		if dt > 0 {
			windowRPS = float64(live.Total-p.lastTotal) / dt
		}
	}
	p.lastAt = now
	p.lastTotal = live.Total

	fmt.Fprintf(p.out, "\r%s %5.1fs  %s %-8d  %s %7.1f/s  %s %5.2f%%  %s %s / %s",
		labelStyle.Render("elapsed"), live.Elapsed.Seconds(),
		labelStyle.Render("requests"), live.Total,
		labelStyle.Render("rps"), windowRPS,
		labelStyle.Render("errors"), live.ErrorRate,
		labelStyle.Render("p50/p95"),
		formatNs(live.P50Ns), formatNs(live.P95Ns))
}

// FinishProgress terminates the progress line
func (p *Printer) FinishProgress() {
	fmt.Fprintln(p.out)
}

// Summary prints the final aggregate block
func (p *Printer) Summary(s report.Summary) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, titleStyle.Render("Results"))

	row := func(label string, format string, args ...interface{}) {
		fmt.Fprintf(p.out, "  %-22s %s\n", labelStyle.Render(label), fmt.Sprintf(format, args...))
	}

	row("total requests", "%d", s.TotalRequests)
	row("successful", "%s", successStyle.Render(fmt.Sprintf("%d", s.SuccessfulRequests)))
	row("failed", "%s", errorStyle.Render(fmt.Sprintf("%d", s.FailedRequests)))
	row("throughput", "%.1f req/s", s.ThroughputRPS)
	row("error rate", "%.2f%%", s.ErrorRate)
	row("latency min/mean/max", "%.2f / %.2f / %.2f ms", s.MinMs, s.MeanMs, s.MaxMs)
	row("p50/p90/p95/p99", "%.2f / %.2f / %.2f / %.2f ms", s.P50Ms, s.P90Ms, s.P95Ms, s.P99Ms)

	if len(s.StatusCodeCounts) > 0 {
		fmt.Fprintf(p.out, "  %-22s ", labelStyle.Render("status codes"))
		for code, count := range s.StatusCodeCounts {
			fmt.Fprintf(p.out, "%d:%d ", code, count)
		}
		fmt.Fprintln(p.out)
	}
}

// Success prints a green confirmation line
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.out, successStyle.Render("✓ "+msg))
}

// Error prints a red failure line
func (p *Printer) Error(msg string) {
	fmt.Fprintln(p.out, errorStyle.Render("✗ "+msg))
}

func formatNs(ns int64) string {
	return fmt.Sprintf("%.1fms", float64(ns)/1e6)
}
