// Package telemetry exposes run-time counters on an optional Prometheus
// endpoint for the duration of a load test.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/studiowebux/flux/internal/types"
)

// Publisher receives engine events. Implementations must be safe for
// concurrent use by all workers.
type Publisher interface {
	ObserveOutcome(o types.Outcome)
	SetActiveWorkers(n int)
}

type noop struct{}

func (noop) ObserveOutcome(types.Outcome) {}
func (noop) SetActiveWorkers(int)         {}

// Noop returns a publisher that discards everything
func Noop() Publisher {
	return noop{}
}

// Prometheus publishes counters and latency observations on /metrics
type Prometheus struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	duration      prometheus.Histogram
	activeWorkers prometheus.Gauge
	server        *http.Server
}

// NewPrometheus builds the collector set on a private registry
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	p := &Prometheus{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flux",
			Name:      "requests_total",
			Help:      "Requests attempted, by status class.",
		}, []string{"class"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flux",
			Name:      "errors_total",
			Help:      "Failed requests, by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flux",
			Name:      "request_duration_seconds",
			Help:      "Request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flux",
			Name:      "active_workers",
			Help:      "Workers currently running.",
		}),
	}

	registry.MustRegister(p.requests, p.errors, p.duration, p.activeWorkers)
	return p
}

func (p *Prometheus) ObserveOutcome(o types.Outcome) {
	p.requests.WithLabelValues(statusClass(o.Status)).Inc()
	if o.ErrorKind != "" {
		p.errors.WithLabelValues(string(o.ErrorKind)).Inc()
	}
	if o.LatencyNs > 0 {
		p.duration.Observe(time.Duration(o.LatencyNs).Seconds())
	}
}

func (p *Prometheus) SetActiveWorkers(n int) {
	p.activeWorkers.Set(float64(n))
}

// Serve exposes /metrics until Shutdown. Listen failures are logged, not
// fatal; telemetry is best-effort.
func (p *Prometheus) Serve(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	p.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics endpoint failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the metrics endpoint if one was started
func (p *Prometheus) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func statusClass(status int) string {
	if status == 0 {
		return "none"
	}
	return fmt.Sprintf("%dxx", status/100)
}
