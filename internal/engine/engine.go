// Package engine drives a configured workload against its targets: it
// spawns workers, gates them on the run deadline and cancellation, and
// funnels every outcome into the shared aggregates.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/flux/internal/config"
	"github.com/studiowebux/flux/internal/httpclient"
	"github.com/studiowebux/flux/internal/metrics"
	"github.com/studiowebux/flux/internal/report"
	"github.com/studiowebux/flux/internal/telemetry"
)

const (
	// DefaultGrace bounds how long the executor waits for in-flight
	// requests after the deadline or a cancellation signal.
	DefaultGrace = 5 * time.Second

	// progressInterval keeps the sampler at 4 Hz
	progressInterval = 250 * time.Millisecond
)

// Progress receives sampled aggregate counters during the run
type Progress func(metrics.Live)

// Options wires an Executor
type Options struct {
	Config    *config.Config
	Client    *httpclient.Client
	Logger    *zap.Logger
	Telemetry telemetry.Publisher
	Progress  Progress

	// Globals are runtime-only variables merged into every pass's
	// variable map before any step extraction.
	Globals map[string]string

	// Grace overrides DefaultGrace when positive
	Grace time.Duration
}

// Executor owns a run: the worker pool, the deadline, the shared client
// and the aggregates.
type Executor struct {
	cfg       *config.Config
	client    *httpclient.Client
	logger    *zap.Logger
	pub       telemetry.Publisher
	progress  Progress
	globals   map[string]string
	grace     time.Duration
	collector *metrics.Collector
}

// New validates the wiring and builds an executor. The config must already
// have passed Validate.
func New(opts Options) (*Executor, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Noop()
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	return &Executor{
		cfg:      opts.Config,
		client:   opts.Client,
		logger:   opts.Logger,
		pub:      opts.Telemetry,
		progress: opts.Progress,
		globals:  opts.Globals,
		grace:    grace,
	}, nil
}

// Run executes the workload until the deadline elapses or ctx is
// cancelled, then drains workers and returns the final report. Signalling
// ctx more than once has the same effect as once.
func (e *Executor) Run(ctx context.Context) (*report.Report, error) {
	start := time.Now()
	e.collector = metrics.NewCollector(start)

	// loopCtx gates worker loops: deadline expiry and external
	// cancellation both land here.
	loopCtx, cancelLoop := context.WithDeadline(ctx, start.Add(e.cfg.TestDuration()))
	defer cancelLoop()

	// reqCtx outlives loopCtx so in-flight requests finish on their own
	// timeouts; it is cancelled only when the grace window runs out.
	reqCtx, cancelReq := context.WithCancel(context.Background())
	defer cancelReq()

	base := runnerBase{
		client:  e.client,
		logger:  e.logger,
		publish: e.pub.ObserveOutcome,
		start:   start,
	}

	// The workload variant is chosen once; all workers share the shape.
	newRunner := func() passRunner {
		if e.cfg.IsSimpleMode() {
			return newSimpleRunner(base, e.cfg, e.globals)
		}
		return newScenarioRunner(base, e.cfg, e.globals)
	}

	var active atomic.Int32
	var g errgroup.Group
	for i := 0; i < e.cfg.Concurrency; i++ {
		g.Go(func() error {
			if e.cfg.Mode == config.ModeSync {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}

			runner := newRunner()

			e.pub.SetActiveWorkers(int(active.Add(1)))
			defer func() {
				e.pub.SetActiveWorkers(int(active.Add(-1)))
			}()

			rec := e.collector.NewRecorder()
			for {
				select {
				case <-loopCtx.Done():
					return nil
				default:
				}
				runner.runPass(loopCtx, reqCtx, rec)
			}
		})
	}

	samplerDone := make(chan struct{})
	go e.sampleProgress(loopCtx, samplerDone)

	workersDone := make(chan struct{})
	go func() {
		g.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
	case <-loopCtx.Done():
		// Deadline or cancellation: give outstanding requests the grace
		// window, then drop them.
		select {
		case <-workersDone:
		case <-time.After(e.grace):
			e.logger.Warn("grace window elapsed, aborting in-flight requests",
				zap.Duration("grace", e.grace))
			cancelReq()
			<-workersDone
		}
	}

	cancelLoop()
	<-samplerDone
	e.client.Close()

	elapsed := time.Since(start)
	e.logger.Info("run complete",
		zap.Duration("elapsed", elapsed),
		zap.Int64("total_requests", e.collector.Total()))

	return report.Build(e.collector, elapsed), nil
}

// Collector exposes the run's aggregates for live observers
func (e *Executor) Collector() *metrics.Collector {
	return e.collector
}

func (e *Executor) sampleProgress(ctx context.Context, done chan struct{}) {
	defer close(done)
	if e.progress == nil {
		return
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.progress(e.collector.Live())
			return
		case <-ticker.C:
			e.progress(e.collector.Live())
		}
	}
}
