package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studiowebux/flux/internal/config"
	"github.com/studiowebux/flux/internal/httpclient"
	"github.com/studiowebux/flux/internal/metrics"
	"github.com/studiowebux/flux/internal/report"
	"github.com/studiowebux/flux/internal/types"
)

func runWorkload(t *testing.T, cfg *config.Config, globals map[string]string, opts ...func(*Options)) *report.Report {
	t.Helper()
	require.NoError(t, cfg.Validate(""))

	client := httpclient.New(zap.NewNop(), httpclient.Options{
		Concurrency:    cfg.Concurrency,
		RequestTimeout: 5 * time.Second,
	})

	options := Options{
		Config:  cfg,
		Client:  client,
		Logger:  zap.NewNop(),
		Globals: globals,
	}
	for _, o := range opts {
		o(&options)
	}

	exec, err := New(options)
	require.NoError(t, err)

	result, err := exec.Run(context.Background())
	require.NoError(t, err)
	return result
}

// Simple GET saturation: 10 workers against a 10 ms stub for one second
// should land near (c * d) / L requests, all successful.
func TestSimpleSaturation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := &config.Config{
		Target:      srv.URL,
		Concurrency: 10,
		Duration:    "1s",
	}
	result := runWorkload(t, cfg, nil)

	s := result.Summary
	assert.Greater(t, s.TotalRequests, int64(500), "expected near-saturation throughput")
	assert.LessOrEqual(t, s.TotalRequests, int64(1100))
	assert.Equal(t, s.TotalRequests, s.SuccessfulRequests)
	assert.Zero(t, s.FailedRequests)
	assert.Zero(t, s.ErrorRate)
	assert.Equal(t, s.TotalRequests, s.StatusCodeCounts[200])
	assert.Len(t, result.Results, int(s.TotalRequests))
}

// Template substitution across steps: login extracts token and user id,
// the profile step uses them in its URL and Authorization header.
func TestScenarioVariableThreading(t *testing.T) {
	var mu sync.Mutex
	var profilePaths []string
	var authHeaders []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"xyz","user":{"id":"42"}}`))
		default:
			mu.Lock()
			profilePaths = append(profilePaths, r.URL.Path)
			authHeaders = append(authHeaders, r.Header.Get("Authorization"))
			mu.Unlock()
			w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	cfg := &config.Config{
		Target:      srv.URL,
		Concurrency: 2,
		Duration:    "1s",
		Scenarios: []config.Step{
			{
				Name:   "login",
				Method: "POST",
				URL:    "/login",
				Extract: map[string]string{
					"token":   "$.access_token",
					"user_id": "$.user.id",
				},
			},
			{
				Name:      "profile",
				Method:    "GET",
				URL:       "/users/{{user_id}}/profile",
				Headers:   config.Headers{{Name: "Authorization", Value: "Bearer {{token}}"}},
				DependsOn: "login",
			},
		},
	}
	result := runWorkload(t, cfg, nil)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, profilePaths)
	for _, path := range profilePaths {
		assert.Equal(t, "/users/42/profile", path)
	}
	for _, auth := range authHeaders {
		assert.Equal(t, "Bearer xyz", auth)
	}

	assert.Equal(t, result.Summary.TotalRequests, result.Summary.SuccessfulRequests)
	assert.Zero(t, result.Summary.FailedRequests)
}

// Dependency failure cascade: a 500 on the first step must skip the second
// with DependencyFailed and no status.
func TestScenarioDependencyCascade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &config.Config{
		Target:      srv.URL,
		Concurrency: 3,
		Duration:    "1s",
		Scenarios: []config.Step{
			{Name: "seed", Method: "POST", URL: "/seed"},
			{Name: "use", Method: "GET", URL: "/use", DependsOn: "seed"},
		},
	}
	result := runWorkload(t, cfg, nil)

	var seedCount, useCount int64
	for _, o := range result.Results {
		switch o.Step {
		case "seed":
			seedCount++
			assert.Equal(t, http.StatusInternalServerError, o.Status)
			assert.False(t, o.Success())
		case "use":
			useCount++
			assert.Zero(t, o.Status, "skipped step must not carry a status")
			assert.Equal(t, types.ErrKindDependencyFailed, o.ErrorKind)
		}
	}

	require.NotZero(t, seedCount)
	require.NotZero(t, useCount)
	// Every completed pass records exactly one outcome per step; the
	// deadline may truncate at most one pass per worker between steps.
	assert.LessOrEqual(t, useCount, seedCount)
	assert.LessOrEqual(t, seedCount-useCount, int64(cfg.Concurrency))
	assert.Equal(t, seedCount+useCount, result.Summary.TotalRequests)
	assert.Zero(t, result.Summary.SuccessfulRequests)
}

// Within a single worker, recorded timestamps must be non-decreasing.
func TestOutcomeTimestampsMonotonicPerWorker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := &config.Config{
		Target:      srv.URL,
		Concurrency: 1,
		Duration:    "1s",
		Scenarios: []config.Step{
			{Name: "a", URL: "/a"},
			{Name: "b", URL: "/b", DependsOn: "a"},
			{Name: "c", URL: "/c", DependsOn: "b"},
		},
	}
	result := runWorkload(t, cfg, nil)

	var last int64 = -1
	for _, o := range result.Results {
		assert.GreaterOrEqual(t, o.TimestampMs, last)
		last = o.TimestampMs
	}
}

// Graceful cancellation: signalling early must return promptly with the
// outcomes collected so far, and signalling twice is the same as once.
func TestCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := &config.Config{
		Target:      srv.URL,
		Concurrency: 5,
		Duration:    "30s",
	}
	require.NoError(t, cfg.Validate(""))

	client := httpclient.New(zap.NewNop(), httpclient.Options{
		Concurrency:    cfg.Concurrency,
		RequestTimeout: 2 * time.Second,
	})
	exec, err := New(Options{Config: cfg, Client: client, Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
		cancel() // idempotent
	}()

	start := time.Now()
	result, err := exec.Run(ctx)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 7*time.Second, "cancellation plus grace window bound")
	assert.NotZero(t, result.Summary.TotalRequests)

	for _, o := range result.Results {
		assert.Less(t, o.LatencyNs, int64(3*time.Second))
	}
}

// A simple-mode template that never resolves does not terminate the run:
// every pass records a TemplateError outcome and the run completes with a
// 100% error rate.
func TestSimpleModeUnresolvedTemplateRecordsOutcomes(t *testing.T) {
	cfg := &config.Config{
		Target:      "http://localhost:1/{{never_set}}",
		Concurrency: 1,
		Duration:    "30s",
	}
	require.NoError(t, cfg.Validate(""))

	client := httpclient.New(zap.NewNop(), httpclient.Options{Concurrency: 1})
	exec, err := New(Options{Config: cfg, Client: client, Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := exec.Run(ctx)
	require.NoError(t, err)

	require.NotZero(t, result.Summary.TotalRequests)
	assert.Zero(t, result.Summary.SuccessfulRequests)
	assert.Equal(t, result.Summary.TotalRequests, result.Summary.FailedRequests)
	assert.InDelta(t, 100, result.Summary.ErrorRate, 0.001)

	first := result.Results[0]
	assert.Equal(t, types.ErrKindTemplate, first.ErrorKind)
	assert.Contains(t, first.ErrorMessage, "{{never_set}}")
	assert.Zero(t, first.Status, "a request that was never built carries no status")
}

// A failed extraction surfaces later as a TemplateError on the dependent
// step, not as a failure of the extracting step.
func TestScenarioMissingExtractBecomesTemplateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unrelated":"value"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{
		Target:      srv.URL,
		Concurrency: 1,
		Duration:    "1s",
		Scenarios: []config.Step{
			{Name: "login", URL: "/login", Extract: map[string]string{"token": "$.missing"}},
			{Name: "fetch", URL: "/{{token}}", DependsOn: "login"},
		},
	}
	result := runWorkload(t, cfg, nil)

	var loginOK, fetchTemplateErrors int
	for _, o := range result.Results {
		switch o.Step {
		case "login":
			if o.Success() {
				loginOK++
			}
		case "fetch":
			if o.ErrorKind == types.ErrKindTemplate {
				fetchTemplateErrors++
				assert.Contains(t, o.ErrorMessage, "{{token}}")
			}
		}
	}
	assert.NotZero(t, loginOK)
	assert.NotZero(t, fetchTemplateErrors)
}

// Runtime globals seed every pass's variable map.
func TestGlobalsSeedVariableMap(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := &config.Config{
		Target:      srv.URL,
		Concurrency: 1,
		Duration:    "1s",
		Scenarios: []config.Step{
			{Name: "ping", URL: "/tenants/{{tenant}}/ping"},
		},
	}
	runWorkload(t, cfg, map[string]string{"tenant": "acme"})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, paths)
	assert.Equal(t, "/tenants/acme/ping", paths[0])
}

// Sync mode must produce the same observable workload shape.
func TestSyncModeContract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := &config.Config{
		Target:      srv.URL,
		Concurrency: 4,
		Duration:    "1s",
		Mode:        config.ModeSync,
	}
	result := runWorkload(t, cfg, nil)

	s := result.Summary
	assert.NotZero(t, s.TotalRequests)
	assert.Equal(t, s.TotalRequests, s.SuccessfulRequests)
	assert.Equal(t, s.SuccessfulRequests+s.FailedRequests, s.TotalRequests)
}

func TestProgressCallbackSampled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var mu sync.Mutex
	samples := 0
	var lastTotal int64

	cfg := &config.Config{
		Target:      srv.URL,
		Concurrency: 2,
		Duration:    "1s",
	}
	runWorkload(t, cfg, nil, func(o *Options) {
		o.Progress = func(live metrics.Live) {
			mu.Lock()
			samples++
			lastTotal = live.Total
			mu.Unlock()
		}
	})

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, samples, 2, "sampler runs at 4 Hz over a 1 s run")
	assert.NotZero(t, lastTotal)
}
