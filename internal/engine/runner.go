package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/flux/internal/config"
	"github.com/studiowebux/flux/internal/extract"
	"github.com/studiowebux/flux/internal/httpclient"
	"github.com/studiowebux/flux/internal/metrics"
	"github.com/studiowebux/flux/internal/template"
	"github.com/studiowebux/flux/internal/types"
)

// passRunner executes one pass of the configured workload for one worker.
// The variant is chosen once at worker start.
type passRunner interface {
	runPass(loopCtx, reqCtx context.Context, rec *metrics.Recorder)
}

// runnerBase carries what both workload variants need to send one request
// and record its outcome.
type runnerBase struct {
	client  *httpclient.Client
	logger  *zap.Logger
	publish func(types.Outcome)
	start   time.Time
}

func (b *runnerBase) send(reqCtx context.Context, req *types.Request, stepName string) (types.Outcome, *types.Response) {
	offset := time.Since(b.start).Milliseconds()
	reqStart := time.Now()
	resp, err := b.client.Do(reqCtx, req)
	latency := time.Since(reqStart)

	outcome := types.Outcome{
		TimestampMs: offset,
		LatencyNs:   latency.Nanoseconds(),
		Step:        stepName,
	}

	if err != nil {
		var terr *types.TransportError
		if errors.As(err, &terr) {
			outcome.ErrorKind = terr.Kind
			outcome.ErrorMessage = terr.Err.Error()
		} else {
			outcome.ErrorKind = types.ErrKindIO
			outcome.ErrorMessage = err.Error()
		}
		return outcome, nil
	}

	outcome.Status = resp.Status
	outcome.BytesReceived = resp.BytesReceived
	return outcome, resp
}

// simpleRunner drives the degenerate workload: one unnamed request, no
// extraction, no dependency. The request is realized every pass; a template
// failure is recorded as that pass's outcome like any other request error.
type simpleRunner struct {
	runnerBase
	cfg     *config.Config
	globals map[string]string
}

func newSimpleRunner(base runnerBase, cfg *config.Config, globals map[string]string) *simpleRunner {
	return &simpleRunner{runnerBase: base, cfg: cfg, globals: globals}
}

func (r *simpleRunner) runPass(_, reqCtx context.Context, rec *metrics.Recorder) {
	req, err := realizeRequest(r.cfg.Method, r.cfg.Target, "", r.cfg.Headers, r.cfg.Body, r.cfg.Multipart, r.globals)
	if err != nil {
		outcome := types.Outcome{
			TimestampMs:  time.Since(r.start).Milliseconds(),
			ErrorKind:    types.ErrKindTemplate,
			ErrorMessage: err.Error(),
		}
		rec.Record(outcome)
		r.publish(outcome)
		return
	}

	outcome, _ := r.send(reqCtx, req, "")
	rec.Record(outcome)
	r.publish(outcome)
}

// scenarioRunner executes one ordered pass of scenario steps, threading
// extracted variables forward. Variables never leak across passes or
// workers.
type scenarioRunner struct {
	runnerBase
	target  string
	steps   []config.Step
	globals map[string]string
}

func newScenarioRunner(base runnerBase, cfg *config.Config, globals map[string]string) *scenarioRunner {
	return &scenarioRunner{
		runnerBase: base,
		target:     cfg.Target,
		steps:      cfg.Scenarios,
		globals:    globals,
	}
}

func (r *scenarioRunner) runPass(loopCtx, reqCtx context.Context, rec *metrics.Recorder) {
	vars := make(map[string]string, len(r.globals))
	for k, v := range r.globals {
		vars[k] = v
	}
	passOutcomes := make(map[string]types.Outcome, len(r.steps))

	for i := range r.steps {
		step := &r.steps[i]

		if i > 0 {
			select {
			case <-loopCtx.Done():
				return
			default:
			}
		}

		if step.DependsOn != "" {
			prev, ok := passOutcomes[step.DependsOn]
			if !ok || !prev.Success() {
				outcome := types.Outcome{
					TimestampMs:  time.Since(r.start).Milliseconds(),
					Step:         step.Name,
					ErrorKind:    types.ErrKindDependencyFailed,
					ErrorMessage: fmt.Sprintf("dependency %q did not succeed", step.DependsOn),
				}
				rec.Record(outcome)
				r.publish(outcome)
				passOutcomes[step.Name] = outcome
				continue
			}
		}

		req, err := realizeRequest(step.Method, r.target, step.URL, step.Headers, step.Body, step.Multipart, vars)
		if err != nil {
			outcome := types.Outcome{
				TimestampMs:  time.Since(r.start).Milliseconds(),
				Step:         step.Name,
				ErrorKind:    types.ErrKindTemplate,
				ErrorMessage: err.Error(),
			}
			rec.Record(outcome)
			r.publish(outcome)
			passOutcomes[step.Name] = outcome
			continue
		}

		outcome, resp := r.send(reqCtx, req, step.Name)
		rec.Record(outcome)
		r.publish(outcome)
		passOutcomes[step.Name] = outcome

		if outcome.Success() && len(step.Extract) > 0 && resp != nil {
			for name, value := range extract.Extract(r.logger, resp.Body, step.Extract) {
				vars[name] = value
			}
		}
	}
}

// realizeRequest interpolates every templated string of a spec and joins
// the URL against the base target. Multipart wins over a raw body; file
// part paths are not templated.
func realizeRequest(method, target, url string, headers []types.Header, body string, parts []config.MultipartPart, vars map[string]string) (*types.Request, error) {
	var rawURL string
	if url == "" {
		expanded, err := template.Expand(target, vars)
		if err != nil {
			return nil, err
		}
		rawURL = expanded
	} else {
		expanded, err := template.Expand(url, vars)
		if err != nil {
			return nil, err
		}
		rawURL = config.JoinURL(target, expanded)
	}

	req := &types.Request{
		Method: method,
		URL:    rawURL,
	}

	for _, h := range headers {
		value, err := template.Expand(h.Value, vars)
		if err != nil {
			return nil, err
		}
		req.Headers = append(req.Headers, types.Header{Name: h.Name, Value: value})
	}

	if len(parts) > 0 {
		for _, p := range parts {
			if p.Type == "file" {
				req.Parts = append(req.Parts, types.Part{Name: p.Name, Path: p.Path})
				continue
			}
			value, err := template.Expand(p.Value, vars)
			if err != nil {
				return nil, err
			}
			req.Parts = append(req.Parts, types.Part{Name: p.Name, Value: value})
		}
		return req, nil
	}

	if body != "" {
		expanded, err := template.Expand(body, vars)
		if err != nil {
			return nil, err
		}
		req.Body = expanded
	}
	return req, nil
}
