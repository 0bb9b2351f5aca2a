// Package engine grades one submission end to end: it stages the
// workspace, runs the harness inside an isolation boundary, aggregates the
// result and always tears everything down.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner"
	"github.com/cutekitek/rankode-grader/internal/runner/lang"
	"github.com/cutekitek/rankode-grader/internal/runner/sandbox"
	"github.com/pkg/errors"
)

type State string

const (
	StateStaged      State = "staged"
	StateIsolated    State = "isolated"
	StateExecuting   State = "executing"
	StateAggregating State = "aggregating"
	StateTornDown    State = "torn_down"
)

const DefaultHostSlack = 5 * time.Second

type Config struct {
	WorkRoot     string
	HarnessPath  string
	CaptureLimit int
	// Added on top of the time the harness is allowed to use.
	HostSlack time.Duration
	// Submissions whose envelope is longer are rejected before staging.
	// Zero disables the check.
	MaxEnvelope time.Duration
}

type Engine struct {
	cfg       Config
	languages *lang.Registry
	boundary  sandbox.Boundary
	pool      *sandbox.Pool
	logger    *slog.Logger
	// Called on every state change, may be nil.
	OnTransition func(submissionID string, s State)
}

var _ runner.Runner = (*Engine)(nil)

func New(cfg Config, languages *lang.Registry, boundary sandbox.Boundary, pool *sandbox.Pool, logger *slog.Logger) *Engine {
	if cfg.HostSlack <= 0 {
		cfg.HostSlack = DefaultHostSlack
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		languages: languages,
		boundary:  boundary,
		pool:      pool,
		logger:    logger,
	}
}

func (e *Engine) Pool() *sandbox.Pool {
	return e.pool
}

func (e *Engine) transition(id string, s State) {
	e.logger.Debug("submission state", "submission", id, "state", s)
	if e.OnTransition != nil {
		e.OnTransition(id, s)
	}
}

// Run grades sub. Candidate failures are reported inside the result; a
// returned error is a ConfigurationError, an InternalError, ErrPoolSaturated
// or a context error. Nothing is retried.
func (e *Engine) Run(ctx context.Context, sub *models.Submission) (result *models.SubmissionResult, err error) {
	if err := sub.Limits.Validate(); err != nil {
		return nil, err
	}
	spec, err := e.languages.Get(sub.Language)
	if err != nil {
		return nil, &models.ConfigurationError{Field: "language", Reason: err.Error()}
	}
	envelope := HostEnvelope(sub.Limits, len(sub.Tests), spec.BuildTimeout(), e.cfg.HostSlack)
	if e.cfg.MaxEnvelope > 0 && envelope > e.cfg.MaxEnvelope {
		return nil, &models.ConfigurationError{
			Field:  "tests",
			Reason: fmt.Sprintf("%d tests need up to %s, more than the %s allowed", len(sub.Tests), envelope, e.cfg.MaxEnvelope),
		}
	}

	ws, err := sandbox.Stage(sandbox.StageParams{
		Root:         e.cfg.WorkRoot,
		HarnessPath:  e.cfg.HarnessPath,
		CaptureLimit: e.cfg.CaptureLimit,
	}, sub, spec)
	if err != nil {
		return nil, &models.InternalError{Op: "stage workspace", Err: err}
	}
	e.transition(sub.ID, StateStaged)
	defer func() {
		if rmErr := ws.Remove(); rmErr != nil {
			e.logger.Error("failed to remove workspace", "submission", sub.ID, "error", rmErr)
		}
		e.transition(sub.ID, StateTornDown)
	}()

	release, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	h, err := e.boundary.Prepare(ctx, ws, sub.Limits)
	// Teardown runs before release: defers are LIFO.
	defer func() {
		if tdErr := e.boundary.Teardown(h); tdErr != nil {
			e.logger.Error("failed to tear down boundary", "submission", sub.ID, "error", tdErr)
		}
	}()
	if err != nil {
		return nil, asInternal("prepare boundary", err)
	}
	e.transition(sub.ID, StateIsolated)

	execCtx, cancel := context.WithTimeout(ctx, envelope)
	defer cancel()

	e.transition(sub.ID, StateExecuting)
	raw, err := e.boundary.Execute(execCtx, h, ws.HarnessArgs())
	if err != nil {
		if execCtx.Err() != nil && ctx.Err() == nil {
			return nil, errors.Wrapf(context.DeadlineExceeded, "harness exceeded host envelope of %s", envelope)
		}
		return nil, asInternal("execute harness", err)
	}

	e.transition(sub.ID, StateAggregating)
	result, err = parse(sub, raw)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("submission graded", "submission", sub.ID, "passed", result.TotalPassed, "total", result.TotalTests, "runtimeMs", result.RuntimeMs)
	return result, nil
}

// parse validates the harness output and recomputes every aggregate from
// the per-test results.
func parse(sub *models.Submission, raw *sandbox.RawOutput) (*models.SubmissionResult, error) {
	stderr := string(raw.Stderr)
	if raw.ExitCode != 0 {
		return nil, &models.InternalError{Op: "harness exit", Stderr: stderr, Err: errors.Errorf("harness exited with %d", raw.ExitCode)}
	}
	if raw.Truncated {
		return nil, &models.InternalError{Op: "parse harness output", Stderr: stderr, Err: errors.Errorf("harness output was cut at %d bytes", len(raw.Stdout))}
	}

	var reported models.SubmissionResult
	dec := json.NewDecoder(strings.NewReader(string(raw.Stdout)))
	if err := dec.Decode(&reported); err != nil {
		return nil, &models.InternalError{Op: "parse harness output", Stderr: stderr + string(raw.Stdout), Err: err}
	}
	if dec.More() {
		return nil, &models.InternalError{Op: "parse harness output", Stderr: stderr + string(raw.Stdout), Err: errors.New("trailing data after result")}
	}
	if reported.Error != "" {
		return nil, &models.InternalError{Op: "harness", Stderr: stderr, Err: errors.New(reported.Error)}
	}
	if len(reported.Results) != len(sub.Tests) {
		return nil, &models.InternalError{Op: "harness", Stderr: stderr, Err: errors.Errorf("got %d results for %d tests", len(reported.Results), len(sub.Tests))}
	}
	for i, r := range reported.Results {
		if r.Index != i {
			return nil, &models.InternalError{Op: "harness", Stderr: stderr, Err: errors.Errorf("result %d reports index %d", i, r.Index)}
		}
	}
	return models.Aggregate(sub.ID, reported.Results), nil
}

// HostEnvelope is how long the engine waits for the harness as a whole.
func HostEnvelope(limits models.Limits, tests int, buildTimeout, slack time.Duration) time.Duration {
	run := limits.PerTestTimeout() * time.Duration(max(tests, 1))
	if limits.EnforceTotalBudget {
		run = limits.WallTimeTotal()
	}
	return run + buildTimeout + slack
}

func asInternal(op string, err error) error {
	var internal *models.InternalError
	if errors.As(err, &internal) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &models.InternalError{Op: op, Err: err}
}
