// Package service turns transport requests into engine runs.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cutekitek/rankode-grader/internal/events"
	"github.com/cutekitek/rankode-grader/internal/mappers"
	"github.com/cutekitek/rankode-grader/internal/metrics"
	"github.com/cutekitek/rankode-grader/internal/repository/dto"
	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner"
	"github.com/cutekitek/rankode-grader/internal/runner/lang"
)

type TestLoader interface {
	LoadTests(ctx context.Context, name string) ([]models.TestCase, error)
}

type Service struct {
	runner    runner.Runner
	languages *lang.Registry
	defaults  models.Limits
	tests     TestLoader
	events    events.Publisher
	logger    *slog.Logger
}

type Options struct {
	Defaults models.Limits
	// Optional; requests with tests_object fail without it.
	Tests  TestLoader
	Events events.Publisher
	Logger *slog.Logger
}

func New(r runner.Runner, languages *lang.Registry, opts Options) *Service {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		runner:    r,
		languages: languages,
		defaults:  opts.Defaults,
		tests:     opts.Tests,
		events:    opts.Events,
		logger:    opts.Logger,
	}
}

func (s *Service) Submit(ctx context.Context, req *dto.RunRequest) (*models.SubmissionResult, error) {
	sub, err := mappers.RunRequestToSubmission(req, s.defaults)
	if err != nil {
		return nil, err
	}
	if req.TestsObject != "" {
		if err := s.loadTests(ctx, sub, req.TestsObject); err != nil {
			return nil, err
		}
	}

	s.publish(ctx, events.Event{SubmissionID: sub.ID, Status: events.StatusRunning})
	start := time.Now()
	res, err := s.runner.Run(ctx, sub)
	s.record(sub, res, err, time.Since(start))
	if err != nil {
		s.logger.Warn("submission failed", "submission", sub.ID, "language", sub.Language, "error", err)
		s.publish(ctx, events.Event{SubmissionID: sub.ID, Status: events.StatusFailed, Error: err.Error()})
		return nil, err
	}
	s.publish(ctx, events.Event{SubmissionID: sub.ID, Status: events.StatusCompleted, Result: res})
	return res, nil
}

func (s *Service) loadTests(ctx context.Context, sub *models.Submission, name string) error {
	if s.tests == nil {
		return &models.ConfigurationError{Field: "tests_object", Reason: "test pack storage is not configured"}
	}
	tests, err := s.tests.LoadTests(ctx, name)
	if err != nil {
		return &models.InternalError{Op: "load tests", Err: err}
	}
	sub.Tests = append(sub.Tests, tests...)
	return nil
}

func (s *Service) Languages() []lang.Spec {
	return s.languages.List()
}

// publish is best effort; a broken event bus never fails a submission.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to publish event", "submission", e.SubmissionID, "status", e.Status, "error", err)
	}
}

func (s *Service) record(sub *models.Submission, res *models.SubmissionResult, err error, took time.Duration) {
	outcome := "completed"
	if err != nil {
		outcome = mappers.ErrorKind(err)
	}
	metrics.SubmissionsTotal.WithLabelValues(sub.Language, outcome).Inc()
	metrics.SubmissionDuration.WithLabelValues(sub.Language).Observe(float64(took.Milliseconds()))
	if res == nil {
		return
	}
	for _, r := range res.Results {
		metrics.TestResultsTotal.WithLabelValues(string(r.Status)).Inc()
	}
	if res.MemoryKb != nil {
		metrics.MemoryUsage.WithLabelValues(sub.Language).Observe(float64(*res.MemoryKb))
	}
}
