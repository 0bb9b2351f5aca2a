package mappers

import (
	"context"
	"errors"

	"github.com/cutekitek/rankode-grader/internal/repository/dto"
	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/google/uuid"
)

const DefaultLanguage = "python"

// RunRequestToSubmission applies defaults to the optional fields of req and
// validates the resulting limits. Explicit non-positive values are errors.
func RunRequestToSubmission(req *dto.RunRequest, defaults models.Limits) (*models.Submission, error) {
	limits := defaults
	if req.TimeLimitMs != nil {
		if *req.TimeLimitMs <= 0 {
			return nil, &models.ConfigurationError{Field: "time_limit_ms", Reason: "must be positive"}
		}
		limits.WallTimeMsTotal = *req.TimeLimitMs
		limits.PerTestTimeoutMs = models.DerivePerTestTimeoutMs(*req.TimeLimitMs)
	}
	if req.PerTestTimeoutMs != nil {
		if *req.PerTestTimeoutMs <= 0 {
			return nil, &models.ConfigurationError{Field: "per_test_timeout_ms", Reason: "must be positive"}
		}
		limits.PerTestTimeoutMs = *req.PerTestTimeoutMs
	}
	if req.MemoryMb != nil {
		limits.MemoryMb = *req.MemoryMb
	}
	if req.MaxOutputBytes != nil {
		limits.MaxOutputBytes = *req.MaxOutputBytes
	}
	if req.EnforceTotalBudget != nil {
		limits.EnforceTotalBudget = *req.EnforceTotalBudget
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	language := req.Language
	if language == "" {
		language = DefaultLanguage
	}
	tests := req.Tests
	if tests == nil {
		tests = []models.TestCase{}
	}
	return &models.Submission{
		ID:         uuid.NewString(),
		SourceCode: req.Code,
		Language:   language,
		Tests:      tests,
		Limits:     limits,
	}, nil
}

// ErrorKind names the error class reported to callers.
func ErrorKind(err error) string {
	var cfgErr *models.ConfigurationError
	var internal *models.InternalError
	switch {
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.Is(err, models.ErrPoolSaturated):
		return "pool_saturated"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &internal):
		return "internal_error"
	default:
		return "unexpected_error"
	}
}

func ErrorToResponse(err error) *dto.ErrorResponse {
	resp := &dto.ErrorResponse{Error: err.Error(), Kind: ErrorKind(err)}
	var internal *models.InternalError
	if errors.As(err, &internal) {
		resp.Stderr = internal.Stderr
	}
	return resp
}

func ResultToTaskResponse(id string, result *models.SubmissionResult, err error) *dto.TaskResponse {
	if err != nil {
		status := dto.TaskStatusFailed
		if kind := ErrorKind(err); kind == "configuration_error" || kind == "pool_saturated" {
			status = dto.TaskStatusRejected
		}
		return &dto.TaskResponse{ID: id, Status: status, Error: ErrorToResponse(err)}
	}
	return &dto.TaskResponse{ID: id, Status: dto.TaskStatusCompleted, Result: result}
}
