package process

import (
	"context"

	"github.com/cutekitek/rankode-grader/internal/compare"
	"github.com/cutekitek/rankode-grader/internal/repository/models"
)

const (
	TimeoutMarker  = "TIMEOUT"
	nonZeroExitTag = " (non-zero exit)"
)

// RunCase executes one test case and classifies it. Only launch failures
// are returned as errors; everything the candidate program does ends up in
// the TestResult.
func RunCase(ctx context.Context, index int, c Command, input, expected string, opts Options) (models.TestResult, error) {
	res := models.TestResult{
		Index:          index,
		ExpectedOutput: expected,
	}

	out, err := Exec(ctx, c, input, opts)
	if err != nil {
		return res, err
	}
	res.MemoryKb = out.MemoryKb

	if out.TimedOut {
		res.Stderr = TimeoutMarker
		res.DurationMs = opts.Timeout.Milliseconds()
		res.Tier = string(compare.TierMismatch)
		res.Note = "timeout"
		res.Status = models.TestStatusTimeout
		return res, nil
	}

	exitCode := out.ExitCode
	res.ExitCode = &exitCode
	res.DurationMs = out.Duration.Milliseconds()
	res.ActualOutput = Truncate(out.Stdout, opts.MaxOutputBytes)
	res.Stderr = Truncate(out.Stderr, opts.MaxOutputBytes)

	passed, tier := compare.Compare(string(out.Stdout), expected)
	res.Tier = string(tier)
	res.Note = string(tier)
	switch {
	case passed && exitCode != 0:
		res.Note += nonZeroExitTag
		res.Status = models.TestStatusRuntimeFailure
	case passed:
		res.Passed = true
		res.Status = models.TestStatusOK
	case exitCode != 0:
		res.Status = models.TestStatusRuntimeFailure
	default:
		res.Status = models.TestStatusOutputMismatch
	}
	return res, nil
}

// TimedOutCase is the result for a test that was never launched because the
// submission budget had run out.
func TimedOutCase(index int, expected, note string) models.TestResult {
	return models.TestResult{
		Index:          index,
		ExpectedOutput: expected,
		Stderr:         TimeoutMarker,
		Tier:           string(compare.TierMismatch),
		Note:           note,
		Status:         models.TestStatusTimeout,
	}
}
