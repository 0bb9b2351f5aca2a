package models

import (
	"math"
	"strings"
)

// Submission is one grading request. It is immutable once created and
// belongs to exactly one engine run.
type Submission struct {
	ID         string     `json:"submissionId"`
	SourceCode string     `json:"code"`
	Language   string     `json:"language"`
	Tests      []TestCase `json:"tests"`
	Limits     Limits     `json:"limits"`
}

type SubmissionResult struct {
	SubmissionID string       `json:"submissionId"`
	Results      []TestResult `json:"results"`
	TotalPassed  int          `json:"totalPassed"`
	TotalTests   int          `json:"totalTests"`
	// Sum of per-test durations.
	RuntimeMs    int64   `json:"runtimeMs"`
	MemoryKb     *int64  `json:"memoryKb"`
	Stdout       string  `json:"stdout"`
	Stderr       string  `json:"stderr"`
	ExitCode     *int    `json:"exitCode"`
	Score        float64 `json:"score"`
	Passed       bool    `json:"passed"`
	CompileError bool    `json:"compileError,omitempty"`
	// Error is only filled by the harness when it could not grade at all.
	Error string `json:"error,omitempty"`
}

// Score returns round(100 * passed / max(1, total), 2).
func Score(passed, total int) float64 {
	if total < 1 {
		total = 1
	}
	return math.Round(10000*float64(passed)/float64(total)) / 100
}

// Aggregate builds a SubmissionResult from per-test results. Totals are
// always recomputed here, never taken from an untrusted source.
func Aggregate(submissionID string, results []TestResult) *SubmissionResult {
	res := &SubmissionResult{
		SubmissionID: submissionID,
		Results:      results,
		TotalTests:   len(results),
	}
	if res.Results == nil {
		res.Results = []TestResult{}
	}

	stdout := make([]string, 0, len(results))
	stderr := make([]string, 0, len(results))
	var peak int64
	var seenMemory bool
	for _, r := range results {
		if r.Passed {
			res.TotalPassed++
		}
		if r.Status == TestStatusCompileError {
			res.CompileError = true
		}
		res.RuntimeMs += r.DurationMs
		if r.MemoryKb != nil {
			seenMemory = true
			peak = max(peak, *r.MemoryKb)
		}
		stdout = append(stdout, r.ActualOutput)
		stderr = append(stderr, r.Stderr)
	}
	if seenMemory {
		res.MemoryKb = &peak
	}
	res.Stdout = strings.Join(stdout, "\n")
	res.Stderr = strings.Join(stderr, "\n")
	res.Score = Score(res.TotalPassed, res.TotalTests)
	res.Passed = res.TotalTests > 0 && res.TotalPassed == res.TotalTests
	exitCode := 0
	res.ExitCode = &exitCode
	return res
}
