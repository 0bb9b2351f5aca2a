package dto

import "github.com/cutekitek/rankode-grader/internal/repository/models"

// RunRequest is the body of POST /run and of tasks-req messages. Optional
// numbers are pointers so an explicit 0 can be told apart from "not set".
type RunRequest struct {
	// Only used by the queue transport to correlate responses.
	ID          string            `json:"id,omitempty"`
	Code        string            `json:"code"`
	Language    string            `json:"language,omitempty"`
	Tests       []models.TestCase `json:"tests"`
	TestsObject string            `json:"tests_object,omitempty"`

	TimeLimitMs        *int64 `json:"time_limit_ms,omitempty"`
	PerTestTimeoutMs   *int64 `json:"per_test_timeout_ms,omitempty"`
	MemoryMb           *int64 `json:"memory_mb,omitempty"`
	MaxOutputBytes     *int   `json:"max_output_bytes,omitempty"`
	EnforceTotalBudget *bool  `json:"enforce_total_budget,omitempty"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Stderr string `json:"stderr,omitempty"`
}

type LanguageInfo struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	SourceFile string `json:"sourceFile"`
	Compiled   bool   `json:"compiled"`
}

type PlagiarismRequest struct {
	Code      string   `json:"code"`
	Language  string   `json:"language,omitempty"`
	Reference []string `json:"reference,omitempty"`
}

type PlagiarismResponse struct {
	StaticScore  float64  `json:"staticScore"`
	DynamicScore float64  `json:"dynamicScore"`
	WebScore     float64  `json:"webScore"`
	FinalScore   float64  `json:"finalScore"`
	Evidence     []string `json:"evidence"`
}
