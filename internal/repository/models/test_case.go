package models

// TestStatus classifies how a single test case ended.
type TestStatus string

const (
	TestStatusOK             TestStatus = "ok"
	TestStatusCompileError   TestStatus = "compile_error"
	TestStatusTimeout        TestStatus = "timeout"
	TestStatusRuntimeFailure TestStatus = "runtime_failure"
	TestStatusOutputMismatch TestStatus = "output_mismatch"
)

type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

// TestResult is produced once per TestCase and never mutated afterwards.
type TestResult struct {
	Index          int        `json:"index"`
	Passed         bool       `json:"passed"`
	ActualOutput   string     `json:"output"`
	ExpectedOutput string     `json:"expected"`
	DurationMs     int64      `json:"durationMs"`
	MemoryKb       *int64     `json:"memoryKb"`
	Stderr         string     `json:"stderr"`
	ExitCode       *int       `json:"exitCode"`
	Note           string     `json:"note"`
	Tier           string     `json:"tier"`
	Status         TestStatus `json:"status"`
}
