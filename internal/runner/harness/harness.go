// Package harness is the in-sandbox grading loop. It compiles the staged
// source once, runs every test case in order and produces a single
// SubmissionResult.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner/lang"
	"github.com/cutekitek/rankode-grader/internal/runner/process"
	"github.com/cutekitek/rankode-grader/internal/sampler"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

const (
	MetaFile    = "meta.json"
	TestsFile   = "tests.json"
	BinaryName  = "grader-harness"
	MountPoint  = "/work"
	budgetNote  = "submission budget exhausted"
	compileNote = "compile error"
)

// Meta is everything the harness needs besides the tests and the source.
type Meta struct {
	SubmissionID      string        `json:"submissionId"`
	Language          lang.Spec     `json:"language"`
	Limits            models.Limits `json:"limits"`
	CaptureLimitBytes int           `json:"captureLimitBytes"`
}

type Config struct {
	WorkDir string
	TmpDir  string
	// Overrides the per-test timeout when positive, in seconds.
	TestTimeoutS float64
	// Identity of the compiler and of every test process.
	Identity process.Identity
	Sampler  *sampler.Sampler
	Logger   *slog.Logger
}

type envConfig struct {
	WorkDir        string  `env:"GRADER_WORK_DIR" env-default:"/work"`
	TmpDir         string  `env:"GRADER_TMP_DIR"`
	TestTimeoutS   float64 `env:"TEST_TIMEOUT_S"`
	RunUID         uint32  `env:"GRADER_RUN_UID"`
	RunGID         uint32  `env:"GRADER_RUN_GID"`
	CaseNamespaces bool    `env:"GRADER_CASE_NAMESPACES"`
}

func ConfigFromEnv() (Config, error) {
	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return Config{}, err
	}
	if env.TmpDir == "" {
		env.TmpDir = os.TempDir()
	}
	return Config{
		WorkDir:      env.WorkDir,
		TmpDir:       env.TmpDir,
		TestTimeoutS: env.TestTimeoutS,
		Identity: process.Identity{
			UID:        env.RunUID,
			GID:        env.RunGID,
			Namespaced: env.CaseNamespaces,
		},
	}, nil
}

// Run never fails: problems of the harness itself are reported through the
// Error field of the returned result.
func Run(ctx context.Context, cfg Config) (res *models.SubmissionResult) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			cfg.Logger.Error("harness panic", "panic", r, "stack", string(debug.Stack()))
			res = failed("", fmt.Sprintf("harness panic: %v", r))
		}
	}()

	meta, tests, err := load(cfg.WorkDir)
	if err != nil {
		return failed(meta.SubmissionID, err.Error())
	}
	results, err := grade(ctx, cfg, meta, tests)
	if err != nil {
		return failed(meta.SubmissionID, err.Error())
	}
	return models.Aggregate(meta.SubmissionID, results)
}

func failed(id, msg string) *models.SubmissionResult {
	res := models.Aggregate(id, nil)
	res.Error = msg
	return res
}

func load(workDir string) (Meta, []models.TestCase, error) {
	var meta Meta
	if err := readJSON(filepath.Join(workDir, MetaFile), &meta); err != nil {
		return meta, nil, errors.Wrap(err, "failed to load "+MetaFile)
	}
	var tests []models.TestCase
	if err := readJSON(filepath.Join(workDir, TestsFile), &tests); err != nil {
		return meta, nil, errors.Wrap(err, "failed to load "+TestsFile)
	}
	if err := meta.Limits.Validate(); err != nil {
		return meta, nil, err
	}
	return meta, tests, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func grade(ctx context.Context, cfg Config, meta Meta, tests []models.TestCase) ([]models.TestResult, error) {
	source := filepath.Join(cfg.WorkDir, meta.Language.SourceFile)
	if _, err := os.Stat(source); err != nil {
		return nil, errors.Errorf("%s not found", meta.Language.SourceFile)
	}

	root, err := os.MkdirTemp(cfg.TmpDir, "grader-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp dir")
	}
	defer os.RemoveAll(root)
	if err := os.Chmod(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to chmod temp dir")
	}
	home, err := sharedDir(root, "home")
	if err != nil {
		return nil, err
	}
	outDir, err := sharedDir(root, "build")
	if err != nil {
		return nil, err
	}

	adapter, err := lang.New(meta.Language, lang.Options{
		Sampler:        cfg.Sampler,
		Env:            sandboxEnv(home),
		MaxOutputBytes: meta.Limits.MaxOutputBytes,
		Identity:       cfg.Identity,
	})
	if err != nil {
		return nil, err
	}

	compiled, err := adapter.Compile(ctx, source, outDir)
	sweep(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start compiler")
	}
	if !compiled.OK() {
		cfg.Logger.Debug("compile failed", "submission", meta.SubmissionID, "exitCode", compiled.ExitCode)
		return compileFailure(tests, compiled), nil
	}

	opts := process.Options{
		Timeout:        perTestTimeout(cfg, meta.Limits),
		MaxOutputBytes: meta.Limits.MaxOutputBytes,
		CaptureLimit:   meta.CaptureLimitBytes,
		Sampler:        cfg.Sampler,
		Identity:       cfg.Identity,
	}
	budget := meta.Limits.WallTimeTotal()
	start := time.Now()

	results := make([]models.TestResult, 0, len(tests))
	for i, tc := range tests {
		caseOpts := opts
		if meta.Limits.EnforceTotalBudget {
			remaining := budget - time.Since(start)
			if remaining <= 0 {
				results = append(results, process.TimedOutCase(i, tc.Expected, budgetNote))
				continue
			}
			caseOpts.Timeout = min(opts.Timeout, remaining)
		}

		res, err := runCase(ctx, adapter, compiled.Artifact, root, i, tc, caseOpts)
		sweep(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to run test %d", i)
		}
		cfg.Logger.Debug("test finished", "submission", meta.SubmissionID, "index", i, "status", res.Status, "durationMs", res.DurationMs)
		results = append(results, res)
	}
	return results, nil
}

// runCase gives every test its own fresh working directory.
func runCase(ctx context.Context, adapter lang.Adapter, artifact, root string, index int, tc models.TestCase, opts process.Options) (models.TestResult, error) {
	dir, err := os.MkdirTemp(root, "case-")
	if err != nil {
		return models.TestResult{}, err
	}
	defer os.RemoveAll(dir)
	if err := os.Chmod(dir, 0o777); err != nil {
		return models.TestResult{}, err
	}
	return process.RunCase(ctx, index, adapter.Command(artifact, dir), tc.Input, tc.Expected, opts)
}

// sweep removes whatever the last compile or test left running, including
// processes that escaped their process group.
func sweep(cfg Config) {
	if n := process.Sweep(cfg.Sampler); n > 0 {
		cfg.Logger.Debug("killed leftover processes", "count", n)
	}
}

// sharedDir creates a directory the candidate identity can write to.
func sharedDir(root, name string) (string, error) {
	dir := filepath.Join(root, name)
	if err := os.Mkdir(dir, 0o777); err != nil {
		return "", errors.Wrap(err, "failed to create "+name+" dir")
	}
	return dir, errors.Wrap(os.Chmod(dir, 0o777), "failed to chmod "+name+" dir")
}

func compileFailure(tests []models.TestCase, compiled *lang.CompileResult) []models.TestResult {
	results := make([]models.TestResult, len(tests))
	for i, tc := range tests {
		r := models.TestResult{
			Index:          i,
			ExpectedOutput: tc.Expected,
			DurationMs:     compiled.DurationMs,
			Stderr:         compiled.Stderr,
			Note:           compileNote,
			Status:         models.TestStatusCompileError,
		}
		if !compiled.TimedOut {
			code := compiled.ExitCode
			r.ExitCode = &code
		}
		results[i] = r
	}
	return results
}

func perTestTimeout(cfg Config, limits models.Limits) time.Duration {
	if cfg.TestTimeoutS > 0 {
		return time.Duration(cfg.TestTimeoutS * float64(time.Second))
	}
	return limits.PerTestTimeout()
}

func sandboxEnv(home string) []string {
	return []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=" + home,
		"TMPDIR=" + home,
		"GOCACHE=" + filepath.Join(home, "gocache"),
		"LANG=C.UTF-8",
	}
}

// Write prints res as the single JSON document the engine expects. The
// aggregated streams are left out: they repeat every test's output and the
// engine rebuilds them from Results.
func Write(w io.Writer, res *models.SubmissionResult) error {
	out := *res
	out.Stdout, out.Stderr = "", ""
	return json.NewEncoder(w).Encode(&out)
}

// OutputBound is the largest document Write can produce for a submission
// with these tests and limits. JSON escaping turns one byte into at most
// six.
func OutputBound(submissionID string, tests []models.TestCase, limits models.Limits) int {
	const (
		perTest = 1 << 10
		base    = 64 << 10
	)
	stream := limits.MaxOutputBytes + len(process.TruncationMarker)
	n := base + 6*len(submissionID)
	for _, tc := range tests {
		n += perTest + 6*(2*stream+len(tc.Expected))
	}
	return n
}
