package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner/harness"
	"github.com/cutekitek/rankode-grader/internal/runner/lang"
	"github.com/cutekitek/rankode-grader/internal/runner/sandbox"
)

type fakeHandle struct{ id string }

func (h *fakeHandle) ID() string { return h.id }

// fakeBoundary runs the harness in-process against the staged workspace,
// or returns canned output when raw is set. Output past the workspace
// limit is cut the way the real boundaries cut it.
type fakeBoundary struct {
	mu          sync.Mutex
	prepareErr  error
	raw         *sandbox.RawOutput
	delay       time.Duration
	prepared    int
	tornDown    int
	lastDir     string
	outputLimit int
	written     int
}

func (b *fakeBoundary) Prepare(ctx context.Context, ws *sandbox.Workspace, limits models.Limits) (sandbox.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prepared++
	b.lastDir = ws.Dir
	b.outputLimit = ws.OutputLimit
	return &fakeHandle{id: ws.Dir}, b.prepareErr
}

func (b *fakeBoundary) Execute(ctx context.Context, h sandbox.Handle, args []string) (*sandbox.RawOutput, error) {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.raw != nil {
		return b.raw, nil
	}
	res := harness.Run(ctx, harness.Config{WorkDir: h.ID(), TmpDir: os.TempDir()})
	var buf bytes.Buffer
	if err := harness.Write(&buf, res); err != nil {
		return nil, err
	}
	b.written = buf.Len()
	out := &sandbox.RawOutput{Stdout: buf.Bytes()}
	if buf.Len() > b.outputLimit {
		out.Stdout, out.Truncated = out.Stdout[:b.outputLimit], true
	}
	return out, nil
}

func (b *fakeBoundary) Teardown(h sandbox.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tornDown++
	return nil
}

func newEngine(t *testing.T, b *fakeBoundary, pool *sandbox.Pool) *Engine {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh is not available")
	}
	h := filepath.Join(t.TempDir(), "harness")
	if err := os.WriteFile(h, []byte("stub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if pool == nil {
		pool = sandbox.NewPool(2, false)
	}
	return New(Config{WorkRoot: t.TempDir(), HarnessPath: h, HostSlack: time.Second}, lang.NewRegistry(), b, pool, nil)
}

func shSubmission(code string, tests ...models.TestCase) *models.Submission {
	return &models.Submission{ID: "sub-1", SourceCode: code, Language: "sh", Tests: tests, Limits: models.DefaultLimits()}
}

func TestRunScenarios(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		tests  []models.TestCase
		passed int
		score  float64
		tier   string
	}{
		{"echo", "cat", []models.TestCase{{Input: "5\n", Expected: "5\n"}}, 1, 100, "exact"},
		{"float", "echo 3.14159265", []models.TestCase{{Expected: "3.14159266"}}, 1, 100, "float≈"},
		{"json", `echo '{"b":2,"a":1}'`, []models.TestCase{{Expected: `{"a":1,"b":2}`}}, 1, 100, "json-eq"},
		{"partial", "read n; echo $((n + 1))", []models.TestCase{
			{Input: "1", Expected: "2"},
			{Input: "2", Expected: "3"},
			{Input: "3", Expected: "5"},
		}, 2, 66.67, "exact"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBoundary{}
			e := newEngine(t, b, nil)
			res, err := e.Run(context.Background(), shSubmission(tt.code, tt.tests...))
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.TotalPassed != tt.passed || res.TotalTests != len(tt.tests) || res.Score != tt.score {
				t.Fatalf("unexpected result %+v", res)
			}
			if res.Results[0].Tier != tt.tier {
				t.Fatalf("expected tier %s, got %s", tt.tier, res.Results[0].Tier)
			}
			if b.tornDown != 1 {
				t.Fatalf("expected exactly one teardown, got %d", b.tornDown)
			}
			if _, err := os.Stat(b.lastDir); !os.IsNotExist(err) {
				t.Fatalf("workspace was not removed")
			}
		})
	}
}

func TestRunTransitions(t *testing.T) {
	b := &fakeBoundary{}
	e := newEngine(t, b, nil)
	var states []State
	e.OnTransition = func(_ string, s State) { states = append(states, s) }

	if _, err := e.Run(context.Background(), shSubmission("echo 1", models.TestCase{Expected: "1"})); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	expected := []State{StateStaged, StateIsolated, StateExecuting, StateAggregating, StateTornDown}
	if len(states) != len(expected) {
		t.Fatalf("unexpected transitions %v", states)
	}
	for i := range expected {
		if states[i] != expected[i] {
			t.Fatalf("unexpected transitions %v", states)
		}
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	b := &fakeBoundary{}
	e := newEngine(t, b, nil)
	var cfgErr *models.ConfigurationError

	sub := shSubmission("echo", models.TestCase{})
	sub.Limits.PerTestTimeoutMs = 0
	if _, err := e.Run(context.Background(), sub); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}

	sub = shSubmission("echo", models.TestCase{})
	sub.Language = "brainfuck"
	if _, err := e.Run(context.Background(), sub); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for unknown language, got %v", err)
	}
	if b.prepared != 0 {
		t.Fatalf("nothing may be launched for an invalid submission")
	}
}

func TestRunInternalErrors(t *testing.T) {
	tests := []struct {
		name string
		b    *fakeBoundary
	}{
		{"prepare fails", &fakeBoundary{prepareErr: errors.New("docker daemon unreachable")}},
		{"garbage output", &fakeBoundary{raw: &sandbox.RawOutput{Stdout: []byte("Segmentation fault")}}},
		{"non-zero harness exit", &fakeBoundary{raw: &sandbox.RawOutput{Stdout: []byte(`{"results":[]}`), ExitCode: 137}}},
		{"harness error field", &fakeBoundary{raw: &sandbox.RawOutput{Stdout: []byte(`{"results":[],"error":"main.sh not found"}`)}}},
		{"result count mismatch", &fakeBoundary{raw: &sandbox.RawOutput{Stdout: []byte(`{"results":[]}`)}}},
		{"misaligned results", &fakeBoundary{raw: &sandbox.RawOutput{Stdout: []byte(`{"results":[{"index":3}]}`)}}},
		{"cut output", &fakeBoundary{raw: &sandbox.RawOutput{Stdout: []byte(`{"results":[{"index":0}]}`), Truncated: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.b, nil)
			_, err := e.Run(context.Background(), shSubmission("echo 1", models.TestCase{Expected: "1"}))
			var internal *models.InternalError
			if !errors.As(err, &internal) {
				t.Fatalf("expected InternalError, got %v", err)
			}
			if tt.b.tornDown != 1 {
				t.Fatalf("teardown must run on every exit path, ran %d times", tt.b.tornDown)
			}
			if e.Pool().InUse() != 0 {
				t.Fatalf("pool slot leaked")
			}
		})
	}
}

func TestRunHostEnvelopeExceeded(t *testing.T) {
	b := &fakeBoundary{delay: time.Minute}
	e := newEngine(t, b, nil)
	sub := shSubmission("echo", models.TestCase{})
	sub.Limits.PerTestTimeoutMs = 100
	e.cfg.HostSlack = 100 * time.Millisecond
	e.languages.Register(lang.Spec{Name: "sh", Kind: lang.KindInterpreted, SourceFile: "main.sh", Run: []string{"/bin/sh", "{source}"}, BuildTimeoutMs: 1})

	_, err := e.Run(context.Background(), sub)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if b.tornDown != 1 {
		t.Fatalf("teardown must run after an envelope timeout")
	}
}

func TestRunPoolSaturated(t *testing.T) {
	pool := sandbox.NewPool(1, true)
	release, _ := pool.Acquire(context.Background())
	defer release()

	b := &fakeBoundary{}
	e := newEngine(t, b, pool)
	if _, err := e.Run(context.Background(), shSubmission("echo", models.TestCase{})); !errors.Is(err, models.ErrPoolSaturated) {
		t.Fatalf("expected ErrPoolSaturated, got %v", err)
	}
	if b.prepared != 0 {
		t.Fatalf("prepare must not run without a pool slot")
	}
}

func TestHostEnvelope(t *testing.T) {
	limits := models.DefaultLimits()
	if got := HostEnvelope(limits, 3, 10*time.Second, 5*time.Second); got != 30*time.Second {
		t.Fatalf("unexpected envelope %s", got)
	}
	limits.EnforceTotalBudget = true
	if got := HostEnvelope(limits, 3, 10*time.Second, 5*time.Second); got != 20*time.Second {
		t.Fatalf("unexpected budget envelope %s", got)
	}
}

func TestRunLargeOutputStaysParseable(t *testing.T) {
	b := &fakeBoundary{}
	e := newEngine(t, b, nil)
	tests := make([]models.TestCase, 50)
	for i := range tests {
		tests[i] = models.TestCase{Expected: "x"}
	}
	// Every test fills both streams with bytes that JSON escapes six-fold.
	sub := shSubmission(`head -c 30000 /dev/zero | tr '\0' '\1'; head -c 30000 /dev/zero | tr '\0' '\1' >&2`, tests...)

	res, err := e.Run(context.Background(), sub)
	if err != nil {
		t.Fatalf("candidate output must never surface as an error: %v", err)
	}
	if res.TotalTests != 50 || res.TotalPassed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if b.written > b.outputLimit {
		t.Fatalf("harness wrote %d bytes past the %d byte limit", b.written, b.outputLimit)
	}
	if res.Stdout == "" {
		t.Fatalf("aggregated stdout must be rebuilt from the results")
	}
}

func TestRunEnvelopeCap(t *testing.T) {
	b := &fakeBoundary{}
	e := newEngine(t, b, nil)
	e.cfg.MaxEnvelope = 30 * time.Second

	tests := []struct {
		name  string
		tests int
		ok    bool
	}{
		{"fits", 2, true},
		{"too many tests", 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prepared := b.prepared
			_, err := e.Run(context.Background(), shSubmission("echo", make([]models.TestCase, tt.tests)...))
			var cfgErr *models.ConfigurationError
			if tt.ok && err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if !tt.ok {
				if !errors.As(err, &cfgErr) || cfgErr.Field != "tests" {
					t.Fatalf("expected ConfigurationError for tests, got %v", err)
				}
				if b.prepared != prepared {
					t.Fatalf("nothing may be launched for a submission over the envelope cap")
				}
			}
		})
	}
}
