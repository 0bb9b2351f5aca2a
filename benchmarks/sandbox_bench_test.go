package benchmarks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cutekitek/rankode-grader/internal/compare"
	"github.com/cutekitek/rankode-grader/internal/engine"
	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner/harness"
	"github.com/cutekitek/rankode-grader/internal/runner/lang"
	"github.com/cutekitek/rankode-grader/internal/runner/sandbox"
)

func BenchmarkCompare(b *testing.B) {
	bigJSON := `{"items":[` + strings.Repeat(`{"id":1,"tags":["a","b"],"score":0.5},`, 200) + `{"id":2}]}`
	cases := []struct {
		name     string
		actual   string
		expected string
	}{
		{"exact", "hello world\n", "hello world"},
		{"float", "3.14159265", "3.14159266"},
		{"json", `{"b":2,"a":[1,2,3]}`, `{"a":[1,2,3],"b":2}`},
		{"json-large", bigJSON, bigJSON + "\n"},
		{"mismatch", strings.Repeat("x", 20000), strings.Repeat("y", 20000)},
	}
	for _, c := range cases {
		b.Run(c.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				compare.Compare(c.actual, c.expected)
			}
		})
	}
}

func stageHarness(b *testing.B, spec lang.Spec, code string, tests []models.TestCase) harness.Config {
	b.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		b.Skip("/bin/sh is not available")
	}
	dir := b.TempDir()
	write := func(name string, data []byte) {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			b.Fatal(err)
		}
	}
	meta, _ := json.Marshal(harness.Meta{SubmissionID: "bench", Language: spec, Limits: models.DefaultLimits()})
	testsJSON, _ := json.Marshal(tests)
	write(harness.MetaFile, meta)
	write(harness.TestsFile, testsJSON)
	write(spec.SourceFile, []byte(code))
	return harness.Config{WorkDir: dir, TmpDir: b.TempDir()}
}

func BenchmarkHarnessShell(b *testing.B) {
	spec, err := lang.NewRegistry().Get("sh")
	if err != nil {
		b.Fatal(err)
	}
	tests := []models.TestCase{
		{Input: "1\n", Expected: "1"},
		{Input: "2\n", Expected: "2"},
		{Input: "3\n", Expected: "3"},
	}
	cfg := stageHarness(b, spec, "cat", tests)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := harness.Run(context.Background(), cfg)
		if res.Error != "" || !res.Passed {
			b.Fatalf("unexpected result: %+v", res)
		}
	}
}

func BenchmarkHarnessCompiled(b *testing.B) {
	// The "compiler" only copies a script, so this measures the build step
	// and per-case workspace overhead rather than a real toolchain.
	spec := lang.Spec{
		Name:       "fake",
		Kind:       lang.KindCompiled,
		SourceFile: "main.fake",
		Build:      []string{"/bin/sh", "-c", "cp {source} {binary} && chmod +x {binary}"},
		Run:        []string{"/bin/sh", "{binary}"},
	}
	cfg := stageHarness(b, spec, "read n; echo $((n * n))", []models.TestCase{
		{Input: "4", Expected: "16"},
		{Input: "5", Expected: "25"},
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := harness.Run(context.Background(), cfg)
		if res.Error != "" || !res.Passed {
			b.Fatalf("unexpected result: %+v", res)
		}
	}
}

// BenchmarkContainerPython needs root, cgroup v2 and a static harness build
// in GRADER_HARNESS_PATH.
func BenchmarkContainerPython(b *testing.B) {
	harnessPath := os.Getenv("GRADER_HARNESS_PATH")
	if os.Geteuid() != 0 || harnessPath == "" {
		b.Skip("needs root and GRADER_HARNESS_PATH")
	}
	box, err := sandbox.NewContainer(sandbox.ContainerConfig{CgroupPrefix: "rankode-grader-bench"}, nil)
	if err != nil {
		b.Skipf("container sandbox unavailable: %v", err)
	}
	defer box.Close()

	eng := engine.New(engine.Config{WorkRoot: b.TempDir(), HarnessPath: harnessPath}, lang.NewRegistry(), box, sandbox.NewPool(1, false), nil)
	sub := &models.Submission{
		ID:         "bench",
		Language:   "python",
		SourceCode: "print(sum(int(x) for x in input().split()))",
		Tests: []models.TestCase{
			{Input: "1 2 3", Expected: "6"},
			{Input: "10 20", Expected: "30"},
		},
		Limits: models.DefaultLimits(),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := eng.Run(context.Background(), sub)
		if err != nil {
			b.Fatalf("Run failed: %v", err)
		}
		if !res.Passed {
			b.Fatalf("unexpected result: %+v", res.Results)
		}
	}
}
