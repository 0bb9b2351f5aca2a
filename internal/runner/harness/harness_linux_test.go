package harness

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner/process"
	"github.com/cutekitek/rankode-grader/internal/sampler"
	"golang.org/x/sys/unix"
)

func TestRunSweepsEscapedProcesses(t *testing.T) {
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid is not available")
	}
	s, err := sampler.New()
	if err != nil {
		t.Skipf("sampler unavailable: %v", err)
	}
	if err := process.SetSubreaper(true); err != nil {
		t.Skipf("subreaper unavailable: %v", err)
	}
	t.Cleanup(func() {
		process.Sweep(s)
		_ = process.SetSubreaper(false)
	})

	pidFile := filepath.Join(t.TempDir(), "escaped.pid")
	code := `read f; (setsid sh -c "echo \$\$ > $f; exec sleep 30" &); sleep 0.2; echo ok`
	cfg := stage(t, shSpec, models.DefaultLimits(), code, []models.TestCase{
		{Input: pidFile + "\n", Expected: "ok"},
		{Input: "\n", Expected: "ok"},
	})
	cfg.Sampler = s

	res := Run(context.Background(), cfg)
	if res.Error != "" || res.TotalPassed != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("escaped process did not record its pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("invalid pid %q", data)
	}
	if err := unix.Kill(pid, 0); err != unix.ESRCH {
		t.Fatalf("process %d outlived its test: %v", pid, err)
	}
}

// openUp makes dir and its parent traversable by another uid.
func openUp(t *testing.T, dir string) {
	t.Helper()
	for _, d := range []string{filepath.Dir(dir), dir} {
		if err := os.Chmod(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunSurvivesParentKill(t *testing.T) {
	tests := []struct {
		name     string
		identity process.Identity
		root     bool
	}{
		{"own namespaces", process.Identity{Namespaced: true}, false},
		{"other uid", process.Identity{UID: 65534, GID: 65534}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.root && os.Getuid() != 0 {
				t.Skip("switching uid requires root privileges")
			}
			check := process.Options{Timeout: time.Second, Identity: tt.identity}
			if _, err := process.Exec(context.Background(), process.Command{Args: []string{"/bin/sh", "-c", "true"}}, "", check); err != nil {
				t.Skipf("identity unavailable: %v", err)
			}

			cfg := stage(t, shSpec, models.DefaultLimits(), "kill -9 $PPID; echo alive", []models.TestCase{
				{Expected: "alive"},
				{Expected: "alive"},
			})
			openUp(t, cfg.WorkDir)
			openUp(t, cfg.TmpDir)
			cfg.Identity = tt.identity

			res := Run(context.Background(), cfg)
			if res.Error != "" || len(res.Results) != 2 {
				t.Fatalf("unexpected result %+v", res)
			}
			for _, r := range res.Results {
				if r.Status == "" {
					t.Fatalf("every attempt must be recorded as a test result: %+v", r)
				}
			}
		})
	}
}
