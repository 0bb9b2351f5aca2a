//go:build !linux

package process

import (
	"os"
	"os/exec"

	"github.com/cutekitek/rankode-grader/internal/sampler"
	"github.com/pkg/errors"
)

func setProcAttr(*exec.Cmd, Identity) {}

func killTree(pid int, _ *sampler.Sampler) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func killGroup(int) {}

func SetSubreaper(bool) error {
	return errors.New("subreaper is only supported on linux")
}

func SetNotDumpable() error {
	return nil
}

func Sweep(*sampler.Sampler) int {
	return 0
}

func exitCode(ps *os.ProcessState) int {
	return ps.ExitCode()
}

func maxRSSKb(*os.ProcessState) int64 {
	return 0
}
