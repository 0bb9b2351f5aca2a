package process

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cutekitek/rankode-grader/internal/sampler"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	sweepRounds   = 50
	sweepInterval = 10 * time.Millisecond
)

func setProcAttr(cmd *exec.Cmd, id Identity) {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	switch {
	case id.Namespaced:
		// The candidate becomes pid 1 of its own pid namespace and cannot
		// address any process of the caller.
		attr.Cloneflags = unix.CLONE_NEWUSER | unix.CLONE_NEWPID
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getuid(), HostID: os.Getuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getgid(), HostID: os.Getgid(), Size: 1}}
		attr.GidMappingsEnableSetgroups = false
	case id.UID != 0:
		attr.Credential = &syscall.Credential{Uid: id.UID, Gid: id.GID}
	}
	cmd.SysProcAttr = attr
}

// killTree kills descendants deepest-first, then the root, then whatever is
// left in the root's process group.
func killTree(pid int, s *sampler.Sampler) {
	if s != nil {
		desc := s.Descendants(pid)
		for i := len(desc) - 1; i >= 0; i-- {
			_ = unix.Kill(desc[i], unix.SIGKILL)
		}
	}
	_ = unix.Kill(pid, unix.SIGKILL)
	_ = unix.Kill(-pid, unix.SIGKILL)
}

func killGroup(pgid int) {
	_ = unix.Kill(-pgid, unix.SIGKILL)
}

// SetSubreaper makes the calling process the parent of every orphan below
// it, so that children which double-fork or call setsid stay reachable.
func SetSubreaper(on bool) error {
	var v uintptr
	if on {
		v = 1
	}
	return errors.Wrap(unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, v, 0, 0, 0), "prctl(PR_SET_CHILD_SUBREAPER)")
}

// SetNotDumpable keeps processes with the same uid from attaching to or
// reading the memory of the caller.
func SetNotDumpable() error {
	return errors.Wrap(unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0), "prctl(PR_SET_DUMPABLE)")
}

// Sweep kills and reaps every remaining descendant of the calling process.
// Only meaningful after SetSubreaper(true); without it orphans are
// reparented to init and out of reach. Returns the number of processes
// killed.
func Sweep(s *sampler.Sampler) int {
	if s == nil {
		return 0
	}
	self := os.Getpid()
	killed := 0
	for round := 0; round < sweepRounds; round++ {
		desc := s.Descendants(self)
		if len(desc) == 0 {
			return killed
		}
		for i := len(desc) - 1; i >= 0; i-- {
			if unix.Kill(desc[i], unix.SIGKILL) == nil {
				killed++
			}
		}
		reapChildren()
		time.Sleep(sweepInterval)
	}
	reapChildren()
	return killed
}

// reapChildren collects every exited child without blocking. Children still
// owned by a running exec.Cmd do not exist at this point.
func reapChildren() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
	}
}

func exitCode(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}

func maxRSSKb(ps *os.ProcessState) int64 {
	if ru, ok := ps.SysUsage().(*syscall.Rusage); ok {
		return ru.Maxrss
	}
	return 0
}
