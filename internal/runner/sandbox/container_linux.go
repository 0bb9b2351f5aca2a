package sandbox

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/criyle/go-sandbox/container"
	"github.com/criyle/go-sandbox/pkg/cgroup"
	"github.com/criyle/go-sandbox/pkg/mount"
	"github.com/criyle/go-sandbox/pkg/rlimit"
	"github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner/harness"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func init() {
	container.Init()
}

type ContainerConfig struct {
	CgroupPrefix string
	UID          int
	GID          int
	PidsLimit    int64
	TmpfsSize    string
}

// Container isolates submissions with Linux namespaces and a cgroup v2
// group per submission.
type Container struct {
	cfg    ContainerConfig
	rootCG cgroup.Cgroup
	logger *slog.Logger
}

type containerHandle struct {
	env         container.Environment
	cg          cgroup.Cgroup
	root        string
	id          string
	outputLimit int
	teardown    teardownOnce
}

func (h *containerHandle) ID() string {
	return h.id
}

func NewContainer(cfg ContainerConfig, logger *slog.Logger) (*Container, error) {
	if cgroup.DetectType() != cgroup.TypeV2 {
		return nil, launchError("cgroup detect", "cgroup v2 is required", errors.New("cgroup v2 unavailable"))
	}
	cgroup.EnableV2Nesting()

	ct, err := cgroup.GetAvailableController()
	if err != nil {
		return nil, launchError("cgroup controllers", err.Error(), err)
	}
	if cfg.CgroupPrefix == "" {
		cfg.CgroupPrefix = "rankode-grader"
	}
	if cfg.UID == 0 && cfg.GID == 0 {
		cfg.UID, cfg.GID = DefaultUID, DefaultGID
	}
	if err := checkIdentity(cfg.UID, cfg.GID); err != nil {
		return nil, err
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = DefaultPidsLimit
	}
	if cfg.TmpfsSize == "" {
		cfg.TmpfsSize = DefaultTmpfsSize
	}
	rootCG, err := cgroup.New(cfg.CgroupPrefix, ct)
	if err != nil {
		return nil, launchError("cgroup create", err.Error(), err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Container{cfg: cfg, rootCG: rootCG, logger: logger}, nil
}

func (c *Container) build(root, workDir string) (container.Environment, error) {
	mb := mount.NewBuilder().
		WithBind("/bin", "bin", true).
		WithBind("/lib", "lib", true).
		WithBind("/lib64", "lib64", true).
		WithBind("/usr", "usr", true).
		WithBind("/etc/ld.so.cache", "etc/ld.so.cache", true).
		WithBind("/etc/alternatives", "etc/alternatives", true).
		WithBind(workDir, strings.TrimPrefix(harness.MountPoint, "/"), true).
		WithProc().
		WithBind("/dev/null", "dev/null", false).
		WithTmpfs("tmp", "size="+c.cfg.TmpfsSize+",nr_inodes=4k").
		FilterNotExist()

	cloneFlag := unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUSER | unix.CLONE_NEWUTS

	b := container.Builder{
		Root:          root,
		WorkDir:       "/tmp",
		Mounts:        mb.Mounts,
		Stderr:        os.Stderr,
		CredGenerator: newCredGen(uint32(c.cfg.UID), uint32(c.cfg.GID)),
		CloneFlags:    uintptr(cloneFlag),
	}
	return b.Build()
}

func (c *Container) Prepare(ctx context.Context, ws *Workspace, limits models.Limits) (Handle, error) {
	root, err := os.MkdirTemp("", "grader-root-")
	if err != nil {
		return nil, launchError("container root", err.Error(), err)
	}
	h := &containerHandle{root: root, id: ws.SubmissionID, outputLimit: ws.OutputLimit}

	env, err := c.build(root, ws.Dir)
	if err != nil {
		return h, launchError("container build", err.Error(), err)
	}
	h.env = env

	cg, err := c.rootCG.Random("submission")
	if err != nil {
		return h, launchError("cgroup create", err.Error(), err)
	}
	h.cg = cg
	if err := cg.SetMemoryLimit(uint64(limits.MemoryBytes())); err != nil {
		return h, launchError("cgroup memory.max", err.Error(), err)
	}
	if err := cg.SetProcLimit(uint64(c.cfg.PidsLimit)); err != nil {
		return h, launchError("cgroup pids.max", err.Error(), err)
	}
	files, ok := cg.(cgroupFiles)
	if !ok {
		err := errors.Errorf("cgroup %v has no file access", cg)
		return h, launchError("cgroup memory.swap.max", err.Error(), err)
	}
	if err := disableSwap(files); err != nil {
		return h, launchError("cgroup memory.swap.max", err.Error(), err)
	}
	return h, nil
}

func (c *Container) Execute(ctx context.Context, h Handle, args []string) (*RawOutput, error) {
	ch, ok := h.(*containerHandle)
	if !ok || ch == nil || ch.env == nil || ch.cg == nil {
		return nil, errors.New("container handle is not prepared")
	}

	cgDir, err := ch.cg.Open()
	if err != nil {
		return nil, launchError("cgroup open", err.Error(), err)
	}
	defer cgDir.Close()

	var pipes [3][2]*os.File
	for i := range pipes {
		r, w, err := os.Pipe()
		if err != nil {
			for _, p := range pipes[:i] {
				p[0].Close()
				p[1].Close()
			}
			return nil, errors.Wrap(err, "failed to create pipe")
		}
		pipes[i] = [2]*os.File{r, w}
	}
	stdinR, stdinW := pipes[0][0], pipes[0][1]
	stdoutR, stdoutW := pipes[1][0], pipes[1][1]
	stderrR, stderrW := pipes[2][0], pipes[2][1]
	stdinW.Close()

	stdout, stderr := newLimitedBuffer(ch.outputLimit), newLimitedBuffer(maxRawStderr)
	wg := &sync.WaitGroup{}
	wg.Add(2)
	go pipeReader(wg, stdoutR, stdout)
	go pipeReader(wg, stderrR, stderr)

	syncFunc := func(pid int) error {
		return ch.cg.AddProc(pid)
	}

	rlims := rlimit.RLimits{
		CPU:      cpuSeconds(ctx),
		CPUHard:  cpuSeconds(ctx) + 1,
		FileSize: 64 << 20,
		Stack:    128 << 20,
		OpenFile: 256,
	}

	res := ch.env.Execve(ctx, container.ExecveParam{
		Args: args,
		Env: []string{
			"PATH=/usr/local/bin:/usr/bin:/bin",
			"GRADER_WORK_DIR=" + harness.MountPoint,
			"GRADER_TMP_DIR=/tmp",
			// The user namespace maps a single uid, so test processes are
			// kept away from the harness by a pid namespace of their own.
			"GRADER_CASE_NAMESPACES=true",
		},
		Files:    []uintptr{stdinR.Fd(), stdoutW.Fd(), stderrW.Fd()},
		RLimits:  rlims.PrepareRLimit(),
		SyncFunc: syncFunc,
		CgroupFD: cgDir.Fd(),
	})
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()
	wg.Wait()
	stdoutR.Close()
	stderrR.Close()

	c.logger.Debug("harness finished", "submission", ch.id, "status", res.Status, "exitStatus", res.ExitStatus, "time", res.Time, "memory", res.Memory)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if res.Status == runner.StatusRunnerError {
		return nil, launchError("container execve", res.Error, errors.New(res.Status.String()))
	}
	exitCode := res.ExitStatus
	if res.Status != runner.StatusNormal && exitCode == 0 {
		exitCode = -1
	}
	return &RawOutput{
		Stdout:    stdout.Bytes(),
		Stderr:    append(stderr.Bytes(), []byte(res.Error)...),
		ExitCode:  exitCode,
		Truncated: stdout.Truncated(),
	}, nil
}

func (c *Container) Teardown(h Handle) error {
	ch, ok := h.(*containerHandle)
	if !ok || ch == nil {
		return nil
	}
	return ch.teardown.do(func() error {
		var errs []string
		if ch.env != nil {
			if err := ch.env.Destroy(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if ch.cg != nil {
			if err := ch.cg.Destroy(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := os.RemoveAll(ch.root); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return errors.New("teardown: " + strings.Join(errs, "; "))
		}
		return nil
	})
}

// Close removes the parent cgroup. Per-submission groups must already be
// torn down.
func (c *Container) Close() error {
	return errors.Wrap(c.rootCG.Destroy(), "failed to remove cgroup")
}

func pipeReader(wg *sync.WaitGroup, pipe *os.File, out io.Writer) {
	defer wg.Done()
	io.Copy(out, pipe)
}

type cgroupFiles interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, content []byte) error
}

// disableSwap sets memory.swap.max=0. The file is absent when the kernel
// has no swap accounting, and then there is no swap to disable.
func disableSwap(cg cgroupFiles) error {
	if _, err := cg.ReadFile("memory.swap.max"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return cg.WriteFile("memory.swap.max", []byte("0"))
}

func cpuSeconds(ctx context.Context) uint64 {
	if deadline, ok := ctx.Deadline(); ok {
		return uint64(time.Until(deadline).Seconds()) + 1
	}
	return 60
}

type credGen struct {
	uid, gid uint32
}

func newCredGen(uid, gid uint32) *credGen {
	return &credGen{uid: uid, gid: gid}
}

func (c *credGen) Get() syscall.Credential {
	return syscall.Credential{
		Uid: c.uid,
		Gid: c.gid,
	}
}
