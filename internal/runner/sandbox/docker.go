package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner/harness"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
)

type DockerConfig struct {
	// Used when the language does not name its own image.
	DefaultImage string
	// Optional OCI runtime, e.g. "runsc" for gVisor.
	Runtime   string
	CPUs      float64
	UID       int
	GID       int
	PidsLimit int64
	TmpfsSize string
}

// Docker runs every submission in its own locked-down container and execs
// the harness inside it.
type Docker struct {
	cli    *client.Client
	cfg    DockerConfig
	logger *slog.Logger
}

type dockerHandle struct {
	id          string
	outputLimit int
	teardown    teardownOnce
}

func (h *dockerHandle) ID() string {
	return h.id
}

func NewDocker(cfg DockerConfig, logger *slog.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
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
	if logger == nil {
		logger = slog.Default()
	}
	return &Docker{cli: cli, cfg: cfg, logger: logger}, nil
}

func (d *Docker) imageFor(ws *Workspace) string {
	if ws.Language.Image != "" {
		return ws.Language.Image
	}
	return d.cfg.DefaultImage
}

// The harness runs as root of the container with nothing but the
// capabilities it needs to switch every test process to the sandbox
// identity and to kill it. Test processes hold no capabilities.
func (d *Docker) containerConfig(ws *Workspace) *container.Config {
	return &container.Config{
		Image:           d.imageFor(ws),
		Cmd:             []string{"sleep", "infinity"},
		User:            "0:0",
		WorkingDir:      "/tmp",
		NetworkDisabled: true,
		Env: []string{
			"GRADER_WORK_DIR=" + harness.MountPoint,
			"GRADER_TMP_DIR=/tmp",
			fmt.Sprintf("GRADER_RUN_UID=%d", d.cfg.UID),
			fmt.Sprintf("GRADER_RUN_GID=%d", d.cfg.GID),
		},
		Labels: map[string]string{"rankode.submission": ws.SubmissionID},
	}
}

func (d *Docker) hostConfig(ws *Workspace, limits models.Limits) *container.HostConfig {
	pids := d.cfg.PidsLimit
	useInit := true
	return &container.HostConfig{
		Resources: container.Resources{
			Memory:     limits.MemoryBytes(),
			MemorySwap: limits.MemoryBytes(),
			PidsLimit:  &pids,
			NanoCPUs:   int64(d.cfg.CPUs * 1e9),
		},
		NetworkMode:    "none",
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		CapAdd:         []string{"SETUID", "SETGID", "KILL"},
		ReadonlyRootfs: true,
		Init:           &useInit,
		Runtime:        d.cfg.Runtime,
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   ws.Dir,
				Target:   harness.MountPoint,
				ReadOnly: true,
			},
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,exec,nosuid,size=" + d.cfg.TmpfsSize + ",mode=1777",
		},
	}
}

func (d *Docker) Prepare(ctx context.Context, ws *Workspace, limits models.Limits) (Handle, error) {
	resp, err := d.cli.ContainerCreate(ctx, d.containerConfig(ws), d.hostConfig(ws, limits), nil, nil, "")
	if err != nil {
		return nil, launchError("docker create", err.Error(), err)
	}
	for _, w := range resp.Warnings {
		d.logger.Warn("docker create warning", "submission", ws.SubmissionID, "warning", w)
	}
	h := &dockerHandle{id: resp.ID, outputLimit: ws.OutputLimit}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return h, launchError("docker start", err.Error(), err)
	}
	return h, nil
}

func (d *Docker) Execute(ctx context.Context, h Handle, args []string) (*RawOutput, error) {
	dh, ok := h.(*dockerHandle)
	if !ok || dh == nil {
		return nil, errors.New("not a docker handle")
	}

	execResp, err := d.cli.ContainerExecCreate(ctx, dh.id, container.ExecOptions{
		Cmd:          args,
		WorkingDir:   "/tmp",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, launchError("docker exec create", err.Error(), err)
	}
	attach, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, launchError("docker exec attach", err.Error(), err)
	}
	defer attach.Close()

	stdout, stderr := newLimitedBuffer(dh.outputLimit), newLimitedBuffer(maxRawStderr)
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, launchError("docker exec read", string(stderr.Bytes()), err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, launchError("docker exec inspect", err.Error(), err)
	}
	return &RawOutput{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		ExitCode:  inspect.ExitCode,
		Truncated: stdout.Truncated(),
	}, nil
}

func (d *Docker) Teardown(h Handle) error {
	dh, ok := h.(*dockerHandle)
	if !ok || dh == nil {
		return nil
	}
	return dh.teardown.do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := d.cli.ContainerRemove(ctx, dh.id, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !client.IsErrNotFound(err) {
			return errors.Wrap(err, "failed to remove container")
		}
		return nil
	})
}

// EnsureImage pulls img unless it is already present.
func (d *Docker) EnsureImage(ctx context.Context, img string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, img); err == nil {
		return nil
	}
	d.logger.Info("pulling docker image", "image", img)
	reader, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return launchError("docker pull", err.Error(), err)
	}
	defer reader.Close()
	// The pull only completes once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return errors.Wrap(err, "failed to pull "+img)
	}
	d.logger.Info("pulled docker image", "image", img)
	return nil
}

func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *Docker) Close() error {
	return d.cli.Close()
}
