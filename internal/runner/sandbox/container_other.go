//go:build !linux

package sandbox

import (
	"context"
	"log/slog"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/pkg/errors"
)

type ContainerConfig struct {
	CgroupPrefix string
	UID          int
	GID          int
	PidsLimit    int64
	TmpfsSize    string
}

// Container is only available on linux.
type Container struct{}

func NewContainer(ContainerConfig, *slog.Logger) (*Container, error) {
	return nil, launchError("container", "namespaces need linux", errors.New("unsupported platform"))
}

func (c *Container) Prepare(context.Context, *Workspace, models.Limits) (Handle, error) {
	return nil, errors.New("unsupported platform")
}

func (c *Container) Execute(context.Context, Handle, []string) (*RawOutput, error) {
	return nil, errors.New("unsupported platform")
}

func (c *Container) Teardown(Handle) error {
	return nil
}

func (c *Container) Close() error {
	return nil
}
