// Package sandbox builds the isolated environment a submission is graded
// in and guarantees its teardown.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/pkg/errors"
)

const (
	DefaultUID       = 65534
	DefaultGID       = 65534
	DefaultPidsLimit = 64
	DefaultTmpfsSize = "256m"

	// Harness stderr only carries diagnostics.
	maxRawStderr = 1 << 20
)

// Handle identifies one prepared boundary. It is owned by a single engine
// run and never reused.
type Handle interface {
	ID() string
}

type RawOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	// Stdout went past the limit and was cut.
	Truncated bool
}

// Boundary is one isolation mechanism. Every implementation enforces: no
// network, a memory ceiling without swap beyond it, a pids cap, a fixed
// unprivileged identity, no privilege escalation and a read-only /work.
//
// Prepare may return a non-nil Handle together with an error when it failed
// half way; Teardown must still be called on it. Teardown is idempotent and
// accepts a nil Handle.
type Boundary interface {
	Prepare(ctx context.Context, ws *Workspace, limits models.Limits) (Handle, error)
	Execute(ctx context.Context, h Handle, args []string) (*RawOutput, error)
	Teardown(h Handle) error
}

func launchError(op string, stderr string, err error) error {
	return &models.InternalError{Op: op, Stderr: stderr, Err: err}
}

var ErrRootIdentity = errors.New("sandbox identity must not be root")

func checkIdentity(uid, gid int) error {
	if uid <= 0 || gid < 0 {
		return launchError("sandbox identity", fmt.Sprintf("uid=%d gid=%d", uid, gid), ErrRootIdentity)
	}
	return nil
}

// teardownOnce runs a destroy function at most once.
type teardownOnce struct {
	once sync.Once
	err  error
}

func (t *teardownOnce) do(f func() error) error {
	t.once.Do(func() { t.err = f() })
	return t.err
}

// limitedBuffer keeps the first limit bytes written to it and drops the
// rest without failing the writer.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if len(p) > room {
		b.truncated = true
	}
	if room > 0 {
		b.buf.Write(p[:min(room, len(p))])
	}
	return len(p), nil
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func (b *limitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}
