// Package process runs one candidate program once with bounded time and
// bounded output capture, and kills its whole process tree on timeout.
package process

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cutekitek/rankode-grader/internal/sampler"
	"github.com/pkg/errors"
)

const (
	TruncationMarker = "...[truncated]"

	DefaultCaptureLimit   = 1 << 20
	DefaultSampleInterval = 10 * time.Millisecond

	waitDelay = 500 * time.Millisecond
)

// Command is a fully resolved argv plus the directory it runs in.
type Command struct {
	Args []string
	Dir  string
	Env  []string
}

type Options struct {
	Timeout time.Duration
	// Returned stdout/stderr are cut to this many bytes.
	MaxOutputBytes int
	// Bytes kept in memory per stream; anything beyond is drained and dropped.
	CaptureLimit   int
	SampleInterval time.Duration
	// Optional. Without a sampler only the root process is killed on timeout
	// (plus its process group) and memory falls back to rusage.
	Sampler *sampler.Sampler
	// Separates the program from the caller. The zero value runs it with the
	// caller's own identity.
	Identity Identity
}

// Identity selects how a candidate process is kept apart from the process
// that supervises it.
type Identity struct {
	// Run under this uid/gid when UID is non-zero. Needs CAP_SETUID and
	// CAP_SETGID.
	UID uint32
	GID uint32
	// Start in fresh user and pid namespaces instead. Works unprivileged.
	Namespaced bool
}

func (id Identity) validate() error {
	if id.Namespaced && id.UID != 0 {
		return errors.New("identity cannot both switch uid and use namespaces")
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.CaptureLimit <= 0 {
		o.CaptureLimit = DefaultCaptureLimit
	}
	o.CaptureLimit = max(o.CaptureLimit, o.MaxOutputBytes)
	if o.SampleInterval <= 0 {
		o.SampleInterval = DefaultSampleInterval
	}
	return o
}

type Outcome struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	TimedOut bool
	Duration time.Duration
	MemoryKb *int64
}

// Exec launches a fresh process for c with stdin bound to input and waits
// for it at most opts.Timeout. A failure to launch is returned as an error;
// anything the program itself does is described by the Outcome.
func Exec(ctx context.Context, c Command, input string, opts Options) (*Outcome, error) {
	if len(c.Args) == 0 {
		return nil, errors.New("empty command")
	}
	if opts.Timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}
	if err := opts.Identity.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	stdout := newCappedBuffer(opts.CaptureLimit)
	stderr := newCappedBuffer(opts.CaptureLimit)

	cmd := exec.CommandContext(runCtx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = strings.NewReader(input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcAttr(cmd, opts.Identity)
	cmd.Cancel = func() error {
		killTree(cmd.Process.Pid, opts.Sampler)
		return nil
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", c.Args[0])
	}

	peak := &sampler.Peak{}
	stopSampling := make(chan struct{})
	samplingDone := make(chan struct{})
	go func() {
		defer close(samplingDone)
		if opts.Sampler == nil {
			return
		}
		ticker := time.NewTicker(opts.SampleInterval)
		defer ticker.Stop()
		peak.Observe(opts.Sampler.Sample(cmd.Process.Pid))
		for {
			select {
			case <-stopSampling:
				return
			case <-ticker.C:
				peak.Observe(opts.Sampler.Sample(cmd.Process.Pid))
			}
		}
	}()

	waitErr := cmd.Wait()
	duration := time.Since(start)
	close(stopSampling)
	<-samplingDone

	// Children that outlived the root are still in its process group.
	killGroup(cmd.Process.Pid)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if cmd.ProcessState == nil {
		return nil, errors.Wrap(waitErr, "process state unavailable")
	}

	out := &Outcome{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode(cmd.ProcessState),
		TimedOut: waitErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded),
		Duration: duration,
	}
	mem := peak.MemoryKb()
	if rss := maxRSSKb(cmd.ProcessState); rss > mem {
		mem = rss
	}
	if mem > 0 {
		out.MemoryKb = &mem
	}
	return out, nil
}

// Truncate returns b unchanged when it fits in maxBytes, otherwise its first
// maxBytes bytes (backed off to a rune boundary) followed by TruncationMarker.
func Truncate(b []byte, maxBytes int) string {
	if maxBytes <= 0 || len(b) <= maxBytes {
		return string(b)
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + TruncationMarker
}

type cappedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

// Write never fails and never blocks the child: bytes past the limit are
// accepted and thrown away.
func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		b.buf = append(b.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}
