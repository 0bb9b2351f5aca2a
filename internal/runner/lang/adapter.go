package lang

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cutekitek/rankode-grader/internal/runner/process"
	"github.com/cutekitek/rankode-grader/internal/sampler"
)

type CompileResult struct {
	ExitCode int
	Stderr   string
	// Source file for interpreted languages, binary or class directory otherwise.
	Artifact   string
	DurationMs int64
	TimedOut   bool
}

func (r *CompileResult) OK() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Adapter is the uniform compile/run contract. Compile errors of the
// candidate are reported in CompileResult; a returned error means the
// toolchain itself could not be started.
type Adapter interface {
	Spec() Spec
	Compile(ctx context.Context, sourcePath, outDir string) (*CompileResult, error)
	Command(artifact, dir string) process.Command
}

type Options struct {
	Sampler        *sampler.Sampler
	Env            []string
	MaxOutputBytes int
	// Compilers run candidate-controlled input and get the same identity as
	// the program itself.
	Identity process.Identity
}

func New(spec Spec, opts Options) (Adapter, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	base := adapterBase{spec: spec, opts: opts}
	switch spec.Kind {
	case KindCompiled:
		return &compiled{base}, nil
	case KindBytecode:
		return &bytecode{base}, nil
	default:
		return &interpreted{base}, nil
	}
}

type adapterBase struct {
	spec Spec
	opts Options
}

func (a *adapterBase) Spec() Spec {
	return a.spec
}

func (a *adapterBase) build(ctx context.Context, dir string, vars map[string]string, artifact string) (*CompileResult, error) {
	cmd := process.Command{
		Args: Expand(a.spec.Build, vars),
		Dir:  dir,
		Env:  a.opts.Env,
	}
	out, err := process.Exec(ctx, cmd, "", process.Options{
		Timeout:        a.spec.BuildTimeout(),
		MaxOutputBytes: a.opts.MaxOutputBytes,
		Sampler:        a.opts.Sampler,
		Identity:       a.opts.Identity,
	})
	if err != nil {
		return nil, err
	}

	res := &CompileResult{
		ExitCode:   out.ExitCode,
		Artifact:   artifact,
		DurationMs: out.Duration.Milliseconds(),
		TimedOut:   out.TimedOut,
	}
	diag := strings.TrimSpace(string(out.Stderr))
	if diag == "" {
		diag = strings.TrimSpace(string(out.Stdout))
	}
	if out.TimedOut {
		diag = strings.TrimSpace("compilation timed out\n" + diag)
	}
	res.Stderr = process.Truncate([]byte(diag), a.opts.MaxOutputBytes)
	return res, nil
}

func (a *adapterBase) command(vars map[string]string, dir string) process.Command {
	return process.Command{
		Args: Expand(a.spec.Run, vars),
		Dir:  dir,
		Env:  a.opts.Env,
	}
}

type interpreted struct {
	adapterBase
}

func (a *interpreted) Compile(_ context.Context, sourcePath, _ string) (*CompileResult, error) {
	return &CompileResult{Artifact: sourcePath}, nil
}

func (a *interpreted) Command(artifact, dir string) process.Command {
	return a.command(map[string]string{"source": artifact}, dir)
}

type compiled struct {
	adapterBase
}

func (a *compiled) Compile(ctx context.Context, sourcePath, outDir string) (*CompileResult, error) {
	binary := filepath.Join(outDir, "main")
	return a.build(ctx, outDir, map[string]string{
		"source": sourcePath,
		"outdir": outDir,
		"binary": binary,
	}, binary)
}

func (a *compiled) Command(artifact, dir string) process.Command {
	return a.command(map[string]string{"binary": artifact}, dir)
}

// bytecode compiles into a class directory and runs a launcher on the unit
// name derived from the source file.
type bytecode struct {
	adapterBase
}

func (a *bytecode) unit() string {
	if a.spec.Unit != "" {
		return a.spec.Unit
	}
	return strings.TrimSuffix(a.spec.SourceFile, filepath.Ext(a.spec.SourceFile))
}

func (a *bytecode) Compile(ctx context.Context, sourcePath, outDir string) (*CompileResult, error) {
	return a.build(ctx, outDir, map[string]string{
		"source": sourcePath,
		"outdir": outDir,
		"unit":   a.unit(),
	}, outDir)
}

func (a *bytecode) Command(artifact, dir string) process.Command {
	return a.command(map[string]string{"outdir": artifact, "unit": a.unit()}, dir)
}
