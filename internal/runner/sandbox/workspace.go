package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner/harness"
	"github.com/cutekitek/rankode-grader/internal/runner/lang"
	"github.com/cutekitek/rankode-grader/pkg/files"
	"github.com/pkg/errors"
)

// Workspace is the submission-private directory that gets mounted
// read-only at /work inside the boundary.
type Workspace struct {
	Dir          string
	SubmissionID string
	Language     lang.Spec
	// Most bytes the harness may print for this submission.
	OutputLimit int

	removeOnce sync.Once
	removeErr  error
}

type StageParams struct {
	Root         string
	HarnessPath  string
	CaptureLimit int
}

// Stage writes the source, tests.json, meta.json and the harness binary
// into a fresh directory under p.Root. Everything is world-readable so the
// unprivileged sandbox identity can use it.
func Stage(p StageParams, sub *models.Submission, spec lang.Spec) (*Workspace, error) {
	dir, err := os.MkdirTemp(p.Root, "submission-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create workspace")
	}
	ws := &Workspace{
		Dir:          dir,
		SubmissionID: sub.ID,
		Language:     spec,
		OutputLimit:  harness.OutputBound(sub.ID, sub.Tests, sub.Limits),
	}
	if err := ws.stage(p, sub); err != nil {
		ws.Remove()
		return nil, err
	}
	return ws, nil
}

func (w *Workspace) stage(p StageParams, sub *models.Submission) error {
	if err := os.Chmod(w.Dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to chmod workspace")
	}
	if err := os.WriteFile(w.path(w.Language.SourceFile), []byte(sub.SourceCode), 0o644); err != nil {
		return errors.Wrap(err, "failed to write source")
	}

	tests := sub.Tests
	if tests == nil {
		tests = []models.TestCase{}
	}
	if err := writeJSON(w.path(harness.TestsFile), tests); err != nil {
		return errors.Wrap(err, "failed to write tests")
	}
	meta := harness.Meta{
		SubmissionID:      sub.ID,
		Language:          w.Language,
		Limits:            sub.Limits,
		CaptureLimitBytes: p.CaptureLimit,
	}
	if err := writeJSON(w.path(harness.MetaFile), meta); err != nil {
		return errors.Wrap(err, "failed to write meta")
	}
	if err := files.CopyFile(p.HarnessPath, w.path(harness.BinaryName), 0o755); err != nil {
		return errors.Wrap(err, "failed to copy harness")
	}
	return nil
}

func (w *Workspace) path(name string) string {
	return filepath.Join(w.Dir, name)
}

// HarnessArgs is the argv that starts the harness inside the boundary.
func (w *Workspace) HarnessArgs() []string {
	return []string{harness.MountPoint + "/" + harness.BinaryName}
}

// Remove deletes the workspace. Safe to call more than once.
func (w *Workspace) Remove() error {
	if w == nil {
		return nil
	}
	w.removeOnce.Do(func() {
		w.removeErr = os.RemoveAll(w.Dir)
	})
	return w.removeErr
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
