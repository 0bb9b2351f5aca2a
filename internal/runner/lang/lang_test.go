package lang

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
)

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name     string
		expected string
	}{
		{"python", "python"},
		{"python3", "python"},
		{"JS", "javascript"},
		{"c++", "cpp"},
		{"java", "java"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := r.Get(tt.name)
			if err != nil {
				t.Fatalf("Get(%q) failed: %v", tt.name, err)
			}
			if s.Name != tt.expected {
				t.Fatalf("expected %s, got %s", tt.expected, s.Name)
			}
		})
	}

	if _, err := r.Get("cobol"); !errors.Is(err, models.ErrLanguageNotFound) {
		t.Fatalf("expected ErrLanguageNotFound, got %v", err)
	}
}

func TestBuiltinsAreValid(t *testing.T) {
	for _, s := range NewRegistry().List() {
		if err := s.Validate(); err != nil {
			t.Fatalf("built-in %s is invalid: %v", s.Name, err)
		}
	}
}

func TestPythonRunsIsolated(t *testing.T) {
	s, _ := NewRegistry().Get("python")
	a, err := New(s, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cmd := a.Command("/work/main.py", "/tmp/x")
	expected := []string{"python3", "-I", "-S", "-B", "/work/main.py"}
	if len(cmd.Args) != len(expected) {
		t.Fatalf("unexpected argv %v", cmd.Args)
	}
	for i := range expected {
		if cmd.Args[i] != expected[i] {
			t.Fatalf("unexpected argv %v", cmd.Args)
		}
	}
	if cmd.Dir != "/tmp/x" {
		t.Fatalf("unexpected dir %s", cmd.Dir)
	}
}

func TestJavaUnitName(t *testing.T) {
	s, _ := NewRegistry().Get("java")
	a, _ := New(s, Options{})
	cmd := a.Command("/tmp/classes", "/tmp/x")
	if got := cmd.Args[len(cmd.Args)-1]; got != "Main" {
		t.Fatalf("expected unit Main, got %s", got)
	}
	if cmd.Args[2] != "/tmp/classes" {
		t.Fatalf("expected class path to be the artifact, got %v", cmd.Args)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name, "config.json"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("python", `{"run": ["pypy3", "{source}"]}`)
	write("rust", `{"build": ["rustc", "-o", "{binary}", "{source}"], "run": ["{binary}"], "codefile": "main.rs", "build_timeout": 60000}`)
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	py, _ := r.Get("python")
	if py.Run[0] != "pypy3" || py.SourceFile != "main.py" {
		t.Fatalf("override was not merged: %+v", py)
	}
	rust, err := r.Get("rust")
	if err != nil {
		t.Fatalf("new language not registered: %v", err)
	}
	if rust.Kind != KindCompiled || rust.BuildTimeout().Seconds() != 60 || rust.Ext() != "rs" {
		t.Fatalf("unexpected rust spec %+v", rust)
	}
}

func TestCompileFailureIsReported(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
	spec := Spec{
		Name:       "fake",
		Kind:       KindCompiled,
		SourceFile: "main.fake",
		Build:      []string{"sh", "-c", "echo 'syntax error' >&2; exit 2"},
		Run:        []string{"{binary}"},
	}
	a, err := New(spec, Options{MaxOutputBytes: 1000})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := a.Compile(context.Background(), "/dev/null", t.TempDir())
	if err != nil {
		t.Fatalf("Compile returned a launch error: %v", err)
	}
	if res.OK() || res.ExitCode != 2 || res.Stderr != "syntax error" {
		t.Fatalf("unexpected compile result %+v", res)
	}
}

func TestExpand(t *testing.T) {
	got := Expand([]string{"{binary}", "-x", "{source}:{unit}", "{other}"}, map[string]string{
		"binary": "/o/main",
		"source": "/w/a.c",
		"unit":   "Main",
	})
	expected := []string{"/o/main", "-x", "/w/a.c:Main", "{other}"}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("Expand = %v, expected %v", got, expected)
		}
	}
}

func TestLoadShippedLanguages(t *testing.T) {
	r := NewRegistry()
	if err := r.LoadDir("../../../languages"); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	rust, err := r.Get("rust")
	if err != nil {
		t.Fatalf("rust not loaded: %v", err)
	}
	if rust.Kind != KindCompiled || rust.BuildTimeout().Seconds() != 60 || rust.Ext() != "rs" {
		t.Fatalf("unexpected rust spec %+v", rust)
	}
	ruby, err := r.Get("ruby")
	if err != nil || ruby.Kind != KindInterpreted || ruby.SourceFile != "main.rb" {
		t.Fatalf("unexpected ruby spec %+v %v", ruby, err)
	}
	golang, err := r.Get("golang")
	if err != nil || golang.Image != "golang:1.23" || golang.BuildTimeout().Seconds() != 40 {
		t.Fatalf("go override must keep the built-in image: %+v %v", golang, err)
	}
}
