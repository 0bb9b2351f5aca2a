// Package lang describes how each supported language is built and run.
package lang

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
)

type Kind string

const (
	KindInterpreted Kind = "interpreted"
	KindCompiled    Kind = "compiled"
	KindBytecode    Kind = "bytecode"
)

const DefaultBuildTimeout = 10 * time.Second

// Spec is the declarative description of a language. Build and Run are argv
// templates; see Expand for the placeholders.
type Spec struct {
	Name       string   `json:"name"`
	Kind       Kind     `json:"kind"`
	SourceFile string   `json:"codefile"`
	Image      string   `json:"image,omitempty"`
	Build      []string `json:"build,omitempty"`
	Run        []string `json:"run"`
	// Milliseconds.
	BuildTimeoutMs int64  `json:"build_timeout,omitempty"`
	Unit           string `json:"unit,omitempty"`
}

func (s Spec) BuildTimeout() time.Duration {
	if s.BuildTimeoutMs <= 0 {
		return DefaultBuildTimeout
	}
	return time.Duration(s.BuildTimeoutMs) * time.Millisecond
}

func (s Spec) Ext() string {
	return strings.TrimPrefix(filepath.Ext(s.SourceFile), ".")
}

func (s Spec) Validate() error {
	switch {
	case s.Name == "":
		return &models.ConfigurationError{Field: "language", Reason: "empty name"}
	case s.SourceFile == "" || filepath.Base(s.SourceFile) != s.SourceFile:
		return &models.ConfigurationError{Field: "codefile", Reason: "must be a plain file name"}
	case len(s.Run) == 0:
		return &models.ConfigurationError{Field: "run", Reason: "empty run command"}
	}
	switch s.Kind {
	case KindInterpreted:
	case KindCompiled, KindBytecode:
		if len(s.Build) == 0 {
			return &models.ConfigurationError{Field: "build", Reason: s.Name + " needs a build command"}
		}
	default:
		return &models.ConfigurationError{Field: "kind", Reason: "unknown kind " + string(s.Kind)}
	}
	return nil
}

// Expand substitutes {source}, {outdir}, {binary} and {unit} in every
// argument. Unknown placeholders are left untouched.
func Expand(args []string, vars map[string]string) []string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func builtins() []Spec {
	return []Spec{
		{
			Name:       "python",
			Kind:       KindInterpreted,
			SourceFile: "main.py",
			Image:      "python:3.12-slim",
			Run:        []string{"python3", "-I", "-S", "-B", "{source}"},
		},
		{
			Name:       "javascript",
			Kind:       KindInterpreted,
			SourceFile: "main.js",
			Image:      "node:20-slim",
			Run:        []string{"node", "{source}"},
		},
		{
			Name:       "sh",
			Kind:       KindInterpreted,
			SourceFile: "main.sh",
			Image:      "busybox:stable",
			Run:        []string{"/bin/sh", "{source}"},
		},
		{
			Name:       "cpp",
			Kind:       KindCompiled,
			SourceFile: "main.cpp",
			Image:      "gcc:13",
			Build:      []string{"g++", "-O2", "-std=c++17", "-o", "{binary}", "{source}"},
			Run:        []string{"{binary}"},
		},
		{
			Name:       "c",
			Kind:       KindCompiled,
			SourceFile: "main.c",
			Image:      "gcc:13",
			Build:      []string{"gcc", "-O2", "-std=c11", "-o", "{binary}", "{source}", "-lm"},
			Run:        []string{"{binary}"},
		},
		{
			Name:           "go",
			Kind:           KindCompiled,
			SourceFile:     "main.go",
			Image:          "golang:1.23",
			Build:          []string{"go", "build", "-o", "{binary}", "{source}"},
			Run:            []string{"{binary}"},
			BuildTimeoutMs: 30000,
		},
		{
			Name:           "java",
			Kind:           KindBytecode,
			SourceFile:     "Main.java",
			Image:          "eclipse-temurin:21-jdk",
			Build:          []string{"javac", "-d", "{outdir}", "{source}"},
			Run:            []string{"java", "-cp", "{outdir}", "{unit}"},
			BuildTimeoutMs: 20000,
			Unit:           "Main",
		},
	}
}

var aliases = map[string]string{
	"python3": "python",
	"py":      "python",
	"js":      "javascript",
	"node":    "javascript",
	"c++":     "cpp",
	"golang":  "go",
	"bash":    "sh",
}
