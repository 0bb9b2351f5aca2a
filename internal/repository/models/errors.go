package models

import (
	"errors"
	"fmt"
)

var (
	ErrLanguageNotFound = errors.New("language not found")
	ErrPoolSaturated    = errors.New("sandbox pool saturated")
)

// ConfigurationError rejects a request before any process is launched.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InternalError means the grading system failed, not the candidate code.
// It must never be turned into a failing test.
type InternalError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
