package models

import (
	"fmt"
	"time"
)

const (
	DefaultWallTimeMsTotal int64 = 5000
	DefaultMemoryMb        int64 = 256
	DefaultMaxOutputBytes        = 20000
)

// MaxOutputBytesLimit is the largest per-stream capture a request may ask
// for.
const MaxOutputBytesLimit = 1 << 20

// Limits bounds one submission. PerTestTimeoutMs applies to every test on
// its own; WallTimeMsTotal only bounds the sum of test waits when
// EnforceTotalBudget is set.
type Limits struct {
	WallTimeMsTotal    int64 `json:"wallTimeMsTotal"`
	PerTestTimeoutMs   int64 `json:"perTestTimeoutMs"`
	MemoryMb           int64 `json:"memoryMb"`
	MaxOutputBytes     int   `json:"maxOutputBytes"`
	EnforceTotalBudget bool  `json:"enforceTotalBudget"`
}

func DefaultLimits() Limits {
	return Limits{
		WallTimeMsTotal:  DefaultWallTimeMsTotal,
		PerTestTimeoutMs: DerivePerTestTimeoutMs(DefaultWallTimeMsTotal),
		MemoryMb:         DefaultMemoryMb,
		MaxOutputBytes:   DefaultMaxOutputBytes,
	}
}

// DerivePerTestTimeoutMs mirrors max(1, total/1000) seconds.
func DerivePerTestTimeoutMs(totalMs int64) int64 {
	return max(1000, totalMs)
}

func (l Limits) Validate() error {
	switch {
	case l.WallTimeMsTotal <= 0:
		return &ConfigurationError{Field: "wallTimeMsTotal", Reason: "must be positive"}
	case l.PerTestTimeoutMs <= 0:
		return &ConfigurationError{Field: "perTestTimeoutMs", Reason: "must be positive"}
	case l.MemoryMb <= 0:
		return &ConfigurationError{Field: "memoryMb", Reason: "must be positive"}
	case l.MaxOutputBytes <= 0:
		return &ConfigurationError{Field: "maxOutputBytes", Reason: "must be positive"}
	case l.MaxOutputBytes > MaxOutputBytesLimit:
		return &ConfigurationError{Field: "maxOutputBytes", Reason: fmt.Sprintf("must not exceed %d", MaxOutputBytesLimit)}
	}
	return nil
}

func (l Limits) PerTestTimeout() time.Duration {
	return time.Duration(l.PerTestTimeoutMs) * time.Millisecond
}

func (l Limits) WallTimeTotal() time.Duration {
	return time.Duration(l.WallTimeMsTotal) * time.Millisecond
}

func (l Limits) MemoryBytes() int64 {
	return l.MemoryMb * 1024 * 1024
}
