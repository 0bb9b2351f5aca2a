// Package timeout runs host-side work with a deadline.
//
// This is a weak primitive: when the deadline passes, Run returns
// immediately but fn keeps running on its goroutine until it notices the
// cancelled context or finishes on its own. A fn that ignores ctx leaks
// until it returns. Never use it to bound untrusted code; that is always
// run as a separate process and killed.
package timeout

import (
	"context"
	"time"
)

// Run calls fn on a new goroutine and waits at most d for it. It reports
// whether fn completed in time.
func Run[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) T) (T, bool) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	// Buffered so a late fn can still send and exit.
	done := make(chan T, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case v := <-done:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}
