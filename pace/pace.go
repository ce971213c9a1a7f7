// Package pace provides context-aware waiting with an optional countdown
// side channel. The pipeline uses it both for provider-declared retry
// delays and for the inter-call rate floor between slots.
package pace

import (
	"context"
	"time"
)

// Sleeper blocks for a requested duration. Implementations return early
// only when the context is done, never on their own initiative.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// Default returns a timer-backed sleeper.
func Default() Sleeper {
	return SleeperFunc(func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
}

// ProgressFunc observes the remaining wait time at each countdown tick.
type ProgressFunc func(remaining time.Duration)

// Countdown wraps a sleeper so progress is reported at a fixed interval
// while a wait is in flight. The hook is observational only: it runs on its
// own ticker and cannot lengthen, shorten, or fail the underlying wait.
type Countdown struct {
	// Inner performs the actual wait. Nil means Default().
	Inner Sleeper

	// Interval between progress reports.
	Interval time.Duration

	// OnTick receives the remaining duration. Nil disables the countdown.
	OnTick ProgressFunc
}

// Sleep waits for d, reporting progress along the way.
func (c *Countdown) Sleep(ctx context.Context, d time.Duration) error {
	inner := c.Inner
	if inner == nil {
		inner = Default()
	}
	if c.OnTick == nil || c.Interval <= 0 || d <= 0 {
		return inner.Sleep(ctx, d)
	}

	deadline := time.Now().Add(d)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				if remaining := deadline.Sub(now); remaining > 0 {
					c.OnTick(remaining)
				}
			}
		}
	}()

	err := inner.Sleep(ctx, d)
	close(done)
	return err
}
