// Package poller waits for cross-chain state to converge by re-reading it at a
// fixed interval until a predicate holds or an absolute deadline passes.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/speedrun-hq/bridge-harness/pkg/logger"
	"github.com/speedrun-hq/bridge-harness/pkg/metrics"
)

const (
	DefaultTimeout  = 300 * time.Second
	DefaultInterval = 5 * time.Second
)

// Options controls a single wait.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	Logger logger.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.Logger == nil {
		o.Logger = &logger.EmptyLogger{}
	}
	return o
}

// TimeoutError is returned when the deadline passes before the predicate holds.
type TimeoutError struct {
	Description string
	LastState   any
	Deadline    time.Time
	Attempts    int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s after %d attempts (deadline %s), last state: %+v",
		e.Description, e.Attempts, e.Deadline.Format(time.RFC3339), e.LastState)
}

// WaitFor fetches state, tests it with done and sleeps between attempts. The
// deadline is fixed when the wait starts. A fetch error ends the wait
// immediately, and cancelling ctx interrupts the sleep.
//
// On success the satisfying state is returned. On timeout the last observed
// state is returned together with a *TimeoutError.
func WaitFor[S any](
	ctx context.Context,
	opts Options,
	description string,
	fetch func(ctx context.Context) (S, error),
	done func(S) bool,
) (S, error) {
	opts = opts.withDefaults()

	start := opts.Now()
	deadline := start.Add(opts.Timeout)
	var last S
	attempts := 0

	finish := func(result string) {
		metrics.WaitDuration.WithLabelValues(description, result).Observe(opts.Now().Sub(start).Seconds())
	}

	for {
		if err := ctx.Err(); err != nil {
			finish("cancelled")
			return last, fmt.Errorf("wait for %s cancelled: %w", description, err)
		}

		state, err := fetch(ctx)
		attempts++
		metrics.PollIterations.WithLabelValues(description).Inc()
		if err != nil {
			finish("error")
			return last, fmt.Errorf("wait for %s: fetch %d failed: %w", description, attempts, err)
		}
		last = state

		if done(state) {
			opts.Logger.Debug("%s satisfied after %d attempts", description, attempts)
			finish("satisfied")
			return state, nil
		}

		if opts.Now().After(deadline) {
			metrics.PollTimeouts.WithLabelValues(description).Inc()
			finish("timeout")
			return state, &TimeoutError{
				Description: description,
				LastState:   state,
				Deadline:    deadline,
				Attempts:    attempts,
			}
		}

		opts.Logger.Debug("waiting for %s (attempt %d): %+v", description, attempts, state)
		if err := opts.Sleep(ctx, opts.Interval); err != nil {
			finish("cancelled")
			return state, fmt.Errorf("wait for %s interrupted: %w", description, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
