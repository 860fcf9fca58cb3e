package retry

import (
	"context"
	"time"
)

// Attempt describes a failed attempt, passed to the OnRetry hook.
type Attempt struct {
	Number int // retry number about to run, 1-based
	Delay  time.Duration
	Err    error
}

// Runner applies a Policy to an operation.
type Runner struct {
	Policy Policy
	Sleep  Sleeper
	// Permanent reports errors that must not be retried. Nil retries everything.
	Permanent func(error) bool
	// Scale adjusts the delay for a specific error, e.g. longer waits on rate limits.
	Scale   func(err error, d time.Duration) time.Duration
	OnRetry func(Attempt)
}

// NewRunner returns a Runner sleeping on the wall clock.
func NewRunner(p Policy) *Runner {
	return &Runner{Policy: p, Sleep: ContextSleep}
}

// Do runs fn until it succeeds, fails permanently, the retries are exhausted or
// ctx is cancelled. It returns the last error from fn.
func (r *Runner) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if r.Permanent != nil && r.Permanent(err) {
			return err
		}
		if attempt >= r.Policy.MaxRetries || ctx.Err() != nil {
			return err
		}
		delay := r.Policy.Delay(attempt + 1)
		if r.Scale != nil {
			delay = r.Scale(err, delay)
		}
		if r.OnRetry != nil {
			r.OnRetry(Attempt{Number: attempt + 1, Delay: delay, Err: err})
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}
