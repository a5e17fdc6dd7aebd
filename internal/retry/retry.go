// Package retry runs a unit of work with a bounded number of attempts and a
// fixed delay between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrInterrupted is returned when the context is cancelled during the delay
// between attempts.
var ErrInterrupted = errors.New("interrupted while waiting to retry")

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Run returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Policy bounds the retry loop. Delay is constant between attempts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy is three attempts fifteen minutes apart.
var DefaultPolicy = Policy{MaxAttempts: 3, Delay: 15 * time.Minute}

// Work is one attempt. attempt starts at 1.
type Work func(ctx context.Context, attempt int) error

// Orchestrator runs Work under a Policy.
type Orchestrator struct {
	policy Policy
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates an Orchestrator. A MaxAttempts below 1 is treated as 1.
func New(policy Policy, clock clockwork.Clock, logger *slog.Logger) *Orchestrator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Orchestrator{policy: policy, clock: clock, logger: logger}
}

// MaxAttempts returns the configured attempt bound.
func (o *Orchestrator) MaxAttempts() int { return o.policy.MaxAttempts }

// Run calls work until it succeeds, returns a permanent error, or the
// attempts are exhausted. Work receives a context that is never cancelled:
// in-flight calls are bounded by their own timeouts, and cancellation of ctx
// is only honoured while waiting between attempts.
func (o *Orchestrator) Run(ctx context.Context, work Work) error {
	workCtx := context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		err := work(workCtx, attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if attempt >= o.policy.MaxAttempts {
			o.logger.Error("all attempts exhausted", "attempts", attempt, "error", err)
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		o.logger.Warn("attempt failed, waiting to retry",
			"attempt", attempt,
			"max_attempts", o.policy.MaxAttempts,
			"delay", o.policy.Delay,
			"error", err,
		)
		if err := o.wait(ctx); err != nil {
			return fmt.Errorf("%w after attempt %d: %w", ErrInterrupted, attempt, err)
		}
	}
}

func (o *Orchestrator) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.policy.Delay <= 0 {
		return nil
	}

	timer := o.clock.NewTimer(o.policy.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
