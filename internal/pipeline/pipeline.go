// Package pipeline runs the ETL stages under execution tracking and retry.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/notify"
	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/couchcryptid/weather-warehouse-etl/internal/retry"
	"github.com/couchcryptid/weather-warehouse-etl/internal/tracker"
	"github.com/jonboulle/clockwork"
)

// ErrSkipped is returned when the stage already succeeded today.
var ErrSkipped = errors.New("stage already succeeded today")

// ExecutionTracker is the subset of tracker.Tracker the runner needs.
type ExecutionTracker interface {
	Lock(ctx context.Context, processName string) (func(), error)
	HasSucceededToday(ctx context.Context, prefix string) (bool, error)
	Begin(ctx context.Context, p tracker.Process, attempt int) (domain.ExecutionRecord, error)
	Complete(ctx context.Context, id string, status domain.Status, inserted, failed int64, message string) error
}

// Session holds the connections of one stage attempt.
type Session interface {
	DB() *sql.DB
	Tracker() ExecutionTracker
	Close() error
}

// SessionFactory opens a fresh Session.
type SessionFactory func(ctx context.Context) (Session, error)

// Result is what a stage reports back for tracking and notification.
type Result struct {
	Inserted int64
	Failed   int64
	Summary  string
}

// Stage is one independently tracked step of the pipeline.
type Stage interface {
	Process() tracker.Process
	Run(ctx context.Context, db *sql.DB, rec domain.ExecutionRecord) (Result, error)
}

// Runner executes stages. Each attempt gets its own Session, lock, gate
// check and execution record.
type Runner struct {
	sessions SessionFactory
	retry    *retry.Orchestrator
	notifier notify.Notifier
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
	ready    atomic.Bool
}

// NewRunner creates a Runner.
func NewRunner(sessions SessionFactory, orchestrator *retry.Orchestrator, notifier notify.Notifier, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Runner {
	return &Runner{
		sessions: sessions,
		retry:    orchestrator,
		notifier: notifier,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// CheckReadiness returns nil once a session was opened against the control
// store, or an error describing why the service is not yet ready.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("control store has not been reached yet")
	}
	return nil
}

// RunAll runs the stages in order. Stages that already succeeded today are
// skipped; the first failure stops the run.
func (r *Runner) RunAll(ctx context.Context, stages ...Stage) error {
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w before %s: %w", retry.ErrInterrupted, s.Process().Name, err)
		}
		err := r.RunStage(ctx, s)
		if errors.Is(err, ErrSkipped) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// RunStage runs one stage with retries. It returns ErrSkipped when the stage
// already succeeded today.
func (r *Runner) RunStage(ctx context.Context, s Stage) error {
	p := s.Process()
	log := r.logger.With("process", p.Name)
	log.Info("stage starting", "max_attempts", r.retry.MaxAttempts())

	var skipped bool
	var lastExecution string
	var lastAttempt int
	err := r.retry.Run(ctx, func(ctx context.Context, attempt int) error {
		lastAttempt = attempt
		id, err := r.attempt(ctx, s, attempt)
		if id != "" {
			lastExecution = id
		}
		if errors.Is(err, ErrSkipped) {
			skipped = true
			return nil
		}
		if err != nil {
			r.metrics.RetryAttempts.WithLabelValues(p.Name).Inc()
		}
		return err
	})

	switch {
	case skipped:
		log.Info("stage already succeeded today, skipping")
		r.metrics.StageRuns.WithLabelValues(p.Name, "skipped").Inc()
		return fmt.Errorf("%s: %w", p.Name, ErrSkipped)
	case err == nil:
		r.metrics.StageRuns.WithLabelValues(p.Name, "success").Inc()
		log.Info("stage finished")
		return nil
	}

	r.metrics.StageRuns.WithLabelValues(p.Name, "failed").Inc()
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		msg := notify.NewMessage(
			fmt.Sprintf("[Weather ETL] %s FAILED after %d attempts", p.Label(), exhausted.Attempts),
			fmt.Sprintf("All %d attempts were exhausted. The stage will not run again until the next schedule.\nLast execution: %s\nLast error: %v",
				exhausted.Attempts, orNone(lastExecution), exhausted.Err),
			r.clock.Now(),
		)
		msg.ExecutionID = lastExecution
		msg.Process = p.Name
		msg.Status = string(domain.StatusFailed)
		msg.Attempt = exhausted.Attempts
		msg.MaxAttempts = r.retry.MaxAttempts()
		r.send(ctx, msg)
	} else {
		// ctx may already be cancelled here.
		r.send(context.WithoutCancel(ctx), r.fatalMessage(p, lastExecution, lastAttempt, err))
	}
	return fmt.Errorf("%s: %w", p.Name, err)
}

// attempt runs one try of a stage and returns the execution id it created,
// if any.
func (r *Runner) attempt(ctx context.Context, s Stage, attempt int) (string, error) {
	p := s.Process()

	sess, err := r.sessions(ctx)
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.logger.Warn("close session", "process", p.Name, "error", err)
		}
	}()
	r.ready.Store(true)

	tr := sess.Tracker()
	unlock, err := tr.Lock(ctx, p.Name)
	if errors.Is(err, tracker.ErrRunInProgress) {
		return "", retry.Permanent(err)
	}
	if err != nil {
		return "", err
	}
	defer unlock()

	done, err := tr.HasSucceededToday(ctx, p.Prefix)
	if err != nil {
		return "", err
	}
	if done {
		return "", ErrSkipped
	}

	rec, err := tr.Begin(ctx, p, attempt)
	if err != nil {
		return "", err
	}

	r.metrics.StageRunning.Set(1)
	start := r.clock.Now()
	res, runErr := s.Run(ctx, sess.DB(), rec)
	r.metrics.StageDuration.WithLabelValues(p.Name).Observe(r.clock.Since(start).Seconds())
	r.metrics.StageRunning.Set(0)

	status := domain.StatusSuccess
	var message string
	if runErr != nil {
		status = domain.StatusFailed
		message = runErr.Error()
	}

	if err := tr.Complete(ctx, rec.ExecutionID, status, res.Inserted, res.Failed, message); err != nil {
		if errors.Is(err, tracker.ErrAlreadySucceeded) {
			return rec.ExecutionID, retry.Permanent(err)
		}
		return rec.ExecutionID, errors.Join(runErr, err)
	}

	r.send(ctx, r.stageMessage(p, rec, status, res, runErr))
	return rec.ExecutionID, runErr
}

func (r *Runner) stageMessage(p tracker.Process, rec domain.ExecutionRecord, status domain.Status, res Result, runErr error) notify.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution ID: %s\n", rec.ExecutionID)
	fmt.Fprintf(&b, "Attempt: %d/%d\n", rec.Attempt, r.retry.MaxAttempts())
	fmt.Fprintf(&b, "Records inserted: %d\n", res.Inserted)
	fmt.Fprintf(&b, "Records failed: %d\n", res.Failed)
	if res.Summary != "" {
		b.WriteString(res.Summary)
		b.WriteString("\n")
	}
	if runErr != nil {
		fmt.Fprintf(&b, "Error: %v\n", runErr)
	}

	word := "SUCCESS"
	if status == domain.StatusFailed {
		word = "FAILED"
	}
	msg := notify.NewMessage(fmt.Sprintf("[Weather ETL] %s %s - %s", p.Label(), word, rec.ExecutionID), b.String(), r.clock.Now())
	msg.ExecutionID = rec.ExecutionID
	msg.Process = p.Name
	msg.Status = string(status)
	msg.Attempt = rec.Attempt
	msg.MaxAttempts = r.retry.MaxAttempts()
	return msg
}

// fatalMessage reports a failure that ended the stage without using up the
// attempts: a held lock, an interrupted wait, or a record that already
// succeeded.
func (r *Runner) fatalMessage(p tracker.Process, executionID string, attempt int, err error) notify.Message {
	msg := notify.NewMessage(
		fmt.Sprintf("[Weather ETL] %s FAILED - %s", p.Label(), orNone(executionID)),
		fmt.Sprintf("The stage stopped without retrying.\nAttempt: %d/%d\nLast execution: %s\nError: %v",
			attempt, r.retry.MaxAttempts(), orNone(executionID), err),
		r.clock.Now(),
	)
	msg.ExecutionID = executionID
	msg.Process = p.Name
	msg.Status = string(domain.StatusFailed)
	msg.Attempt = attempt
	msg.MaxAttempts = r.retry.MaxAttempts()
	return msg
}

func (r *Runner) send(ctx context.Context, msg notify.Message) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, msg); err != nil {
		r.logger.Warn("notification delivery failed", "execution_id", msg.ExecutionID, "error", err)
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
