// Package tracker records stage executions in the control store and answers
// whether a process already succeeded today.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
	"github.com/jonboulle/clockwork"
)

// maxIDSuffix bounds the collision suffixes tried for one second.
const maxIDSuffix = 100

var (
	// ErrRunInProgress is returned by Lock when another invocation holds the
	// process lock for today.
	ErrRunInProgress = errors.New("another run of this process is in progress")
	// ErrAlreadySucceeded is returned by Complete when a different execution
	// already recorded success for the same process and day.
	ErrAlreadySucceeded = errors.New("process already succeeded today")
	// ErrNotFound is returned by Complete for an unknown execution id.
	ErrNotFound = errors.New("execution not found")
)

// Process identifies a logical pipeline process and its configuration row.
type Process struct {
	Name        string // process name, e.g. "extract"
	DisplayName string // human readable name, e.g. "Load to warehouse"
	Prefix      string // execution id prefix, e.g. "EXT"
	SourceType  string
	SourceURL   string
	OutputPath  string
}

// Label returns DisplayName, falling back to Name.
func (p Process) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// Tracker owns the etl_execution_log and etl_process_config tables.
type Tracker struct {
	db     *sql.DB
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates a Tracker on an open control-store connection.
func New(db *sql.DB, clock clockwork.Clock, logger *slog.Logger) *Tracker {
	return &Tracker{db: db, clock: clock, logger: logger}
}

// dayBounds returns the start of today and of tomorrow in the clock's local zone.
func (t *Tracker) dayBounds() (time.Time, time.Time) {
	now := t.clock.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

// HasSucceededToday reports whether any execution whose id starts with prefix
// reached success with a start time today.
func (t *Tracker) HasSucceededToday(ctx context.Context, prefix string) (bool, error) {
	start, end := t.dayBounds()

	var exists bool
	err := t.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM etl_execution_log
			WHERE execution_id LIKE $1 ESCAPE '\'
			  AND status = $2
			  AND start_time >= $3 AND start_time < $4
		)`, escapeLike(prefix)+"%", string(domain.StatusSuccess), start, end).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check today's success for %s: %w", prefix, err)
	}
	return exists, nil
}

// Begin resolves the process configuration row for today and inserts a new
// running execution. On an id collision an incrementing suffix is appended.
func (t *Tracker) Begin(ctx context.Context, p Process, attempt int) (domain.ExecutionRecord, error) {
	now := t.clock.Now()

	configID, err := t.getOrCreateConfig(ctx, p, now)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}

	runDate, _ := t.dayBounds()
	baseID := p.Prefix + "_" + now.Format("20060102_150405")

	for n := 0; n <= maxIDSuffix; n++ {
		id := baseID
		if n > 0 {
			id = fmt.Sprintf("%s_%d", baseID, n)
		}

		_, err := t.db.ExecContext(ctx, `
			INSERT INTO etl_execution_log
				(execution_id, config_id, process_name, run_date, status, start_time, attempt)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, configID, p.Name, runDate, string(domain.StatusRunning), now, attempt)
		if store.IsUniqueViolation(err) {
			t.logger.Debug("execution id taken, retrying with suffix", "execution_id", id)
			continue
		}
		if err != nil {
			return domain.ExecutionRecord{}, fmt.Errorf("insert execution %s: %w", id, err)
		}

		t.logger.Info("execution started", "execution_id", id, "process", p.Name, "attempt", attempt)
		return domain.ExecutionRecord{
			ExecutionID: id,
			ConfigID:    configID,
			ProcessName: p.Name,
			RunDate:     runDate,
			Status:      domain.StatusRunning,
			StartTime:   now,
			Attempt:     attempt,
		}, nil
	}
	return domain.ExecutionRecord{}, fmt.Errorf("no free execution id for %s after %d suffixes", baseID, maxIDSuffix)
}

func (t *Tracker) getOrCreateConfig(ctx context.Context, p Process, now time.Time) (int64, error) {
	name := p.Name + "_" + now.Format("20060102")

	var id int64
	err := t.db.QueryRowContext(ctx, `
		INSERT INTO etl_process_config (config_name, source_type, source_url, output_path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (config_name) DO UPDATE
			SET source_url = EXCLUDED.source_url, output_path = EXCLUDED.output_path
		RETURNING config_id`,
		name, p.SourceType, p.SourceURL, p.OutputPath).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("get or create config %s: %w", name, err)
	}
	return id, nil
}

// Complete moves an execution to a terminal status. Calling it again
// overwrites the previous result.
func (t *Tracker) Complete(ctx context.Context, id string, status domain.Status, inserted, failed int64, message string) error {
	if !domain.CanTransition(domain.StatusRunning, status) {
		return fmt.Errorf("complete %s: %q is not a terminal status", id, status)
	}

	res, err := t.db.ExecContext(ctx, `
		UPDATE etl_execution_log
		SET status = $2, end_time = $3, records_inserted = $4, records_failed = $5, error_message = NULLIF($6, '')
		WHERE execution_id = $1`,
		id, string(status), t.clock.Now(), inserted, failed, message)
	if store.IsUniqueViolation(err) {
		return fmt.Errorf("complete %s: %w", id, ErrAlreadySucceeded)
	}
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("complete %s: %w", id, ErrNotFound)
	}

	t.logger.Info("execution completed", "execution_id", id, "status", status,
		"records_inserted", inserted, "records_failed", failed)
	return nil
}

// Lock takes a session advisory lock for the process and today's date on a
// dedicated connection. The returned function releases it.
func (t *Tracker) Lock(ctx context.Context, processName string) (func(), error) {
	start, _ := t.dayBounds()
	key := lockKey(processName, start)

	conn, err := t.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock for %s: %w", processName, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", processName, ErrRunInProgress)
	}

	return func() {
		unlockCtx := context.WithoutCancel(ctx)
		if _, err := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", key); err != nil {
			t.logger.Warn("advisory unlock failed", "process", processName, "error", err)
		}
		_ = conn.Close()
	}, nil
}

// Today lists executions started today, newest first.
func (t *Tracker) Today(ctx context.Context) ([]domain.ExecutionRecord, error) {
	start, end := t.dayBounds()

	rows, err := t.db.QueryContext(ctx, `
		SELECT execution_id, config_id, process_name, run_date, status, start_time, end_time,
		       records_inserted, records_failed, COALESCE(error_message, ''), attempt
		FROM etl_execution_log
		WHERE start_time >= $1 AND start_time < $2
		ORDER BY start_time DESC, execution_id DESC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("list today's executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec    domain.ExecutionRecord
			status string
			endTS  sql.NullTime
		)
		if err := rows.Scan(&rec.ExecutionID, &rec.ConfigID, &rec.ProcessName, &rec.RunDate, &status,
			&rec.StartTime, &endTS, &rec.RecordsInserted, &rec.RecordsFailed, &rec.ErrorMessage, &rec.Attempt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Status = domain.Status(status)
		if endTS.Valid {
			rec.EndTime = &endTS.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// lockKey maps a process and day to a stable advisory lock key.
func lockKey(processName string, day time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(processName + "|" + day.Format("2006-01-02")))
	return int64(h.Sum64())
}
