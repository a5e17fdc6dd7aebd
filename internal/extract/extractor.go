// Package extract pulls current observations for every configured location
// and writes them to the day's extract file.
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/jszwec/csvutil"
)

// ErrExtractFailed is returned when the failure policy rejects the run.
var ErrExtractFailed = errors.New("extract failed")

// Fetcher returns the current observation for one location.
type Fetcher interface {
	Fetch(ctx context.Context, loc domain.Location) (domain.Observation, error)
}

// Options configures an Extractor.
type Options struct {
	Strict      bool
	CallTimeout time.Duration
	CallDelay   time.Duration
	OutputDir   string
	FilePrefix  string
}

// EntityFailure names a location that could not be fetched.
type EntityFailure struct {
	Entity string
	Reason string
}

// Report summarises one extraction.
type Report struct {
	Total        int
	Succeeded    int
	Failures     []EntityFailure
	ArtifactPath string
	Outcome      domain.Outcome
}

// Extractor calls the Fetcher once per location, one at a time.
type Extractor struct {
	fetcher Fetcher
	opts    Options
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates an Extractor.
func New(f Fetcher, opts Options, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Extractor {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.FilePrefix == "" {
		opts.FilePrefix = "weatherapi"
	}
	return &Extractor{fetcher: f, opts: opts, clock: clock, metrics: metrics, logger: logger}
}

// ArtifactPath returns the extract file path for the given day.
func (e *Extractor) ArtifactPath(day time.Time) string {
	return ArtifactPath(e.opts.OutputDir, e.opts.FilePrefix, day)
}

// ArtifactPath builds <dir>/<prefix>_yyyyMMdd.csv.
func ArtifactPath(dir, prefix string, day time.Time) string {
	return filepath.Join(dir, prefix+"_"+day.Format("20060102")+".csv")
}

// Extract fetches every location and applies the failure policy. The report
// is returned even when the run fails so callers can enumerate the failures.
func (e *Extractor) Extract(ctx context.Context, executionID string, locations []domain.Location) (Report, error) {
	if len(locations) == 0 {
		return Report{}, errors.New("no locations configured")
	}

	path := e.ArtifactPath(e.clock.Now())
	report := Report{Total: len(locations)}
	rows := make([]domain.ExtractRow, 0, len(locations))

	for i, loc := range locations {
		if i > 0 {
			if err := e.pause(ctx); err != nil {
				return report, err
			}
		}

		obs, err := e.fetchOne(ctx, loc)
		if err != nil {
			e.logger.Warn("location fetch failed", "location", loc.Name, "error", err)
			report.Failures = append(report.Failures, EntityFailure{Entity: loc.Name, Reason: err.Error()})
			continue
		}
		rows = append(rows, domain.NewExtractRow(executionID, loc, obs, e.clock.Now()))
		report.Succeeded++
		e.logger.Debug("location fetched", "location", loc.Name, "last_updated", obs.Current.LastUpdated)
	}

	report.Outcome = domain.ClassifyOutcome(report.Total, len(report.Failures))

	if e.rejected(report.Outcome) {
		removeStale(path, e.logger)
		return report, fmt.Errorf("%w: %d/%d locations failed", ErrExtractFailed, len(report.Failures), report.Total)
	}

	if err := writeArtifact(path, rows); err != nil {
		removeStale(path, e.logger)
		return report, err
	}
	report.ArtifactPath = path
	e.metrics.RowsWritten.WithLabelValues("extract_file").Add(float64(len(rows)))

	e.logger.Info("extract file written",
		"path", path,
		"rows", len(rows),
		"failed", len(report.Failures),
		"outcome", report.Outcome.Kind.String(),
	)
	return report, nil
}

func (e *Extractor) fetchOne(ctx context.Context, loc domain.Location) (domain.Observation, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.fetcher.Fetch(callCtx, loc)
}

// rejected applies the failure policy.
func (e *Extractor) rejected(o domain.Outcome) bool {
	switch o.Kind {
	case domain.OutcomeSuccess:
		return false
	case domain.OutcomePartialFailure:
		return e.opts.Strict
	default:
		return true
	}
}

func (e *Extractor) pause(ctx context.Context) error {
	if e.opts.CallDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(e.opts.CallDelay):
		return nil
	}
}

// writeArtifact encodes rows into a temp file next to path and renames it
// into place. The encoder writes the header with the first row, so rows must
// not be empty.
func writeArtifact(path string, rows []domain.ExtractRow) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	enc := csvutil.NewEncoder(w)
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush extract file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close extract file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename extract file: %w", err)
	}
	return nil
}

func removeStale(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("remove stale extract file", "path", path, "error", err)
	}
}

// Summary renders the report for a notification body.
func (r Report) Summary(strict bool) string {
	var b strings.Builder
	failed := len(r.Failures)

	switch {
	case r.Outcome.Kind == domain.OutcomeAllFailed:
		fmt.Fprintf(&b, "Extract FAILED: %d/%d locations failed.", failed, r.Total)
	case failed > 0 && strict:
		fmt.Fprintf(&b, "Extract FAILED: %d/%d locations failed. STRICT MODE requires all locations to succeed.", failed, r.Total)
	case failed > 0:
		fmt.Fprintf(&b, "Extract completed with failures: %d/%d locations succeeded.", r.Succeeded, r.Total)
	default:
		fmt.Fprintf(&b, "Extract completed: %d/%d locations succeeded.", r.Succeeded, r.Total)
	}

	if failed > 0 {
		b.WriteString("\nFailed locations:")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "\n  - %s: %s", f.Entity, f.Reason)
		}
	}
	if r.ArtifactPath != "" {
		fmt.Fprintf(&b, "\nFile: %s", r.ArtifactPath)
	}
	return b.String()
}
