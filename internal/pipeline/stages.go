package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/extract"
	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/couchcryptid/weather-warehouse-etl/internal/staging"
	"github.com/couchcryptid/weather-warehouse-etl/internal/tracker"
	"github.com/couchcryptid/weather-warehouse-etl/internal/transform"
	"github.com/couchcryptid/weather-warehouse-etl/internal/warehouse"
	"github.com/jonboulle/clockwork"
)

// Process names and execution id prefixes.
var (
	ProcessExtract   = tracker.Process{Name: "extract", DisplayName: "Extract", Prefix: "EXT", SourceType: "api"}
	ProcessStage     = tracker.Process{Name: "load_staging", DisplayName: "Load to staging", Prefix: "LOD_STG", SourceType: "csv"}
	ProcessTransform = tracker.Process{Name: "transform", DisplayName: "Transform", Prefix: "TRF_STG", SourceType: "database"}
	ProcessLoad      = tracker.Process{Name: "load_warehouse", DisplayName: "Load to warehouse", Prefix: "LOAD", SourceType: "database"}
)

// ExtractStage fetches every location into today's extract file.
// NewFetcher is called once per attempt so no client state, such as an
// open circuit, carries over from a failed attempt.
type ExtractStage struct {
	NewFetcher func() extract.Fetcher
	Options    extract.Options
	Locations  []domain.Location
	SourceURL  string
	Clock      clockwork.Clock
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

func (s *ExtractStage) Process() tracker.Process {
	p := ProcessExtract
	p.SourceURL = s.SourceURL
	p.OutputPath = extract.New(nil, s.Options, s.Clock, s.Metrics, s.Logger).ArtifactPath(s.Clock.Now())
	return p
}

func (s *ExtractStage) Run(ctx context.Context, _ *sql.DB, rec domain.ExecutionRecord) (Result, error) {
	ex := extract.New(s.NewFetcher(), s.Options, s.Clock, s.Metrics, s.Logger)
	report, err := ex.Extract(ctx, rec.ExecutionID, s.Locations)
	res := Result{
		Inserted: int64(report.Succeeded),
		Failed:   int64(len(report.Failures)),
		Summary:  report.Summary(s.Options.Strict),
	}
	if err != nil {
		// Nothing was written.
		res.Inserted = 0
	}
	return res, err
}

// StagingStage copies today's extract file into the raw tables.
type StagingStage struct {
	OutputDir  string
	FilePrefix string
	Options    staging.Options
	Archiver   staging.Archiver
	Clock      clockwork.Clock
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

func (s *StagingStage) artifact() string {
	return extract.ArtifactPath(s.OutputDir, s.FilePrefix, s.Clock.Now())
}

func (s *StagingStage) Process() tracker.Process {
	p := ProcessStage
	p.SourceURL = s.artifact()
	p.OutputPath = strings.Join(staging.RawTableNames(), ",")
	return p
}

func (s *StagingStage) Run(ctx context.Context, db *sql.DB, rec domain.ExecutionRecord) (Result, error) {
	loader := staging.NewLoader(db, s.Options, s.Archiver, s.Metrics, s.Logger)
	res, err := loader.Load(ctx, s.artifact(), rec.ExecutionID)
	if err != nil {
		return Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rows read: %d, skipped: %d", res.RowsRead, res.RowsSkipped)
	for _, t := range res.Tables {
		fmt.Fprintf(&b, "\n  %s: %d", t.Table, t.Rows)
	}
	if res.ArchivedTo != "" {
		fmt.Fprintf(&b, "\nArchived to: %s", res.ArchivedTo)
	}
	return Result{Inserted: res.Inserted(), Failed: int64(res.RowsSkipped), Summary: b.String()}, nil
}

// TransformStage rebuilds the staging tables from the raw tables.
type TransformStage struct {
	BatchSize int
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

func (s *TransformStage) Process() tracker.Process {
	p := ProcessTransform
	p.SourceURL = strings.Join(staging.RawTableNames(), ",")
	p.OutputPath = strings.Join(transform.StagingTables(), ",")
	return p
}

func (s *TransformStage) Run(ctx context.Context, db *sql.DB, _ domain.ExecutionRecord) (Result, error) {
	res, err := transform.NewEngine(db, s.BatchSize, s.Metrics, s.Logger).Run(ctx)
	if err != nil {
		return Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Defaulted values: %d", res.Defaulted)
	for _, t := range res.Tables {
		fmt.Fprintf(&b, "\n  %s: read %d, written %d, excluded %d", t.Table, t.Read, t.Written, t.Excluded)
	}
	return Result{Inserted: res.Written(), Failed: int64(res.Excluded()), Summary: b.String()}, nil
}

// WarehouseStage loads pending staging rows into the star schema.
type WarehouseStage struct {
	Schema    string
	BatchSize int
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

func (s *WarehouseStage) Process() tracker.Process {
	p := ProcessLoad
	p.SourceURL = strings.Join(transform.StagingTables(), ",")
	p.OutputPath = strings.Join([]string{warehouse.DimLocation, warehouse.DimCondition, warehouse.DimDate,
		warehouse.FactWeather, warehouse.FactAirQuality}, ",")
	return p
}

func (s *WarehouseStage) Run(ctx context.Context, db *sql.DB, _ domain.ExecutionRecord) (Result, error) {
	report, err := warehouse.NewLoader(db, s.Schema, s.BatchSize, s.Metrics, s.Logger).Run(ctx)
	if err != nil {
		return Result{}, err
	}

	var b strings.Builder
	b.WriteString("Rows affected:")
	for _, e := range report.Entities {
		fmt.Fprintf(&b, "\n  %s: %d", e.Entity, e.Rows)
	}
	if report.Orphans > 0 {
		fmt.Fprintf(&b, "\nSkipped without location: %d", report.Orphans)
	}
	return Result{Inserted: report.Total(), Failed: int64(report.Orphans), Summary: b.String()}, nil
}
