// Package staging copies the day's extract file verbatim into the raw tables.
package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
)

// DefaultBatchSize is the number of rows per multi-row INSERT.
const DefaultBatchSize = 100

// payloadBatchKey is added to every raw payload next to the file columns.
const payloadBatchKey = "load_execution_id"

// ErrArtifactMissing is returned when today's extract file does not exist.
var ErrArtifactMissing = errors.New("extract file not found")

// Archiver moves a consumed extract file out of the working directory.
type Archiver interface {
	Archive(ctx context.Context, path string) (string, error)
}

// TableCount is the number of rows written to one table.
type TableCount struct {
	Table string
	Rows  int64
}

// Result summarises one staging load.
type Result struct {
	RowsRead    int
	RowsSkipped int
	Tables      []TableCount
	ArchivedTo  string
}

// Inserted returns the total rows written across all raw tables.
func (r Result) Inserted() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Rows
	}
	return n
}

type rawTable struct {
	name    string
	columns []string
	values  func(r *domain.ExtractRow) []string
}

// rawTables lists the four raw tables in load order. Every table also gets
// source_system, batch_id and raw_payload.
var rawTables = []rawTable{
	{
		name:    "raw_weather_location",
		columns: []string{"name", "location_code", "region", "country", "lat", "lon", "tz_id", "local_time"},
		values: func(r *domain.ExtractRow) []string {
			return []string{r.LocationName, r.LocationCode, r.Region, r.Country, r.Lat, r.Lon, r.TzID, r.Localtime}
		},
	},
	{
		name:    "raw_weather_condition",
		columns: []string{"code", "text"},
		values: func(r *domain.ExtractRow) []string {
			return []string{r.ConditionCode, r.ConditionText}
		},
	},
	{
		name: "raw_air_quality",
		columns: []string{"location_name", "last_updated", "co", "no2", "o3", "so2",
			"pm2_5", "pm10", "us_epa_index", "gb_defra_index"},
		values: func(r *domain.ExtractRow) []string {
			return []string{r.LocationName, r.LastUpdated, r.CO, r.NO2, r.O3, r.SO2,
				r.PM25, r.PM10, r.AQIUS, r.AQIGB}
		},
	},
	{
		name: "raw_weather_observation",
		columns: []string{"location_name", "last_updated", "temp_c", "temp_f", "feels_like_c", "feels_like_f",
			"humidity", "wind_kph", "wind_mph", "wind_degree", "wind_dir", "gust_kph", "gust_mph",
			"pressure_mb", "pressure_in", "precip_mm", "precip_in", "cloud", "uv", "vis_km", "vis_miles",
			"condition_code"},
		values: func(r *domain.ExtractRow) []string {
			return []string{r.LocationName, r.LastUpdated, r.TempC, r.TempF, r.FeelsLikeC, r.FeelsLikeF,
				r.Humidity, r.WindKph, r.WindMph, r.WindDegree, r.WindDir, r.GustKph, r.GustMph,
				r.PressureMb, r.PressureIn, r.PrecipMm, r.PrecipIn, r.Cloud, r.UV, r.VisKm, r.VisMiles,
				r.ConditionCode}
		},
	},
}

// RawTableNames returns the raw table names in load order.
func RawTableNames() []string {
	names := make([]string, len(rawTables))
	for i, t := range rawTables {
		names[i] = t.name
	}
	return names
}

// Options configures a Loader.
type Options struct {
	SourceSystem string
	BatchSize    int
}

// Loader replaces the contents of the raw tables with one extract file.
type Loader struct {
	db       *sql.DB
	opts     Options
	archiver Archiver
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewLoader creates a Loader. archiver may be nil to leave the file in place.
func NewLoader(db *sql.DB, opts Options, archiver Archiver, metrics *observability.Metrics, logger *slog.Logger) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SourceSystem == "" {
		opts.SourceSystem = "weatherapi"
	}
	return &Loader{db: db, opts: opts, archiver: archiver, metrics: metrics, logger: logger}
}

// Load reads path and, in one transaction, truncates the raw tables and
// inserts every well-formed row tagged with batchID. After commit the file is
// handed to the archiver; an archive failure is logged and does not fail the load.
func (l *Loader) Load(ctx context.Context, path, batchID string) (Result, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	if err != nil {
		return Result{}, fmt.Errorf("open extract file: %w", err)
	}
	read, err := ReadExtract(f)
	_ = f.Close()
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}

	res := Result{RowsRead: len(read.Records) + read.Skipped, RowsSkipped: read.Skipped}
	if read.Skipped > 0 {
		l.logger.Warn("skipped malformed extract rows", "path", path, "skipped", read.Skipped)
		l.metrics.RowsSkipped.WithLabelValues("stage").Add(float64(read.Skipped))
	}

	err = store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+store.QuoteIdents(RawTableNames())); err != nil {
			return fmt.Errorf("truncate raw tables: %w", err)
		}

		for _, t := range rawTables {
			rows, err := l.buildRows(t, read.Records, batchID)
			if err != nil {
				return err
			}
			in := store.Insert{
				Table:   t.name,
				Columns: append(append([]string{}, t.columns...), "source_system", "batch_id", "raw_payload"),
			}
			n, err := store.InsertRows(ctx, tx, in, rows, l.opts.BatchSize)
			if err != nil {
				return err
			}
			res.Tables = append(res.Tables, TableCount{Table: t.name, Rows: n})
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, tc := range res.Tables {
		l.metrics.RowsWritten.WithLabelValues(tc.Table).Add(float64(tc.Rows))
	}
	l.logger.Info("raw tables loaded", "batch_id", batchID, "rows_read", res.RowsRead, "rows_skipped", res.RowsSkipped)

	if l.archiver != nil {
		dest, err := l.archiver.Archive(ctx, path)
		if err != nil {
			l.logger.Warn("archive extract file failed", "path", path, "error", err)
		} else {
			res.ArchivedTo = dest
			l.logger.Info("extract file archived", "path", path, "destination", dest)
		}
	}
	return res, nil
}

func (l *Loader) buildRows(t rawTable, records []Record, batchID string) ([][]any, error) {
	rows := make([][]any, 0, len(records))
	for i := range records {
		payload, err := rawPayload(records[i].Fields, batchID)
		if err != nil {
			return nil, fmt.Errorf("payload for %s row %d: %w", t.name, i, err)
		}
		vals := t.values(&records[i].Row)
		row := make([]any, 0, len(vals)+3)
		for _, v := range vals {
			row = append(row, strings.TrimSpace(v))
		}
		rows = append(rows, append(row, l.opts.SourceSystem, batchID, payload))
	}
	return rows, nil
}

// rawPayload renders every header/value pair of a line as a JSON object.
func rawPayload(fields map[string]string, batchID string) (string, error) {
	m := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	m[payloadBatchKey] = batchID
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
