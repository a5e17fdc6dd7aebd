// Package warehouse loads the pending staging rows into the star schema.
//
// Dimensions are SCD type 1: a row is inserted when its natural key is new
// and overwritten only when its hash_key changed. Facts are inserted once per
// (location_sk, observation_ts); reloading the same staging rows is a no-op.
// Column lists are discovered from information_schema, so columns added to
// both a staging table and its target are picked up without code changes.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
)

// DefaultBatchSize is the number of rows per multi-row INSERT before the
// bind parameter clamp applies.
const DefaultBatchSize = 5000

// Target tables in report order.
const (
	DimLocation    = "dim_location"
	DimCondition   = "dim_weather_condition"
	DimDate        = "dim_date"
	FactWeather    = "fact_weather_daily"
	FactAirQuality = "fact_air_quality_daily"
)

const (
	statusPending    = "pending"
	statusLoaded     = "loaded"
	hashKeyColumn    = "hash_key"
	updatedAtColumn  = "updated_at"
	createdAtColumn  = "created_at"
	locationSKColumn = "location_sk"
)

// EntityCount is the number of rows affected in one target table.
type EntityCount struct {
	Entity string
	Rows   int64
}

// Report lists affected rows per target in a fixed order.
type Report struct {
	Entities []EntityCount
	// Orphans counts staging fact rows without a matching location.
	Orphans int
}

// Total returns the sum of affected rows.
func (r Report) Total() int64 {
	var n int64
	for _, e := range r.Entities {
		n += e.Rows
	}
	return n
}

// Loader moves pending staging rows into the warehouse tables.
type Loader struct {
	db        *sql.DB
	schema    string
	batchSize int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewLoader creates a Loader for the given schema.
func NewLoader(db *sql.DB, schema string, batchSize int, metrics *observability.Metrics, logger *slog.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{db: db, schema: schema, batchSize: batchSize, metrics: metrics, logger: logger}
}

// Run loads dimensions, then the date dimension, then facts, and marks the
// staging rows loaded, all in one transaction. Table metadata is read once
// per table for the duration of the call.
func (l *Loader) Run(ctx context.Context) (Report, error) {
	cache := store.NewSchemaCache(l.schema)
	var report Report

	err := store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		for _, d := range dimensions {
			n, err := l.loadDimension(ctx, tx, cache, d)
			if err != nil {
				return err
			}
			report.Entities = append(report.Entities, EntityCount{Entity: d.table, Rows: n})
		}

		n, err := l.loadDates(ctx, tx, cache)
		if err != nil {
			return err
		}
		report.Entities = append(report.Entities, EntityCount{Entity: DimDate, Rows: n})

		for _, f := range facts {
			n, orphans, err := l.loadFact(ctx, tx, cache, f)
			if err != nil {
				return err
			}
			report.Orphans += orphans
			report.Entities = append(report.Entities, EntityCount{Entity: f.table, Rows: n})
		}

		return markLoaded(ctx, tx)
	})
	if err != nil {
		return Report{}, err
	}

	for _, e := range report.Entities {
		l.metrics.RowsWritten.WithLabelValues(e.Entity).Add(float64(e.Rows))
	}
	if report.Orphans > 0 {
		l.metrics.RowsSkipped.WithLabelValues("load").Add(float64(report.Orphans))
	}
	l.logger.Info("warehouse loaded", "rows", report.Total(), "orphans", report.Orphans)
	return report, nil
}

// stagingSources are flipped to loaded once the transaction has written them.
var stagingSources = []string{"stg_location", "stg_weather_condition", "stg_weather_observation", "stg_air_quality"}

func markLoaded(ctx context.Context, tx *sql.Tx) error {
	for _, table := range stagingSources {
		query := "UPDATE " + store.QuoteIdent(table) + " SET record_status = $1 WHERE record_status = $2"
		if _, err := tx.ExecContext(ctx, query, statusLoaded, statusPending); err != nil {
			return fmt.Errorf("mark %s loaded: %w", table, err)
		}
	}
	return nil
}

// queryRows runs query and returns its column names and every row as driver
// values.
func queryRows(ctx context.Context, q store.DBTX, query string, args ...any) ([]string, [][]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, vals)
	}
	return cols, out, rows.Err()
}

// project keeps the values at the given indexes of every row.
func project(rows [][]any, idx []int) [][]any {
	out := make([][]any, len(rows))
	for r, row := range rows {
		vals := make([]any, len(idx))
		for i, j := range idx {
			vals[i] = row[j]
		}
		out[r] = vals
	}
	return out
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
