// Package transform cleans the raw tables into the typed staging tables.
package transform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
)

// DefaultBatchSize is the number of rows per multi-row INSERT.
const DefaultBatchSize = 500

// Staging table names in write order.
const (
	TableLocation    = "stg_location"
	TableCondition   = "stg_weather_condition"
	TableObservation = "stg_weather_observation"
	TableAirQuality  = "stg_air_quality"
)

// StagingTables returns the staging tables in write order.
func StagingTables() []string {
	return []string{TableLocation, TableCondition, TableObservation, TableAirQuality}
}

// TableResult counts rows for one staging table.
type TableResult struct {
	Table    string
	Read     int
	Written  int64
	Excluded int
}

// Result summarises one transform run.
type Result struct {
	Tables    []TableResult
	Defaulted int
}

// Written returns the total rows written to staging.
func (r Result) Written() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Written
	}
	return n
}

// Excluded returns the total rows dropped for lacking a join key.
func (r Result) Excluded() int {
	var n int
	for _, t := range r.Tables {
		n += t.Excluded
	}
	return n
}

// Engine rebuilds the staging tables from the raw tables.
type Engine struct {
	db        *sql.DB
	batchSize int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(db *sql.DB, batchSize int, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{db: db, batchSize: batchSize, metrics: metrics, logger: logger}
}

type tablePlan struct {
	table   string
	columns []string
	rows    []stagingRow
	read    int
}

// Run reads every raw table, coerces and deduplicates the rows, then
// replaces the staging tables in one transaction.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var res Result

	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		c := &coercer{}
		plans, err := e.plan(ctx, tx, c)
		if err != nil {
			return err
		}
		res.Defaulted = c.defaulted

		if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+store.QuoteIdents(StagingTables())); err != nil {
			return fmt.Errorf("truncate staging tables: %w", err)
		}

		for _, p := range plans {
			kept := dedup(p.rows)
			values := make([][]any, len(kept))
			for i, r := range kept {
				values[i] = r.values
			}

			n, err := store.InsertRows(ctx, tx, store.Insert{Table: p.table, Columns: p.columns}, values, e.batchSize)
			if err != nil {
				return err
			}
			res.Tables = append(res.Tables, TableResult{
				Table:    p.table,
				Read:     p.read,
				Written:  n,
				Excluded: p.read - len(p.rows),
			})
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, t := range res.Tables {
		e.metrics.RowsWritten.WithLabelValues(t.Table).Add(float64(t.Written))
		if t.Excluded > 0 {
			e.logger.Warn("rows excluded without join key", "table", t.Table, "excluded", t.Excluded)
		}
	}
	if n := res.Excluded(); n > 0 {
		e.metrics.RowsSkipped.WithLabelValues("transform").Add(float64(n))
	}
	e.logger.Info("staging tables rebuilt", "written", res.Written(), "excluded", res.Excluded(), "defaulted", res.Defaulted)
	return res, nil
}

func (e *Engine) plan(ctx context.Context, tx *sql.Tx, c *coercer) ([]tablePlan, error) {
	locations, err := readLocations(ctx, tx)
	if err != nil {
		return nil, err
	}
	conditions, err := readConditions(ctx, tx)
	if err != nil {
		return nil, err
	}
	observations, err := readMeasured(ctx, tx, "raw_weather_observation", true, observationMeasures)
	if err != nil {
		return nil, err
	}
	airQuality, err := readMeasured(ctx, tx, "raw_air_quality", false, airQualityMeasures)
	if err != nil {
		return nil, err
	}

	plans := []tablePlan{
		{table: TableLocation, columns: locationColumns, read: len(locations)},
		{table: TableCondition, columns: conditionColumns, read: len(conditions)},
		{table: TableObservation, columns: observationColumns, read: len(observations)},
		{table: TableAirQuality, columns: airQualityColumns, read: len(airQuality)},
	}
	for _, r := range locations {
		if row, ok := c.location(r); ok {
			plans[0].rows = append(plans[0].rows, row)
		}
	}
	for _, r := range conditions {
		if row, ok := c.condition(r); ok {
			plans[1].rows = append(plans[1].rows, row)
		}
	}
	for _, r := range observations {
		if row, ok := c.observation(r); ok {
			plans[2].rows = append(plans[2].rows, row)
		}
	}
	for _, r := range airQuality {
		if row, ok := c.airQuality(r); ok {
			plans[3].rows = append(plans[3].rows, row)
		}
	}
	return plans, nil
}

const metaSelect = "raw_id, source_system, batch_id"

func readLocations(ctx context.Context, q store.DBTX) ([]rawLocation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+metaSelect+`, COALESCE(name, ''), COALESCE(location_code, ''), COALESCE(region, ''),
		       COALESCE(country, ''), COALESCE(lat, ''), COALESCE(lon, ''), COALESCE(tz_id, '')
		FROM raw_weather_location`)
	if err != nil {
		return nil, fmt.Errorf("read raw_weather_location: %w", err)
	}
	defer rows.Close()

	var out []rawLocation
	for rows.Next() {
		var r rawLocation
		if err := rows.Scan(&r.RawID, &r.SourceSystem, &r.BatchID,
			&r.Name, &r.Code, &r.Region, &r.Country, &r.Lat, &r.Lon, &r.TzID); err != nil {
			return nil, fmt.Errorf("scan raw_weather_location: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func readConditions(ctx context.Context, q store.DBTX) ([]rawCondition, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+metaSelect+`, COALESCE(code, ''), COALESCE("text", '')
		FROM raw_weather_condition`)
	if err != nil {
		return nil, fmt.Errorf("read raw_weather_condition: %w", err)
	}
	defer rows.Close()

	var out []rawCondition
	for rows.Next() {
		var r rawCondition
		if err := rows.Scan(&r.RawID, &r.SourceSystem, &r.BatchID, &r.Code, &r.Text); err != nil {
			return nil, fmt.Errorf("scan raw_weather_condition: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// readMeasured reads observation-shaped raw rows. withWeather adds the
// wind_dir and condition_code columns only the observation table has.
func readMeasured(ctx context.Context, q store.DBTX, table string, withWeather bool, ms []measure) ([]rawMeasured, error) {
	cols := []string{"COALESCE(location_name, '')", "COALESCE(last_updated, '')"}
	if withWeather {
		cols = append(cols, "COALESCE(wind_dir, '')", "COALESCE(condition_code, '')")
	}
	for _, m := range ms {
		cols = append(cols, "COALESCE("+store.QuoteIdent(m.column)+", '')")
	}
	query := "SELECT " + metaSelect + ", " + strings.Join(cols, ", ") + " FROM " + store.QuoteIdent(table)

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	var out []rawMeasured
	for rows.Next() {
		r := rawMeasured{Measures: make([]string, len(ms))}
		dest := []any{&r.RawID, &r.SourceSystem, &r.BatchID, &r.LocationName, &r.LastUpdated}
		if withWeather {
			dest = append(dest, &r.WindDir, &r.ConditionCode)
		}
		for i := range r.Measures {
			dest = append(dest, &r.Measures[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
