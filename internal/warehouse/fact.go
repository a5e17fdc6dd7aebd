package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
)

type fact struct {
	table  string
	source string
}

var facts = []fact{
	{table: FactWeather, source: "stg_weather_observation"},
	{table: FactAirQuality, source: "stg_air_quality"},
}

// sourceQuery resolves surrogate keys for pending staging rows. The location
// join is outer so orphans can be counted; they are dropped before insert.
func (f fact) sourceQuery() string {
	src := store.QuoteIdent(f.source)
	q := "SELECT l.location_sk, "
	if f.table == FactWeather {
		q += "c.condition_sk, "
	}
	q += "s.* FROM " + src + " s LEFT JOIN dim_location l ON l.location_key = s.location_key"
	if f.table == FactWeather {
		q += " LEFT JOIN dim_weather_condition c ON c.condition_code = s.condition_code"
	}
	return q + " WHERE s.record_status = $1"
}

// loadFact inserts pending staging rows that are not yet in the fact table.
// It returns the inserted count and the number of orphaned rows skipped.
func (l *Loader) loadFact(ctx context.Context, tx *sql.Tx, cache *store.SchemaCache, f fact) (int64, int, error) {
	target, err := cache.WritableColumns(ctx, tx, f.table)
	if err != nil {
		return 0, 0, err
	}

	srcCols, rows, err := queryRows(ctx, tx, f.sourceQuery(), statusPending)
	if err != nil {
		return 0, 0, fmt.Errorf("read %s: %w", f.source, err)
	}

	cols := store.Intersect(target, srcCols)
	skIdx := indexOf(srcCols, locationSKColumn)
	if skIdx < 0 || indexOf(cols, locationSKColumn) < 0 || indexOf(cols, "observation_ts") < 0 {
		return 0, 0, fmt.Errorf("%s: location_sk and observation_ts are required", f.table)
	}

	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = indexOf(srcCols, c)
	}

	kept := rows[:0]
	orphans := 0
	for _, r := range rows {
		if r[skIdx] == nil {
			orphans++
			continue
		}
		kept = append(kept, r)
	}
	if orphans > 0 {
		l.logger.Warn("staging rows without a location dimension row skipped", "table", f.table, "orphans", orphans)
	}
	if len(kept) == 0 {
		return 0, orphans, nil
	}

	in := store.Insert{
		Table:   f.table,
		Columns: cols,
		Suffix:  "ON CONFLICT (" + store.QuoteIdents([]string{locationSKColumn, "observation_ts"}) + ") DO NOTHING",
	}
	n, err := store.InsertRows(ctx, tx, in, project(kept, idx), l.batchSize)
	if err != nil {
		return 0, orphans, err
	}
	return n, orphans, nil
}
