package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
)

type dimension struct {
	table      string
	source     string
	naturalKey string
}

var dimensions = []dimension{
	{table: DimLocation, source: "stg_location", naturalKey: "location_key"},
	{table: DimCondition, source: "stg_weather_condition", naturalKey: "condition_code"},
}

// loadDimension upserts pending staging rows. The returned count covers
// inserted rows and rows whose hash_key changed; unchanged rows are not
// touched.
func (l *Loader) loadDimension(ctx context.Context, tx *sql.Tx, cache *store.SchemaCache, d dimension) (int64, error) {
	target, err := cache.WritableColumns(ctx, tx, d.table)
	if err != nil {
		return 0, err
	}
	source, err := cache.WritableColumns(ctx, tx, d.source)
	if err != nil {
		return 0, err
	}

	target = slices.DeleteFunc(target, func(c string) bool { return c == createdAtColumn || c == updatedAtColumn })
	cols := store.Intersect(target, source)
	if !slices.Contains(cols, d.naturalKey) || !slices.Contains(cols, hashKeyColumn) {
		return 0, fmt.Errorf("%s: %s and %s must exist in both %s and %s", d.table, d.naturalKey, hashKeyColumn, d.table, d.source)
	}

	query := "SELECT " + store.QuoteIdents(cols) + " FROM " + store.QuoteIdent(d.source) + " WHERE record_status = $1"
	_, rows, err := queryRows(ctx, tx, query, statusPending)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", d.source, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	hasUpdatedAt, err := cache.HasColumn(ctx, tx, d.table, updatedAtColumn)
	if err != nil {
		return 0, err
	}

	in := store.Insert{Table: d.table, Columns: cols, Suffix: upsertSuffix(d, cols, hasUpdatedAt)}
	n, err := store.InsertRows(ctx, tx, in, rows, l.batchSize)
	if err != nil {
		return 0, err
	}
	l.logger.Debug("dimension loaded", "table", d.table, "staged", len(rows), "affected", n)
	return n, nil
}

// upsertSuffix renders the SCD-1 conflict clause.
func upsertSuffix(d dimension, cols []string, touchUpdatedAt bool) string {
	var sets []string
	for _, c := range cols {
		if c == d.naturalKey {
			continue
		}
		q := store.QuoteIdent(c)
		sets = append(sets, q+" = EXCLUDED."+q)
	}
	if touchUpdatedAt {
		sets = append(sets, store.QuoteIdent(updatedAtColumn)+" = now()")
	}

	table := store.QuoteIdent(d.table)
	hash := store.QuoteIdent(hashKeyColumn)
	return "ON CONFLICT (" + store.QuoteIdent(d.naturalKey) + ") DO UPDATE SET " + strings.Join(sets, ", ") +
		" WHERE " + table + "." + hash + " IS DISTINCT FROM EXCLUDED." + hash
}
