package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
)

const pendingDatesQuery = `
SELECT date_key FROM stg_weather_observation WHERE record_status = $1
UNION
SELECT date_key FROM stg_air_quality WHERE record_status = $1
ORDER BY date_key`

// dateRow describes one calendar day. DayOfWeek is ISO 8601: Monday is 1
// and Sunday is 7.
type dateRow struct {
	DateKey   int
	FullDate  time.Time
	Year      int
	Quarter   int
	Month     int
	Day       int
	DayOfWeek int
	IsWeekend bool
}

func newDateRow(key int) dateRow {
	d := domain.DateFromKey(key)
	dow := int(d.Weekday())
	if dow == 0 {
		dow = 7
	}
	return dateRow{
		DateKey:   key,
		FullDate:  d,
		Year:      d.Year(),
		Quarter:   (int(d.Month())-1)/3 + 1,
		Month:     int(d.Month()),
		Day:       d.Day(),
		DayOfWeek: dow,
		IsWeekend: dow >= 6,
	}
}

func (r dateRow) value(column string) (any, bool) {
	switch column {
	case "date_key":
		return r.DateKey, true
	case "full_date":
		return r.FullDate, true
	case "year":
		return r.Year, true
	case "quarter":
		return r.Quarter, true
	case "month":
		return r.Month, true
	case "day":
		return r.Day, true
	case "day_of_week":
		return r.DayOfWeek, true
	case "is_weekend":
		return r.IsWeekend, true
	}
	return nil, false
}

// loadDates inserts a dim_date row for every date key referenced by pending
// facts. Existing dates are left alone.
func (l *Loader) loadDates(ctx context.Context, tx *sql.Tx, cache *store.SchemaCache) (int64, error) {
	target, err := cache.WritableColumns(ctx, tx, DimDate)
	if err != nil {
		return 0, err
	}

	rows, err := tx.QueryContext(ctx, pendingDatesQuery, statusPending)
	if err != nil {
		return 0, fmt.Errorf("read pending date keys: %w", err)
	}
	var keys []int
	for rows.Next() {
		var k int
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan date key: %w", err)
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read pending date keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var cols []string
	sample := newDateRow(keys[0])
	for _, c := range target {
		if _, ok := sample.value(c); ok {
			cols = append(cols, c)
		}
	}

	values := make([][]any, len(keys))
	for i, k := range keys {
		r := newDateRow(k)
		vals := make([]any, len(cols))
		for j, c := range cols {
			vals[j], _ = r.value(c)
		}
		values[i] = vals
	}

	in := store.Insert{Table: DimDate, Columns: cols, Suffix: "ON CONFLICT (" + store.QuoteIdent("date_key") + ") DO NOTHING"}
	return store.InsertRows(ctx, tx, in, values, l.batchSize)
}
