package transform

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
)

const statusPending = "pending"

type measureKind int

const (
	kindFloat measureKind = iota
	kindInt
)

type measure struct {
	column string
	kind   measureKind
}

// observationMeasures share their column name across the raw, staging and
// fact tables.
var observationMeasures = []measure{
	{"temp_c", kindFloat}, {"temp_f", kindFloat},
	{"feels_like_c", kindFloat}, {"feels_like_f", kindFloat},
	{"humidity", kindInt},
	{"wind_kph", kindFloat}, {"wind_mph", kindFloat}, {"wind_degree", kindInt},
	{"gust_kph", kindFloat}, {"gust_mph", kindFloat},
	{"pressure_mb", kindFloat}, {"pressure_in", kindFloat},
	{"precip_mm", kindFloat}, {"precip_in", kindFloat},
	{"cloud", kindInt}, {"uv", kindFloat},
	{"vis_km", kindFloat}, {"vis_miles", kindFloat},
}

var airQualityMeasures = []measure{
	{"us_epa_index", kindInt}, {"gb_defra_index", kindInt},
	{"pm2_5", kindFloat}, {"pm10", kindFloat},
	{"co", kindFloat}, {"no2", kindFloat}, {"o3", kindFloat}, {"so2", kindFloat},
}

func measureColumns(ms []measure) []string {
	cols := make([]string, len(ms))
	for i, m := range ms {
		cols[i] = m.column
	}
	return cols
}

// rawMeta is carried by every raw row and decides which duplicate wins.
type rawMeta struct {
	RawID        int64
	SourceSystem string
	BatchID      string
}

// newerThan orders rows by batch id, then by raw id.
func (m rawMeta) newerThan(o rawMeta) bool {
	if m.BatchID != o.BatchID {
		return m.BatchID > o.BatchID
	}
	return m.RawID > o.RawID
}

type rawLocation struct {
	rawMeta
	Name, Code, Region, Country, Lat, Lon, TzID string
}

type rawCondition struct {
	rawMeta
	Code, Text string
}

// rawMeasured is the shape shared by raw observations and air quality rows.
type rawMeasured struct {
	rawMeta
	LocationName  string
	LastUpdated   string
	WindDir       string
	ConditionCode string
	Measures      []string
}

// coercer converts raw text and counts values that were present but had to
// be replaced by NULL or the sentinel timestamp.
type coercer struct {
	defaulted int
}

func (c *coercer) float(s string) sql.NullFloat64 {
	v := domain.ParseFloat(s)
	if !v.Valid && domain.CleanText(s) != "" {
		c.defaulted++
	}
	return v
}

func (c *coercer) integer(s string) sql.NullInt64 {
	v := domain.ParseInt(s)
	if !v.Valid && domain.CleanText(s) != "" {
		c.defaulted++
	}
	return v
}

func (c *coercer) timestamp(s string) time.Time {
	t, ok := domain.ParseTimestamp(s)
	if !ok {
		c.defaulted++
	}
	return t
}

// measures coerces values and renders them for hashing.
func (c *coercer) measures(ms []measure, raw []string) ([]any, []string) {
	vals := make([]any, len(ms))
	hashed := make([]string, len(ms))
	for i, m := range ms {
		switch m.kind {
		case kindInt:
			v := c.integer(raw[i])
			vals[i], hashed[i] = v, domain.HashInt(v)
		default:
			v := c.float(raw[i])
			vals[i], hashed[i] = v, domain.HashFloat(v)
		}
	}
	return vals, hashed
}

// stagingRow is one typed row bound for a staging table.
type stagingRow struct {
	key    string
	meta   rawMeta
	values []any
}

var locationColumns = []string{
	"location_key", "location_name", "location_code", "region", "country",
	"latitude", "longitude", "tz_id", "hash_key", "record_status", "source_system", "batch_id",
}

func (c *coercer) location(r rawLocation) (stagingRow, bool) {
	name := domain.CleanText(r.Name)
	if name == "" {
		return stagingRow{}, false
	}
	code, region, country, tz := domain.CleanText(r.Code), domain.CleanText(r.Region), domain.CleanText(r.Country), domain.CleanText(r.TzID)
	lat, lon := c.float(r.Lat), c.float(r.Lon)
	key := domain.LocationKey(name)
	hash := domain.HashKey(name, code, region, country, domain.HashFloat(lat), domain.HashFloat(lon), tz)

	return stagingRow{
		key:  key,
		meta: r.rawMeta,
		values: []any{
			key, name, nullText(code), nullText(region), nullText(country),
			lat, lon, nullText(tz), hash, statusPending, r.SourceSystem, r.BatchID,
		},
	}, true
}

var conditionColumns = []string{
	"condition_code", "condition_text", "hash_key", "record_status", "source_system", "batch_id",
}

func (c *coercer) condition(r rawCondition) (stagingRow, bool) {
	code := c.integer(r.Code)
	if !code.Valid {
		return stagingRow{}, false
	}
	text := domain.CleanText(r.Text)
	return stagingRow{
		key:  strconv.FormatInt(code.Int64, 10),
		meta: r.rawMeta,
		values: []any{
			code.Int64, nullText(text), domain.HashKey(domain.HashInt(code), text),
			statusPending, r.SourceSystem, r.BatchID,
		},
	}, true
}

var observationColumns = append(append([]string{
	"location_key", "observation_ts", "date_key", "condition_code", "wind_dir",
}, measureColumns(observationMeasures)...), "hash_key", "record_status", "source_system", "batch_id")

func (c *coercer) observation(r rawMeasured) (stagingRow, bool) {
	name := domain.CleanText(r.LocationName)
	if name == "" {
		return stagingRow{}, false
	}
	key := domain.LocationKey(name)
	ts := c.timestamp(r.LastUpdated)
	cond := c.integer(r.ConditionCode)
	windDir := domain.CleanText(r.WindDir)
	vals, hashed := c.measures(observationMeasures, r.Measures)

	hash := domain.HashKey(append([]string{key, domain.HashTime(ts), domain.HashInt(cond), windDir}, hashed...)...)

	row := make([]any, 0, len(observationColumns))
	row = append(row, key, ts, domain.DateKey(ts), cond, nullText(windDir))
	row = append(row, vals...)
	row = append(row, hash, statusPending, r.SourceSystem, r.BatchID)
	return stagingRow{key: key + "|" + domain.HashTime(ts), meta: r.rawMeta, values: row}, true
}

var airQualityColumns = append(append([]string{
	"location_key", "observation_ts", "date_key",
}, measureColumns(airQualityMeasures)...), "hash_key", "record_status", "source_system", "batch_id")

func (c *coercer) airQuality(r rawMeasured) (stagingRow, bool) {
	name := domain.CleanText(r.LocationName)
	if name == "" {
		return stagingRow{}, false
	}
	key := domain.LocationKey(name)
	ts := c.timestamp(r.LastUpdated)
	vals, hashed := c.measures(airQualityMeasures, r.Measures)

	hash := domain.HashKey(append([]string{key, domain.HashTime(ts)}, hashed...)...)

	row := make([]any, 0, len(airQualityColumns))
	row = append(row, key, ts, domain.DateKey(ts))
	row = append(row, vals...)
	row = append(row, hash, statusPending, r.SourceSystem, r.BatchID)
	return stagingRow{key: key + "|" + domain.HashTime(ts), meta: r.rawMeta, values: row}, true
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
