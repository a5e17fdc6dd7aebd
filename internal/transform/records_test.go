package transform

import (
	"database/sql"
	"testing"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func measuredRow(batch string, rawID int64, name, lastUpdated string, ms []measure) rawMeasured {
	vals := make([]string, len(ms))
	for i := range vals {
		vals[i] = "1"
	}
	return rawMeasured{
		rawMeta:       rawMeta{RawID: rawID, SourceSystem: "weatherapi", BatchID: batch},
		LocationName:  name,
		LastUpdated:   lastUpdated,
		WindDir:       "SE",
		ConditionCode: "1003",
		Measures:      vals,
	}
}

func TestCoercer_Location(t *testing.T) {
	c := &coercer{}
	row, ok := c.location(rawLocation{
		rawMeta: rawMeta{RawID: 1, SourceSystem: "weatherapi", BatchID: "LOD_STG_1"},
		Name:    " Ha Noi ", Code: "HN", Country: "Vietnam", Lat: "21.03", Lon: "abc", TzID: "Asia/Bangkok",
	})
	require.True(t, ok)

	assert.Equal(t, domain.LocationKey("ha noi"), row.key)
	require.Len(t, row.values, len(locationColumns))
	assert.Equal(t, "Ha Noi", row.values[1])
	assert.Nil(t, row.values[3], "empty region is NULL")
	assert.Equal(t, sql.NullFloat64{Float64: 21.03, Valid: true}, row.values[5])
	assert.Equal(t, sql.NullFloat64{}, row.values[6])
	assert.Equal(t, statusPending, row.values[9])
	assert.Equal(t, 1, c.defaulted, "unparseable longitude is counted")

	_, ok = c.location(rawLocation{Name: "  "})
	assert.False(t, ok, "rows without a name are excluded")
}

func TestCoercer_LocationHashTracksBusinessColumns(t *testing.T) {
	c := &coercer{}
	base := rawLocation{Name: "Hue", Country: "Vietnam", Lat: "16.46", Lon: "107.59"}
	a, _ := c.location(base)

	other := base
	other.rawMeta = rawMeta{RawID: 99, BatchID: "LOD_STG_9", SourceSystem: "other"}
	b, _ := c.location(other)
	assert.Equal(t, a.values[8], b.values[8], "lineage columns do not affect the hash")

	moved := base
	moved.Lat = "16.47"
	m, _ := c.location(moved)
	assert.NotEqual(t, a.values[8], m.values[8])
}

func TestCoercer_Condition(t *testing.T) {
	c := &coercer{}
	row, ok := c.condition(rawCondition{Code: "1003", Text: " Partly cloudy "})
	require.True(t, ok)
	assert.Equal(t, "1003", row.key)
	assert.Equal(t, int64(1003), row.values[0])
	assert.Equal(t, "Partly cloudy", row.values[1])

	_, ok = c.condition(rawCondition{Code: "", Text: "Mist"})
	assert.False(t, ok)
	_, ok = c.condition(rawCondition{Code: "n/a", Text: "Mist"})
	assert.False(t, ok)
}

func TestCoercer_Observation(t *testing.T) {
	c := &coercer{}
	r := measuredRow("LOD_STG_1", 1, "Ha Noi", "2026-10-16 14:00", observationMeasures)
	r.Measures[0] = "31.2"
	r.Measures[4] = "70"

	row, ok := c.observation(r)
	require.True(t, ok)
	require.Len(t, row.values, len(observationColumns))

	ts := time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, domain.LocationKey("Ha Noi"), row.values[0])
	assert.Equal(t, ts, row.values[1])
	assert.Equal(t, 20261016, row.values[2])
	assert.Equal(t, sql.NullInt64{Int64: 1003, Valid: true}, row.values[3])
	assert.Equal(t, "SE", row.values[4])
	assert.Equal(t, sql.NullFloat64{Float64: 31.2, Valid: true}, row.values[5])
	assert.Equal(t, sql.NullInt64{Int64: 70, Valid: true}, row.values[9])
	assert.Zero(t, c.defaulted)
}

func TestCoercer_ObservationSentinelTimestamp(t *testing.T) {
	c := &coercer{}
	row, ok := c.observation(measuredRow("LOD_STG_1", 1, "Hue", "not a time", observationMeasures))
	require.True(t, ok)
	assert.Equal(t, domain.SentinelTime, row.values[1])
	assert.Equal(t, 19700101, row.values[2])
	assert.Equal(t, 1, c.defaulted)

	_, ok = c.observation(measuredRow("LOD_STG_1", 2, "", "2026-10-16 14:00", observationMeasures))
	assert.False(t, ok)
}

func TestCoercer_AirQuality(t *testing.T) {
	c := &coercer{}
	r := measuredRow("LOD_STG_1", 1, "Hue", "2026-10-16 14:00", airQualityMeasures)
	r.Measures[0] = "2"
	r.Measures[2] = "35.5"

	row, ok := c.airQuality(r)
	require.True(t, ok)
	require.Len(t, row.values, len(airQualityColumns))
	assert.Equal(t, sql.NullInt64{Int64: 2, Valid: true}, row.values[3])
	assert.Equal(t, sql.NullFloat64{Float64: 35.5, Valid: true}, row.values[5])
}

func TestDedup(t *testing.T) {
	rows := []stagingRow{
		{key: "b", meta: rawMeta{BatchID: "LOD_STG_20261015_070000", RawID: 9}, values: []any{"old"}},
		{key: "b", meta: rawMeta{BatchID: "LOD_STG_20261016_070000", RawID: 1}, values: []any{"new batch"}},
		{key: "a", meta: rawMeta{BatchID: "LOD_STG_20261016_070000", RawID: 2}, values: []any{"first"}},
		{key: "a", meta: rawMeta{BatchID: "LOD_STG_20261016_070000", RawID: 5}, values: []any{"higher raw id"}},
	}

	got := dedup(rows)

	want := [][]any{{"higher raw id"}, {"new batch"}}
	var gotValues [][]any
	for _, r := range got {
		gotValues = append(gotValues, r.values)
	}
	if diff := cmp.Diff(want, gotValues); diff != "" {
		t.Errorf("dedup mismatch (-want +got):\n%s", diff)
	}
}

func TestColumnListsAreConsistent(t *testing.T) {
	assert.Len(t, observationColumns, 5+len(observationMeasures)+4)
	assert.Len(t, airQualityColumns, 3+len(airQualityMeasures)+4)
	assert.Contains(t, observationColumns, "feels_like_c")
	assert.Contains(t, airQualityColumns, "pm2_5")
}
