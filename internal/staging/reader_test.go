package staging

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// csvLine renders a full extract line, overriding the named columns.
func csvLine(overrides map[string]string) string {
	defaults := map[string]string{
		"execution_id":   "EXT_20261016_070000",
		"location_name":  "Ha Noi",
		"location_code":  "HN",
		"country":        "Vietnam",
		"lat":            "21.03",
		"lon":            "105.85",
		"localtime":      "2026-10-16 14:05",
		"temp_c":         "31.2",
		"condition_text": "Partly cloudy",
		"condition_code": "1003",
		"aqi_us":         "2",
		"last_updated":   "2026-10-16 14:00",
		"extract_time":   "2026-10-16 07:00:01",
	}
	for k, v := range overrides {
		defaults[k] = v
	}
	header := domain.ExtractHeader()
	vals := make([]string, len(header))
	for i, h := range header {
		vals[i] = defaults[h]
	}
	return strings.Join(vals, ",")
}

func extractFile(lines ...string) string {
	return strings.Join(domain.ExtractHeader(), ",") + "\n" + strings.Join(lines, "\n") + "\n"
}

func TestReadExtract(t *testing.T) {
	body := extractFile(
		csvLine(nil),
		csvLine(map[string]string{"location_name": `"Hue, Thua Thien"`, "location_code": "HUE"}),
	)

	res, err := ReadExtract(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Zero(t, res.Skipped)

	first := res.Records[0]
	assert.Equal(t, "Ha Noi", first.Row.LocationName)
	assert.Equal(t, "1003", first.Row.ConditionCode)
	assert.Equal(t, "2026-10-16 14:05", first.Row.Localtime)
	assert.Equal(t, "31.2", first.Fields["temp_c"])
	assert.Len(t, first.Fields, len(domain.ExtractHeader()))

	assert.Equal(t, "Hue, Thua Thien", res.Records[1].Row.LocationName)
}

func TestReadExtract_StripsBOMAndNormalisesHeader(t *testing.T) {
	header := strings.Join(domain.ExtractHeader(), ",")
	header = strings.Replace(header, "location_name", " Location_Name ", 1)
	body := "\ufeff" + header + "\n" + csvLine(nil) + "\n"

	res, err := ReadExtract(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "EXT_20261016_070000", res.Records[0].Row.ExecutionID)
	assert.Equal(t, "Ha Noi", res.Records[0].Row.LocationName)
}

func TestReadExtract_SkipsMalformedRows(t *testing.T) {
	body := extractFile(
		csvLine(nil),
		"too,few,fields",
		csvLine(map[string]string{"location_name": "Da Nang"}),
	)

	res, err := ReadExtract(strings.NewReader(body))
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "Da Nang", res.Records[1].Row.LocationName)
}

func TestReadExtract_Empty(t *testing.T) {
	_, err := ReadExtract(strings.NewReader(""))
	require.Error(t, err)
}

func TestRawPayload(t *testing.T) {
	fields := map[string]string{"location_name": "Hue", "temp_c": ""}

	payload, err := rawPayload(fields, "LOD_STG_20261016_073005")
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, map[string]string{
		"location_name":     "Hue",
		"temp_c":            "",
		"load_execution_id": "LOD_STG_20261016_073005",
	}, decoded)
	assert.NotContains(t, fields, payloadBatchKey, "input map is not mutated")
}
