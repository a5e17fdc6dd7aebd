package domain

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
	"time"
)

// SentinelTime replaces timestamps that cannot be parsed.
var SentinelTime = time.Unix(0, 0).UTC()

// timestampLayouts are tried in order. Provider timestamps carry no zone and
// are kept as wall-clock values in UTC.
var timestampLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04",
}

// nullTokens are raw values treated as missing.
var nullTokens = map[string]struct{}{
	"":     {},
	"null": {},
	"nan":  {},
	"n/a":  {},
	"unk":  {},
}

func isNullToken(s string) bool {
	_, ok := nullTokens[strings.ToLower(s)]
	return ok
}

// ParseFloat parses a measurement, returning NULL when the value is missing
// or not a finite number.
func ParseFloat(s string) sql.NullFloat64 {
	s = strings.TrimSpace(s)
	if isNullToken(s) {
		return sql.NullFloat64{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// ParseInt parses an integer column. Decimal input such as "45.0" is
// truncated toward zero.
func ParseInt(s string) sql.NullInt64 {
	s = strings.TrimSpace(s)
	if isNullToken(s) {
		return sql.NullInt64{}
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sql.NullInt64{Int64: v, Valid: true}
	}
	f := ParseFloat(s)
	if !f.Valid || f.Float64 > math.MaxInt64 || f.Float64 < math.MinInt64 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(f.Float64), Valid: true}
}

// ParseTimestamp parses a provider timestamp. The boolean is false when the
// value was replaced by SentinelTime.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if isNullToken(s) {
		return SentinelTime, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return SentinelTime, false
}

// DateKey returns the yyyymmdd integer key of the date dimension.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// DateFromKey is the inverse of DateKey.
func DateFromKey(key int) time.Time {
	return time.Date(key/10000, time.Month(key/100%100), key%100, 0, 0, 0, 0, time.UTC)
}

// CleanText trims a raw text value and maps null tokens to "".
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	if isNullToken(s) {
		return ""
	}
	return s
}
