// Package domain models WeatherAPI.com current-conditions data as it moves
// through the raw, staging and warehouse tiers.
//
// # Data Source
//
// Observations come from the WeatherAPI.com current endpoint queried once per
// configured location with air quality enabled:
//
//	GET {base}/current.json?key=<key>&q=<api_name>&aqi=yes
//
// The response nests the place under "location" and the measurements under
// "current", with "current.condition" and "current.air_quality" as sub-objects.
// Air quality is absent for some locations; every air-quality column is then
// written as an empty string.
//
// # Extract File
//
// One CSV row per successfully fetched location, columns in [ExtractHeader]
// order. Numbers are written with the shortest exact decimal representation,
// timestamps as the provider returns them ("2006-01-02 15:04", local to the
// location). Consumers map columns by header name, never by position.
//
// # Coercion
//
// Raw values are strings. Parsing never rejects a row:
//
//	Measurements:   unparseable or empty  -> NULL
//	Timestamps:     unparseable or empty  -> [SentinelTime] (1970-01-01 UTC)
//	Condition code: unparseable or empty  -> row has no condition natural key
//
// # Natural Keys and Hashes
//
// Locations are keyed by [LocationKey], a SHA-256 of the lower-cased trimmed
// name, so the same place keeps its key across runs even if the provider
// spelling changes case. Conditions are keyed by their integer code.
// Observations and air-quality readings are keyed by (location key, observation
// time).
//
// Every staging record carries a hash_key computed by [HashKey] over its
// business columns. The warehouse overwrites a dimension row only when the
// incoming hash differs from the stored one.
package domain
