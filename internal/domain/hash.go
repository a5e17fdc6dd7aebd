package domain

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// HashKey returns a deterministic SHA-256 digest over the given field values.
// Fields are joined with "|" so adjacent values cannot run together.
func HashKey(fields ...string) string {
	h := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(h[:])
}

// LocationKey derives the natural key of a location from its name.
func LocationKey(name string) string {
	return HashKey(strings.ToLower(strings.TrimSpace(name)))
}

// HashFloat renders a nullable float for hashing. NULL hashes as "".
func HashFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

// HashInt renders a nullable integer for hashing. NULL hashes as "".
func HashInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

// HashTime renders a timestamp for hashing.
func HashTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
