package transform

import (
	"cmp"
	"slices"
)

// dedup keeps one row per natural key: the one from the highest batch id,
// then the highest raw id. The result is ordered by key.
func dedup(rows []stagingRow) []stagingRow {
	best := make(map[string]stagingRow, len(rows))
	for _, r := range rows {
		if cur, ok := best[r.key]; !ok || r.meta.newerThan(cur.meta) {
			best[r.key] = r
		}
	}

	out := make([]stagingRow, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b stagingRow) int { return cmp.Compare(a.key, b.key) })
	return out
}
