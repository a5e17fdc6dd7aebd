package store

import (
	"context"
	"fmt"
	"sync"
)

// Column describes one table column as reported by information_schema.
type Column struct {
	Name      string
	DataType  string
	Nullable  bool
	Generated bool // identity, generated or sequence-backed
}

const columnsQuery = `
SELECT column_name,
       data_type,
       is_nullable = 'YES',
       (is_identity = 'YES' OR is_generated = 'ALWAYS' OR COALESCE(column_default, '') LIKE 'nextval(%')
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// SchemaCache introspects table columns once per table and keeps the result
// for its own lifetime. Create one per stage invocation so schema changes
// are picked up on the next run.
type SchemaCache struct {
	schema string
	mu     sync.Mutex
	tables map[string][]Column
}

// NewSchemaCache returns an empty cache for the given schema.
func NewSchemaCache(schema string) *SchemaCache {
	if schema == "" {
		schema = "public"
	}
	return &SchemaCache{schema: schema, tables: make(map[string][]Column)}
}

// Columns returns the columns of table in ordinal order.
func (c *SchemaCache) Columns(ctx context.Context, q DBTX, table string) ([]Column, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cols, ok := c.tables[table]; ok {
		return cols, nil
	}

	rows, err := q.QueryContext(ctx, columnsQuery, c.schema, table)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.Generated); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s not found or has no columns", c.schema, table)
	}

	c.tables[table] = cols
	return cols, nil
}

// WritableColumns returns the names of columns a load may supply values for,
// excluding generated keys.
func (c *SchemaCache) WritableColumns(ctx context.Context, q DBTX, table string) ([]string, error) {
	cols, err := c.Columns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cols))
	for _, col := range cols {
		if !col.Generated {
			names = append(names, col.Name)
		}
	}
	return names, nil
}

// HasColumn reports whether table has the named column.
func (c *SchemaCache) HasColumn(ctx context.Context, q DBTX, table, column string) (bool, error) {
	cols, err := c.Columns(ctx, q, table)
	if err != nil {
		return false, err
	}
	for _, col := range cols {
		if col.Name == column {
			return true, nil
		}
	}
	return false, nil
}

// Intersect keeps the names in want that also appear in have, preserving the
// order of want.
func Intersect(want, have []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	out := make([]string, 0, len(want))
	for _, w := range want {
		if _, ok := set[w]; ok {
			out = append(out, w)
		}
	}
	return out
}
