package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// MaxParams is the PostgreSQL limit on bind parameters per statement.
const MaxParams = 65535

// Insert describes a multi-row INSERT. Suffix is appended verbatim after the
// VALUES list, e.g. an ON CONFLICT clause.
type Insert struct {
	Table   string
	Columns []string
	Suffix  string
}

// SQL renders the statement for n rows with $1..$N placeholders.
func (in Insert) SQL(n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(QuoteIdent(in.Table))
	b.WriteString(" (")
	b.WriteString(QuoteIdents(in.Columns))
	b.WriteString(") VALUES ")

	p := 1
	for r := 0; r < n; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range in.Columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(p))
			p++
		}
		b.WriteByte(')')
	}
	if in.Suffix != "" {
		b.WriteByte(' ')
		b.WriteString(in.Suffix)
	}
	return b.String()
}

// RowsPerStatement clamps batchSize so a statement never exceeds MaxParams.
func (in Insert) RowsPerStatement(batchSize int) int {
	if len(in.Columns) == 0 {
		return batchSize
	}
	limit := MaxParams / len(in.Columns)
	if batchSize <= 0 || batchSize > limit {
		return limit
	}
	return batchSize
}

// InsertRows writes rows in batches and returns the total rows affected.
// Every row must have one value per column.
func InsertRows(ctx context.Context, q DBTX, in Insert, rows [][]any, batchSize int) (int64, error) {
	if len(in.Columns) == 0 {
		return 0, fmt.Errorf("insert into %s: no columns", in.Table)
	}
	per := in.RowsPerStatement(batchSize)

	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		batch := rows[start:end]

		args := make([]any, 0, len(batch)*len(in.Columns))
		for i, row := range batch {
			if len(row) != len(in.Columns) {
				return total, fmt.Errorf("insert into %s: row %d has %d values, want %d", in.Table, start+i, len(row), len(in.Columns))
			}
			args = append(args, row...)
		}

		res, err := q.ExecContext(ctx, in.SQL(len(batch)), args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", in.Table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected for %s: %w", in.Table, err)
		}
		total += n
	}
	return total, nil
}

// QuoteIdent quotes a single identifier.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QuoteIdents quotes and comma-joins identifiers.
func QuoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
