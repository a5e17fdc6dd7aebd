package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("duplicate key")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestWithTx_Commit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("TRUNCATE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(context.Background(), "TRUNCATE raw_weather_location")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = WithTx(context.Background(), db, func(*sql.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaCache_QueriesOncePerTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("public", "dim_location").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "generated"}).
			AddRow("location_sk", "bigint", false, true).
			AddRow("location_key", "text", false, false).
			AddRow("hash_key", "text", false, false).
			AddRow("updated_at", "timestamp with time zone", false, false))

	cache := NewSchemaCache("")
	ctx := context.Background()

	cols, err := cache.WritableColumns(ctx, db, "dim_location")
	require.NoError(t, err)
	assert.Equal(t, []string{"location_key", "hash_key", "updated_at"}, cols)

	ok, err := cache.HasColumn(ctx, db, "dim_location", "updated_at")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.HasColumn(ctx, db, "dim_location", "deleted_at")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaCache_MissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("information_schema.columns").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "generated"}))

	_, err = NewSchemaCache("dw").Columns(context.Background(), db, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dw.nope")
}

func TestIntersect(t *testing.T) {
	got := Intersect([]string{"c", "a", "x"}, []string{"a", "b", "c"})
	assert.Equal(t, []string{"c", "a"}, got)
}

func TestInsert_SQL(t *testing.T) {
	in := Insert{Table: "dim_date", Columns: []string{"date_key", "year"}, Suffix: "ON CONFLICT (date_key) DO NOTHING"}
	assert.Equal(t,
		`INSERT INTO "dim_date" ("date_key", "year") VALUES ($1, $2), ($3, $4) ON CONFLICT (date_key) DO NOTHING`,
		in.SQL(2))
}

func TestInsert_RowsPerStatement(t *testing.T) {
	in := Insert{Columns: make([]string, 30)}
	assert.Equal(t, 100, in.RowsPerStatement(100))
	assert.Equal(t, MaxParams/30, in.RowsPerStatement(5000))
	assert.Equal(t, MaxParams/30, in.RowsPerStatement(0))
}

func TestInsertRows_Batches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := Insert{Table: "stg_weather_condition", Columns: []string{"condition_code", "condition_text"}}
	rows := [][]any{{1000, "Sunny"}, {1003, "Partly cloudy"}, {1183, "Light rain"}}

	mock.ExpectExec(regexp.QuoteMeta(in.SQL(2))).
		WithArgs(1000, "Sunny", 1003, "Partly cloudy").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(in.SQL(1))).
		WithArgs(1183, "Light rain").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := InsertRows(context.Background(), db, in, rows, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRows_RowWidthMismatch(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	in := Insert{Table: "t", Columns: []string{"a", "b"}}
	_, err = InsertRows(context.Background(), db, in, [][]any{{1}}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0 has 1 values")
}
