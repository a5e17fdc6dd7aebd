package staging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const truncateSQL = `TRUNCATE TABLE "raw_weather_location", "raw_weather_condition", "raw_air_quality", "raw_weather_observation"`

type fakeArchiver struct {
	paths []string
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, path string) (string, error) {
	a.paths = append(a.paths, path)
	if a.err != nil {
		return "", a.err
	}
	return filepath.Join("archive", filepath.Base(path)), nil
}

func writeExtract(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weatherapi_20261016.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newTestLoader(t *testing.T, batchSize int, archiver Archiver) (*Loader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewLoader(db, Options{SourceSystem: "weatherapi", BatchSize: batchSize}, archiver, observability.NewMetricsForTesting(), logger)
	return l, mock
}

func TestLoader_Load(t *testing.T) {
	path := writeExtract(t, extractFile(
		csvLine(nil),
		"broken",
		csvLine(map[string]string{"location_name": "Hue"}),
	))
	archiver := &fakeArchiver{}
	l, mock := newTestLoader(t, 100, archiver)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(truncateSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	for _, table := range RawTableNames() {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "` + table + `"`)).WillReturnResult(sqlmock.NewResult(0, 2))
	}
	mock.ExpectCommit()

	res, err := l.Load(context.Background(), path, "LOD_STG_20261016_073005")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 3, res.RowsRead)
	assert.Equal(t, 1, res.RowsSkipped)
	assert.Equal(t, []TableCount{
		{Table: "raw_weather_location", Rows: 2},
		{Table: "raw_weather_condition", Rows: 2},
		{Table: "raw_air_quality", Rows: 2},
		{Table: "raw_weather_observation", Rows: 2},
	}, res.Tables)
	assert.Equal(t, int64(8), res.Inserted())
	assert.Equal(t, []string{path}, archiver.paths)
	assert.Equal(t, filepath.Join("archive", "weatherapi_20261016.csv"), res.ArchivedTo)
}

func TestLoader_Load_BatchesAndTagsRows(t *testing.T) {
	path := writeExtract(t, extractFile(
		csvLine(nil),
		csvLine(map[string]string{"location_name": "Hue", "location_code": "HUE"}),
	))
	l, mock := newTestLoader(t, 1, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(truncateSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "raw_weather_location"`)).
		WithArgs("Ha Noi", "HN", "", "Vietnam", "21.03", "105.85", "", "2026-10-16 14:05",
			"weatherapi", "LOD_STG_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "raw_weather_location"`)).
		WithArgs("Hue", "HUE", "", "Vietnam", "21.03", "105.85", "", "2026-10-16 14:05",
			"weatherapi", "LOD_STG_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, table := range RawTableNames()[1:] {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "` + table + `"`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "` + table + `"`)).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	res, err := l.Load(context.Background(), path, "LOD_STG_1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(8), res.Inserted())
	assert.Empty(t, res.ArchivedTo)
}

func TestLoader_Load_RollsBackOnInsertError(t *testing.T) {
	path := writeExtract(t, extractFile(csvLine(nil)))
	archiver := &fakeArchiver{}
	l, mock := newTestLoader(t, 100, archiver)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(truncateSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "raw_weather_location"`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "raw_weather_condition"`)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := l.Load(context.Background(), path, "LOD_STG_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, archiver.paths, "nothing is archived after a failed load")
	assert.FileExists(t, path)
}

func TestLoader_Load_ArchiveFailureIsNotFatal(t *testing.T) {
	path := writeExtract(t, extractFile(csvLine(nil)))
	l, mock := newTestLoader(t, 100, &fakeArchiver{err: errors.New("bucket gone")})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(truncateSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	for _, table := range RawTableNames() {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "` + table + `"`)).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	res, err := l.Load(context.Background(), path, "LOD_STG_1")
	require.NoError(t, err)
	assert.Empty(t, res.ArchivedTo)
}

func TestLoader_Load_MissingFile(t *testing.T) {
	l, mock := newTestLoader(t, 100, nil)

	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "weatherapi_20261016.csv"), "LOD_STG_1")
	require.ErrorIs(t, err, ErrArtifactMissing)
	require.NoError(t, mock.ExpectationsWereMet())
}
