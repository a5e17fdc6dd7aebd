package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 16, 7, 30, 5, 0, time.UTC)

type fakeFetcher struct {
	failures map[string]error
	calls    []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, loc domain.Location) (domain.Observation, error) {
	f.calls = append(f.calls, loc.Name)
	if _, ok := ctx.Deadline(); !ok {
		return domain.Observation{}, errors.New("call without deadline")
	}
	if err := f.failures[loc.Name]; err != nil {
		return domain.Observation{}, err
	}
	return domain.Observation{
		Location: domain.ObservedPlace{Name: loc.Query(), Country: "Vietnam", Lat: 16.46, Lon: 107.59},
		Current: domain.CurrentWeather{
			LastUpdated: "2026-10-16 14:15",
			TempC:       29.5,
			Condition:   domain.Condition{Text: "Light rain", Code: 1183},
		},
	}, nil
}

var testLocations = []domain.Location{
	{Name: "Ha Noi", APIName: "Hanoi", Code: "HN"},
	{Name: "Hue", Code: "HUE"},
	{Name: "Da Nang", Code: "DN"},
}

func newTestExtractor(t *testing.T, f Fetcher, strict bool) (*Extractor, string) {
	t.Helper()
	dir := t.TempDir()
	opts := Options{Strict: strict, CallTimeout: time.Second, OutputDir: dir, FilePrefix: "weatherapi"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(f, opts, clockwork.NewFakeClockAt(testNow), observability.NewMetricsForTesting(), logger), dir
}

func readArtifact(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExtract_AllSucceed(t *testing.T) {
	f := &fakeFetcher{}
	ex, dir := newTestExtractor(t, f, true)

	report, err := ex.Extract(context.Background(), "EXT_20261016_073005", testLocations)
	require.NoError(t, err)

	assert.Equal(t, []string{"Ha Noi", "Hue", "Da Nang"}, f.calls)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.Empty(t, report.Failures)
	assert.Equal(t, domain.Outcome{Kind: domain.OutcomeSuccess}, report.Outcome)
	assert.Equal(t, filepath.Join(dir, "weatherapi_20261016.csv"), report.ArtifactPath)

	records := readArtifact(t, report.ArtifactPath)
	require.Len(t, records, 4)
	assert.Equal(t, domain.ExtractHeader(), records[0])
	assert.Equal(t, "EXT_20261016_073005", records[1][0])
	assert.Equal(t, "Ha Noi", records[1][1])
	assert.Equal(t, "2026-10-16 07:30:05", records[1][len(records[1])-1])
}

func TestExtract_StrictPartialFailure(t *testing.T) {
	f := &fakeFetcher{failures: map[string]error{"Hue": errors.New("status 500")}}
	ex, dir := newTestExtractor(t, f, true)

	stale := filepath.Join(dir, "weatherapi_20261016.csv")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))

	report, err := ex.Extract(context.Background(), "EXT_1", testLocations)
	require.ErrorIs(t, err, ErrExtractFailed)

	assert.Len(t, f.calls, 3, "strict mode still attempts every location")
	assert.Equal(t, domain.Outcome{Kind: domain.OutcomePartialFailure, Failed: 1}, report.Outcome)
	assert.Equal(t, []EntityFailure{{Entity: "Hue", Reason: "status 500"}}, report.Failures)
	assert.Empty(t, report.ArtifactPath)
	assert.NoFileExists(t, stale)

	summary := report.Summary(true)
	assert.Contains(t, summary, "Extract FAILED: 1/3 locations failed. STRICT MODE requires all locations to succeed.")
	assert.Contains(t, summary, "Hue: status 500")
}

func TestExtract_BestEffortPartialFailure(t *testing.T) {
	f := &fakeFetcher{failures: map[string]error{"Hue": errors.New("timeout")}}
	ex, _ := newTestExtractor(t, f, false)

	report, err := ex.Extract(context.Background(), "EXT_1", testLocations)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, domain.OutcomePartialFailure, report.Outcome.Kind)
	records := readArtifact(t, report.ArtifactPath)
	assert.Len(t, records, 3)
	assert.Contains(t, report.Summary(false), "2/3 locations succeeded")
	assert.Contains(t, report.Summary(false), "Hue: timeout")
}

func TestExtract_BestEffortAllFailed(t *testing.T) {
	boom := errors.New("down")
	f := &fakeFetcher{failures: map[string]error{"Ha Noi": boom, "Hue": boom, "Da Nang": boom}}
	ex, dir := newTestExtractor(t, f, false)

	report, err := ex.Extract(context.Background(), "EXT_1", testLocations)
	require.ErrorIs(t, err, ErrExtractFailed)
	assert.Equal(t, domain.OutcomeAllFailed, report.Outcome.Kind)
	assert.Len(t, report.Failures, 3)
	assert.NoFileExists(t, filepath.Join(dir, "weatherapi_20261016.csv"))
	assert.True(t, strings.HasPrefix(report.Summary(false), "Extract FAILED: 3/3"))
}

func TestExtract_NoLocations(t *testing.T) {
	ex, _ := newTestExtractor(t, &fakeFetcher{}, true)
	_, err := ex.Extract(context.Background(), "EXT_1", nil)
	require.Error(t, err)
}

func TestExtract_WaitsBetweenCalls(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	f := &fakeFetcher{}
	opts := Options{Strict: true, CallTimeout: time.Second, CallDelay: 100 * time.Millisecond, OutputDir: t.TempDir()}
	ex := New(f, opts, clock, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	type result struct {
		report Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := ex.Extract(context.Background(), "EXT_1", testLocations)
		done <- result{r, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < len(testLocations)-1; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(100 * time.Millisecond)
	}

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, 3, res.report.Succeeded)
	case <-ctx.Done():
		t.Fatal("extract did not finish")
	}
}
