package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/pipeline"
	"github.com/couchcryptid/weather-warehouse-etl/internal/retry"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"skipped", fmt.Errorf("extract: %w", pipeline.ErrSkipped), exitOK},
		{"interrupted", fmt.Errorf("load_warehouse: %w after attempt 1: %w", retry.ErrInterrupted, errors.New("context canceled")), exitInterrupted},
		{"exhausted", &retry.ExhaustedError{Attempts: 3, Err: errors.New("boom")}, exitFailed},
		{"config", errors.New("load config: ETL_DATABASE_URL is required"), exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"extract", "stage", "transform", "load", "run", "migrate", "status"} {
		assert.Contains(t, names, want)
	}
}

func TestRenderExecutions(t *testing.T) {
	start := time.Date(2026, 10, 16, 7, 30, 5, 0, time.UTC)
	end := start.Add(90 * time.Second)

	var buf bytes.Buffer
	renderExecutions(&buf, []domain.ExecutionRecord{
		{ExecutionID: "LOAD_20261016_073005", ProcessName: "load_warehouse", Status: domain.StatusSuccess, Attempt: 1, StartTime: start, EndTime: &end, RecordsInserted: 42},
	})

	out := buf.String()
	assert.Contains(t, out, "LOAD_20261016_073005")
	assert.Contains(t, out, "load_warehouse")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "2026-10-16 07:30:05")

	buf.Reset()
	renderExecutions(&buf, nil)
	assert.Equal(t, "no executions today\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
