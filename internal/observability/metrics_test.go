package observability

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsForTesting_Independent(t *testing.T) {
	m1 := NewMetricsForTesting()
	m2 := NewMetricsForTesting()

	m1.StageRuns.WithLabelValues("extract", "success").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m1.StageRuns.WithLabelValues("extract", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.StageRuns.WithLabelValues("extract", "success")))
}

func TestPush(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.collectors()...)
	m.RowsWritten.WithLabelValues("dim_location").Add(3)

	require.NoError(t, Push(context.Background(), srv.URL, "weather_etl_load", reg))
	assert.Equal(t, "/metrics/job/weather_etl_load", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPush_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Push(context.Background(), srv.URL, "job", prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), srv.URL)
}

func TestNewLogger_FormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown", "stage", "extract")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "stage=extract")

	buf.Reset()
	newLogger(&buf, "debug", "json").Debug("visible")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}
