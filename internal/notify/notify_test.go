package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	err  error
	got  []Message
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Notify(_ context.Context, msg Message) error {
	s.got = append(s.got, msg)
	return s.err
}

func testMessage() Message {
	msg := NewMessage("Load SUCCESS", "fact_weather_daily: 3", time.Date(2026, 10, 16, 7, 30, 5, 0, time.UTC))
	msg.ExecutionID = "LOAD_20261016_073005"
	msg.Process = "load"
	msg.Status = "success"
	msg.Attempt = 1
	msg.MaxAttempts = 3
	return msg
}

func TestNewMessage(t *testing.T) {
	a := NewMessage("s", "b", time.Now())
	b := NewMessage("s", "b", time.Now())
	assert.Len(t, a.ID, 36)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestMulti_DeliversToEverySink(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	failing := &recordingSink{name: "webhook", err: errors.New("503")}
	ok := &recordingSink{name: "log"}

	err := NewMulti(metrics, failing, ok).Notify(context.Background(), testMessage())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook: 503")
	assert.Len(t, failing.got, 1)
	assert.Len(t, ok.got, 1, "a failing sink does not block the next one")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotifyErrors.WithLabelValues("webhook")))
}

func TestMulti_NoSinks(t *testing.T) {
	assert.NoError(t, NewMulti(observability.NewMetricsForTesting()).Notify(context.Background(), testMessage()))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	msg := testMessage()
	msg.Status = "failed"
	require.NoError(t, sink.Notify(context.Background(), msg))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "Load SUCCESS", entry["msg"])
	assert.Equal(t, "LOAD_20261016_073005", entry["execution_id"])
}

func TestWebhookSink(t *testing.T) {
	var received Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	msg := testMessage()
	require.NoError(t, NewWebhookSink(srv.URL).Notify(context.Background(), msg))
	assert.Equal(t, msg, received)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL).Notify(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
