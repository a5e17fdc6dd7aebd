package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "weather_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL stages.
type Metrics struct {
	StageRuns     *prometheus.CounterVec   // labels: stage, outcome={success,failed,skipped}
	StageDuration *prometheus.HistogramVec // labels: stage
	StageRunning  prometheus.Gauge
	RetryAttempts *prometheus.CounterVec // labels: stage

	// Extraction metrics.
	FetchRequests    *prometheus.CounterVec // labels: outcome={success,error}
	FetchAPIDuration prometheus.Histogram

	// Row-level metrics.
	RowsWritten *prometheus.CounterVec // labels: table
	RowsSkipped *prometheus.CounterVec // labels: stage

	NotifyErrors *prometheus.CounterVec // labels: sink
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      help("Stage invocations by outcome."),
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      help("Duration of one stage attempt."),
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		StageRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_running",
			Help:      help("1 while a stage attempt is in progress."),
		}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      help("Failed stage attempts that were retried or exhausted."),
		}, []string{"stage"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      help("Upstream weather API calls by outcome."),
		}, []string{"outcome"}),
		FetchAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_api_duration_seconds",
			Help:      help("Upstream weather API request duration in seconds."),
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      help("Rows written per table."),
		}, []string{"table"}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      help("Rows skipped as malformed or unjoinable."),
		}, []string{"stage"}),
		NotifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      help("Notification delivery failures by sink."),
		}, []string{"sink"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StageRuns,
		m.StageDuration,
		m.StageRunning,
		m.RetryAttempts,
		m.FetchRequests,
		m.FetchAPIDuration,
		m.RowsWritten,
		m.RowsSkipped,
		m.NotifyErrors,
	}
}

// NewMetrics creates and registers all stage metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

// Push sends the gathered metrics to a Prometheus Pushgateway. Batch jobs
// exit before a scrape would see them, so the CLI pushes once at the end.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	if err := push.New(url, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
