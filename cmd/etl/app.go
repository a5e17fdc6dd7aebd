package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	amqpadapter "github.com/couchcryptid/weather-warehouse-etl/internal/adapter/amqp"
	httpadapter "github.com/couchcryptid/weather-warehouse-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/weather-warehouse-etl/internal/adapter/kafka"
	"github.com/couchcryptid/weather-warehouse-etl/internal/adapter/weatherapi"
	"github.com/couchcryptid/weather-warehouse-etl/internal/archive"
	"github.com/couchcryptid/weather-warehouse-etl/internal/config"
	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/extract"
	"github.com/couchcryptid/weather-warehouse-etl/internal/notify"
	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/couchcryptid/weather-warehouse-etl/internal/pipeline"
	"github.com/couchcryptid/weather-warehouse-etl/internal/retry"
	"github.com/couchcryptid/weather-warehouse-etl/internal/staging"
	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
	"github.com/couchcryptid/weather-warehouse-etl/internal/tracker"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const pushJob = "weather_etl"

// app is the wired process: configuration, shared infrastructure and the
// stage runner.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	runner  *pipeline.Runner
	closers []func() error
}

// loadConfig reads the config file named by --config, then environment and
// flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path, flags)
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  observability.NewLogger(cfg),
		metrics: observability.NewMetrics(),
		clock:   clockwork.NewRealClock(),
	}

	sinks := []notify.Sink{notify.NewLogSink(a.logger)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL))
	}
	if cfg.AMQPURL != "" {
		sinks = append(sinks, amqpadapter.NewPublisher(cfg.AMQPURL, cfg.AMQPQueue))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kn := kafkaadapter.NewNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kn)
		a.closers = append(a.closers, kn.Close)
	}

	orchestrator := retry.New(retry.Policy{MaxAttempts: cfg.RetryMaxAttempts, Delay: cfg.RetryDelay}, a.clock, a.logger)
	a.runner = pipeline.NewRunner(
		pipeline.NewSessionFactory(cfg.DatabaseURL, a.clock, a.logger),
		orchestrator,
		notify.NewMulti(a.metrics, sinks...),
		a.clock,
		a.metrics,
		a.logger,
	)
	return a, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close", "error", err)
		}
	}
}

func (a *app) extractStage(_ context.Context) (pipeline.Stage, error) {
	if err := a.cfg.ValidateExtract(); err != nil {
		return nil, err
	}
	newClient := func() extract.Fetcher {
		return weatherapi.NewClient(a.cfg.APIKey, weatherapi.Options{
			BaseURL:         a.cfg.APIBaseURL,
			Timeout:         a.cfg.APITimeout,
			BreakerFailures: a.cfg.BreakerFailures,
		}, a.metrics, a.logger)
	}

	return &pipeline.ExtractStage{
		NewFetcher: newClient,
		Options: extract.Options{
			Strict:      a.cfg.StrictMode(),
			CallTimeout: a.cfg.APITimeout,
			CallDelay:   a.cfg.CallDelay,
			OutputDir:   a.cfg.OutputDir,
			FilePrefix:  a.cfg.FilePrefix,
		},
		Locations: a.cfg.Locations,
		SourceURL: a.cfg.APIBaseURL,
		Clock:     a.clock,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}, nil
}

func (a *app) stagingStage(ctx context.Context) (pipeline.Stage, error) {
	archiver, err := a.archiver(ctx)
	if err != nil {
		return nil, err
	}
	return &pipeline.StagingStage{
		OutputDir:  a.cfg.OutputDir,
		FilePrefix: a.cfg.FilePrefix,
		Options:    staging.Options{SourceSystem: a.cfg.SourceSystem, BatchSize: a.cfg.StagingBatchSize},
		Archiver:   archiver,
		Clock:      a.clock,
		Metrics:    a.metrics,
		Logger:     a.logger,
	}, nil
}

func (a *app) archiver(ctx context.Context) (staging.Archiver, error) {
	if a.cfg.MinioEndpoint == "" {
		return archive.NewDirArchiver(a.cfg.ArchiveDir), nil
	}
	m, err := archive.NewMinioArchiver(ctx, archive.MinioOptions{
		Endpoint:  a.cfg.MinioEndpoint,
		AccessKey: a.cfg.MinioAccessKey,
		SecretKey: a.cfg.MinioSecretKey,
		Bucket:    a.cfg.MinioBucket,
		UseSSL:    a.cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (a *app) transformStage(_ context.Context) (pipeline.Stage, error) {
	return &pipeline.TransformStage{Metrics: a.metrics, Logger: a.logger}, nil
}

func (a *app) warehouseStage(_ context.Context) (pipeline.Stage, error) {
	return &pipeline.WarehouseStage{
		Schema:    a.cfg.DBSchema,
		BatchSize: a.cfg.WarehouseBatchSize,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}, nil
}

// execute runs work, serving the operational endpoints alongside it when an
// HTTP address is configured, and pushes metrics once work returns.
func (a *app) execute(ctx context.Context, work func(ctx context.Context) error) error {
	defer a.push()

	if a.cfg.HTTPAddr == "" {
		return work(ctx)
	}

	srv := httpadapter.NewServer(a.cfg.HTTPAddr, a.runner, a.executionLog(), nil, a.logger)

	var (
		g       errgroup.Group
		workErr error
	)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		workErr = work(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		a.logger.Error("http server error", "error", err)
	}
	return workErr
}

func (a *app) push() {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := observability.Push(ctx, a.cfg.PushgatewayURL, pushJob, prometheus.DefaultGatherer); err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}
}

func (a *app) executionLog() *executionLog {
	return &executionLog{dsn: a.cfg.DatabaseURL, clock: a.clock, logger: a.logger}
}

// executionLog reads today's execution records over a short-lived
// connection so the HTTP server holds no pool between runs.
type executionLog struct {
	dsn    string
	clock  clockwork.Clock
	logger *slog.Logger
}

func (l *executionLog) Today(ctx context.Context) ([]domain.ExecutionRecord, error) {
	db, err := store.Open(ctx, l.dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return tracker.New(db, l.clock, l.logger).Today(ctx)
}
