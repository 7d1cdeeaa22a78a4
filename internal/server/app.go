// Package server builds the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/statuswatch/internal/aggregator"
	"github.com/JakeFAU/statuswatch/internal/api"
	"github.com/JakeFAU/statuswatch/internal/clock/system"
	"github.com/JakeFAU/statuswatch/internal/config"
	"github.com/JakeFAU/statuswatch/internal/fetcher/headless"
	"github.com/JakeFAU/statuswatch/internal/id/uuid"
	"github.com/JakeFAU/statuswatch/internal/logging"
	"github.com/JakeFAU/statuswatch/internal/metrics"
	"github.com/JakeFAU/statuswatch/internal/publisher"
	memorypublisher "github.com/JakeFAU/statuswatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/statuswatch/internal/publisher/pubsub"
	"github.com/JakeFAU/statuswatch/internal/retry"
	"github.com/JakeFAU/statuswatch/internal/scheduler"
	"github.com/JakeFAU/statuswatch/internal/source"
	"github.com/JakeFAU/statuswatch/internal/status"
	gcsstorage "github.com/JakeFAU/statuswatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/statuswatch/internal/storage/local"
	pgstore "github.com/JakeFAU/statuswatch/internal/storage/postgres"
	redisstore "github.com/JakeFAU/statuswatch/internal/storage/redis"
	"github.com/JakeFAU/statuswatch/internal/telemetry"
)

// Options tunes Build for the command being run.
type Options struct {
	// SkipSinks keeps reports in memory only.
	SkipSinks bool
}

// App contains the application's dependencies.
type App struct {
	mu     sync.Mutex
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	browser    *headless.Browser
	aggregator *aggregator.Aggregator
	publisher  *publisher.Publisher
	reports    *memorypublisher.Store
	scheduler  *scheduler.Scheduler
	apiServer  *api.Server

	pubsubClient   *pubsub.Client
	pubsubTopic    *pubsub.Topic
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	app := &App{
		cfg:     cfg,
		logger:  logger,
		clock:   system.New(),
		reports: memorypublisher.New(),
	}
	logger.Info("building application dependencies",
		zap.Int("sources", len(cfg.Sources)),
		zap.Duration("interval", cfg.Poll.Interval),
	)

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		ProjectID:   cfg.Telemetry.ProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	sources, err := app.buildSources(cfg)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	controller := retry.NewController(
		retry.NewQuadraticPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay),
		app.clock,
		retry.WithLogger(logger.Named("retry")),
	)
	app.aggregator, err = aggregator.New(sources, controller, app.clock, uuid.New(),
		aggregator.WithConcurrency(cfg.Poll.Concurrency),
		aggregator.WithLogger(logger.Named("aggregator")),
	)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("aggregator init failed: %w", err)
	}

	sinks := []publisher.Sink{app.reports}
	if !opts.SkipSinks {
		extra, err := app.setupSinks(ctx, cfg)
		if err != nil {
			_ = publisher.New(logger, extra...).Close()
			_ = app.Close(ctx)
			return nil, err
		}
		sinks = append(sinks, extra...)
	}
	app.publisher = publisher.New(logger.Named("publisher"), sinks...)
	app.publisher.SetDisplayNames(cfg.DisplayNames())
	logger.Info("report sinks configured", zap.Strings("sinks", app.publisher.Sinks()))

	app.scheduler, err = scheduler.New(app.runCycle, cfg.Poll.Interval,
		scheduler.WithRunOnStart(cfg.Poll.RunOnStart),
		scheduler.WithLogger(logger.Named("scheduler")),
	)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.reports, app.scheduler, api.Config{
		FrontendDir:    cfg.Server.FrontendDir,
		RequestTimeout: cfg.Server.RequestTimeout,
		TriggerRPS:     cfg.Server.TriggerRPS,
		TriggerBurst:   cfg.Server.TriggerBurst,
	}, logger.Named("api"))
	return app, nil
}

func (a *App) buildSources(cfg config.Config) ([]status.Source, error) {
	if source.HasScrape(cfg) && a.browser == nil {
		b, err := headless.NewBrowser(headless.BrowserConfig{
			RemoteURL:        cfg.Browser.RemoteURL,
			UserAgent:        cfg.Browser.UserAgent,
			WindowWidth:      cfg.Browser.WindowWidth,
			WindowHeight:     cfg.Browser.WindowHeight,
			OperationTimeout: cfg.Browser.OperationTimeout,
			MaxSessions:      cfg.Browser.MaxSessions,
		}, a.logger.Named("browser"))
		if err != nil {
			return nil, fmt.Errorf("browser init failed: %w", err)
		}
		a.browser = b
	}
	deps := source.Deps{Clock: a.clock, Logger: a.logger.Named("source")}
	if a.browser != nil {
		deps.Browser = a.browser
	}
	sources, err := source.Build(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("source init failed: %w", err)
	}
	return sources, nil
}

func (a *App) setupSinks(ctx context.Context, cfg config.Config) ([]publisher.Sink, error) {
	var sinks []publisher.Sink
	pc := cfg.Publish
	if pc.File.Enabled {
		fileSink, err := localstorage.New(localstorage.Config{Dir: pc.File.Dir, Name: pc.File.Name})
		if err != nil {
			return sinks, fmt.Errorf("file sink init failed: %w", err)
		}
		a.logger.Debug("file sink", zap.String("path", fileSink.Path()))
		sinks = append(sinks, fileSink)
	}
	if pc.GCS.Bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return sinks, fmt.Errorf("gcs client init failed: %w", err)
		}
		gs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: pc.GCS.Bucket, Object: pc.GCS.Object})
		if err != nil {
			_ = client.Close()
			return sinks, fmt.Errorf("gcs sink init failed: %w", err)
		}
		a.logger.Debug("gcs sink", zap.String("uri", gs.URI()))
		sinks = append(sinks, gs)
	}
	if pc.Redis.URL != "" {
		rs, err := redisstore.New(ctx, redisstore.Config{URL: pc.Redis.URL, Key: pc.Redis.Key, TTL: pc.Redis.TTL})
		if err != nil {
			return sinks, fmt.Errorf("redis sink init failed: %w", err)
		}
		sinks = append(sinks, rs)
	}
	if pc.Postgres.DSN != "" {
		ps, err := pgstore.New(ctx, pgstore.Config{DSN: pc.Postgres.DSN, Table: pc.Postgres.Table})
		if err != nil {
			return sinks, fmt.Errorf("postgres sink init failed: %w", err)
		}
		sinks = append(sinks, ps)
	}
	if pc.PubSub.Topic != "" {
		client, err := pubsub.NewClient(ctx, pc.PubSub.ProjectID)
		if err != nil {
			return sinks, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubTopic = client.Topic(pc.PubSub.Topic)
		ps, err := gcppublisher.New(a.pubsubTopic)
		if err != nil {
			return sinks, fmt.Errorf("pubsub sink init failed: %w", err)
		}
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", pc.PubSub.ProjectID),
			zap.String("topic", pc.PubSub.Topic),
		)
		sinks = append(sinks, ps)
	}
	return sinks, nil
}

// PollOnce runs one cycle and publishes its report.
func (a *App) PollOnce(ctx context.Context) (publisher.Report, error) {
	ctx, span := otel.Tracer("github.com/JakeFAU/statuswatch/internal/server").Start(ctx, "poll_and_publish")
	defer span.End()

	res := a.aggregator.PollAll(ctx)
	report, err := a.publisher.Publish(ctx, res)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("publish report: %w", err)
	}
	return report, nil
}

func (a *App) runCycle(ctx context.Context) {
	if _, err := a.PollOnce(ctx); err != nil {
		a.logger.Warn("poll cycle published with errors", zap.Error(err))
	}
}

// Reload applies a new configuration revision. Sources and the poll interval
// change in place; other settings need a restart.
func (a *App) Reload(cfg config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sources, err := a.buildSources(cfg)
	if err != nil {
		return err
	}
	if err := a.aggregator.SetSources(sources); err != nil {
		return fmt.Errorf("apply sources: %w", err)
	}
	if err := a.scheduler.SetInterval(cfg.Poll.Interval); err != nil {
		return fmt.Errorf("apply interval: %w", err)
	}
	a.publisher.SetDisplayNames(cfg.DisplayNames())
	a.cfg = cfg
	a.logger.Info("configuration reloaded",
		zap.Int("sources", len(sources)),
		zap.Duration("interval", cfg.Poll.Interval),
	)
	return nil
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Reports returns the in-memory report store.
func (a *App) Reports() *memorypublisher.Store {
	return a.reports
}

// Run starts the scheduler and HTTP server and blocks until ctx is canceled
// or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop failed", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("sink close failed", zap.Error(err))
		}
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	if err := logging.Sync(a.logger); err != nil {
		return fmt.Errorf("logger sync failed: %w", err)
	}
	return nil
}
