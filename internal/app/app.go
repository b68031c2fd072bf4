// Package app builds and owns the long-lived services behind the CLI
// commands: transport, content target, progress hub, repository and API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/api"
	"github.com/JakeFAU/progressive-loader/internal/clock/system"
	"github.com/JakeFAU/progressive-loader/internal/config"
	"github.com/JakeFAU/progressive-loader/internal/display/logdisplay"
	"github.com/JakeFAU/progressive-loader/internal/frame"
	"github.com/JakeFAU/progressive-loader/internal/frame/browser"
	idgen "github.com/JakeFAU/progressive-loader/internal/id/uuid"
	"github.com/JakeFAU/progressive-loader/internal/loader"
	"github.com/JakeFAU/progressive-loader/internal/logging"
	"github.com/JakeFAU/progressive-loader/internal/metrics"
	"github.com/JakeFAU/progressive-loader/internal/progress"
	progresssinks "github.com/JakeFAU/progressive-loader/internal/progress/sinks"
	"github.com/JakeFAU/progressive-loader/internal/publisher"
	memorypublisher "github.com/JakeFAU/progressive-loader/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/progressive-loader/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/progressive-loader/internal/storage/gcs"
	localstorage "github.com/JakeFAU/progressive-loader/internal/storage/local"
	memorystorage "github.com/JakeFAU/progressive-loader/internal/storage/memory"
	pgstore "github.com/JakeFAU/progressive-loader/internal/storage/postgres"
	"github.com/JakeFAU/progressive-loader/internal/store"
	"github.com/JakeFAU/progressive-loader/internal/telemetry"
	"github.com/JakeFAU/progressive-loader/internal/transport/httpclient"
)

// Options overrides infrastructure that Build would otherwise create.
type Options struct {
	// Logger skips logger construction when set.
	Logger *zap.Logger
	// Registerer receives the progress collectors; defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	transport    *httpclient.Client
	target       loader.ContentTarget
	page         *browser.Page
	progressHub  *progress.Hub
	progressRepo store.ProgressRepository
	pgStore      *pgstore.ProgressStore
	gcsStore     *gcsstorage.BlobStore
	memBlobs     *memorystorage.BlobStore
	gcpPublisher *gcppublisher.Publisher
	tracer       *sdktrace.TracerProvider
	clock        loader.Clock
	ids          loader.IDGenerator
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    idgen.New(),
	}
	app.logger.Info("building application dependencies",
		zap.String("target", cfg.Target.Kind),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("display", cfg.Display.Kind),
	)
	metrics.Init()

	app.transport = httpclient.New(httpclient.Config{
		UserAgent:             cfg.HTTP.UserAgent,
		ConnectTimeout:        time.Duration(cfg.HTTP.ConnectTimeoutSeconds) * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.HTTP.ResponseHeaderTimeoutSeconds) * time.Second,
		IdleTimeout:           time.Duration(cfg.HTTP.IdleTimeoutSeconds) * time.Second,
		Headers:               cfg.HTTP.Headers,
		RatePerHost:           cfg.HTTP.RatePerHost,
		RateBurst:             cfg.HTTP.RateBurst,
	}, logger.Named("transport"))

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     cfg.Tracing.Version,
			ProjectID:   cfg.Tracing.ProjectID,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing init failed: %w", err)
		}
		app.tracer = tp
	}

	if err := app.setupDatabase(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupProgress(ctx, opts.Registerer); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupTarget(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Page returns the browser page when the browser target is configured.
func (a *App) Page() *browser.Page {
	return a.page
}

// ProgressRepository exposes the load run repository.
func (a *App) ProgressRepository() store.ProgressRepository {
	return a.progressRepo
}

// Target returns the configured content target.
func (a *App) Target() loader.ContentTarget {
	return a.target
}

// NewFetcher wires a Fetcher that reports to display and surface.
func (a *App) NewFetcher(display loader.ProgressDisplay, surface loader.Surface) (*loader.Fetcher, error) {
	opts := loader.Options{
		Transport:      a.transport,
		Display:        display,
		Surface:        surface,
		Target:         a.target,
		TargetOrigin:   a.cfg.Loader.TargetOrigin,
		HandoffDelay:   a.cfg.HandoffDelay(),
		ReadBufferSize: a.cfg.Loader.ReadBufferSize,
		MessageField:   a.cfg.Loader.MessageField,
		Clock:          a.clock,
		IDs:            a.ids,
		Logger:         a.logger.Named("loader"),
	}
	if a.progressHub != nil {
		opts.Events = a.progressHub
	}
	f, err := loader.New(opts)
	if err != nil {
		return nil, fmt.Errorf("loader init failed: %w", err)
	}
	return f, nil
}

// LoadWithID runs one headless load that reports through a log display. It
// backs loads started from the HTTP API.
func (a *App) LoadWithID(ctx context.Context, id uuid.UUID, url string) (loader.Result, error) {
	display := logdisplay.New(
		a.logger.Named("display").With(zap.String("load_id", id.String())),
		a.cfg.Display.LogStep,
	)
	f, err := a.NewFetcher(display, display)
	if err != nil {
		return loader.Result{}, err
	}
	ctx, span := telemetry.StartLoad(ctx, url)
	res, err := f.LoadWithID(ctx, id, url)
	telemetry.EndLoad(span, res, err)
	return res, err
}

// Serve runs the HTTP API until ctx is canceled or a signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.memBlobs != nil {
		a.logger.Warn("serving with the in-memory blob backend; payloads are lost on exit",
			zap.Int("max_objects", a.cfg.Storage.MemoryMaxObjects),
		)
	}
	apiServer := api.NewServer(a, a.progressRepo, a.ids, a.cfg, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("in-flight loads did not finish", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.progressHub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
		}
	}
	if a.page != nil {
		a.page.Close()
	}
	if a.gcpPublisher != nil {
		if err := a.gcpPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no DSN configured, keeping load runs in memory")
		a.progressRepo = memorystorage.NewProgressStore()
		return nil
	}
	pg, err := pgstore.NewProgressStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("progress store init failed: %w", err)
	}
	a.pgStore = pg
	a.progressRepo = pg
	if a.cfg.DB.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("progress store schema: %w", err)
		}
	}
	a.logger.Info("progress store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil
	}
	var sinkList []progress.Sink
	if a.progressRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.progressRepo, a.logger.Named("progress_store")))
		a.logger.Debug("Added progress store sink")
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("Added progress log sink")
	}
	if a.cfg.Progress.MetricsEnabled {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
		a.logger.Debug("Added progress metrics sink")
	}
	if len(sinkList) == 0 {
		a.logger.Warn("progress tracking enabled but no sinks configured")
		return nil
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupTarget(ctx context.Context) error {
	switch a.cfg.Target.Kind {
	case "publish":
		pub, err := a.setupPublisher(ctx)
		if err != nil {
			return err
		}
		a.target, err = frame.NewPublishTarget(pub, frame.PublishOptions{
			Origin: a.cfg.TargetOrigin(),
			Topic:  a.cfg.PubSub.TopicName,
		}, a.logger.Named("publish_target"))
		if err != nil {
			return fmt.Errorf("publish target init failed: %w", err)
		}
	case "browser":
		page, err := browser.Open(ctx, browser.Config{
			PageURL:           a.cfg.Browser.PageURL,
			FrameOrigin:       a.cfg.TargetOrigin(),
			FrameSelector:     a.cfg.Browser.FrameSelector,
			ProgressSelector:  a.cfg.Browser.ProgressSelector,
			LoadingSelector:   a.cfg.Browser.LoadingSelector,
			UserAgent:         a.cfg.HTTP.UserAgent,
			Headers:           a.cfg.HTTP.Headers,
			NavigationTimeout: time.Duration(a.cfg.Browser.NavTimeoutSeconds) * time.Second,
			ExecPath:          a.cfg.Browser.ExecPath,
		}, a.logger.Named("browser"))
		if err != nil {
			return fmt.Errorf("browser target init failed: %w", err)
		}
		a.page = page
		a.target = page
	default:
		blobs, err := a.setupStorage(ctx)
		if err != nil {
			return err
		}
		a.target, err = frame.NewBlobTarget(blobs, frame.BlobOptions{
			Origin: a.cfg.TargetOrigin(),
			Prefix: a.cfg.Target.Prefix,
		}, a.logger.Named("blob_target"))
		if err != nil {
			return fmt.Errorf("blob target init failed: %w", err)
		}
	}
	a.logger.Info("content target ready",
		zap.String("kind", a.cfg.Target.Kind),
		zap.String("origin", a.target.Origin()),
		zap.String("expected_origin", a.cfg.Loader.TargetOrigin),
	)
	if a.target.Origin() != a.cfg.Loader.TargetOrigin {
		a.logger.Warn("content target origin differs from loader.target_origin; deliveries will be refused")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (frame.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsStore, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket:       a.cfg.Storage.Bucket,
			CacheControl: a.cfg.Storage.CacheControl,
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return a.gcsStore, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobs, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend", zap.Int("max_objects", a.cfg.Storage.MemoryMaxObjects))
		a.memBlobs = memorystorage.NewBoundedBlobStore(a.cfg.Storage.MemoryMaxObjects)
		return a.memBlobs, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (publisher.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.gcpPublisher, nil
}
