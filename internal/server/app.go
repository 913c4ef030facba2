// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/api"
	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/clock/system"
	"github.com/JakeFAU/brandkit-crawler/internal/config"
	"github.com/JakeFAU/brandkit-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/brandkit-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/brandkit-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/brandkit-crawler/internal/hash/sha256"
	"github.com/JakeFAU/brandkit-crawler/internal/headless/detector"
	"github.com/JakeFAU/brandkit-crawler/internal/id/uuid"
	anthropicllm "github.com/JakeFAU/brandkit-crawler/internal/llm/anthropic"
	openaillm "github.com/JakeFAU/brandkit-crawler/internal/llm/openai"
	staticllm "github.com/JakeFAU/brandkit-crawler/internal/llm/static"
	"github.com/JakeFAU/brandkit-crawler/internal/notify"
	"github.com/JakeFAU/brandkit-crawler/internal/policy/blocklist"
	"github.com/JakeFAU/brandkit-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/brandkit-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/brandkit-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/brandkit-crawler/internal/reconcile"
	"github.com/JakeFAU/brandkit-crawler/internal/scheduler"
	"github.com/JakeFAU/brandkit-crawler/internal/sequencer"
	"github.com/JakeFAU/brandkit-crawler/internal/status"
	"github.com/JakeFAU/brandkit-crawler/internal/steps"
	gcsstorage "github.com/JakeFAU/brandkit-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/brandkit-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/brandkit-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/brandkit-crawler/internal/storage/postgres"
	"github.com/JakeFAU/brandkit-crawler/internal/telemetry"
)

// Version is stamped into traces; overridden at link time.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	jobs       brandkit.JobStore
	assets     brandkit.AssetStore
	owners     brandkit.OwnerStore
	sequencer  *sequencer.Sequencer
	reconciler *reconcile.Service
	apiServer  *api.Server
	scheduler  *scheduler.Scheduler

	pool           *pgxpool.Pool
	storageClient  *storage.Client
	pubsub         *gcppublisher.Publisher
	renderer       *headlessfetcher.Renderer
	tracerShutdown func(context.Context) error

	// kick coalesces local trigger messages into immediate ticks.
	kick chan struct{}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, kick: make(chan struct{}, 1)}
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure()
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	clock := system.New()
	if err := app.setupStores(ctx, clock); err != nil {
		return nil, err
	}
	blobs, err := app.setupBlobs(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	executors, err := app.setupExecutors(blobs, clock)
	if err != nil {
		return nil, err
	}

	notifier := notify.New(app.owners, logger.Named("notify"))
	app.sequencer = sequencer.New(
		app.jobs,
		app.assets,
		executors,
		notifier,
		publisher,
		clock,
		sequencer.NewRetryPolicy(cfg.Sequencer.MaxAttempts, cfg.Sequencer.MaxBackoff),
		sequencer.Config{
			BatchSize:        cfg.Sequencer.BatchSize,
			Concurrency:      cfg.Sequencer.Concurrency,
			InvocationBudget: cfg.Budget.Invocation,
			Lease:            cfg.Budget.Lease,
			StaleAfter:       cfg.Budget.StaleAfter,
			ReuseWindow:      cfg.Sequencer.ReuseWindow,
			Topic:            cfg.PubSub.TopicName,
		},
		logger.Named("sequencer"),
	)
	app.reconciler = reconcile.New(app.jobs, app.assets, notifier, logger.Named("reconcile"))

	if cfg.Scheduler.Enabled {
		app.scheduler, err = scheduler.New(cfg.Scheduler.Spec, app.sequencer, logger.Named("scheduler"))
		if err != nil {
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	deps := api.Deps{
		Jobs:       app.jobs,
		Status:     status.New(app.jobs),
		Advancer:   app.sequencer,
		Reconciler: app.reconciler,
		Publisher:  publisher,
		IDs:        uuid.New(),
		Clock:      clock,
	}
	if app.pool != nil {
		deps.Ready = app.pool.Ping
	}
	app.apiServer = api.NewServer(deps, cfg, logger.Named("api"))

	ok = true
	return app, nil
}

func (a *App) setupStores(ctx context.Context, clock brandkit.Clock) error {
	switch a.cfg.Storage.Backend {
	case "postgres":
		pool, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		a.pool = pool
		if a.jobs, err = pgstore.NewJobStore(pool); err != nil {
			return fmt.Errorf("job store init failed: %w", err)
		}
		if a.assets, err = pgstore.NewAssetStore(pool); err != nil {
			return fmt.Errorf("asset store init failed: %w", err)
		}
		if a.owners, err = pgstore.NewOwnerStore(pool); err != nil {
			return fmt.Errorf("owner store init failed: %w", err)
		}
		a.logger.Info("using postgres job store")
	default:
		a.jobs = memorystorage.NewJobStore(memorystorage.WithClock(clock))
		a.assets = memorystorage.NewAssetStore()
		a.owners = memorystorage.NewOwnerStore()
		a.logger.Info("using in-memory job store")
	}
	return nil
}

func (a *App) setupBlobs(ctx context.Context) (brandkit.BlobStore, error) {
	switch a.cfg.Storage.BlobBackend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory blob store")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (brandkit.Publisher, error) {
	if a.cfg.PubSub.Enabled {
		pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub init failed: %w", err)
		}
		a.pubsub = pub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
		return pub, nil
	}
	pub := memorypublisher.New()
	pub.Subscribe(func(memorypublisher.PublishedMessage) {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	})
	a.logger.Info("using in-memory publisher")
	return pub, nil
}

func (a *App) setupExecutors(blobs brandkit.BlobStore, clock brandkit.Clock) ([]steps.Executor, error) {
	deps := steps.Deps{
		Blobs:  blobs,
		Assets: a.assets,
		Hasher: sha256.New(),
		Clock:  clock,
		Logger: a.logger.Named("steps"),
	}
	stepCfg := steps.Config{StepTimeout: a.cfg.Budget.Step, BlobPrefix: a.cfg.Storage.Prefix}
	extractor := extract.New(extract.Config{})

	fetcher := blocklist.New(a.cfg.Fetch.Blocklist).Guard(collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetch.UserAgent,
		RespectRobots: a.cfg.Fetch.RespectRobots,
		Timeout:       a.cfg.Fetch.Timeout,
		MaxBodyBytes:  a.cfg.Fetch.MaxBodyBytes,
	}))
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Fetch.RateLimit.RPS,
		DefaultBurst: a.cfg.Fetch.RateLimit.Burst,
	})

	if a.cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewRenderer(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
			ExecPath:          a.cfg.Headless.ExecPath,
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.renderer = renderer
		a.logger.Info("using headless renderer", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}

	generator, err := newGenerator(a.cfg.Generator)
	if err != nil {
		return nil, err
	}
	a.logger.Info("using generator", zap.String("backend", generator.Name()))

	executors := []steps.Executor{
		steps.NewFetch(fetcher, limiter, extractor, detector.NewHeuristic(a.cfg.Fetch.MinTextChars), a.renderer != nil, deps, stepCfg),
		steps.NewGenerate(generator, deps, stepCfg),
	}
	if a.renderer != nil {
		executors = append(executors, steps.NewRender(a.renderer, extractor, deps, stepCfg))
	}
	return executors, nil
}

func newGenerator(cfg config.GeneratorConfig) (brandkit.Generator, error) {
	switch cfg.Backend {
	case "openai":
		gen, err := openaillm.New(openaillm.Config{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.OpenAIBaseURL,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("openai generator init failed: %w", err)
		}
		return gen, nil
	case "anthropic":
		gen, err := anthropicllm.New(anthropicllm.Config{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic generator init failed: %w", err)
		}
		return gen, nil
	default:
		return staticllm.New(), nil
	}
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Tick runs a single sequencer invocation.
func (a *App) Tick(ctx context.Context) (sequencer.Report, error) {
	report, err := a.sequencer.Advance(ctx)
	if err != nil {
		return report, fmt.Errorf("advance: %w", err)
	}
	return report, nil
}

// Reconcile re-points records from a provisional owner to a final one.
func (a *App) Reconcile(ctx context.Context, provisional, final string) (reconcile.Result, error) {
	res, err := a.reconciler.Reconcile(ctx, provisional, final)
	if err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}
	return res, nil
}

// Run starts the HTTP server and scheduler and blocks until ctx is canceled
// or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}
	if a.pubsub == nil {
		go a.runLocalTriggers(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
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
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	return a.Close(shutdownCtx)
}

// runLocalTriggers turns in-memory trigger messages into ticks so a single
// process advances jobs without waiting for the schedule.
func (a *App) runLocalTriggers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.kick:
			if _, err := a.sequencer.Advance(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("triggered tick failed", zap.Error(err))
			}
		}
	}
}

// Close releases infrastructure clients and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure() {
	if a.renderer != nil {
		a.renderer.Close()
		a.renderer = nil
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storageClient = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// Migrate applies the Postgres schema.
func Migrate(ctx context.Context, cfg config.Config) error {
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pgstore.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
