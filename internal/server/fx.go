// Package server provides the application composition root: it builds every
// component from configuration and runs the HTTP surface and the worker pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/intel-archiver/internal/api"
	"github.com/JakeFAU/intel-archiver/internal/archiver"
	"github.com/JakeFAU/intel-archiver/internal/browser"
	"github.com/JakeFAU/intel-archiver/internal/classifier"
	"github.com/JakeFAU/intel-archiver/internal/clock/system"
	"github.com/JakeFAU/intel-archiver/internal/config"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/dispatcher"
	"github.com/JakeFAU/intel-archiver/internal/extract"
	collyfetcher "github.com/JakeFAU/intel-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/intel-archiver/internal/id/uuid"
	"github.com/JakeFAU/intel-archiver/internal/logging"
	"github.com/JakeFAU/intel-archiver/internal/metrics"
	"github.com/JakeFAU/intel-archiver/internal/pipeline"
	"github.com/JakeFAU/intel-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/intel-archiver/internal/queue"
	kafkaqueue "github.com/JakeFAU/intel-archiver/internal/queue/kafka"
	memoryqueue "github.com/JakeFAU/intel-archiver/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/intel-archiver/internal/queue/pubsub"
	"github.com/JakeFAU/intel-archiver/internal/runregistry"
	memoryregistry "github.com/JakeFAU/intel-archiver/internal/runregistry/memory"
	redisregistry "github.com/JakeFAU/intel-archiver/internal/runregistry/redis"
	archivestorage "github.com/JakeFAU/intel-archiver/internal/storage"
	gcsstorage "github.com/JakeFAU/intel-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/intel-archiver/internal/storage/local"
	memorystorage "github.com/JakeFAU/intel-archiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/intel-archiver/internal/storage/postgres"
	"github.com/JakeFAU/intel-archiver/internal/telemetry"
	"github.com/JakeFAU/intel-archiver/internal/worker"
)

const runPollInterval = 500 * time.Millisecond

// catalog lists both sources and categories.
type catalog interface {
	crawler.SourceStore
	crawler.CategoryStore
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	orchestrator *pipeline.Orchestrator
	archiver     *archiver.Archiver
	dispatch     *dispatcher.Dispatcher
	registry     runregistry.Registry
	queue        queue.Queue
	apiServer    *api.Server

	// closers run in reverse registration order.
	closers []closer
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("registry_backend", cfg.Registry.Backend),
	)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	if tp != nil {
		a.onClose("tracer", tp.Shutdown)
	}

	clock := system.New()
	ids := uuid.New()

	objects, err := a.setupObjectStore(ctx)
	if err != nil {
		return err
	}
	artifacts, cat, err := a.setupDatabase(ctx)
	if err != nil {
		return err
	}
	scratch, err := localstorage.NewScratch(cfg.Storage.ScratchDir)
	if err != nil {
		return fmt.Errorf("scratch init failed: %w", err)
	}

	a.registry, err = a.setupRegistry()
	if err != nil {
		return err
	}
	a.queue, err = a.setupQueue(ctx)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.DefaultBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Browser.UserAgent,
		Timeout:     config.Seconds(cfg.Extract.FetchTimeoutSecs),
		MaxBodySize: cfg.Extract.MaxBodyBytes,
	}, limiter)

	a.archiver, err = archiver.New(archiver.Deps{
		Objects:   objects,
		Artifacts: artifacts,
		Fetcher:   fetcher,
		Scratch:   scratch,
		Clock:     clock,
		IDs:       ids,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("archiver init failed: %w", err)
	}

	relevance, err := a.setupClassifier()
	if err != nil {
		return err
	}
	extractor := extract.New(extract.Config{
		MinChars:          cfg.Extract.MinChars,
		MinWords:          cfg.Extract.MinWords,
		MinParagraphWords: cfg.Extract.MinParagraphWords,
	}, fetcher, a.logger.Named("extract"))

	connector := pipeline.BrowserConnector(browser.Config{
		Endpoint: browser.EndpointConfig{
			Host:         cfg.Browser.Host,
			Port:         cfg.Browser.Port,
			ProbeTimeout: config.Seconds(cfg.Browser.ProbeTimeoutSeconds),
		},
		Navigation: browser.NavigationPolicy{
			IdleAttempts: cfg.Browser.IdleAttempts,
			IdleTimeout:  config.Seconds(cfg.Browser.IdleTimeoutSeconds),
			LoadTimeout:  config.Seconds(cfg.Browser.LoadTimeoutSeconds),
			RetryDelay:   config.Millis(cfg.Browser.RetryDelayMs),
		},
		MaxPages:  cfg.Browser.MaxPages,
		UserAgent: cfg.Browser.UserAgent,
	}, a.logger.Named("browser"))

	stages := make([]pipeline.StageName, 0, len(cfg.Pipeline.Stages))
	for _, raw := range cfg.Pipeline.Stages {
		name, err := pipeline.ParseStageName(raw)
		if err != nil {
			return fmt.Errorf("pipeline.stages: %w", err)
		}
		stages = append(stages, name)
	}

	executor, err := pipeline.NewExecutor(pipeline.ExecutorDeps{
		Browser:    connector,
		Extractor:  extractor,
		Classifier: relevance,
		Archiver:   a.archiver,
		Registry:   a.registry,
		Clock:      clock,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("executor init failed: %w", err)
	}
	a.dispatch = dispatcher.NewPool(a.queue, executor, cfg.Pipeline.Workers,
		worker.Config{ErrorBackoff: config.Millis(cfg.Pipeline.ErrorBackoff)},
		func(i int) *zap.Logger { return a.logger.Named("worker").With(zap.Int("worker", i)) },
	)

	a.orchestrator, err = pipeline.NewOrchestrator(pipeline.Config{
		CrawlDepth: cfg.Crawl.Depth,
		Batches:    cfg.Pipeline.Batches,
		MaxPages:   cfg.Crawl.MaxPages,
		Stages:     stages,
	}, pipeline.OrchestratorDeps{
		Sources:    cat,
		Categories: cat,
		Registry:   a.registry,
		Queue:      a.dispatch,
		Browser:    connector,
		Scratch:    scratch,
		Clock:      clock,
		IDs:        ids,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.orchestrator, a.archiver, cfg.Server, a.logger.Named("api"))
	return nil
}

func (a *App) setupObjectStore(ctx context.Context) (archivestorage.ObjectStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs client", func(context.Context) error { return client.Close() })
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:     cfg.Bucket,
			RootFolder: cfg.RootFolder,
		}, a.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("gcs object store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir}, a.logger.Named("local_storage"))
		if err != nil {
			return nil, fmt.Errorf("local object store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", cfg.LocalDir))
		return store, nil
	default:
		a.logger.Warn("using in-memory storage backend; archived documents are not durable")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) (crawler.ArtifactStore, catalog, error) {
	cfg := a.cfg.Database
	if cfg.DSN == "" {
		a.logger.Warn("no database dsn configured, using in-memory artifact store and configured catalog",
			zap.Int("sources", len(a.cfg.Sources)),
			zap.Int("categories", len(a.cfg.Categories)),
		)
		return memorystorage.NewArtifactStore(), memorystorage.NewCatalog(a.cfg.Seeds(), a.cfg.Categories), nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		ArtifactsTable:  cfg.ArtifactsTable,
		SourcesTable:    cfg.SourcesTable,
		CategoriesTable: cfg.CategoriesTable,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		store.Close()
		return nil
	})
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	a.logger.Info("postgres store initialized")
	return store, store, nil
}

func (a *App) setupRegistry() (runregistry.Registry, error) {
	cfg := a.cfg.Registry
	if cfg.Backend != "redis" {
		a.logger.Info("using in-memory run registry")
		return memoryregistry.New(), nil
	}
	reg, err := redisregistry.New(redisregistry.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.Prefix,
		TTL:      cfg.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("redis registry init failed: %w", err)
	}
	a.onClose("redis registry", func(context.Context) error { return reg.Close() })
	a.logger.Info("using redis run registry", zap.String("addr", cfg.RedisAddr))
	return reg, nil
}

func (a *App) setupQueue(ctx context.Context) (queue.Queue, error) {
	var (
		q   queue.Queue
		err error
	)
	switch a.cfg.Queue.Backend {
	case "pubsub":
		q, err = pubsubqueue.New(ctx, pubsubqueue.Config{
			ProjectID:      a.cfg.PubSub.ProjectID,
			Topic:          a.cfg.PubSub.Topic,
			Subscription:   a.cfg.PubSub.Subscription,
			MaxOutstanding: a.cfg.PubSub.MaxOutstanding,
		}, a.logger.Named("pubsub"))
		a.logger.Info("using pubsub queue", zap.String("topic", a.cfg.PubSub.Topic))
	case "kafka":
		q, err = kafkaqueue.New(kafkaqueue.Config{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.Topic,
			GroupID: a.cfg.Kafka.GroupID,
		}, a.logger.Named("kafka"))
		a.logger.Info("using kafka queue", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	default:
		q = memoryqueue.NewQueue(a.cfg.Queue.Depth)
		a.logger.Info("using in-memory queue", zap.Int("depth", a.cfg.Queue.Depth))
	}
	if err != nil {
		return nil, fmt.Errorf("queue init failed: %w", err)
	}
	a.onClose("queue", func(context.Context) error { return q.Close() })
	return q, nil
}

func (a *App) setupClassifier() (*classifier.Classifier, error) {
	cfg := a.cfg.Classifier
	client, err := classifier.NewClient(classifier.ClientConfig{
		BaseURL:           cfg.BaseURL,
		ProjectID:         cfg.ProjectID,
		APIKey:            cfg.APIKey,
		Timeout:           config.Seconds(cfg.TimeoutSeconds),
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         config.Millis(cfg.BackoffInitialMs),
		MaxDelay:          config.Millis(cfg.BackoffMaxMs),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, a.logger.Named("classifier_client"))
	if err != nil {
		return nil, fmt.Errorf("classifier client init failed: %w", err)
	}
	return classifier.New(client, classifier.Config{
		PromptPrefix:        cfg.PromptPrefix,
		MaxNonASCIIFraction: cfg.MaxNonASCIIFraction,
	}, a.logger.Named("classifier")), nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Serve runs the HTTP server and the worker pool until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Pipeline.Workers))
		return a.dispatch.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Work runs only the worker pool until ctx is canceled.
func (a *App) Work(ctx context.Context) error {
	a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Pipeline.Workers))
	return a.dispatch.Run(ctx)
}

// RunOnce starts a run, serves its branches with the local worker pool and
// returns the final run record once the run reaches a terminal state.
func (a *App) RunOnce(ctx context.Context, trig pipeline.Trigger) (runregistry.Record, error) {
	workCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workDone := make(chan error, 1)
	go func() { workDone <- a.dispatch.Run(workCtx) }()

	handle, err := a.orchestrator.Start(ctx, trig)
	if err != nil {
		return runregistry.Record{}, err
	}
	log := a.logger.With(zap.String("run_id", handle.RunID))
	log.Info("run started")

	rec, err := a.awaitRun(ctx, handle.RunID)
	stopWorkers()
	if werr := <-workDone; werr != nil {
		log.Warn("worker pool exited with error", zap.Error(werr))
	}
	if err != nil {
		return rec, err
	}
	log.Info("run finished", zap.String("state", string(rec.State)), zap.Int("branches", rec.Branches))
	return rec, nil
}

func (a *App) awaitRun(ctx context.Context, runID string) (runregistry.Record, error) {
	ticker := time.NewTicker(runPollInterval)
	defer ticker.Stop()
	for {
		rec, ok, err := a.registry.Get(ctx, runID)
		if err != nil {
			return rec, fmt.Errorf("read run %s: %w", runID, err)
		}
		if ok && rec.State.Terminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			if _, err := a.orchestrator.Stop(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("stop on interrupt failed", zap.Error(err))
			}
			return rec, fmt.Errorf("await run %s: %w", runID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop cancels the current run in the shared registry.
func (a *App) Stop(ctx context.Context) (pipeline.StopResult, error) {
	return a.orchestrator.Stop(ctx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
