package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/metrics"
	"github.com/JakeFAU/intel-archiver/internal/queue"
	"github.com/JakeFAU/intel-archiver/internal/runregistry"
	"github.com/JakeFAU/intel-archiver/internal/telemetry"
)

var (
	// ErrNoActiveSources rejects a trigger without any active seed.
	ErrNoActiveSources = errors.New("no active sources")
	// ErrNoCategories fails a run that has nothing to classify against.
	ErrNoCategories = errors.New("no categories configured")
)

// Run states reported in logs and metrics.
const (
	StateInit            = "INIT"
	StateBrowserAcquired = "BROWSER_ACQUIRED"
	StateCrawling        = "CRAWLING"
	StateBatching        = "BATCHING"
	StateFannedOut       = "FANNED_OUT"
	StateFailed          = "FAILED"
	StateStopped         = "STOPPED"
)

// StopResult is the outcome of a stop request.
type StopResult string

// Stop outcomes.
const (
	StopStopped    StopResult = "stopped"
	StopNotRunning StopResult = "not_running"
	StopNoRunFound StopResult = "no_run_found"
)

// Trigger starts a run. When Sources is empty the configured source store is
// used.
type Trigger struct {
	Sources    []crawler.Source `json:"sources"`
	CrawlDepth int              `json:"crawl_depth"`
}

// RunHandle identifies a started run. Done is closed when the coordinating
// goroutine has fanned out or failed; callers are not expected to wait on it.
type RunHandle struct {
	RunID string
	Done  <-chan struct{}
}

// Submitter accepts queued branch tasks.
type Submitter interface {
	Enqueue(ctx context.Context, msg queue.Message) error
}

// Scratch is the run-scoped staging area.
type Scratch interface {
	Wipe() error
}

// Config tunes the coordinating phase.
type Config struct {
	CrawlDepth int         `mapstructure:"crawl_depth"`
	Batches    int         `mapstructure:"batches"`
	MaxPages   int         `mapstructure:"max_pages"`
	Stages     []StageName `mapstructure:"stages"`
}

// OrchestratorDeps bundles the coordinating collaborators.
type OrchestratorDeps struct {
	Sources    crawler.SourceStore
	Categories crawler.CategoryStore
	Registry   runregistry.Registry
	Queue      Submitter
	Browser    Connector
	Scratch    Scratch
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Logger     *zap.Logger
}

// Orchestrator starts and stops runs.
type Orchestrator struct {
	cfg    Config
	deps   OrchestratorDeps
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewOrchestrator validates deps and applies config defaults.
func NewOrchestrator(cfg Config, deps OrchestratorDeps) (*Orchestrator, error) {
	switch {
	case deps.Categories == nil:
		return nil, fmt.Errorf("category store is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("run registry is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case deps.Browser == nil:
		return nil, fmt.Errorf("browser connector is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.CrawlDepth <= 0 {
		cfg.CrawlDepth = 2
	}
	if cfg.Batches <= 0 {
		cfg.Batches = 4
	}
	if len(cfg.Stages) == 0 {
		cfg.Stages = DefaultStages()
	}
	if err := validateChain(cfg.Stages); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("orchestrator"),
		active: make(map[string]context.CancelFunc),
	}, nil
}

// Start validates the trigger, registers the run and launches it in the
// background. It returns as soon as the run is registered.
func (o *Orchestrator) Start(ctx context.Context, trig Trigger) (RunHandle, error) {
	sources := trig.Sources
	if len(sources) == 0 && o.deps.Sources != nil {
		stored, err := o.deps.Sources.ListSources(ctx)
		if err != nil {
			return RunHandle{}, fmt.Errorf("list sources: %w", err)
		}
		sources = stored
	}
	active := crawler.ActiveSources(sources)
	if len(active) == 0 {
		return RunHandle{}, ErrNoActiveSources
	}
	depth := trig.CrawlDepth
	if depth <= 0 {
		depth = o.cfg.CrawlDepth
	}

	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return RunHandle{}, fmt.Errorf("generate run id: %w", err)
	}
	if err := o.deps.Registry.Begin(ctx, runID, o.deps.Clock.Now()); err != nil {
		return RunHandle{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.active[runID] = cancel
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			o.mu.Lock()
			delete(o.active, runID)
			o.mu.Unlock()
			cancel()
		}()
		o.run(runCtx, runID, active, depth)
	}()
	o.logger.Info("run accepted", zap.String("run_id", runID), zap.Int("sources", len(active)), zap.Int("depth", depth))
	return RunHandle{RunID: runID, Done: done}, nil
}

// Stop cancels the current run if it is running.
func (o *Orchestrator) Stop(ctx context.Context) (StopResult, error) {
	rec, found, err := o.deps.Registry.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("read current run: %w", err)
	}
	if !found {
		return StopNoRunFound, nil
	}
	if rec.State != runregistry.StateRunning {
		return StopNotRunning, nil
	}
	if err := o.deps.Registry.Cancel(ctx, rec.RunID, o.deps.Clock.Now()); err != nil {
		return "", fmt.Errorf("cancel run %s: %w", rec.RunID, err)
	}
	o.mu.Lock()
	cancel, local := o.active[rec.RunID]
	o.mu.Unlock()
	if local {
		cancel()
	}
	metrics.ObserveRun(StateStopped)
	o.logger.Info("run stopped", zap.String("run_id", rec.RunID), zap.Bool("coordinator_local", local))
	return StopStopped, nil
}

// Status returns the current run record.
func (o *Orchestrator) Status(ctx context.Context) (runregistry.Record, bool, error) {
	return o.deps.Registry.Current(ctx)
}

func (o *Orchestrator) run(ctx context.Context, runID string, sources []crawler.Source, depth int) {
	log := o.logger.With(zap.String("run_id", runID))
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("run.id", runID), attribute.Int("run.sources", len(sources)))
	defer span.End()

	if err := o.coordinate(ctx, runID, sources, depth, log); err != nil {
		state, regState := StateFailed, runregistry.StateFailed
		if ctx.Err() != nil {
			state, regState = StateStopped, runregistry.StateStopped
		}
		metrics.ObserveRun(state)
		span.RecordError(err)
		span.SetStatus(codes.Error, state)
		log.Error("run ended before fan-out", zap.String("state", state), zap.Error(err))
		finishCtx := context.WithoutCancel(ctx)
		if ferr := o.deps.Registry.Finish(finishCtx, runID, regState, err.Error(), o.deps.Clock.Now()); ferr != nil {
			log.Warn("run state not recorded", zap.Error(ferr))
		}
	}
}

func (o *Orchestrator) enter(state string, log *zap.Logger) {
	metrics.ObserveRun(state)
	log.Info("run state", zap.String("state", state))
}

func (o *Orchestrator) coordinate(ctx context.Context, runID string, sources []crawler.Source, depth int, log *zap.Logger) error {
	o.enter(StateInit, log)
	if o.deps.Scratch != nil {
		if err := o.deps.Scratch.Wipe(); err != nil {
			return fmt.Errorf("wipe scratch: %w", err)
		}
	}
	categories, err := o.deps.Categories.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	if len(categories) == 0 {
		return ErrNoCategories
	}

	session, err := o.deps.Browser.Connect(ctx)
	if err != nil {
		return fmt.Errorf("acquire browser: %w", err)
	}
	o.enter(StateBrowserAcquired, log)
	result, err := o.crawl(ctx, session, sources, depth, log)
	session.Close()
	if err != nil {
		return err
	}

	if stop, err := o.deps.Registry.IsCancelled(ctx, runID); err == nil && stop {
		return fmt.Errorf("run cancelled after crawl: %w", context.Canceled)
	}

	o.enter(StateBatching, log)
	units := Units(result, o.cfg.Batches)
	tasks, err := NewGraph(runID).
		Chain(o.cfg.Stages...).
		WithCategories(categories).
		FanOut(units...).
		Build()
	if err != nil {
		return fmt.Errorf("build job graph: %w", err)
	}

	for _, task := range tasks {
		msg, err := task.Message()
		if err != nil {
			return err
		}
		queue.InjectTrace(ctx, &msg)
		if err := o.deps.Queue.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("submit branch %s: %w", task.BranchID, err)
		}
	}
	if err := o.deps.Registry.SetBranches(ctx, runID, len(tasks), o.deps.Clock.Now()); err != nil {
		log.Warn("fan-out width not recorded", zap.Error(err))
	}
	o.enter(StateFannedOut, log)
	log.Info("branches submitted",
		zap.Int("branches", len(tasks)),
		zap.Int("articles", len(result.ArticleURLs)),
		zap.Int("pdfs", len(result.PDFURLs)),
	)
	return nil
}

func (o *Orchestrator) crawl(
	ctx context.Context,
	session BrowserSession,
	sources []crawler.Source,
	depth int,
	log *zap.Logger,
) (crawler.CrawlResult, error) {
	page, err := session.NewPage(ctx)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("open crawl page: %w", err)
	}
	defer page.Close()

	o.enter(StateCrawling, log)
	seeds := make([]crawler.FrontierItem, 0, len(sources))
	for _, s := range sources {
		seeds = append(seeds, s.Seed(depth))
	}
	frontier := crawler.NewFrontier(page, log.Named("frontier"), crawler.WithMaxPages(o.cfg.MaxPages))
	return frontier.Crawl(ctx, seeds)
}
