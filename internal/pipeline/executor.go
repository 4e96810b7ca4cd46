package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/classifier"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/metrics"
	"github.com/JakeFAU/intel-archiver/internal/runregistry"
	"github.com/JakeFAU/intel-archiver/internal/telemetry"
)

// Branch outcomes.
const (
	OutcomeDone      = "done"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// BranchResult summarizes one executed branch.
type BranchResult struct {
	BranchID  string
	Outcome   string
	Extracted int
	Accepted  int
	Archived  int
}

// Interrupted reports whether shutdown cut the branch short. Interrupted
// branches are redelivered rather than settled.
func Interrupted(ctx context.Context, result BranchResult) bool {
	return ctx.Err() != nil && result.Outcome != OutcomeDone
}

// ExecutorDeps bundles the branch collaborators.
type ExecutorDeps struct {
	Browser    Connector
	Extractor  TextExtractor
	Classifier RelevanceClassifier
	Archiver   DocumentArchiver
	Registry   runregistry.Registry
	Clock      crawler.Clock
	Logger     *zap.Logger
}

// Executor runs branch tasks taken from the queue.
type Executor struct {
	deps   ExecutorDeps
	logger *zap.Logger
}

// NewExecutor validates deps.
func NewExecutor(deps ExecutorDeps) (*Executor, error) {
	switch {
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case deps.Archiver == nil:
		return nil, fmt.Errorf("archiver is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("run registry is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{deps: deps, logger: logger.Named("branch")}, nil
}

func (e *Executor) stage(name StageName, rc *RunContext) (Stage, error) {
	switch name {
	case StageExtract:
		return extractStage{rc: rc, extractor: e.deps.Extractor}, nil
	case StageClassify:
		return classifyStage{rc: rc, classifier: e.deps.Classifier}, nil
	case StageArchive:
		return archiveStage{rc: rc, archiver: e.deps.Archiver}, nil
	default:
		return nil, fmt.Errorf("unknown stage %q", name)
	}
}

// cancelled consults the run registry. Lookup errors never stop a branch.
func (e *Executor) cancelled(ctx context.Context, runID string, log *zap.Logger) bool {
	if ctx.Err() != nil {
		return true
	}
	stop, err := e.deps.Registry.IsCancelled(ctx, runID)
	if err != nil {
		log.Warn("run registry lookup failed", zap.Error(err))
		return false
	}
	return stop
}

// Execute runs the task's stage chain sequentially, checking for run
// cancellation before each stage. Stage failures end the branch and are
// returned; they never affect other branches.
func (e *Executor) Execute(ctx context.Context, task BranchTask) (BranchResult, error) {
	start := e.deps.Clock.Now()
	log := e.logger.With(
		zap.String("run_id", task.RunID),
		zap.String("branch_id", task.BranchID),
		zap.String("kind", string(task.Unit.Kind)),
	)
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.branch")
	span.SetAttributes(
		attribute.String("run.id", task.RunID),
		attribute.String("branch.id", task.BranchID),
		attribute.Int("branch.urls", len(task.Unit.URLs)),
	)
	defer span.End()

	result := BranchResult{BranchID: task.BranchID, Outcome: OutcomeDone}
	defer func() {
		elapsed := e.deps.Clock.Now().Sub(start)
		metrics.ObserveBranch(string(task.Unit.Kind), result.Outcome, elapsed)
		if Interrupted(ctx, result) {
			// The message goes back on the queue; its redelivery is counted.
			log.Info("branch interrupted, completion deferred to redelivery")
			return
		}
		// Counted on a detached context so a cancelled worker still settles the run.
		doneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.deps.Registry.BranchDone(doneCtx, task.RunID, e.deps.Clock.Now()); err != nil {
			log.Warn("branch completion not recorded", zap.Error(err))
		}
		log.Info("branch finished",
			zap.String("outcome", result.Outcome),
			zap.Int("extracted", result.Extracted),
			zap.Int("accepted", result.Accepted),
			zap.Int("archived", result.Archived),
			zap.Duration("elapsed", elapsed),
		)
	}()

	if err := task.Validate(); err != nil {
		result.Outcome = OutcomeFailed
		return result, err
	}
	if e.cancelled(ctx, task.RunID, log) {
		result.Outcome = OutcomeCancelled
		return result, nil
	}

	rc := &RunContext{
		RunID:      task.RunID,
		BranchID:   task.BranchID,
		Categories: task.Categories,
		Logger:     log,
	}
	if task.Unit.Kind == classifier.KindPage {
		page, closeFn, err := e.openPage(ctx)
		if err != nil {
			result.Outcome = OutcomeFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, "browser unavailable")
			return result, err
		}
		defer closeFn()
		rc.Page = page
	}

	payload := Payload{Unit: task.Unit}
	for _, name := range task.Stages {
		if e.cancelled(ctx, task.RunID, log) {
			log.Info("run cancelled, stopping branch", zap.String("before_stage", string(name)))
			result.Outcome = OutcomeCancelled
			return result, nil
		}
		stage, err := e.stage(name, rc)
		if err != nil {
			result.Outcome = OutcomeFailed
			return result, err
		}
		stageCtx, stageSpan := telemetry.Tracer().Start(ctx, "pipeline.stage."+string(name))
		payload, err = stage.Run(stageCtx, payload)
		stageSpan.End()
		result.Extracted = len(payload.Items)
		result.Accepted = len(payload.Accepted)
		result.Archived = payload.Archived
		if err != nil {
			result.Outcome = OutcomeFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, string(name)+" failed")
			return result, fmt.Errorf("stage %s: %w", name, err)
		}
	}
	return result, nil
}

func (e *Executor) openPage(ctx context.Context) (PageSession, func(), error) {
	if e.deps.Browser == nil {
		return nil, nil, fmt.Errorf("browser connector is not configured")
	}
	session, err := e.deps.Browser.Connect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("connect browser: %w", err)
	}
	page, err := session.NewPage(ctx)
	if err != nil {
		session.Close()
		return nil, nil, fmt.Errorf("open page: %w", err)
	}
	return page, func() {
		page.Close()
		session.Close()
	}, nil
}
