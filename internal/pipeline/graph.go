package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/JakeFAU/intel-archiver/internal/classifier"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/queue"
)

// BranchTask is the serialized form of one fan-out branch.
type BranchTask struct {
	RunID      string                   `json:"run_id"`
	BranchID   string                   `json:"branch_id"`
	Stages     []StageName              `json:"stages"`
	Unit       Unit                     `json:"unit"`
	Categories []crawler.CategoryConfig `json:"categories"`
}

// Validate checks the task is executable.
func (t BranchTask) Validate() error {
	if t.RunID == "" {
		return fmt.Errorf("branch task has no run id")
	}
	if err := validateChain(t.Stages); err != nil {
		return err
	}
	switch t.Unit.Kind {
	case classifier.KindPage:
		if len(t.Unit.URLs) == 0 {
			return fmt.Errorf("page branch has no urls")
		}
	case classifier.KindPDF:
		if len(t.Unit.URLs) != 1 {
			return fmt.Errorf("pdf branch must carry exactly one url, got %d", len(t.Unit.URLs))
		}
	default:
		return fmt.Errorf("unknown unit kind %q", t.Unit.Kind)
	}
	return nil
}

// Message encodes the task for the queue, keyed by run id.
func (t BranchTask) Message() (queue.Message, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return queue.Message{}, fmt.Errorf("marshal branch task: %w", err)
	}
	return queue.Message{Key: t.RunID, Body: body}, nil
}

// DecodeTask parses and validates a queued task.
func DecodeTask(msg queue.Message) (BranchTask, error) {
	var t BranchTask
	if err := json.Unmarshal(msg.Body, &t); err != nil {
		return BranchTask{}, fmt.Errorf("decode branch task: %w", err)
	}
	if err := t.Validate(); err != nil {
		return BranchTask{}, fmt.Errorf("invalid branch task: %w", err)
	}
	return t, nil
}

func validateChain(stages []StageName) error {
	if len(stages) == 0 {
		return fmt.Errorf("empty stage chain")
	}
	last := -1
	for _, s := range stages {
		rank, ok := stageRank[s]
		if !ok {
			return fmt.Errorf("unknown stage %q", s)
		}
		if rank <= last {
			return fmt.Errorf("stage %q out of order", s)
		}
		last = rank
	}
	return nil
}

// GraphBuilder composes the job graph of a run: one chain of stages that is
// fanned out over every unit.
type GraphBuilder struct {
	runID      string
	chain      []StageName
	units      []Unit
	categories []crawler.CategoryConfig
}

// NewGraph starts a graph for runID.
func NewGraph(runID string) *GraphBuilder {
	return &GraphBuilder{runID: runID}
}

// Chain appends stages to the branch chain.
func (g *GraphBuilder) Chain(stages ...StageName) *GraphBuilder {
	g.chain = append(g.chain, stages...)
	return g
}

// WithCategories attaches the categories loaded for the run.
func (g *GraphBuilder) WithCategories(cats []crawler.CategoryConfig) *GraphBuilder {
	g.categories = cats
	return g
}

// FanOut adds one branch per unit.
func (g *GraphBuilder) FanOut(units ...Unit) *GraphBuilder {
	g.units = append(g.units, units...)
	return g
}

// Build validates the graph and returns one task per branch.
func (g *GraphBuilder) Build() ([]BranchTask, error) {
	if g.runID == "" {
		return nil, fmt.Errorf("graph has no run id")
	}
	if err := validateChain(g.chain); err != nil {
		return nil, err
	}
	tasks := make([]BranchTask, 0, len(g.units))
	for i, u := range g.units {
		t := BranchTask{
			RunID:      g.runID,
			BranchID:   g.runID + "-" + strconv.Itoa(i),
			Stages:     append([]StageName(nil), g.chain...),
			Unit:       u,
			Categories: g.categories,
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
