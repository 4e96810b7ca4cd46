// Package pipeline coordinates a run: crawl the seeds, batch the results and
// fan out extract, classify and archive branches through the task queue.
package pipeline

import (
	"context"
	"fmt"

	"github.com/JakeFAU/intel-archiver/internal/classifier"
)

// StageName identifies one step of a branch. The set is closed.
type StageName string

// Branch stages in execution order.
const (
	StageExtract  StageName = "extract"
	StageClassify StageName = "classify"
	StageArchive  StageName = "archive"
)

var stageRank = map[StageName]int{
	StageExtract:  0,
	StageClassify: 1,
	StageArchive:  2,
}

// DefaultStages is the full branch chain.
func DefaultStages() []StageName {
	return []StageName{StageExtract, StageClassify, StageArchive}
}

// ParseStageName validates raw against the closed stage set.
func ParseStageName(raw string) (StageName, error) {
	name := StageName(raw)
	if _, ok := stageRank[name]; !ok {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return name, nil
}

// Unit is the work of one branch: a batch of article URLs or a single PDF.
type Unit struct {
	Kind classifier.ItemKind `json:"kind"`
	URLs []string            `json:"urls"`
}

// Payload flows through the stages of one branch. Each stage reads what the
// previous one produced.
type Payload struct {
	Unit     Unit
	Items    []classifier.Item
	Accepted []classifier.Accepted
	Archived int
}

// Stage is one step of a branch chain.
type Stage interface {
	Name() StageName
	Run(ctx context.Context, in Payload) (Payload, error)
}
