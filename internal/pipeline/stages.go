package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/archiver"
	"github.com/JakeFAU/intel-archiver/internal/classifier"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/extract"
)

// TextExtractor is the content extractor used by the extract stage.
type TextExtractor interface {
	Page(ctx context.Context, src extract.ParagraphSource, pageURL string) string
	PDF(ctx context.Context, pdfURL string) string
	Substantial(text string) bool
}

// RelevanceClassifier is the classifier used by the classify stage.
type RelevanceClassifier interface {
	Classify(ctx context.Context, batch []classifier.Item, cats []crawler.CategoryConfig) ([]classifier.Accepted, error)
}

// DocumentArchiver is the archiver used by the archive stage.
type DocumentArchiver interface {
	ArchivePages(ctx context.Context, renderer archiver.PageRenderer, items []classifier.Accepted) int
	ArchivePDF(ctx context.Context, item classifier.Accepted) (bool, error)
}

// RunContext is the per-branch state handed to every stage. It replaces any
// process-wide mutable state.
type RunContext struct {
	RunID      string
	BranchID   string
	Categories []crawler.CategoryConfig
	// Page is the branch's own browser tab; nil for PDF branches.
	Page   PageSession
	Logger *zap.Logger
}

type extractStage struct {
	rc        *RunContext
	extractor TextExtractor
}

func (s extractStage) Name() StageName { return StageExtract }

func (s extractStage) Run(ctx context.Context, in Payload) (Payload, error) {
	out := in
	out.Items = nil
	for _, u := range in.Unit.URLs {
		if ctx.Err() != nil {
			return out, fmt.Errorf("extract: %w", ctx.Err())
		}
		var text string
		switch in.Unit.Kind {
		case classifier.KindPDF:
			text = s.extractor.PDF(ctx, u)
		default:
			if s.rc.Page == nil {
				return out, fmt.Errorf("extract: page branch has no browser tab")
			}
			text = s.extractor.Page(ctx, s.rc.Page, u)
		}
		if !s.extractor.Substantial(text) {
			s.rc.Logger.Debug("text below substance gate", zap.String("url", u), zap.Int("chars", len(text)))
			continue
		}
		out.Items = append(out.Items, classifier.Item{URL: u, Kind: in.Unit.Kind, Text: text})
	}
	return out, nil
}

type classifyStage struct {
	rc         *RunContext
	classifier RelevanceClassifier
}

func (s classifyStage) Name() StageName { return StageClassify }

func (s classifyStage) Run(ctx context.Context, in Payload) (Payload, error) {
	out := in
	out.Accepted = nil
	if len(in.Items) == 0 {
		return out, nil
	}
	accepted, err := s.classifier.Classify(ctx, in.Items, s.rc.Categories)
	if err != nil {
		// The batch is aborted; nothing from it is archived.
		return out, fmt.Errorf("classify: %w", err)
	}
	out.Accepted = accepted
	return out, nil
}

type archiveStage struct {
	rc       *RunContext
	archiver DocumentArchiver
}

func (s archiveStage) Name() StageName { return StageArchive }

func (s archiveStage) Run(ctx context.Context, in Payload) (Payload, error) {
	out := in
	if len(in.Accepted) == 0 {
		return out, nil
	}
	if in.Unit.Kind == classifier.KindPage {
		if s.rc.Page == nil {
			return out, fmt.Errorf("archive: page branch has no browser tab")
		}
		out.Archived += s.archiver.ArchivePages(ctx, s.rc.Page, in.Accepted)
		return out, nil
	}
	for _, item := range in.Accepted {
		created, err := s.archiver.ArchivePDF(ctx, item)
		if err != nil {
			s.rc.Logger.Warn("pdf archive failed", zap.String("url", item.URL), zap.Error(err))
			continue
		}
		if created {
			out.Archived++
		}
	}
	return out, nil
}
