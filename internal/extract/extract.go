// Package extract turns fetched pages and PDFs into plain text for
// classification.
package extract

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/intel-archiver/internal/fetcher/colly"
)

// Config tunes the substance gate.
type Config struct {
	// MinChars is the minimum trimmed length of text worth classifying.
	MinChars int `mapstructure:"min_chars"`
	// MinWords, when positive, additionally requires more than this many words.
	MinWords int `mapstructure:"min_words"`
	// MinParagraphWords drops paragraphs with this many words or fewer.
	MinParagraphWords int `mapstructure:"min_paragraph_words"`
}

// DefaultConfig returns the production gate.
func DefaultConfig() Config {
	return Config{MinChars: 200, MinParagraphWords: 3}
}

// ParagraphSource loads a page and returns its paragraph texts.
type ParagraphSource interface {
	Paragraphs(ctx context.Context, pageURL string) ([]string, error)
}

// DocumentFetcher downloads a raw resource.
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (collyfetcher.Document, error)
}

// Extractor produces text for classification. Every failure degrades to "".
type Extractor struct {
	cfg     Config
	fetcher DocumentFetcher
	logger  *zap.Logger
}

// New constructs an Extractor.
func New(cfg Config, fetcher DocumentFetcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinParagraphWords <= 0 {
		cfg.MinParagraphWords = DefaultConfig().MinParagraphWords
	}
	return &Extractor{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Page returns the joined paragraph text of pageURL loaded through src.
func (e *Extractor) Page(ctx context.Context, src ParagraphSource, pageURL string) string {
	paragraphs, err := src.Paragraphs(ctx, pageURL)
	if err != nil {
		e.logger.Warn("page extraction failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	return JoinParagraphs(paragraphs, e.cfg.MinParagraphWords)
}

// PDF downloads pdfURL and returns its text layer.
func (e *Extractor) PDF(ctx context.Context, pdfURL string) string {
	doc, err := e.fetcher.Fetch(ctx, pdfURL)
	if err != nil {
		e.logger.Warn("pdf fetch failed", zap.String("url", pdfURL), zap.Error(err))
		return ""
	}
	text, err := PDFText(doc.Body)
	if err != nil {
		e.logger.Warn("pdf parse failed", zap.String("url", pdfURL), zap.Error(err))
		return ""
	}
	return text
}

// Substantial reports whether text passes the gate.
func (e *Extractor) Substantial(text string) bool {
	return Substantial(text, e.cfg)
}

// Substantial reports whether text has at least cfg.MinChars characters and,
// when cfg.MinWords is positive, more than cfg.MinWords words.
func Substantial(text string, cfg Config) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if utf8.RuneCountInString(trimmed) < cfg.MinChars {
		return false
	}
	if cfg.MinWords > 0 && len(strings.Fields(trimmed)) <= cfg.MinWords {
		return false
	}
	return true
}

// JoinParagraphs trims each paragraph, drops those with minWords words or
// fewer and joins the rest with single spaces.
func JoinParagraphs(paragraphs []string, minWords int) string {
	kept := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if len(strings.Fields(p)) <= minWords {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, " ")
}
