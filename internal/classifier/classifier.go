package classifier

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/metrics"
)

// ItemKind says how an item was extracted and how it will be archived.
type ItemKind string

// Item kinds.
const (
	KindPage ItemKind = "page"
	KindPDF  ItemKind = "pdf"
)

// Item is one extracted text awaiting classification.
type Item struct {
	URL  string   `json:"url"`
	Kind ItemKind `json:"kind"`
	Text string   `json:"text,omitempty"`
}

// Accepted is an item whose best category met its threshold.
type Accepted struct {
	URL        string   `json:"url"`
	Kind       ItemKind `json:"kind"`
	Category   string   `json:"category"`
	Folder     string   `json:"folder"`
	Confidence float64  `json:"confidence"`
}

// Conversations is the subset of the API used by a Classifier.
type Conversations interface {
	CreateConversation(ctx context.Context) (string, error)
	Ask(ctx context.Context, conversationID, query string) (string, error)
}

// Config tunes prompt construction and the input filter.
type Config struct {
	// PromptPrefix is prepended to every query, followed by the category list.
	PromptPrefix string
	// MaxNonASCIIFraction drops texts losing more than this share when cleaned.
	MaxNonASCIIFraction float64
}

// DefaultPromptPrefix asks for the ranking format ParseRanking accepts.
const DefaultPromptPrefix = "Rate how relevant the following content is to each category. " +
	"Respond only with a JSON array of objects with a string \"name\" and a numeric \"confidence\" between 0 and 1."

// Classifier runs one conversation per batch.
type Classifier struct {
	api    Conversations
	cfg    Config
	logger *zap.Logger
}

// New constructs a Classifier.
func New(api Conversations, cfg Config, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxNonASCIIFraction <= 0 {
		cfg.MaxNonASCIIFraction = DefaultMaxNonASCIIFraction
	}
	if cfg.PromptPrefix == "" {
		cfg.PromptPrefix = DefaultPromptPrefix
	}
	return &Classifier{api: api, cfg: cfg, logger: logger}
}

// Classify scores every eligible item in batch and returns those accepted.
// A malformed response or API failure aborts the rest of the batch and is
// returned alongside the items accepted so far.
func (c *Classifier) Classify(ctx context.Context, batch []Item, cats []crawler.CategoryConfig) ([]Accepted, error) {
	type eligibleItem struct {
		item    Item
		cleaned string
	}
	eligible := make([]eligibleItem, 0, len(batch))
	for _, item := range batch {
		cleaned, ok := Eligible(item.Text, c.cfg.MaxNonASCIIFraction)
		if !ok {
			metrics.ObserveClassification("ineligible")
			c.logger.Debug("item dropped before classification", zap.String("url", item.URL))
			continue
		}
		eligible = append(eligible, eligibleItem{item: item, cleaned: cleaned})
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	conversation, err := c.api.CreateConversation(ctx)
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}
	prefix := BuildPrefix(c.cfg.PromptPrefix, cats)

	var accepted []Accepted
	for _, e := range eligible {
		if err := ctx.Err(); err != nil {
			return accepted, fmt.Errorf("classify canceled: %w", err)
		}
		raw, err := c.api.Ask(ctx, conversation, prefix+e.cleaned)
		if err != nil {
			return accepted, fmt.Errorf("classify %s: %w", e.item.URL, err)
		}
		rankings, err := ParseRanking(raw)
		if err != nil {
			metrics.ObserveClassification("malformed")
			return accepted, fmt.Errorf("classify %s: %w", e.item.URL, err)
		}
		best, _ := Best(rankings)
		result, cat := Decide(best, rankings, cats)
		if result.Category == nil {
			metrics.ObserveClassification("rejected")
			c.logger.Debug("item rejected",
				zap.String("url", e.item.URL),
				zap.String("best", best.Name),
				zap.Float64("confidence", best.Confidence),
			)
			continue
		}
		metrics.ObserveClassification("accepted")
		accepted = append(accepted, Accepted{
			URL:        e.item.URL,
			Kind:       e.item.Kind,
			Category:   cat.Name,
			Folder:     cat.Folder(),
			Confidence: result.Confidence,
		})
	}
	return accepted, nil
}

// Decide applies the threshold of the best category. The result's Category is
// nil when the name is not configured or the confidence is below threshold.
func Decide(best Ranking, rankings []Ranking, cats []crawler.CategoryConfig) (crawler.ClassificationResult, crawler.CategoryConfig) {
	result := crawler.ClassificationResult{Confidence: best.Confidence}
	if len(rankings) == 0 {
		return result, crawler.CategoryConfig{}
	}
	for _, cat := range cats {
		if cat.Name != best.Name {
			continue
		}
		if best.Confidence >= cat.MinRelevanceThreshold {
			name := cat.Name
			result.Category = &name
			return result, cat
		}
		break
	}
	return result, crawler.CategoryConfig{}
}

// BuildPrefix renders the instruction block sent ahead of each text.
func BuildPrefix(prompt string, cats []crawler.CategoryConfig) string {
	names := make([]string, 0, len(cats))
	for _, cat := range cats {
		names = append(names, cat.Name)
	}
	return prompt + "\nCategories: " + strings.Join(names, ", ") + "\n\nContent:\n"
}
