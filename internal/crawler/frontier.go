package crawler

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/metrics"
)

// LinkKind is the classification of one outbound link.
type LinkKind string

// Link kinds produced by ClassifyLink.
const (
	LinkRejected LinkKind = "rejected"
	LinkArticle  LinkKind = "article"
	LinkPDF      LinkKind = "pdf"
	LinkExcluded LinkKind = "excluded"
)

// LinkDecision is the outcome of classifying one href found on a page.
type LinkDecision struct {
	Kind    LinkKind
	URL     string
	Enqueue bool
}

// ClassifyLink applies the frontier rules to one href found while visiting
// item. Relative hrefs are resolved against page.
func ClassifyLink(page *url.URL, href string, item FrontierItem) LinkDecision {
	link, err := url.Parse(href)
	if err != nil {
		return LinkDecision{Kind: LinkRejected}
	}
	switch link.Scheme {
	case "", "http", "https":
	default:
		return LinkDecision{Kind: LinkRejected}
	}
	if !SameDomain(link.Host, page.Host) {
		return LinkDecision{Kind: LinkRejected}
	}
	resolved := page.ResolveReference(link)
	built := BuildURL(page, resolved)

	if IsPDF(resolved.Path) {
		if item.TargetType.AllowsPDFs() {
			return LinkDecision{Kind: LinkPDF, URL: built}
		}
		return LinkDecision{Kind: LinkExcluded, URL: built}
	}
	kind := LinkExcluded
	if item.TargetType.AllowsPages() && LooksLikeArticle(resolved.Path) {
		kind = LinkArticle
	}
	return LinkDecision{Kind: kind, URL: built, Enqueue: true}
}

// FrontierOption customizes a Frontier.
type FrontierOption func(*Frontier)

// WithMaxPages caps the number of pages visited in one crawl; 0 means no cap.
func WithMaxPages(n int) FrontierOption {
	return func(f *Frontier) {
		f.maxPages = n
	}
}

// Frontier runs the depth-bounded, domain-scoped traversal. A Frontier is
// single-threaded and drives one LinkSource (one browser page) per crawl.
type Frontier struct {
	links    LinkSource
	logger   *zap.Logger
	maxPages int
}

// NewFrontier constructs a Frontier.
func NewFrontier(links LinkSource, logger *zap.Logger, opts ...FrontierOption) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Frontier{links: links, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type crawlState struct {
	visited  map[string]struct{}
	articles map[string]struct{}
	pdfs     map[string]struct{}
	excluded map[string]struct{}
}

func newCrawlState() *crawlState {
	return &crawlState{
		visited:  make(map[string]struct{}),
		articles: make(map[string]struct{}),
		pdfs:     make(map[string]struct{}),
		excluded: make(map[string]struct{}),
	}
}

func (s *crawlState) record(d LinkDecision) {
	switch d.Kind {
	case LinkArticle:
		s.articles[d.URL] = struct{}{}
		delete(s.excluded, d.URL)
	case LinkPDF:
		s.pdfs[d.URL] = struct{}{}
		delete(s.excluded, d.URL)
	case LinkExcluded:
		_, isArticle := s.articles[d.URL]
		_, isPDF := s.pdfs[d.URL]
		if !isArticle && !isPDF {
			s.excluded[d.URL] = struct{}{}
		}
	}
}

func (s *crawlState) result() CrawlResult {
	return CrawlResult{
		ArticleURLs:  sortedKeys(s.articles),
		PDFURLs:      sortedKeys(s.pdfs),
		ExcludedURLs: sortedKeys(s.excluded),
	}
}

// Crawl traverses from seeds until the stack is empty. Navigation failures
// never abort the crawl; only context cancellation does, in which case the
// partial result is returned with the error.
func (f *Frontier) Crawl(ctx context.Context, seeds []FrontierItem) (CrawlResult, error) {
	if f.links == nil {
		return CrawlResult{}, fmt.Errorf("frontier has no link source")
	}
	state := newCrawlState()
	stack := append([]FrontierItem(nil), seeds...)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return state.result(), fmt.Errorf("crawl canceled: %w", err)
		}
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if item.DepthRemaining <= 0 {
			continue
		}
		pageURL := item.URL()
		if _, seen := state.visited[pageURL]; seen {
			continue
		}
		if f.maxPages > 0 && len(state.visited) >= f.maxPages {
			f.logger.Warn("page cap reached, stopping traversal", zap.Int("max_pages", f.maxPages))
			break
		}
		state.visited[pageURL] = struct{}{}

		page, err := url.Parse(pageURL)
		if err != nil {
			f.logger.Warn("skipping unparsable frontier item", zap.String("url", pageURL), zap.Error(err))
			continue
		}

		hrefs, err := f.links.Links(ctx, pageURL)
		if err != nil {
			f.logger.Warn("link collection failed", zap.String("url", pageURL), zap.Error(err))
			metrics.ObservePageCrawled(pageURL, "failed")
			continue
		}
		metrics.ObservePageCrawled(pageURL, "ok")

		for _, href := range hrefs {
			decision := ClassifyLink(page, href, item)
			metrics.ObserveLink(string(decision.Kind))
			if decision.Kind == LinkRejected {
				continue
			}
			state.record(decision)
			if !decision.Enqueue || item.DepthRemaining-1 <= 0 {
				continue
			}
			child, err := childItem(decision.URL, item)
			if err != nil {
				continue
			}
			if _, seen := state.visited[child.URL()]; seen {
				continue
			}
			stack = append(stack, child)
		}
		f.logger.Debug("page crawled",
			zap.String("url", pageURL),
			zap.Int("links", len(hrefs)),
			zap.Int("depth_remaining", item.DepthRemaining),
			zap.Int("pending", len(stack)),
		)
	}

	res := state.result()
	f.logger.Info("crawl complete",
		zap.Int("visited", len(state.visited)),
		zap.Int("articles", len(res.ArticleURLs)),
		zap.Int("pdfs", len(res.PDFURLs)),
		zap.Int("excluded", len(res.ExcludedURLs)),
	)
	return res, nil
}

func childItem(built string, parent FrontierItem) (FrontierItem, error) {
	u, err := url.Parse(built)
	if err != nil {
		return FrontierItem{}, fmt.Errorf("parse child url: %w", err)
	}
	return FrontierItem{
		Scheme:         u.Scheme,
		Netloc:         u.Host,
		Path:           u.Path,
		DepthRemaining: parent.DepthRemaining - 1,
		TargetType:     parent.TargetType,
	}, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
