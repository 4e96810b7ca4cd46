package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/intel-archiver/internal/archiver"
	"github.com/JakeFAU/intel-archiver/internal/classifier"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/extract"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

type fakePage struct {
	links  map[string][]string
	closed atomic.Bool
	block  bool
}

func (p *fakePage) Links(ctx context.Context, pageURL string) ([]string, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.links[pageURL], nil
}

func (p *fakePage) Paragraphs(_ context.Context, pageURL string) ([]string, error) {
	return []string{"paragraph for " + pageURL}, nil
}

func (p *fakePage) RenderPDF(_ context.Context, pageURL string) ([]byte, error) {
	return []byte("%PDF " + pageURL), nil
}

func (p *fakePage) Close() { p.closed.Store(true) }

type fakeSession struct {
	page   *fakePage
	closed atomic.Bool
}

func (s *fakeSession) NewPage(context.Context) (PageSession, error) { return s.page, nil }

func (s *fakeSession) Close() { s.closed.Store(true) }

type fakeConnector struct {
	session *fakeSession
	err     error
	calls   atomic.Int32
}

func (c *fakeConnector) Connect(context.Context) (BrowserSession, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.session, nil
}

type fakeExtractor struct {
	pdfText string
}

func (fakeExtractor) Page(ctx context.Context, src extract.ParagraphSource, pageURL string) string {
	paragraphs, err := src.Paragraphs(ctx, pageURL)
	if err != nil || len(paragraphs) == 0 {
		return ""
	}
	return paragraphs[0]
}

func (f fakeExtractor) PDF(context.Context, string) string { return f.pdfText }

func (fakeExtractor) Substantial(text string) bool { return text != "" }

type fakeClassifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeClassifier) Classify(_ context.Context, batch []classifier.Item, cats []crawler.CategoryConfig) ([]classifier.Accepted, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]classifier.Accepted, 0, len(batch))
	for _, it := range batch {
		out = append(out, classifier.Accepted{URL: it.URL, Kind: it.Kind, Category: cats[0].Name, Folder: cats[0].Folder(), Confidence: 0.9})
	}
	return out, nil
}

type fakeArchiver struct {
	mu     sync.Mutex
	pages  []string
	pdfs   []string
	pdfErr error
}

func (f *fakeArchiver) ArchivePages(ctx context.Context, renderer archiver.PageRenderer, items []classifier.Accepted) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range items {
		if _, err := renderer.RenderPDF(ctx, it.URL); err == nil {
			f.pages = append(f.pages, it.URL)
			n++
		}
	}
	return n
}

func (f *fakeArchiver) ArchivePDF(_ context.Context, item classifier.Accepted) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pdfErr != nil {
		return false, f.pdfErr
	}
	f.pdfs = append(f.pdfs, item.URL)
	return true, nil
}

var errBoom = errors.New("boom")
