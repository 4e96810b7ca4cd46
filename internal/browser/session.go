package browser

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls the session provider.
type Config struct {
	Endpoint   EndpointConfig
	Navigation NavigationPolicy
	MaxPages   int
	UserAgent  string
}

// Provider owns the connection to one remote browser and hands out page
// handles. MaxPages bounds the number of concurrently open handles.
type Provider struct {
	cfg         Config
	logger      *zap.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// Connect resolves the browser endpoint and attaches a remote allocator to it.
// The returned Provider must be closed when the run ends.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0")
	}
	wsURL, err := NewResolver(cfg.Endpoint).Resolve(ctx)
	if err != nil {
		return nil, err
	}
	var limiter chan struct{}
	if cfg.MaxPages > 0 {
		limiter = make(chan struct{}, cfg.MaxPages)
	}
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	logger.Info("browser endpoint resolved", zap.String("ws_url", wsURL))
	return &Provider{
		cfg:         cfg,
		logger:      logger,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close detaches from the remote browser.
func (p *Provider) Close() {
	p.allocCancel()
}

// NewPage opens a fresh tab. The caller must Close the page.
func (p *Provider) NewPage(ctx context.Context) (*Page, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(p.allocator)
	// The first Run allocates the tab; it must use the long-lived tab context
	// so a per-navigation timeout never tears the tab down.
	if err := chromedp.Run(tabCtx, p.networkSetupAction()); err != nil {
		tabCancel()
		p.release()
		return nil, fmt.Errorf("open browser tab: %w", err)
	}
	return &Page{
		tab:     tabCtx,
		cancel:  tabCancel,
		policy:  p.cfg.Navigation,
		logger:  p.logger,
		release: p.release,
	}, nil
}

func (p *Provider) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (p *Provider) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser page wait canceled: %w", ctx.Err())
	}
}

func (p *Provider) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

// Page is one browser tab. A Page is not safe for concurrent use.
type Page struct {
	tab     context.Context
	cancel  context.CancelFunc
	policy  NavigationPolicy
	logger  *zap.Logger
	release func()
	once    sync.Once
}

// Close closes the tab and returns its slot to the provider.
func (pg *Page) Close() {
	pg.once.Do(func() {
		pg.cancel()
		pg.release()
	})
}

// Links navigates to pageURL and returns every anchor target as an absolute
// URL resolved against the final document location.
func (pg *Page) Links(ctx context.Context, pageURL string) ([]string, error) {
	html, location, err := pg.load(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(location)
	if err != nil || base.Host == "" {
		base, _ = url.Parse(pageURL)
	}
	return ExtractLinks(html, base)
}

// Paragraphs navigates to pageURL and returns the trimmed text of every
// paragraph element.
func (pg *Page) Paragraphs(ctx context.Context, pageURL string) ([]string, error) {
	html, _, err := pg.load(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return ExtractParagraphs(html)
}

// RenderPDF navigates to pageURL and prints it to PDF.
func (pg *Page) RenderPDF(ctx context.Context, pageURL string) ([]byte, error) {
	if err := pg.policy.Navigate(ctx, pg, pageURL); err != nil {
		return nil, err
	}
	return pg.PrintPDF(ctx)
}

// PrintPDF prints the document currently loaded in the tab, with backgrounds.
func (pg *Page) PrintPDF(ctx context.Context) ([]byte, error) {
	runCtx, cancel := pg.scoped(ctx, pg.policy.normalized().LoadTimeout)
	defer cancel()
	var buf []byte
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return buf, nil
}

func (pg *Page) load(ctx context.Context, pageURL string) (string, string, error) {
	if err := pg.policy.Navigate(ctx, pg, pageURL); err != nil {
		return "", "", err
	}
	runCtx, cancel := pg.scoped(ctx, pg.policy.normalized().LoadTimeout)
	defer cancel()
	var html, location string
	if err := chromedp.Run(runCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", "", fmt.Errorf("read document %s: %w", pageURL, err)
	}
	return html, location, nil
}

// scoped derives a context from the tab that is also canceled with ctx.
func (pg *Page) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(pg.tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// navigate performs one navigation attempt on the tab.
func (pg *Page) navigate(ctx context.Context, target string, wait WaitCondition, timeout time.Duration) error {
	navCtx, cancel := pg.scoped(ctx, timeout)
	defer cancel()

	idle := make(chan struct{}, 1)
	if wait == WaitNetworkIdle {
		var mu sync.Mutex
		started := false
		chromedp.ListenTarget(navCtx, func(ev any) {
			e, ok := ev.(*page.EventLifecycleEvent)
			if !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch e.Name {
			case "init":
				started = true
			case "networkIdle":
				if started {
					select {
					case idle <- struct{}{}:
					default:
					}
				}
			}
		})
	}

	if err := chromedp.Run(navCtx, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	if wait == WaitLoad {
		return nil
	}
	select {
	case <-idle:
		pg.logger.Debug("network idle", zap.String("url", target))
		return nil
	case <-navCtx.Done():
		return fmt.Errorf("wait network idle %s: %w", target, navCtx.Err())
	}
}
