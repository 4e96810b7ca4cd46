package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/browser"
)

// PageSession is one browser tab as used by the crawl and by branches.
type PageSession interface {
	Links(ctx context.Context, pageURL string) ([]string, error)
	Paragraphs(ctx context.Context, pageURL string) ([]string, error)
	RenderPDF(ctx context.Context, pageURL string) ([]byte, error)
	Close()
}

// BrowserSession is a connection to the remote browser.
type BrowserSession interface {
	NewPage(ctx context.Context) (PageSession, error)
	Close()
}

// Connector opens browser sessions. Connect fails with
// browser.ErrEndpointUnavailable when the endpoint cannot be resolved.
type Connector interface {
	Connect(ctx context.Context) (BrowserSession, error)
}

// ConnectFunc adapts a function to Connector.
type ConnectFunc func(ctx context.Context) (BrowserSession, error)

// Connect calls f.
func (f ConnectFunc) Connect(ctx context.Context) (BrowserSession, error) {
	return f(ctx)
}

// BrowserConnector connects to the remote browser described by cfg.
func BrowserConnector(cfg browser.Config, logger *zap.Logger) Connector {
	return ConnectFunc(func(ctx context.Context) (BrowserSession, error) {
		provider, err := browser.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return providerSession{provider: provider}, nil
	})
}

type providerSession struct {
	provider *browser.Provider
}

func (s providerSession) NewPage(ctx context.Context) (PageSession, error) {
	page, err := s.provider.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (s providerSession) Close() {
	s.provider.Close()
}
