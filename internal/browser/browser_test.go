package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinksResolvesAgainstBase(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/news/report-on-markets-2024">one</a>
		<a href="report.pdf">two</a>
		<a href="https://other.org/x">three</a>
		<a href="  ">blank</a>
		<a>no href</a>
	</body></html>`
	base, err := url.Parse("https://example.com/news/")
	require.NoError(t, err)

	links, err := ExtractLinks(html, base)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/news/report-on-markets-2024",
		"https://example.com/news/report.pdf",
		"https://other.org/x",
	}, links)
}

func TestExtractLinksWithoutBaseKeepsRaw(t *testing.T) {
	t.Parallel()

	links, err := ExtractLinks(`<a href="/about">x</a>`, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/about"}, links)
}

func TestExtractParagraphs(t *testing.T) {
	t.Parallel()

	html := `<div><p>  First paragraph here.  </p><span>skip</span><p>Second <b>bold</b> text</p><p></p></div>`
	paragraphs, err := ExtractParagraphs(html)
	require.NoError(t, err)
	assert.Equal(t, []string{"First paragraph here.", "Second bold text", ""}, paragraphs)
}

type fakeNavigator struct {
	results []error
	calls   []WaitCondition
}

func (f *fakeNavigator) navigate(_ context.Context, _ string, wait WaitCondition, _ time.Duration) error {
	f.calls = append(f.calls, wait)
	if len(f.results) == 0 {
		return nil
	}
	err := f.results[0]
	f.results = f.results[1:]
	return err
}

func testPolicy() NavigationPolicy {
	return NavigationPolicy{
		IdleAttempts: 3,
		IdleTimeout:  time.Millisecond,
		LoadTimeout:  time.Millisecond,
		RetryDelay:   time.Millisecond,
	}
}

func TestNavigateSucceedsOnFirstIdleAttempt(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{}
	require.NoError(t, testPolicy().Navigate(context.Background(), nav, "https://example.com"))
	assert.Equal(t, []WaitCondition{WaitNetworkIdle}, nav.calls)
}

func TestNavigateFallsBackToLoadAfterIdleTimeouts(t *testing.T) {
	t.Parallel()

	timeout := fmt.Errorf("wait network idle: %w", context.DeadlineExceeded)
	nav := &fakeNavigator{results: []error{timeout, timeout, timeout, nil}}
	require.NoError(t, testPolicy().Navigate(context.Background(), nav, "https://example.com"))
	assert.Equal(t, []WaitCondition{WaitNetworkIdle, WaitNetworkIdle, WaitNetworkIdle, WaitLoad}, nav.calls)
}

func TestNavigateRecoversOnSecondIdleAttempt(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{results: []error{context.DeadlineExceeded, nil}}
	require.NoError(t, testPolicy().Navigate(context.Background(), nav, "https://example.com"))
	assert.Equal(t, []WaitCondition{WaitNetworkIdle, WaitNetworkIdle}, nav.calls)
}

func TestNavigateReturnsNonTimeoutErrorImmediately(t *testing.T) {
	t.Parallel()

	boom := errors.New("net::ERR_NAME_NOT_RESOLVED")
	nav := &fakeNavigator{results: []error{boom}}
	err := testPolicy().Navigate(context.Background(), nav, "https://example.com")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []WaitCondition{WaitNetworkIdle}, nav.calls)
}

func TestNavigateFailsWhenLoadFallbackFails(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{results: []error{
		context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded,
	}}
	err := testPolicy().Navigate(context.Background(), nav, "https://example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, nav.calls, 4)
}

func TestNavigationPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NavigationPolicy{}.normalized()
	assert.Equal(t, DefaultNavigationPolicy(), p)
}

func newResolverForServer(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	r := NewResolver(EndpointConfig{Host: "chrome", Port: port, ProbeTimeout: time.Second})
	r.lookupHost = func(_ context.Context, name string) ([]string, error) {
		if name != "chrome" {
			return nil, fmt.Errorf("unexpected host %s", name)
		}
		return []string{host}, nil
	}
	return r
}

func TestResolveReturnsDebuggerURL(t *testing.T) {
	t.Parallel()

	r := newResolverForServer(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/json/version" {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"Browser":"HeadlessChrome/126","webSocketDebuggerUrl":"ws://%s/devtools/browser/abc"}`, req.Host)
	})

	wsURL, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Contains(t, wsURL, "/devtools/browser/abc")
	assert.Contains(t, wsURL, "ws://127.0.0.1:")
}

func TestResolveFailsOnBadStatus(t *testing.T) {
	t.Parallel()

	r := newResolverForServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrEndpointUnavailable)
}

func TestResolveFailsOnMissingDebuggerURL(t *testing.T) {
	t.Parallel()

	r := newResolverForServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Browser":"HeadlessChrome/126"}`))
	})
	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrEndpointUnavailable)
}

func TestResolveFailsOnLookupError(t *testing.T) {
	t.Parallel()

	r := NewResolver(EndpointConfig{Host: "chrome"})
	r.lookupHost = func(context.Context, string) ([]string, error) {
		return nil, errors.New("no such host")
	}
	_, err := r.Resolve(context.Background())
	require.ErrorIs(t, err, ErrEndpointUnavailable)

	_, err = NewResolver(EndpointConfig{}).Resolve(context.Background())
	require.ErrorIs(t, err, ErrEndpointUnavailable)
}

func TestProviderLimiter(t *testing.T) {
	t.Parallel()

	p := &Provider{limiter: make(chan struct{}, 1)}
	require.NoError(t, p.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.acquire(ctx), context.Canceled)

	p.release()
	require.NoError(t, p.acquire(context.Background()))
}
