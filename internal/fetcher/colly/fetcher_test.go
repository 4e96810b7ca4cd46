package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second}, nil)
	collector := f.buildCollector()
	assert.Equal(t, "coverage-agent", collector.UserAgent)
	assert.True(t, collector.AllowURLRevisit)
	assert.Equal(t, 50<<20, collector.MaxBodySize)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	var result Document
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("%PDF-1.4"),
		Headers:    &http.Header{"Content-Type": {"application/pdf"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/a.pdf")},
	})
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.Equal(t, "%PDF-1.4", string(result.Body))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second}, nil)
	doc, err := f.Fetch(context.Background(), srv.URL+"/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.Equal(t, "%PDF-1.4 body", string(doc.Body))

	// Second fetch of the same URL must not be rejected as a revisit.
	_, err = f.Fetch(context.Background(), srv.URL+"/report.pdf")
	require.NoError(t, err)
}

func TestFetchRejectsNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second}, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.pdf")
	require.Error(t, err)
}

type denyWaiter struct{}

func (denyWaiter) Wait(context.Context, string) error { return errors.New("limited") }

func TestFetchHonorsLimiter(t *testing.T) {
	t.Parallel()

	f := New(Config{}, denyWaiter{})
	_, err := f.Fetch(context.Background(), "https://example.com/a.pdf")
	require.EqualError(t, err, "limited")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
