package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-archiver/internal/config"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/pipeline"
	"github.com/JakeFAU/intel-archiver/internal/runregistry"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = filepath.Join(dir, "archive")
	cfg.Storage.ScratchDir = filepath.Join(dir, "scratch")
	cfg.Classifier.BaseURL = "http://classifier.invalid"
	cfg.Classifier.ProjectID = "intel"
	cfg.Categories = []crawler.CategoryConfig{{Name: "AI", MinRelevanceThreshold: 0.8}}
	cfg.Logging.Level = "error"
	cfg.Pipeline.Workers = 1
	return cfg
}

// unavailableBrowser points the config at a debugger endpoint that answers
// the version probe with an error.
func unavailableBrowser(t *testing.T, cfg *config.Config) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	cfg.Browser.Host = host
	cfg.Browser.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Browser.ProbeTimeoutSeconds = 1
}

func TestBuildWithLocalBackends(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, app.Logger())
	require.NotNil(t, app.apiServer)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRejectsMissingClassifier(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Classifier.BaseURL = ""
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "classifier")
}

func TestBuildRejectsUnknownStage(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Pipeline.Stages = []string{"extract", "summarize"}
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "pipeline.stages")
}

func TestRunOnceWithoutActiveSources(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	_, err = app.RunOnce(context.Background(), pipeline.Trigger{})
	require.ErrorIs(t, err, pipeline.ErrNoActiveSources)
}

func TestRunOnceFailsWhenBrowserUnavailable(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	unavailableBrowser(t, &cfg)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := app.RunOnce(ctx, pipeline.Trigger{Sources: []crawler.Source{
		{Netloc: "example.com", Path: "/", TargetType: crawler.TargetBoth, IsActive: true},
	}})
	require.NoError(t, err)
	assert.Equal(t, runregistry.StateFailed, rec.State)
	assert.Contains(t, rec.Error, "browser endpoint unavailable")

	res, err := app.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StopNotRunning, res)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Server.Port = l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(cfg.Server.Port) + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
