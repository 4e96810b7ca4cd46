// Package browser resolves a remote headless-browser endpoint and exposes
// scoped page handles for navigation, link collection, text extraction and
// PDF snapshots.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrEndpointUnavailable is returned when the browser host cannot be resolved
// or does not answer the debugger metadata probe.
var ErrEndpointUnavailable = errors.New("browser endpoint unavailable")

// EndpointConfig locates the remote browser.
type EndpointConfig struct {
	Host         string
	Port         int
	ProbeTimeout time.Duration
}

// Resolver resolves EndpointConfig into a debugger websocket URL.
type Resolver struct {
	cfg        EndpointConfig
	lookupHost func(ctx context.Context, host string) ([]string, error)
	client     *http.Client
}

// NewResolver creates a Resolver using the system DNS resolver.
func NewResolver(cfg EndpointConfig) *Resolver {
	if cfg.Port == 0 {
		cfg.Port = 9222
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Resolver{
		cfg:        cfg,
		lookupHost: net.DefaultResolver.LookupHost,
		client:     &http.Client{Timeout: cfg.ProbeTimeout},
	}
}

type versionInfo struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Resolve looks up the browser host and probes /json/version for the
// debugger websocket URL. The browser is addressed by IP because DevTools
// rejects non-IP Host headers.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if r.cfg.Host == "" {
		return "", fmt.Errorf("%w: browser host is required", ErrEndpointUnavailable)
	}
	addrs, err := r.lookupHost(ctx, r.cfg.Host)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %v", ErrEndpointUnavailable, r.cfg.Host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: resolve %s: no addresses", ErrEndpointUnavailable, r.cfg.Host)
	}
	probeURL := "http://" + net.JoinHostPort(addrs[0], strconv.Itoa(r.cfg.Port)) + "/json/version"

	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build probe: %v", ErrEndpointUnavailable, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: probe %s: %v", ErrEndpointUnavailable, probeURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: probe %s: status %d", ErrEndpointUnavailable, probeURL, resp.StatusCode)
	}
	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: decode probe: %v", ErrEndpointUnavailable, err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%w: probe %s: missing webSocketDebuggerUrl", ErrEndpointUnavailable, probeURL)
	}
	return info.WebSocketDebuggerURL, nil
}
