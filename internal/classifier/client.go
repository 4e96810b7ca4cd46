// Package classifier scores extracted text against the configured categories
// using an external conversation API and applies per-category thresholds.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/intel-archiver/internal/metrics"
)

// ClientConfig configures the conversation API client.
type ClientConfig struct {
	BaseURL           string
	ProjectID         string
	APIKey            string
	Timeout           time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64
	Burst             int
}

// StatusError reports an unexpected HTTP status from the API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

type apiResponse struct {
	status int
	body   []byte
}

// Client talks to the conversation API. Every call is rate limited and runs
// through a retry policy and a circuit breaker.
type Client struct {
	cfg      ClientConfig
	http     *http.Client
	limiter  *rate.Limiter
	executor failsafe.Executor[apiResponse]
	logger   *zap.Logger
}

// NewClient builds a Client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("classifier base url is required")
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("classifier project id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 10 * cfg.BaseDelay
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	retry := retrypolicy.NewBuilder[apiResponse]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp apiResponse, err error) bool {
			return err != nil || retryableStatus(resp.status)
		}).
		// The final response surfaces as a StatusError instead of ExceededError.
		ReturnLastFailure().
		Build()
	breaker := circuitbreaker.NewBuilder[apiResponse]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		HandleIf(func(resp apiResponse, err error) bool {
			return err != nil || resp.status >= http.StatusInternalServerError
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.Warn("classifier circuit breaker state change",
				zap.String("from_state", stateName(event.OldState)),
				zap.String("to_state", stateName(event.NewState)),
			)
		}).
		Build()

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, burst),
		executor: failsafe.With(retry, breaker),
		logger:   logger,
	}, nil
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func (c *Client) projectURL(parts ...string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	return base + "/" + c.cfg.ProjectID + "/" + strings.Join(parts, "/") + "/"
}

// CreateConversation opens a conversation and returns its id.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	resp, err := c.post(ctx, "create_conversation", c.projectURL("conversation"), nil)
	if err != nil {
		return "", err
	}
	var payload struct {
		PK json.RawMessage `json:"pk"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return "", fmt.Errorf("decode conversation: %w", err)
	}
	pk := strings.Trim(strings.TrimSpace(string(payload.PK)), `"`)
	if pk == "" || pk == "null" {
		return "", fmt.Errorf("decode conversation: missing pk")
	}
	return pk, nil
}

// Ask submits query to the conversation and returns the raw response text.
func (c *Client) Ask(ctx context.Context, conversationID, query string) (string, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	resp, err := c.post(ctx, "ask", c.projectURL("conversation", conversationID, "messages"), body)
	if err != nil {
		return "", err
	}
	var payload struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return "", fmt.Errorf("decode message: %w", err)
	}
	if payload.Response == nil {
		return "", fmt.Errorf("decode message: missing response")
	}
	return *payload.Response, nil
}

func (c *Client) post(ctx context.Context, op, endpoint string, body []byte) (apiResponse, error) {
	resp, err := c.executor.WithContext(ctx).Get(func() (apiResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return apiResponse{}, fmt.Errorf("rate limit wait: %w", err)
		}
		return c.do(ctx, endpoint, body)
	})
	if err != nil {
		metrics.ObserveClassifierCall(op, "error")
		return apiResponse{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.status != http.StatusCreated {
		metrics.ObserveClassifierCall(op, "status_"+http.StatusText(resp.status))
		return apiResponse{}, &StatusError{Op: op, StatusCode: resp.status, Body: truncate(string(resp.body), 256)}
	}
	metrics.ObserveClassifierCall(op, "ok")
	return resp, nil
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte) (apiResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return apiResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("read response: %w", err)
	}
	return apiResponse{status: resp.StatusCode, body: data}, nil
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
