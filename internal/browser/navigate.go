package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/JakeFAU/intel-archiver/internal/metrics"
)

// WaitCondition is the completion criterion of one navigation.
type WaitCondition string

// Supported wait conditions.
const (
	WaitNetworkIdle WaitCondition = "network_idle"
	WaitLoad        WaitCondition = "load"
)

// NavigationPolicy bounds how hard a page is tried: IdleAttempts navigations
// waiting for network idleness, each limited to IdleTimeout, then one
// navigation waiting only for the load event, limited to LoadTimeout.
type NavigationPolicy struct {
	IdleAttempts int
	IdleTimeout  time.Duration
	LoadTimeout  time.Duration
	RetryDelay   time.Duration
}

// DefaultNavigationPolicy returns the crawl defaults.
func DefaultNavigationPolicy() NavigationPolicy {
	return NavigationPolicy{
		IdleAttempts: 3,
		IdleTimeout:  10 * time.Second,
		LoadTimeout:  30 * time.Second,
		RetryDelay:   250 * time.Millisecond,
	}
}

func (p NavigationPolicy) normalized() NavigationPolicy {
	def := DefaultNavigationPolicy()
	if p.IdleAttempts <= 0 {
		p.IdleAttempts = def.IdleAttempts
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = def.IdleTimeout
	}
	if p.LoadTimeout <= 0 {
		p.LoadTimeout = def.LoadTimeout
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = def.RetryDelay
	}
	return p
}

// navigator performs one navigation attempt.
type navigator interface {
	navigate(ctx context.Context, target string, wait WaitCondition, timeout time.Duration) error
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Navigate applies the policy to target. Only timeouts are retried; any other
// navigation error is returned immediately.
func (p NavigationPolicy) Navigate(ctx context.Context, nav navigator, target string) error {
	p = p.normalized()

	var lastErr error
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return isTimeout(err) && ctx.Err() == nil
		}).
		WithMaxRetries(p.IdleAttempts-1).
		WithBackoff(p.RetryDelay, 4*p.RetryDelay).
		Build()

	_, err := failsafe.With[any](retry).WithContext(ctx).Get(func() (any, error) {
		lastErr = nav.navigate(ctx, target, WaitNetworkIdle, p.IdleTimeout)
		if lastErr != nil {
			metrics.ObserveNavigation(string(WaitNetworkIdle), "failed")
		} else {
			metrics.ObserveNavigation(string(WaitNetworkIdle), "ok")
		}
		return nil, lastErr
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("navigate %s: %w", target, ctxErr)
	}
	if !isTimeout(lastErr) {
		return fmt.Errorf("navigate %s: %w", target, lastErr)
	}

	if err := nav.navigate(ctx, target, WaitLoad, p.LoadTimeout); err != nil {
		metrics.ObserveNavigation(string(WaitLoad), "failed")
		return fmt.Errorf("navigate %s after %d idle attempts: %w", target, p.IdleAttempts, err)
	}
	metrics.ObserveNavigation(string(WaitLoad), "ok")
	return nil
}
