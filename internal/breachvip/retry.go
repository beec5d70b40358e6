package breachvip

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"breachvip/internal/services"
)

// Defaults used when the caller leaves settings unset.
const (
	DefaultRequestsPerMinute   = 15
	DefaultRequestTimeout      = 15 * time.Second
	DefaultMaxAttempts         = 3
	DefaultRetryDelay          = 2 * time.Second
	DefaultRateLimitCooldown   = 60 * time.Second
	DefaultMaxRateLimitRetries = 3
)

// RetryPolicy decides how the transport recovers from failed attempts.
//
// Network failures are retried until MaxAttempts total attempts have failed,
// sleeping Backoff(n) after the n-th failure. HTTP 429 responses draw from a
// separate budget of MaxRateLimitRetries and wait for the server's Retry-After,
// or RateLimitCooldown when the header is absent. That wait never drops below
// Backoff(n) for the n-th 429 and never exceeds MaxRateLimitWait, which
// defaults to RateLimitCooldown.
type RetryPolicy struct {
	MaxAttempts         int
	Backoff             func(failures int) time.Duration
	Retryable           func(err error) bool
	MaxRateLimitRetries int
	RateLimitCooldown   time.Duration
	MaxRateLimitWait    time.Duration
}

// DefaultRetryPolicy returns the production policy: three attempts with a
// linear 2s backoff, and up to three 60s cooldowns on HTTP 429.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         DefaultMaxAttempts,
		Backoff:             LinearBackoff(DefaultRetryDelay),
		Retryable:           IsTransient,
		MaxRateLimitRetries: DefaultMaxRateLimitRetries,
		RateLimitCooldown:   DefaultRateLimitCooldown,
	}
}

// LinearBackoff waits delay * failures after each failed attempt.
func LinearBackoff(delay time.Duration) func(int) time.Duration {
	return func(failures int) time.Duration {
		if failures < 1 {
			failures = 1
		}
		return delay * time.Duration(failures)
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff == nil {
		p.Backoff = LinearBackoff(DefaultRetryDelay)
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	if p.MaxRateLimitRetries < 0 {
		p.MaxRateLimitRetries = 0
	}
	if p.RateLimitCooldown < 0 {
		p.RateLimitCooldown = 0
	}
	if p.MaxRateLimitWait <= 0 {
		p.MaxRateLimitWait = p.RateLimitCooldown
	}
	return p
}

// rateLimitWait picks the pause before retrying the n-th HTTP 429.
func (p RetryPolicy) rateLimitWait(retryAfter time.Duration, hinted bool, n int) time.Duration {
	wait := p.RateLimitCooldown
	if hinted {
		wait = retryAfter
	}
	wait = min(wait, p.MaxRateLimitWait)
	return max(wait, p.Backoff(n))
}

// SleepWithContext blocks for the given duration, returning early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports whether err is a network-level failure (connection
// refused, reset, DNS failure, timeout) worth another attempt. Cancellation of
// the caller's context is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, services.ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, token := range []string{
		"timeout",
		"connection reset",
		"connection refused",
		"no such host",
		"temporary failure",
		"unexpected eof",
	} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}

// parseRetryAfter interprets a Retry-After header given either as delay
// seconds or as an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		wait := at.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}
