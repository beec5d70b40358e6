package breachvip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outbound requests. Wait blocks until the caller may issue the
// next request or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// IntervalLimiter enforces a fixed minimum spacing between requests. The
// first Wait returns immediately and every later Wait returns no sooner than
// one interval after the previous Wait returned, however late the caller or
// the scheduler runs. It is safe for concurrent use; callers are served one at
// a time.
type IntervalLimiter struct {
	interval time.Duration
	limiter  *rate.Limiter

	// turn holds one token; a Wait owns it from entry until it stamps last.
	turn chan struct{}
	last time.Time
}

// NewLimiter returns a limiter spacing requests interval apart. A
// non-positive interval disables pacing.
func NewLimiter(interval time.Duration) *IntervalLimiter {
	l := &IntervalLimiter{turn: make(chan struct{}, 1)}
	l.turn <- struct{}{}
	if interval <= 0 {
		l.limiter = rate.NewLimiter(rate.Inf, 1)
		return l
	}
	l.interval = interval
	l.limiter = rate.NewLimiter(rate.Every(interval), 1)
	return l
}

// IntervalForRate converts a requests-per-minute budget into the minimum
// spacing between requests.
func IntervalForRate(requestsPerMinute int) time.Duration {
	if requestsPerMinute <= 0 {
		return 0
	}
	return time.Minute / time.Duration(requestsPerMinute)
}

// Wait blocks until the next request slot opens or ctx is done.
func (l *IntervalLimiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("breachvip: rate limiter wait: %w", err)
		}
		return nil
	}

	select {
	case <-l.turn:
	case <-ctx.Done():
		return fmt.Errorf("breachvip: rate limiter wait: %w", ctx.Err())
	}
	defer func() { l.turn <- struct{}{} }()

	if err := l.limiter.Wait(ctx); err != nil {
		// The token bucket refuses up front when the slot lies past the
		// deadline. Hold the caller until the deadline actually passes so
		// the error it sees matches ctx.Err().
		<-ctx.Done()
		return fmt.Errorf("breachvip: rate limiter wait: %w", ctx.Err())
	}
	// The bucket counts from reservations, so a late return of the previous
	// Wait can leave less than one interval. Top the gap up from last.
	if !l.last.IsZero() {
		for {
			remaining := l.interval - time.Since(l.last)
			if remaining <= 0 {
				break
			}
			if err := SleepWithContext(ctx, remaining); err != nil {
				return fmt.Errorf("breachvip: rate limiter wait: %w", err)
			}
		}
	}
	l.last = time.Now()
	return nil
}

// Interval reports the configured spacing.
func (l *IntervalLimiter) Interval() time.Duration {
	return l.interval
}

var (
	processLimitersMu sync.Mutex
	processLimiters   = map[string]*IntervalLimiter{}
)

// ProcessLimiter returns the limiter shared by every client in this process
// that targets baseURL with the same interval.
func ProcessLimiter(baseURL string, interval time.Duration) *IntervalLimiter {
	key := baseURL + "|" + interval.String()
	processLimitersMu.Lock()
	defer processLimitersMu.Unlock()
	if lim, ok := processLimiters[key]; ok {
		return lim
	}
	lim := NewLimiter(interval)
	processLimiters[key] = lim
	return lim
}
