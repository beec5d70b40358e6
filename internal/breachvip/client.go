package breachvip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"breachvip/internal/logging"
)

const (
	defaultBaseURL   = "https://breach.vip"
	defaultUserAgent = "breachvip/dev"
)

// Limiter scopes accepted by Config.LimiterScope.
const (
	ScopeClient  = "client"
	ScopeBatch   = "batch"
	ScopeProcess = "process"
)

// Config describes the search client configuration.
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client

	// RequestsPerMinute sets the pacing interval. Zero selects the default of
	// 15; a negative value disables pacing.
	RequestsPerMinute int
	// LimiterScope is ScopeClient (default), ScopeBatch or ScopeProcess.
	LimiterScope string
	// Limiter overrides the scope-derived limiter when set.
	Limiter Limiter
	// Retry overrides DefaultRetryPolicy when set.
	Retry *RetryPolicy

	Logger *slog.Logger
	Now    func() time.Time
}

// Client searches the breach API one request at a time.
type Client struct {
	baseURL   string
	scope     string
	interval  time.Duration
	pinned    bool
	limiter   Limiter
	transport *Transport
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("breachvip: parse base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("breachvip: base url %q must use http or https", base)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	rpm := cfg.RequestsPerMinute
	if rpm == 0 {
		rpm = DefaultRequestsPerMinute
	}
	interval := IntervalForRate(rpm)

	scope := strings.ToLower(strings.TrimSpace(cfg.LimiterScope))
	if scope == "" {
		scope = ScopeClient
	}
	limiter := cfg.Limiter
	pinned := limiter != nil
	if !pinned {
		switch scope {
		case ScopeClient, ScopeBatch:
			limiter = NewLimiter(interval)
		case ScopeProcess:
			limiter = ProcessLimiter(base, interval)
		default:
			return nil, fmt.Errorf("breachvip: unknown limiter scope %q", cfg.LimiterScope)
		}
	}

	policy := DefaultRetryPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.NewComponentLogger(cfg.Logger, "breachvip")

	transport := NewTransport(baseURL, httpClient, limiter, policy, userAgent, cfg.Logger)
	transport.now = now

	return &Client{
		baseURL:   base,
		scope:     scope,
		interval:  interval,
		pinned:    pinned,
		limiter:   limiter,
		transport: transport,
		logger:    logger,
		now:       now,
	}, nil
}

// Limiter returns the limiter pacing this client's requests.
func (c *Client) Limiter() Limiter {
	return c.limiter
}

// Scope reports the configured limiter scope.
func (c *Client) Scope() string {
	return c.scope
}

// Close releases idle HTTP connections.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.transport.CloseIdleConnections()
}

// Search runs a single lookup and returns its normalized results.
func (c *Client) Search(ctx context.Context, req LookupRequest) ([]ResultItem, error) {
	if c == nil {
		return nil, errors.New("breachvip: client is nil")
	}
	outcome := c.process(ctx, c.transport, 1, req)
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return outcome.Results, nil
}

// forBatch returns the transport a single Run should use. Batch scope gets a
// fresh limiter per run unless the caller pinned one.
func (c *Client) forBatch() *Transport {
	if c.scope == ScopeBatch && !c.pinned {
		return c.transport.withLimiter(NewLimiter(c.interval))
	}
	return c.transport
}

// process moves one request through build, send and normalize, recording the
// last stage reached.
func (c *Client) process(ctx context.Context, transport *Transport, index int, req LookupRequest) ItemOutcome {
	outcome := ItemOutcome{Index: index, Term: req.Term, State: StatePending}

	payload, err := Build(req)
	if err != nil {
		return outcome.fail(err)
	}
	outcome.Term = payload.Term
	outcome.State = StateBuilt

	raw, err := transport.Send(ctx, payload)
	outcome.Attempts = raw.Attempts
	if err != nil {
		return outcome.fail(err)
	}
	outcome.State = StateSent

	outcome.Results = Normalize(raw, payload.Term, c.now())
	outcome.State = StateNormalized
	return outcome
}
