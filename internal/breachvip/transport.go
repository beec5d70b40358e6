package breachvip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"breachvip/internal/logging"
	"breachvip/internal/services"
)

const (
	searchPath      = "api/search"
	maxResponseSize = 32 << 20
	maxErrorBody    = 4096
)

// StatusError reports a non-retryable HTTP status from the API. It matches
// services.ErrHTTPStatus.
type StatusError struct {
	StatusCode int
	// Message is the "error" field of the response body when present.
	Message string
}

func (e *StatusError) Error() string {
	status := strconv.Itoa(e.StatusCode)
	if text := http.StatusText(e.StatusCode); text != "" {
		status += " " + text
	}
	if e.Message == "" {
		return "breachvip: search failed (" + status + ")"
	}
	return "breachvip: search failed (" + status + "): " + e.Message
}

// Is makes errors.Is(err, services.ErrHTTPStatus) hold.
func (e *StatusError) Is(target error) bool {
	return target == services.ErrHTTPStatus
}

// Transport posts search payloads, pacing and retrying every attempt.
type Transport struct {
	endpoint  string
	userAgent string
	http      *http.Client
	limiter   Limiter
	policy    RetryPolicy
	logger    *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewTransport builds a transport posting to {baseURL}/api/search.
func NewTransport(baseURL *url.URL, httpClient *http.Client, limiter Limiter, policy RetryPolicy, userAgent string, logger *slog.Logger) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if limiter == nil {
		limiter = NewLimiter(IntervalForRate(DefaultRequestsPerMinute))
	}
	return &Transport{
		endpoint:  baseURL.JoinPath(searchPath).String(),
		userAgent: userAgent,
		http:      httpClient,
		limiter:   limiter,
		policy:    policy.normalized(),
		logger:    logging.NewComponentLogger(logger, "transport"),
		now:       time.Now,
		sleep:     SleepWithContext,
	}
}

// withLimiter returns a copy of t paced by limiter.
func (t *Transport) withLimiter(limiter Limiter) *Transport {
	clone := *t
	clone.limiter = limiter
	return &clone
}

// CloseIdleConnections releases pooled connections held by the HTTP client.
func (t *Transport) CloseIdleConnections() {
	t.http.CloseIdleConnections()
}

// Send posts payload and returns the decoded result entries.
//
// Every attempt, retries included, first waits on the limiter. Failures are
// classified as services.ErrNetworkExhausted (network retries used up),
// services.ErrRateLimited (429 budget used up), *StatusError for other
// statuses >= 400, and services.ErrMalformedResponse for undecodable 2xx
// bodies. Only network failures and 429s are retried.
func (t *Transport) Send(ctx context.Context, payload SearchPayload) (RawResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return RawResponse{}, services.Wrap(services.ErrValidation, "transport", "encode payload", "", err)
	}
	logger := logging.WithContext(ctx, t.logger)

	var attempts, networkFailures, rateLimited int
	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return RawResponse{Attempts: attempts}, err
		}
		attempts++

		status, header, data, err := t.post(ctx, body)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return RawResponse{Attempts: attempts}, fmt.Errorf("breachvip: search request: %w", ctxErr)
			}
			if !t.policy.Retryable(err) {
				return RawResponse{Attempts: attempts}, fmt.Errorf("breachvip: search request failed: %w", err)
			}
			networkFailures++
			if networkFailures >= t.policy.MaxAttempts {
				transient := services.Wrap(services.ErrTransient, "transport", "post", "", err)
				return RawResponse{Attempts: attempts}, fmt.Errorf("%w after %d attempts: %w", services.ErrNetworkExhausted, networkFailures, transient)
			}
			backoff := t.policy.Backoff(networkFailures)
			logging.WarnWithContext(logger, "breach search request failed; retrying", "network_retry",
				logging.Int("attempt", attempts),
				logging.Duration("backoff", backoff),
				logging.Error(err),
				logging.String(logging.FieldImpact, "lookup delayed while the connection recovers"),
				logging.String(logging.FieldErrorHint, "check network connectivity to the search API"),
			)
			if err := t.sleep(ctx, backoff); err != nil {
				return RawResponse{Attempts: attempts}, fmt.Errorf("breachvip: retry backoff: %w", err)
			}
			continue
		}

		switch {
		case status == http.StatusTooManyRequests:
			rateLimited++
			if rateLimited > t.policy.MaxRateLimitRetries {
				msg := fmt.Sprintf("HTTP 429 after %d cooldowns", rateLimited-1)
				return RawResponse{StatusCode: status, Attempts: attempts}, services.Wrap(services.ErrRateLimited, "transport", "post", msg, nil)
			}
			retryAfter, hinted := parseRetryAfter(header.Get("Retry-After"), t.now())
			wait := t.policy.rateLimitWait(retryAfter, hinted, rateLimited)
			logging.WarnWithContext(logger, "breach search rate limited; cooling down", "rate_limited",
				logging.Int("attempt", attempts),
				logging.Int("rate_limited", rateLimited),
				logging.Duration("backoff", wait),
				logging.String(logging.FieldImpact, "batch paused until the API accepts requests again"),
				logging.String(logging.FieldErrorHint, "lower rate_limit.requests_per_minute if this repeats"),
			)
			if err := t.sleep(ctx, wait); err != nil {
				return RawResponse{StatusCode: status, Attempts: attempts}, fmt.Errorf("breachvip: rate limit cooldown: %w", err)
			}
			continue
		case status < 200 || status >= 300:
			return RawResponse{StatusCode: status, Attempts: attempts}, &StatusError{StatusCode: status, Message: errorMessage(data)}
		}

		raw, err := decodeResponse(data)
		raw.StatusCode = status
		raw.Attempts = attempts
		if err != nil {
			return raw, err
		}
		logger.Debug("breach search response received",
			logging.Int("status", status),
			logging.Int("attempts", attempts),
			logging.Int("results", len(raw.Results)),
		)
		return raw, nil
	}
}

// post performs one HTTP attempt. A non-nil error means no usable response
// arrived (dial, TLS, timeout, or a body that could not be read).
func (t *Transport) post(ctx context.Context, body []byte) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	limit := int64(maxResponseSize)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limit = maxErrorBody
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return 0, nil, nil, fmt.Errorf("read search response: %w: %w", services.ErrTransient, err)
		}
		data = nil
	}
	return resp.StatusCode, resp.Header, data, nil
}

func decodeResponse(data []byte) (RawResponse, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return RawResponse{}, services.Wrap(services.ErrMalformedResponse, "transport", "decode", "response is not a JSON object", err)
	}
	if envelope == nil {
		return RawResponse{}, services.Wrap(services.ErrMalformedResponse, "transport", "decode", "response body is null", nil)
	}
	results, ok := envelope["results"]
	if !ok || isJSONNull(results) {
		return RawResponse{Results: []json.RawMessage{}}, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(results, &entries); err != nil {
		return RawResponse{}, services.Wrap(services.ErrMalformedResponse, "transport", "decode", "results is not an array", err)
	}
	if entries == nil {
		entries = []json.RawMessage{}
	}
	return RawResponse{Results: entries}, nil
}

// errorMessage extracts {"error": "..."} from an error body, best effort.
func errorMessage(data []byte) string {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(body.Error, &text); err == nil {
		return strings.TrimSpace(text)
	}
	if isJSONNull(body.Error) {
		return ""
	}
	return strings.TrimSpace(string(body.Error))
}

func isJSONNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
