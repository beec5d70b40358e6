package breachvip

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"breachvip/internal/logging"
	"breachvip/internal/services"
)

// ItemState tracks how far one lookup progressed through the pipeline.
type ItemState string

const (
	StatePending    ItemState = "pending"
	StateBuilt      ItemState = "built"
	StateSent       ItemState = "sent"
	StateNormalized ItemState = "normalized"
	StateEmitted    ItemState = "emitted"
	StateFailed     ItemState = "failed"
)

// ItemOutcome is the explicit per-item result of a batch: either Results or
// Err is meaningful.
type ItemOutcome struct {
	// Index is the 1-based position of the item in the batch.
	Index    int
	Term     string
	State    ItemState
	FailedAt ItemState
	Results  []ResultItem
	Attempts int
	Err      error
}

// Kind reports services.FailureKind for failed items and "" otherwise.
func (o ItemOutcome) Kind() string {
	return services.FailureKind(o.Err)
}

// Failed reports whether the item was skipped.
func (o ItemOutcome) Failed() bool {
	return o.State == StateFailed
}

func (o ItemOutcome) fail(err error) ItemOutcome {
	o.FailedAt = o.State
	o.State = StateFailed
	o.Err = err
	o.Results = nil
	return o
}

// BatchResult aggregates a Run. Items concatenates the results of successful
// items in input order.
type BatchResult struct {
	RunID      string
	Total      int
	Items      []ResultItem
	Outcomes   []ItemOutcome
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Observer is notified after every processed item.
type Observer func(ctx context.Context, outcome ItemOutcome)

// Runner drives batches through a Client sequentially.
type Runner struct {
	client   *Client
	logger   *slog.Logger
	observer Observer
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithObserver registers a callback invoked after each item completes or fails.
func WithObserver(observer Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = observer
	}
}

// WithRunnerLogger overrides the logger used for batch progress.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner constructs a batch runner over client.
func NewRunner(client *Client, opts ...RunnerOption) *Runner {
	r := &Runner{client: client}
	if client != nil {
		r.logger = client.logger
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = logging.NewComponentLogger(r.logger, "batch")
	return r
}

// Run processes requests in order. A failing item is logged, recorded in
// Outcomes and skipped; it never fails the run. The only run-level errors are
// cancellation of ctx, returned as ctx.Err(), and a limiter giving up on ctx's
// deadline. Either way the partial result comes back with the error and the
// interrupted item is left out of Outcomes.
func (r *Runner) Run(ctx context.Context, requests []LookupRequest) (BatchResult, error) {
	if r == nil || r.client == nil {
		return BatchResult{}, errors.New("breachvip: runner has no client")
	}
	runID, ok := services.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = services.WithRunID(ctx, runID)
	}
	result := BatchResult{
		RunID:     runID,
		Total:     len(requests),
		Items:     []ResultItem{},
		Outcomes:  make([]ItemOutcome, 0, len(requests)),
		StartedAt: r.client.now().UTC(),
	}
	transport := r.client.forBatch()
	defer transport.CloseIdleConnections()

	logger := logging.WithContext(ctx, r.logger)
	logger.Info("breach batch started", logging.Int("items", len(requests)))

	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			return r.finish(logger, result, err)
		}
		index := i + 1
		itemCtx := services.WithTerm(services.WithItemIndex(ctx, index), req.Term)
		outcome := r.client.process(itemCtx, transport, index, req)
		if outcome.Err != nil {
			if err := ctx.Err(); err != nil {
				return r.finish(logger, result, err)
			}
			// A custom limiter may give up on a deadline before ctx expires.
			if outcome.Kind() == services.KindCancelled {
				return r.finish(logger, result, outcome.Err)
			}
		}
		itemLogger := logging.WithContext(itemCtx, r.logger)
		if outcome.Err != nil {
			result.Failed++
			logging.WarnWithContext(itemLogger, "breach lookup skipped", "item_skipped",
				logging.String("stage", string(outcome.FailedAt)),
				logging.String(logging.FieldErrorKind, outcome.Kind()),
				logging.Int("attempts", outcome.Attempts),
				logging.Error(outcome.Err),
				logging.String(logging.FieldImpact, "no results recorded for this term"),
				logging.String(logging.FieldErrorHint, skipHint(outcome.Kind())),
			)
		} else {
			outcome.State = StateEmitted
			result.Succeeded++
			result.Items = append(result.Items, outcome.Results...)
			itemLogger.Info("breach lookup completed",
				logging.Int("results", len(outcome.Results)),
				logging.Int("attempts", outcome.Attempts),
			)
		}
		result.Outcomes = append(result.Outcomes, outcome)
		if r.observer != nil {
			r.observer(itemCtx, outcome)
		}
	}
	return r.finish(logger, result, nil)
}

func (r *Runner) finish(logger *slog.Logger, result BatchResult, err error) (BatchResult, error) {
	result.FinishedAt = r.client.now().UTC()
	attrs := []logging.Attr{
		logging.Int("total", result.Total),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
		logging.Int("results", len(result.Items)),
		logging.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	}
	if err != nil {
		logging.WarnWithContext(logger, "breach batch cancelled", "batch_cancelled",
			append(attrs,
				logging.Int("processed", len(result.Outcomes)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "remaining terms were not searched"),
				logging.String(logging.FieldErrorHint, "rerun the remaining terms"),
			)...,
		)
		return result, err
	}
	logger.Info("breach batch finished", logging.Args(attrs...)...)
	return result, nil
}

func skipHint(kind string) string {
	switch kind {
	case services.KindValidation:
		return "provide a non-empty term and at least one field"
	case services.KindNetworkExhausted, services.KindTransient:
		return "check network connectivity to the search API"
	case services.KindRateLimited:
		return "lower rate_limit.requests_per_minute or raise retry.max_rate_limit_retries"
	case services.KindHTTPStatus:
		return "inspect the API error message for this term"
	case services.KindMalformedResponse:
		return "the API returned an unexpected body; retry later"
	default:
		return "check logs for details"
	}
}
