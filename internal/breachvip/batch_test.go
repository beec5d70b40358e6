package breachvip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"breachvip/internal/services"
)

// termServer answers each search according to the posted term.
func termServer(t *testing.T, responses map[string]func(http.ResponseWriter)) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu    sync.Mutex
		terms []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		term, _ := payload["term"].(string)
		mu.Lock()
		terms = append(terms, term)
		mu.Unlock()
		respond, ok := responses[term]
		if !ok {
			_, _ = io.WriteString(w, `{"results":[]}`)
			return
		}
		respond(w)
	}))
	t.Cleanup(server.Close)
	return server, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), terms...)
	}
}

func respondJSON(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestRunSkipsFailedItemAndKeepsOrder(t *testing.T) {
	server, seen := termServer(t, map[string]func(http.ResponseWriter){
		"one.com":   respondJSON(http.StatusOK, `{"results":[{"source":"s1","categories":["c1"]}]}`),
		"two.com":   respondJSON(http.StatusInternalServerError, `{"error":"boom"}`),
		"three.com": respondJSON(http.StatusOK, `{"results":[{"source":"s3a"},{"source":"s3b"}]}`),
	})
	client, _ := newTestClient(t, server.URL, nil)

	var observed []ItemOutcome
	runner := NewRunner(client, WithObserver(func(_ context.Context, o ItemOutcome) {
		observed = append(observed, o)
	}))
	result, err := runner.Run(context.Background(), []LookupRequest{
		{Term: "one.com", Fields: []string{"email"}},
		{Term: "two.com", Fields: []string{"email"}},
		{Term: "three.com", Fields: []string{"email"}},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var sources, subjects []string
	for _, item := range result.Items {
		sources = append(sources, item.Source)
		subjects = append(subjects, item.Subject)
	}
	if !reflect.DeepEqual(sources, []string{"s1", "s3a", "s3b"}) {
		t.Fatalf("unexpected sources %v", sources)
	}
	if !reflect.DeepEqual(subjects, []string{"one.com", "three.com", "three.com"}) {
		t.Fatalf("unexpected subjects %v", subjects)
	}
	if result.Total != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("unexpected tallies %+v", result)
	}
	if !reflect.DeepEqual(seen(), []string{"one.com", "two.com", "three.com"}) {
		t.Fatalf("items not processed in order: %v", seen())
	}

	if len(result.Outcomes) != 3 || len(observed) != 3 {
		t.Fatalf("expected 3 outcomes and observations, got %d and %d", len(result.Outcomes), len(observed))
	}
	failed := result.Outcomes[1]
	if failed.State != StateFailed || failed.FailedAt != StateBuilt {
		t.Fatalf("unexpected failed outcome %+v", failed)
	}
	if failed.Kind() != services.KindHTTPStatus || failed.Results != nil {
		t.Fatalf("unexpected failed outcome kind=%q results=%v", failed.Kind(), failed.Results)
	}
	for _, idx := range []int{0, 2} {
		if got := result.Outcomes[idx]; got.State != StateEmitted || got.Err != nil || got.Kind() != "" {
			t.Fatalf("outcome %d not emitted: %+v", idx, got)
		}
	}
	for i, o := range result.Outcomes {
		if o.Index != i+1 {
			t.Fatalf("outcome %d has index %d", i, o.Index)
		}
	}
	if result.RunID == "" {
		t.Fatal("expected generated run id")
	}
}

func TestRunRecordsValidationFailuresWithoutRequest(t *testing.T) {
	server, seen := termServer(t, nil)
	client, _ := newTestClient(t, server.URL, nil)

	result, err := NewRunner(client).Run(context.Background(), []LookupRequest{
		{Term: "", Fields: []string{"email"}},
		{Term: "ok.com", Fields: []string{"email"}},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Failed != 1 || result.Succeeded != 1 {
		t.Fatalf("unexpected tallies %+v", result)
	}
	if got := result.Outcomes[0]; got.FailedAt != StatePending || got.Kind() != services.KindValidation {
		t.Fatalf("unexpected validation outcome %+v", got)
	}
	if !reflect.DeepEqual(seen(), []string{"ok.com"}) {
		t.Fatalf("unexpected requests %v", seen())
	}
}

func TestRunEndToEndExample(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		_, _ = io.WriteString(w, `{"results":[{"source":"leak1","categories":["stealer"]}]}`)
	}))
	defer server.Close()
	client, _ := newTestClient(t, server.URL, nil)

	result, err := NewRunner(client).Run(context.Background(), []LookupRequest{
		{Term: "example.com", Fields: []string{"email"}},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if body != `{"term":"example.com","fields":["email"]}` {
		t.Fatalf("unexpected payload %s", body)
	}
	want := []ResultItem{{
		Source:     "leak1",
		Categories: []string{"stealer"},
		Subject:    "example.com",
		FetchedAt:  fixedNow,
	}}
	if !reflect.DeepEqual(result.Items, want) {
		t.Fatalf("unexpected items %+v", result.Items)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	client, _ := newTestClient(t, "http://127.0.0.1:1", nil)
	result, err := NewRunner(client).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Items == nil || len(result.Items) != 0 || result.Total != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunUsesRunIDFromContext(t *testing.T) {
	server, _ := termServer(t, nil)
	client, _ := newTestClient(t, server.URL, nil)

	var observedRunID string
	runner := NewRunner(client, WithObserver(func(ctx context.Context, _ ItemOutcome) {
		observedRunID, _ = services.RunIDFromContext(ctx)
	}))
	ctx := services.WithRunID(context.Background(), "run-123")
	result, err := runner.Run(ctx, []LookupRequest{{Term: "a.com", Fields: []string{"email"}}})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.RunID != "run-123" || observedRunID != "run-123" {
		t.Fatalf("run id not propagated: result=%q observed=%q", result.RunID, observedRunID)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, seen := termServer(t, map[string]func(http.ResponseWriter){
		"first.com": respondJSON(http.StatusOK, `{"results":[{"source":"s1"}]}`),
	})
	client, _ := newTestClient(t, server.URL, nil)

	runner := NewRunner(client, WithObserver(func(_ context.Context, o ItemOutcome) {
		if o.Index == 1 {
			cancel()
		}
	}))
	result, err := runner.Run(ctx, []LookupRequest{
		{Term: "first.com", Fields: []string{"email"}},
		{Term: "second.com", Fields: []string{"email"}},
		{Term: "third.com", Fields: []string{"email"}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(result.Outcomes) != 1 || len(result.Items) != 1 || result.Total != 3 {
		t.Fatalf("unexpected partial result %+v", result)
	}
	if got := seen(); !reflect.DeepEqual(got, []string{"first.com"}) {
		t.Fatalf("unexpected requests after cancel: %v", got)
	}
	if result.FinishedAt.IsZero() {
		t.Fatal("expected finish time on partial result")
	}
}

func TestRunStopsWhenLimiterCannotMeetDeadline(t *testing.T) {
	server, seen := termServer(t, nil)
	client, _ := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.Limiter = NewLimiter(time.Hour)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	result, err := NewRunner(client).Run(ctx, []LookupRequest{
		{Term: "a.com", Fields: []string{"email"}},
		{Term: "b.com", Fields: []string{"email"}},
		{Term: "c.com", Fields: []string{"email"}},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if len(result.Outcomes) != 1 || result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("expected only the first item processed, got %+v", result.Outcomes)
	}
	if got := seen(); !reflect.DeepEqual(got, []string{"a.com"}) {
		t.Fatalf("unexpected requests: %v", got)
	}
}

// refusingLimiter admits allow calls, then reports a deadline it will not
// wait for.
type refusingLimiter struct {
	allow int32
	calls atomic.Int32
}

func (l *refusingLimiter) Wait(context.Context) error {
	if l.calls.Add(1) > l.allow {
		return fmt.Errorf("slot beyond deadline: %w", context.DeadlineExceeded)
	}
	return nil
}

func TestRunStopsOnLimiterDeadlineBeforeContextExpires(t *testing.T) {
	server, seen := termServer(t, nil)
	limiter := &refusingLimiter{allow: 1}
	client, _ := newTestClient(t, server.URL, func(cfg *Config) { cfg.Limiter = limiter })

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	result, err := NewRunner(client).Run(ctx, []LookupRequest{
		{Term: "a.com", Fields: []string{"email"}},
		{Term: "b.com", Fields: []string{"email"}},
		{Term: "c.com", Fields: []string{"email"}},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if len(result.Outcomes) != 1 || limiter.calls.Load() != 2 {
		t.Fatalf("expected the run to stop at item 2, outcomes=%d limiter calls=%d", len(result.Outcomes), limiter.calls.Load())
	}
	if got := seen(); !reflect.DeepEqual(got, []string{"a.com"}) {
		t.Fatalf("unexpected requests: %v", got)
	}
}

func TestForBatchLimiterScope(t *testing.T) {
	batchClient, err := New(Config{BaseURL: "https://scope.test", LimiterScope: ScopeBatch})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	first, second := batchClient.forBatch(), batchClient.forBatch()
	if first.limiter == second.limiter || first.limiter == batchClient.Limiter() {
		t.Fatal("batch scope should create a fresh limiter per run")
	}

	clientScoped, err := New(Config{BaseURL: "https://scope.test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if clientScoped.forBatch().limiter != clientScoped.Limiter() {
		t.Fatal("client scope should reuse the client limiter")
	}

	pinned := &countingLimiter{}
	pinnedClient, err := New(Config{BaseURL: "https://scope.test", LimiterScope: ScopeBatch, Limiter: pinned})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if pinnedClient.forBatch().limiter != Limiter(pinned) {
		t.Fatal("explicit limiter should override batch scope")
	}
}
