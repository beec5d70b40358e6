package journal_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"breachvip/internal/journal"
	"breachvip/internal/testsupport"
)

func TestRunLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	testsupport.BeginRun(t, store, "run-1", 3)
	records := []journal.ItemRecord{
		{Position: 1, Term: "one.com", State: "emitted", ResultCount: 2, Attempts: 1},
		{Position: 2, Term: "two.com", State: "failed", ErrorKind: "http_status", ErrorMessage: "breachvip: search failed (500 Internal Server Error)", Attempts: 1},
		{Position: 3, Term: "three.com", State: "emitted", ResultCount: 1, Attempts: 2},
	}
	for _, rec := range records {
		if err := store.RecordItem(ctx, "run-1", rec); err != nil {
			t.Fatalf("RecordItem failed: %v", err)
		}
	}
	finished := time.Date(2026, 10, 19, 12, 0, 5, 0, time.UTC)
	if err := store.FinishRun(ctx, "run-1", journal.Summary{Succeeded: 2, Failed: 1, ResultCount: 3, FinishedAt: finished}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != journal.StatusCompleted || run.Total != 3 || run.Succeeded != 2 || run.Failed != 1 || run.ResultCount != 3 {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.FinishedAt == nil || !run.FinishedAt.Equal(finished) {
		t.Fatalf("unexpected finished_at %v", run.FinishedAt)
	}

	items, err := store.RunItems(ctx, "run-1")
	if err != nil {
		t.Fatalf("RunItems failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, item := range items {
		if item != records[i] {
			t.Fatalf("item %d = %+v, want %+v", i, item, records[i])
		}
	}
}

func TestRecordItemReplacesPosition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	testsupport.BeginRun(t, store, "run-1", 1)
	first := journal.ItemRecord{Position: 1, Term: "a.com", State: "failed", ErrorKind: "rate_limited"}
	second := journal.ItemRecord{Position: 1, Term: "a.com", State: "emitted", ResultCount: 4, Attempts: 2}
	for _, rec := range []journal.ItemRecord{first, second} {
		if err := store.RecordItem(ctx, "run-1", rec); err != nil {
			t.Fatalf("RecordItem failed: %v", err)
		}
	}
	items, err := store.RunItems(ctx, "run-1")
	if err != nil {
		t.Fatalf("RunItems failed: %v", err)
	}
	if len(items) != 1 || items[0] != second {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestRecordItemRequiresRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	err := store.RecordItem(context.Background(), "missing", journal.ItemRecord{Position: 1, Term: "a", State: "emitted"})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestFinishRunUnknown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	err := store.FinishRun(context.Background(), "missing", journal.Summary{})
	if !errors.Is(err, journal.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		testsupport.BeginRun(t, store, id, 1)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	for _, run := range runs {
		if run.Status != journal.StatusRunning || run.FinishedAt != nil || run.Duration() != 0 {
			t.Fatalf("unexpected running run %+v", run)
		}
	}

	all, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all runs, got %d", len(all))
	}
}

func TestGetRunByPrefix(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	testsupport.BeginRun(t, store, "abc123", 1)
	testsupport.BeginRun(t, store, "abd456", 1)
	testsupport.BeginRun(t, store, "abc", 1)

	run, err := store.GetRun(ctx, "abd")
	if err != nil || run.ID != "abd456" {
		t.Fatalf("expected prefix match, got %+v, %v", run, err)
	}
	run, err = store.GetRun(ctx, "abc")
	if err != nil || run.ID != "abc" {
		t.Fatalf("expected exact match to win, got %+v, %v", run, err)
	}
	if _, err := store.GetRun(ctx, "ab"); !errors.Is(err, journal.ErrAmbiguousRun) {
		t.Fatalf("expected ErrAmbiguousRun, got %v", err)
	}
	if _, err := store.GetRun(ctx, "zzz"); !errors.Is(err, journal.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestMarkInterrupted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	testsupport.BeginRun(t, store, "stale", 2)
	testsupport.BeginRun(t, store, "done", 1)
	if err := store.FinishRun(ctx, "done", journal.Summary{Succeeded: 1}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	n, err := store.MarkInterrupted(ctx)
	if err != nil {
		t.Fatalf("MarkInterrupted failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 interrupted run, got %d", n)
	}
	stale, err := store.GetRun(ctx, "stale")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stale.Status != journal.StatusInterrupted || stale.FinishedAt == nil {
		t.Fatalf("unexpected stale run %+v", stale)
	}
	done, err := store.GetRun(ctx, "done")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if done.Status != journal.StatusCompleted {
		t.Fatalf("completed run was modified: %+v", done)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := journal.Open(path); !errors.Is(err, journal.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	testsupport.BeginRun(t, store, "kept", 1)
	store.Close()

	reopened, err := journal.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetRun(context.Background(), "kept"); err != nil {
		t.Fatalf("run lost across reopen: %v", err)
	}
}
