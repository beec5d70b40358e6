package testsupport

import (
	"context"
	"testing"

	"breachvip/internal/config"
	"breachvip/internal/journal"
)

// MustOpenJournal opens the run journal for cfg and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// BeginRun starts a journal run for tests.
func BeginRun(t testing.TB, store *journal.Store, id string, total int) {
	t.Helper()

	if err := store.BeginRun(context.Background(), id, total); err != nil {
		t.Fatalf("store.BeginRun: %v", err)
	}
}
