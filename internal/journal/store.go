package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrRunNotFound is returned when a run id matches no journal row.
	ErrRunNotFound = errors.New("run not found")
	// ErrAmbiguousRun is returned when a run id prefix matches several runs.
	ErrAmbiguousRun = errors.New("run id prefix is ambiguous")
)

// Store manages run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the journal database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	// Connection pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragma %q: %w", "PRAGMA journal_mode=WAL", err)
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun records a new running batch of total items.
func (s *Store) BeginRun(ctx context.Context, id string, total int) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("run id is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, total, status) VALUES (?, ?, ?, ?)`,
		id,
		s.now().UTC().Format(timeLayout),
		total,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordItem stores the outcome of one lookup. Recording the same position
// twice keeps the latest record.
func (s *Store) RecordItem(ctx context.Context, runID string, rec ItemRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_items (
            run_id, position, term, state, error_kind, error_message, result_count, attempts
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(run_id, position) DO UPDATE SET
            term = excluded.term,
            state = excluded.state,
            error_kind = excluded.error_kind,
            error_message = excluded.error_message,
            result_count = excluded.result_count,
            attempts = excluded.attempts`,
		runID,
		rec.Position,
		rec.Term,
		rec.State,
		nullableString(rec.ErrorKind),
		nullableString(rec.ErrorMessage),
		rec.ResultCount,
		rec.Attempts,
	)
	if err != nil {
		return fmt.Errorf("record item %d of run %s: %w", rec.Position, runID, err)
	}
	return nil
}

// FinishRun stores the final tallies of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, summary Summary) error {
	finishedAt := summary.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = s.now()
	}
	status := summary.Status
	if status == "" {
		status = StatusCompleted
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs
         SET finished_at = ?, succeeded = ?, failed = ?, result_count = ?, status = ?
         WHERE id = ?`,
		finishedAt.UTC().Format(timeLayout),
		summary.Succeeded,
		summary.Failed,
		summary.ResultCount,
		status,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// MarkInterrupted closes runs still marked running, which only happens when a
// previous process died mid-batch. It returns the number of runs updated.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE status = ?`,
		StatusInterrupted,
		s.now().UTC().Format(timeLayout),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// ListRuns returns the most recent runs first. A non-positive limit returns
// every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun resolves a full run id or a unique prefix of one.
func (s *Store) GetRun(ctx context.Context, idOrPrefix string) (Run, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return Run{}, ErrRunNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR substr(id, 1, ?) = ? ORDER BY id LIMIT 2`,
		idOrPrefix, len(idOrPrefix), idOrPrefix,
	)
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var matches []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return Run{}, fmt.Errorf("scan run: %w", err)
		}
		if run.ID == idOrPrefix {
			return run, nil
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return Run{}, err
	}
	switch len(matches) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return Run{}, fmt.Errorf("%w: %s", ErrAmbiguousRun, idOrPrefix)
	}
}

// RunItems returns the recorded items of a run in input order.
func (s *Store) RunItems(ctx context.Context, runID string) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, term, state, error_kind, error_message, result_count, attempts
         FROM run_items WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()

	var items []ItemRecord
	for rows.Next() {
		var (
			rec          ItemRecord
			errorKind    sql.NullString
			errorMessage sql.NullString
		)
		if err := rows.Scan(&rec.Position, &rec.Term, &rec.State, &errorKind, &errorMessage, &rec.ResultCount, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("scan run item: %w", err)
		}
		rec.ErrorKind = errorKind.String
		rec.ErrorMessage = errorMessage.String
		items = append(items, rec)
	}
	return items, rows.Err()
}
