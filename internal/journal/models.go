package journal

import "time"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusInterrupted Status = "interrupted"
)

// Run is one row of the runs table.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Total       int
	Succeeded   int
	Failed      int
	ResultCount int
	Status      Status
}

// Duration reports how long the run took, or zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ItemRecord is the journal entry for one lookup.
type ItemRecord struct {
	Position     int
	Term         string
	State        string
	ErrorKind    string
	ErrorMessage string
	ResultCount  int
	Attempts     int
}

// Summary closes out a run.
type Summary struct {
	Succeeded   int
	Failed      int
	ResultCount int
	Status      Status
	FinishedAt  time.Time
}
