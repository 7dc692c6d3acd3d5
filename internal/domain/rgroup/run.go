package rgroup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ─────────────────────────────────────────────────────────────────────────────
// Run: persisted record of one processed decomposition
// ─────────────────────────────────────────────────────────────────────────────

// Run is the stored summary of a finalized Result. Rows are stored alongside
// it and loaded separately.
type Run struct {
	ID    uuid.UUID
	JobID string

	// Status is the job status: succeeded, partial or failed.
	Status string

	Options     Options
	Strategy    MatchingStrategy
	ScoreMethod ScoreMethod
	Score       float64
	Complete    bool
	TimedOut    bool

	// Molecules counts the molecules offered; Registered those accepted.
	Molecules  int
	Registered int
	Columns    []int

	CreatedAt  time.Time
	FinishedAt time.Time
}

// NewRun summarizes res for storage.
func NewRun(jobID, status string, opts Options, offered int, res *Result, started time.Time) *Run {
	return &Run{
		ID:          uuid.New(),
		JobID:       jobID,
		Status:      status,
		Options:     opts,
		Strategy:    res.Strategy(),
		ScoreMethod: res.ScoreMethod(),
		Score:       res.Score(),
		Complete:    res.Complete(),
		TimedOut:    res.TimedOut(),
		Molecules:   offered,
		Registered:  res.Registered(),
		Columns:     res.Columns(),
		CreatedAt:   started,
		FinishedAt:  time.Now(),
	}
}

// RunRepository persists runs and their rows.
type RunRepository interface {
	// Save stores run and rows atomically.
	Save(ctx context.Context, run *Run, rows []Row) error
	FindByID(ctx context.Context, id uuid.UUID) (*Run, error)
	// FindByJobID returns the latest run of a job.
	FindByJobID(ctx context.Context, jobID string) (*Run, error)
	Rows(ctx context.Context, runID uuid.UUID) ([]Row, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
