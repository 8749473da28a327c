package stores

import (
	"context"
	"time"

	"github.com/reelforge/reelforge/pkg/engine"
)

// RunRecord is one row of the run index: a single execution of a plan.
type RunRecord struct {
	ID           string           `json:"id"`
	MovieID      string           `json:"movieId"`
	Revision     string           `json:"revision"`
	BaseRevision string           `json:"baseRevision,omitempty"`
	Status       engine.RunStatus `json:"status"`
	Error        *string          `json:"error,omitempty"`

	// Metadata is a JSON blob for run-level context (scope, operator, host).
	Metadata string `json:"metadata"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// JobRecord is one row per scheduled job of a run. The run id and job id
// together are unique; the same job id recurs across runs.
type JobRecord struct {
	RunID    string           `json:"runId"`
	JobID    string           `json:"jobId"`
	Producer string           `json:"producer"`
	Provider string           `json:"provider,omitempty"`
	Model    string           `json:"model,omitempty"`
	Status   engine.JobStatus `json:"status"`
	Attempts int              `json:"attempts"`

	// Reason explains a skip; Error carries the failure message.
	Reason *string `json:"reason,omitempty"`
	Error  *string `json:"error,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// AuditEntry is an audit trail row.
type AuditEntry struct {
	ID      int64   `json:"id"`
	Action  string  `json:"action"` // e.g. "run.created", "run.completed"
	Actor   string  `json:"actor"`
	MovieID *string `json:"movieId,omitempty"`

	// Details is a JSON blob.
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the run index persistence interface. The event log remains the
// source of truth for artifacts; the store is a queryable projection of runs
// and job attempts.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, errMsg *string) error
	ListRuns(ctx context.Context, movieID string, limit, offset int) ([]*RunRecord, error)

	// Job operations
	CreateJob(ctx context.Context, job *JobRecord) error
	UpdateJobStatus(ctx context.Context, runID, jobID string, status engine.JobStatus, attempts int, reason, errMsg *string) error
	ListJobsByRun(ctx context.Context, runID string) ([]*JobRecord, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action, movieID *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
