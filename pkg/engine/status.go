package engine

import "fmt"

// JobStatus represents the lifecycle state of a single job.
type JobStatus string

const (
	// JobStatusPending indicates the job has not started yet.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"

	// JobStatusSucceeded indicates the job produced all its artifacts.
	JobStatusSucceeded JobStatus = "succeeded"

	// JobStatusFailed indicates the job failed terminally.
	JobStatusFailed JobStatus = "failed"

	// JobStatusSkipped indicates a condition or scope excluded the job.
	JobStatusSkipped JobStatus = "skipped"

	// JobStatusCached indicates the job reused a prior output by inputsHash.
	JobStatusCached JobStatus = "cached"

	// JobStatusCancelled indicates the run was cancelled before or during
	// the job.
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the status is a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusSkipped, JobStatusCached, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Validate checks if the status is valid.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSucceeded, JobStatusFailed,
		JobStatusSkipped, JobStatusCached, JobStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", s)
	}
}

// RunStatus represents the overall outcome of an execution.
type RunStatus string

const (
	// RunStatusRunning indicates the execution is in progress.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every job succeeded, was cached or was
	// skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates at least one job failed and nothing
	// succeeded after it.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates a mix of failures and successes where
	// downstream work was still attempted.
	RunStatusPartial RunStatus = "partial"

	// RunStatusCancelled indicates the execution was cancelled.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the status is a final state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive returns true if the execution is still in progress.
func (s RunStatus) IsActive() bool {
	return s == RunStatusRunning
}

// Validate checks if the status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
