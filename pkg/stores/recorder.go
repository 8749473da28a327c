package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reelforge/reelforge/pkg/engine"
)

// Recorder projects executor notifications into the run index. It implements
// engine.Observer; write failures are logged, never propagated, because the
// index is a projection and the event log stays authoritative.
type Recorder struct {
	store  Store
	logger zerolog.Logger

	ctx   context.Context
	runID string
}

// StartRun creates the run row plus one pending job row per scheduled job
// and returns a recorder bound to that run. The context is retained for the
// writes triggered by notifications.
func StartRun(ctx context.Context, store Store, plan *engine.ExecutionPlan, actor string, logger zerolog.Logger) (*Recorder, error) {
	now := time.Now().UTC()
	runID := uuid.NewString()

	metadata, _ := json.Marshal(map[string]interface{}{
		"jobs":   plan.JobCount(),
		"layers": len(plan.Layers),
	})

	run := &RunRecord{
		ID:           runID,
		MovieID:      plan.MovieID,
		Revision:     plan.Revision,
		BaseRevision: plan.BaseRevision,
		Status:       engine.RunStatusRunning,
		Metadata:     string(metadata),
		StartedAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	for _, layer := range plan.Layers {
		for _, idx := range layer {
			job := &plan.Jobs[idx]
			record := &JobRecord{
				RunID:     runID,
				JobID:     job.ID,
				Producer:  job.Producer,
				Provider:  job.Provider,
				Model:     job.Model,
				Status:    engine.JobStatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := store.CreateJob(ctx, record); err != nil {
				return nil, err
			}
		}
	}

	audit := &AuditEntry{
		Action:    "run.created",
		Actor:     actor,
		MovieID:   &plan.MovieID,
		Timestamp: now,
	}
	if err := store.CreateAuditEntry(ctx, audit); err != nil {
		return nil, err
	}

	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "run-recorder").Str("run_id", runID).Logger(),
		ctx:    ctx,
		runID:  runID,
	}, nil
}

// RunID returns the id of the recorded run.
func (r *Recorder) RunID() string {
	return r.runID
}

// Notify implements engine.Observer.
func (r *Recorder) Notify(n engine.Notification) {
	switch n.Type {
	case engine.NotifyJobStart:
		r.updateJob(n.JobID, engine.JobStatusRunning, 0, nil, nil)

	case engine.NotifyJobComplete:
		var errMsg *string
		if n.ErrorMessage != "" {
			errMsg = &n.ErrorMessage
		}
		r.updateJob(n.JobID, n.Status, n.Attempts, nil, errMsg)

	case engine.NotifyExecutionComplete:
		r.finishRun(n.Summary)
	}
}

func (r *Recorder) updateJob(jobID string, status engine.JobStatus, attempts int, reason, errMsg *string) {
	if err := r.store.UpdateJobStatus(r.ctx, r.runID, jobID, status, attempts, reason, errMsg); err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to record job status")
	}
}

// finishRun settles job rows from the summary's results, which carry the
// skip reasons the notifications do not, then closes the run row.
func (r *Recorder) finishRun(summary *engine.BuildSummary) {
	if summary == nil {
		return
	}

	for jobID, result := range summary.Results {
		var reason, errMsg *string
		if result.Reason != "" {
			v := result.Reason
			reason = &v
		}
		if result.Error != nil {
			v := result.Error.Message
			errMsg = &v
		}
		r.updateJob(jobID, result.Status, result.Attempts, reason, errMsg)
	}

	var runErr *string
	if summary.Failed > 0 {
		msg := "one or more jobs failed"
		runErr = &msg
	}
	if err := r.store.UpdateRunStatus(r.ctx, r.runID, summary.Status, runErr); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record run status")
	}

	details, _ := json.Marshal(summary)
	detailsStr := string(details)
	audit := &AuditEntry{
		Action:    "run.completed",
		Actor:     "executor",
		Details:   &detailsStr,
		Timestamp: time.Now().UTC(),
	}
	if err := r.store.CreateAuditEntry(r.ctx, audit); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record audit entry")
	}
}
