package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelforge/reelforge/pkg/blueprint"
	"github.com/reelforge/reelforge/pkg/conditions"
	"github.com/reelforge/reelforge/pkg/ident"
	"github.com/reelforge/reelforge/pkg/producer"
	"github.com/reelforge/reelforge/pkg/secrets"
	"github.com/reelforge/reelforge/pkg/storage"
	"github.com/reelforge/reelforge/pkg/telemetry"
)

// ExecutorConfig wires an executor's collaborators.
type ExecutorConfig struct {
	// Concurrency bounds the worker pool; defaults to 4.
	Concurrency int

	// Registry resolves providers to handlers.
	Registry *producer.Registry

	// Blobs and Events are the durable layer the run writes into.
	Blobs  *storage.BlobStore
	Events *storage.EventLog

	// Secrets is handed to handlers through the runtime.
	Secrets secrets.Resolver

	// Mode selects normal or simulated handler invocation.
	Mode producer.Mode

	// FailFast stops scheduling new layers after a failed layer.
	FailFast bool

	// RetryBaseDelay is the first backoff step for transient retries.
	RetryBaseDelay time.Duration

	Observer Observer
	Logger   zerolog.Logger
	Metrics  *telemetry.Metrics
}

// Executor runs a plan layer by layer with a bounded worker pool. Layer N+1
// begins only after every job of layer N reached a terminal status; within a
// layer jobs are dequeued in arrival order with no ordering guarantee.
type Executor struct {
	concurrency    int
	registry       *producer.Registry
	blobs          *storage.BlobStore
	events         *storage.EventLog
	secrets        secrets.Resolver
	mode           producer.Mode
	failFast       bool
	retryBaseDelay time.Duration
	observer       Observer
	logger         zerolog.Logger
	metrics        *telemetry.Metrics
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = producer.ModeNormal
	}
	return &Executor{
		concurrency:    cfg.Concurrency,
		registry:       cfg.Registry,
		blobs:          cfg.Blobs,
		events:         cfg.Events,
		secrets:        cfg.Secrets,
		mode:           cfg.Mode,
		failFast:       cfg.FailFast,
		retryBaseDelay: cfg.RetryBaseDelay,
		observer:       cfg.Observer,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}
}

// runState is the mutable per-run bookkeeping shared across workers.
type runState struct {
	plan   *ExecutionPlan
	tree   *blueprint.Tree
	values *valueStore

	mu      sync.Mutex
	results map[string]JobResult
}

func (st *runState) setResult(result JobResult) {
	st.mu.Lock()
	st.results[result.JobID] = result
	st.mu.Unlock()
}

func (st *runState) result(jobID string) (JobResult, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	result, ok := st.results[jobID]
	return result, ok
}

// Execute runs the plan and returns the build summary. Handler errors are
// converted to failed events at the job boundary; they never abort the run
// unless FailFast is set.
func (e *Executor) Execute(ctx context.Context, plan *ExecutionPlan, tree *blueprint.Tree) (*BuildSummary, error) {
	values, err := newValueStore(ctx, plan.MovieID, e.events, e.blobs)
	if err != nil {
		return nil, err
	}
	st := &runState{
		plan:    plan,
		tree:    tree,
		values:  values,
		results: make(map[string]JobResult, len(plan.Jobs)),
	}

	startedAt := time.Now()
	e.notify(Notification{Type: NotifyPlanReady, JobCount: plan.JobCount()})

	cancelled := false
	for layerIdx, layer := range plan.Layers {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if len(layer) == 0 {
			e.notify(Notification{Type: NotifyLayerSkipped, Layer: layerIdx})
			continue
		}

		e.notify(Notification{Type: NotifyLayerStart, Layer: layerIdx, JobCount: len(layer)})
		e.executeLayer(ctx, st, layerIdx, layer)

		var succeeded, failed, skipped int
		for _, idx := range layer {
			result, _ := st.result(plan.Jobs[idx].ID)
			switch result.Status {
			case JobStatusSucceeded, JobStatusCached:
				succeeded++
			case JobStatusFailed:
				failed++
			case JobStatusSkipped:
				skipped++
			}
		}
		e.notify(Notification{
			Type: NotifyLayerComplete, Layer: layerIdx,
			Succeeded: succeeded, Failed: failed, Skipped: skipped,
		})

		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if e.failFast && failed > 0 {
			e.logger.Warn().Int("layer", layerIdx).Msg("stopping after failed layer")
			break
		}
	}

	summary := e.summarize(st, plan, startedAt, cancelled)
	if cancelled {
		e.notify(Notification{Type: NotifyExecutionCancelled, Summary: summary})
	} else {
		e.notify(Notification{Type: NotifyExecutionComplete, Status: JobStatus(summary.Status), Summary: summary})
	}
	return summary, nil
}

// executeLayer dispatches one layer to the worker pool and waits for the
// barrier.
func (e *Executor) executeLayer(ctx context.Context, st *runState, layerIdx int, layer []int) {
	workers := e.concurrency
	if len(layer) < workers {
		workers = len(layer)
	}

	queue := make(chan int, len(layer))
	for _, idx := range layer {
		queue <- idx
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				job := &st.plan.Jobs[idx]
				if ctx.Err() != nil {
					st.setResult(JobResult{JobID: job.ID, Status: JobStatusCancelled,
						StartedAt: time.Now(), CompletedAt: time.Now()})
					continue
				}
				e.runJob(ctx, st, layerIdx, job)
			}
		}()
	}
	wg.Wait()
}

// runJob drives one job through its lifecycle: dependency check, condition
// evaluation, cache check, handler invocation with retries, persistence.
func (e *Executor) runJob(ctx context.Context, st *runState, layerIdx int, job *JobDescriptor) {
	start := time.Now()
	e.notify(Notification{Type: NotifyJobStart, Layer: layerIdx, JobID: job.ID, Producer: job.Producer})
	if e.metrics != nil {
		e.metrics.JobStarted(job.Producer)
	}

	result := e.runJobInner(ctx, st, job)
	result.JobID = job.ID
	result.StartedAt = start
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(start)
	st.setResult(result)

	if e.metrics != nil {
		e.metrics.JobCompleted(job.Producer, string(result.Status), result.Duration)
		if result.Error != nil {
			e.metrics.ErrorObserved(string(result.Error.Class))
		}
	}

	n := Notification{Type: NotifyJobComplete, Layer: layerIdx, JobID: job.ID,
		Producer: job.Producer, Status: result.Status, Attempts: result.Attempts}
	if result.Error != nil {
		n.ErrorMessage = result.Error.Message
	}
	e.notify(n)
}

func (e *Executor) runJobInner(ctx context.Context, st *runState, job *JobDescriptor) JobResult {
	// A failed or cancelled upstream makes the job unrunnable.
	for _, dep := range job.DependsOn {
		depResult, ok := st.result(dep)
		if !ok {
			continue
		}
		switch depResult.Status {
		case JobStatusFailed, JobStatusCancelled:
			reason := fmt.Sprintf("dependency %s %s", dep, depResult.Status)
			e.appendSkipped(ctx, st, job, reason)
			return JobResult{Status: JobStatusSkipped, Reason: reason}
		case JobStatusSkipped:
			reason := fmt.Sprintf("dependency %s skipped", dep)
			e.appendSkipped(ctx, st, job, reason)
			return JobResult{Status: JobStatusSkipped, Reason: reason}
		}
	}

	// Conditions gate the job before any handler work.
	for _, jc := range job.InputConditions {
		scope := &conditions.Scope{Indices: jc.Indices, Source: st.values}
		res, err := conditions.Evaluate(ctx, jc.Condition, scope)
		if err != nil {
			perr := NewUserInputError("condition evaluation failed", err).
				WithCode(ErrCodeInvalidPattern).WithJob(job.ID).WithProducer(job.Producer)
			e.appendFailed(ctx, st, job, "", perr)
			return JobResult{Status: JobStatusFailed, Error: perr}
		}
		if !res.Satisfied {
			e.appendSkipped(ctx, st, job, res.Reason)
			return JobResult{Status: JobStatusSkipped, Reason: res.Reason}
		}
	}

	inputs, fanIn, missing := e.resolveInputs(ctx, st, job)
	if missing != "" {
		reason := fmt.Sprintf("missing upstream artifact %s", missing)
		e.appendSkipped(ctx, st, job, reason)
		return JobResult{Status: JobStatusSkipped, Reason: reason}
	}

	hash := inputsHash(job, func(binding InputBinding) interface{} {
		if binding.ArtifactID == "" {
			return binding.Value
		}
		if event, ok := st.values.lookup(binding.ArtifactID); ok && event.Output != nil {
			if event.Output.Blob != nil {
				return event.Output.Blob.Hash
			}
			return event.Output.Inline
		}
		return nil
	})

	// Cache hit: every produced id already succeeded with the same inputs.
	if e.cacheHit(st, job, hash) {
		if e.metrics != nil {
			e.metrics.CacheHit(job.Producer)
		}
		e.logger.Debug().Str("job_id", job.ID).Msg("cache hit, reusing prior output")
		return JobResult{Status: JobStatusCached}
	}

	reg, ok := e.registry.Lookup(job.Provider)
	if !ok {
		perr := NewUserInputError(
			fmt.Sprintf("no handler registered for provider %q", job.Provider), nil).
			WithCode(ErrCodeInvalidConfig).WithJob(job.ID).WithProducer(job.Producer)
		e.appendFailed(ctx, st, job, hash, perr)
		return JobResult{Status: JobStatusFailed, Error: perr}
	}
	if err := reg.ValidateConfig(job.Config); err != nil {
		perr := NewUserInputError("producer config rejected by schema", err).
			WithCode(ErrCodeInvalidConfig).WithJob(job.ID).WithProducer(job.Producer)
		e.appendFailed(ctx, st, job, hash, perr)
		return JobResult{Status: JobStatusFailed, Error: perr}
	}

	rt := &jobRuntime{
		mode:    e.mode,
		inputs:  inputs,
		fanIn:   fanIn,
		config:  job.Config,
		secrets: e.secrets,
		notify: func(message string, fields map[string]interface{}) {
			e.notify(Notification{Type: NotifyProducerProgress, JobID: job.ID,
				Producer: job.Producer, Message: message, Fields: fields})
		},
	}
	req := producer.Request{
		JobID:    job.ID,
		Producer: job.Producer,
		Produces: job.Produces,
		Provider: job.Provider,
		Model:    job.Model,
		Indices:  job.Indices,
	}

	response, attempts, err := e.invokeWithRetry(ctx, reg, req, rt, job)
	if err != nil {
		perr := e.asPipelineError(err, job)
		e.appendFailed(ctx, st, job, hash, perr)
		return JobResult{Status: JobStatusFailed, Error: perr, Attempts: attempts}
	}

	if perr := e.persistResponse(ctx, st, job, hash, response); perr != nil {
		e.appendFailed(ctx, st, job, hash, perr)
		return JobResult{Status: JobStatusFailed, Error: perr, Attempts: attempts}
	}
	return JobResult{Status: JobStatusSucceeded, Attempts: attempts}
}

// resolveInputs materializes the job's input values. The third return names
// the first unavailable upstream artifact, if any.
func (e *Executor) resolveInputs(ctx context.Context, st *runState, job *JobDescriptor) (map[string]interface{}, map[string][]string, string) {
	inputs := make(map[string]interface{}, len(job.Inputs))
	fanIn := make(map[string][]string)

	for _, binding := range job.Inputs {
		switch {
		case binding.FanIn != nil:
			for _, id := range binding.FanIn {
				if event, ok := st.values.lookup(id); !ok || event.Status != storage.EventSucceeded {
					return nil, nil, id
				}
			}
			fanIn[binding.InputID] = binding.FanIn

		case binding.ArtifactID != "":
			parsed, err := ident.Parse(binding.ArtifactID)
			if err != nil {
				return nil, nil, binding.ArtifactID
			}
			value, found, err := st.values.value(ctx, parsed)
			if err != nil || !found {
				return nil, nil, binding.ArtifactID
			}
			inputs[binding.InputID] = value

		default:
			inputs[binding.InputID] = binding.Value
		}
	}
	return inputs, fanIn, ""
}

// cacheHit reports whether every produced artifact already has a succeeded
// event with the same inputs hash.
func (e *Executor) cacheHit(st *runState, job *JobDescriptor, hash string) bool {
	if hash == "" {
		return false
	}
	for _, id := range job.Produces {
		event, ok := st.values.lookup(id)
		if !ok || event.Status != storage.EventSucceeded || event.InputsHash != hash {
			return false
		}
	}
	return true
}

// invokeWithRetry invokes the handler honoring its declared retry policy.
// Transient failures back off exponentially; a blown total deadline turns
// permanent.
func (e *Executor) invokeWithRetry(ctx context.Context, reg *producer.Registration,
	req producer.Request, rt *jobRuntime, job *JobDescriptor) (*producer.Response, int, error) {

	meta := reg.Metadata
	deadline := time.Now().Add(meta.TotalTimeout)

	var response *producer.Response
	var err error
	attempts := 0

	for attempt := 0; attempt <= meta.MaxRetries; attempt++ {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, meta.AttemptTimeout)
		if e.metrics != nil {
			e.metrics.ProviderCall(job.Provider, job.Model)
		}
		response, err = reg.Handler.Invoke(attemptCtx, req, rt)
		cancel()

		if err == nil {
			return response, attempts, nil
		}
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			err = NewTransientError("handler attempt timed out", err).WithCode(ErrCodeTimeout)
		}
		if ctx.Err() != nil {
			return nil, attempts, NewPermanentError("execution cancelled", ctx.Err()).WithCode(ErrCodeCancelled)
		}
		if !IsRetryable(err) || attempt >= meta.MaxRetries {
			break
		}
		if time.Now().After(deadline) {
			return nil, attempts, NewPermanentError("job exceeded total deadline", err).WithCode(ErrCodeTimeout)
		}

		backoff := e.backoff(attempt)
		e.logger.Warn().
			Str("job_id", job.ID).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("retrying after transient failure")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, attempts, NewPermanentError("execution cancelled", ctx.Err()).WithCode(ErrCodeCancelled)
		}
	}
	return nil, attempts, err
}

// backoff computes exponential backoff with ±25% jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(e.retryBaseDelay) * math.Pow(2, float64(attempt)))
	if delay > time.Minute {
		delay = time.Minute
	}
	jitter := time.Duration((rand.Float64() - 0.5) * 0.5 * float64(delay))
	return delay + jitter
}

// asPipelineError classifies a handler error, defaulting to permanent.
func (e *Executor) asPipelineError(err error, job *JobDescriptor) *PipelineError {
	if perr, ok := err.(*PipelineError); ok {
		return perr.WithJob(job.ID).WithProducer(job.Producer)
	}
	var invalid *producer.InvalidConfigError
	if errors.As(err, &invalid) {
		return NewUserInputError("producer config rejected by schema", err).
			WithCode(ErrCodeInvalidConfig).WithJob(job.ID).WithProducer(job.Producer)
	}
	return NewPermanentError("handler invocation failed", err).
		WithCode(ErrCodeProviderFailed).WithJob(job.ID).WithProducer(job.Producer)
}

// persistResponse writes every returned artifact: blobs content-addressed,
// events appended, json artifacts decomposed per their blueprint declaration.
func (e *Executor) persistResponse(ctx context.Context, st *runState, job *JobDescriptor,
	hash string, response *producer.Response) *PipelineError {

	if response == nil {
		return NewPermanentError("handler returned no response", nil).
			WithCode(ErrCodeProviderFailed).WithJob(job.ID)
	}

	filled := make(map[string]bool, len(response.Artifacts))
	for i := range response.Artifacts {
		art := &response.Artifacts[i]
		filled[art.ArtifactID] = true

		output := &storage.Output{}
		var inlineValue interface{}
		if art.Data != nil {
			mime := art.MimeType
			if mime == "" {
				mime = "application/octet-stream"
			}
			blob, err := e.blobs.Persist(ctx, st.plan.MovieID, art.Data, mime)
			if err != nil {
				return NewInternalError("failed to persist blob", err).
					WithCode(ErrCodeStorageFailed).WithJob(job.ID)
			}
			if e.metrics != nil {
				e.metrics.BlobWritten(blob.Size)
			}
			output.Blob = &blob
			if mime == "application/json" {
				_ = json.Unmarshal(art.Data, &inlineValue)
			}
		} else {
			output.Inline = art.Inline
			inlineValue = art.Inline
		}

		event := storage.ArtifactEvent{
			ArtifactID:  art.ArtifactID,
			Revision:    st.plan.Revision,
			InputsHash:  hash,
			Status:      storage.EventSucceeded,
			Output:      output,
			ProducedBy:  job.ID,
			Diagnostics: response.Diagnostics,
		}
		if err := e.appendEvent(ctx, st, event); err != nil {
			return err
		}

		if inlineValue != nil {
			if perr := e.decompose(ctx, st, job, art.ArtifactID, hash, inlineValue); perr != nil {
				return perr
			}
		}
	}

	for _, id := range job.Produces {
		if !filled[id] {
			return NewPermanentError(fmt.Sprintf("handler did not fill artifact %s", id), nil).
				WithCode(ErrCodeProviderFailed).WithJob(job.ID)
		}
	}
	return nil
}

// decompose persists the scalar leaves of a json artifact as individual
// text/plain blobs addressed by their full path-plus-indices ids.
func (e *Executor) decompose(ctx context.Context, st *runState, job *JobDescriptor,
	artifactID, hash string, value interface{}) *PipelineError {

	parsed, err := ident.Parse(artifactID)
	if err != nil || st.tree == nil {
		return nil
	}
	node, ok := st.tree.NodeAt(parsed.Path)
	if !ok {
		return nil
	}
	art, ok := node.Document.Artifact(parsed.Name)
	if !ok || len(art.Arrays) == 0 {
		return nil
	}

	decls := make(map[string]bool, len(art.Arrays))
	for _, decl := range art.Arrays {
		decls[decl.Path] = true
	}

	baseNames := append(append([]string(nil), parsed.Path...), parsed.Name)

	var walk func(v interface{}, path []string, indices []int) *PipelineError
	walk = func(v interface{}, path []string, indices []int) *PipelineError {
		switch tv := v.(type) {
		case map[string]interface{}:
			for _, key := range sortedValueKeys(tv) {
				if perr := walk(tv[key], append(path, key), indices); perr != nil {
					return perr
				}
			}
			return nil
		case []interface{}:
			if !decls[strings.Join(path, ".")] {
				return e.persistLeaf(ctx, st, job, baseNames, path, indices, hash, renderLeaf(v))
			}
			for i, item := range tv {
				if perr := walk(item, path, append(indices, i)); perr != nil {
					return perr
				}
			}
			return nil
		default:
			if len(path) == 0 {
				return nil
			}
			return e.persistLeaf(ctx, st, job, baseNames, path, indices, hash, renderLeaf(v))
		}
	}
	return walk(value, nil, parsed.Indices)
}

func (e *Executor) persistLeaf(ctx context.Context, st *runState, job *JobDescriptor,
	baseNames, path []string, indices []int, hash, text string) *PipelineError {

	names := append(append([]string(nil), baseNames...), path...)
	leafID := ident.Artifact(names[:len(names)-1], names[len(names)-1], indices...)

	blob, err := e.blobs.Persist(ctx, st.plan.MovieID, []byte(text), "text/plain")
	if err != nil {
		return NewInternalError("failed to persist decomposed leaf", err).
			WithCode(ErrCodeStorageFailed).WithJob(job.ID)
	}
	if e.metrics != nil {
		e.metrics.BlobWritten(blob.Size)
	}
	return e.appendEvent(ctx, st, storage.ArtifactEvent{
		ArtifactID: leafID.String(),
		Revision:   st.plan.Revision,
		InputsHash: hash,
		Status:     storage.EventSucceeded,
		Output:     &storage.Output{Blob: &blob},
		ProducedBy: job.ID,
	})
}

// renderLeaf renders a scalar as the literal text a text/plain blob keeps.
func renderLeaf(v interface{}) string {
	switch tv := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(tv)
	case string:
		return tv
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case int:
		return strconv.Itoa(tv)
	default:
		data, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}
		return string(data)
	}
}

func (e *Executor) appendEvent(ctx context.Context, st *runState, event storage.ArtifactEvent) *PipelineError {
	if err := e.events.Append(ctx, st.plan.MovieID, event); err != nil {
		return NewInternalError("failed to append event", err).WithCode(ErrCodeStorageFailed)
	}
	st.values.record(event)
	return nil
}

// appendSkipped records a skipped event per produced artifact.
func (e *Executor) appendSkipped(ctx context.Context, st *runState, job *JobDescriptor, reason string) {
	for _, id := range job.Produces {
		event := storage.ArtifactEvent{
			ArtifactID:  id,
			Revision:    st.plan.Revision,
			Status:      storage.EventSkipped,
			ProducedBy:  job.ID,
			Diagnostics: map[string]interface{}{"reason": reason},
		}
		if perr := e.appendEvent(ctx, st, event); perr != nil {
			e.logger.Error().Err(perr).Str("artefact_id", id).Msg("failed to record skip")
		}
	}
}

// appendFailed records a failed event per produced artifact with full
// failure diagnostics.
func (e *Executor) appendFailed(ctx context.Context, st *runState, job *JobDescriptor,
	hash string, perr *PipelineError) {

	diagnostics := map[string]interface{}{
		"errorCode":    perr.Code,
		"message":      perr.Message,
		"causedByUser": perr.CausedByUser(),
		"provider":     job.Provider,
		"model":        job.Model,
		"raw":          perr.Error(),
	}
	if perr.Class == ErrorClassRecoverable {
		diagnostics["recoverable"] = true
		diagnostics["providerRequestId"] = perr.ProviderRequestID
	}

	for _, id := range job.Produces {
		event := storage.ArtifactEvent{
			ArtifactID:  id,
			Revision:    st.plan.Revision,
			InputsHash:  hash,
			Status:      storage.EventFailed,
			ProducedBy:  job.ID,
			Diagnostics: diagnostics,
		}
		if err := e.appendEvent(ctx, st, event); err != nil {
			e.logger.Error().Err(err).Str("artefact_id", id).Msg("failed to record failure")
		}
	}
}

// summarize folds job results into the build summary.
func (e *Executor) summarize(st *runState, plan *ExecutionPlan, startedAt time.Time, cancelled bool) *BuildSummary {
	summary := &BuildSummary{
		Revision:  plan.Revision,
		StartedAt: startedAt,
		Results:   make(map[string]JobResult, len(st.results)),
	}

	scheduled := make(map[int]bool)
	for _, layer := range plan.Layers {
		for _, idx := range layer {
			scheduled[idx] = true
		}
	}
	summary.Total = len(scheduled)

	st.mu.Lock()
	for id, result := range st.results {
		summary.Results[id] = result
		switch result.Status {
		case JobStatusSucceeded:
			summary.Succeeded++
		case JobStatusCached:
			summary.Cached++
		case JobStatusFailed:
			summary.Failed++
		case JobStatusSkipped:
			summary.Skipped++
		case JobStatusCancelled:
			summary.Cancelled++
		}
	}
	st.mu.Unlock()

	summary.CompletedAt = time.Now()
	summary.Duration = summary.CompletedAt.Sub(summary.StartedAt)

	switch {
	case cancelled:
		summary.Status = RunStatusCancelled
	case summary.Failed == 0:
		summary.Status = RunStatusSucceeded
	case summary.Succeeded > 0 || summary.Cached > 0:
		summary.Status = RunStatusPartial
	default:
		summary.Status = RunStatusFailed
	}
	return summary
}

func (e *Executor) notify(n Notification) {
	if e.observer != nil {
		e.observer.Notify(n)
	}
}

func sortedValueKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
