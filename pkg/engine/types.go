package engine

import (
	"time"

	"github.com/reelforge/reelforge/pkg/conditions"
)

// Inputs are the resolved root input values for a run, keyed by input name.
type Inputs map[string]interface{}

// InputBinding binds one canonical input id of a job to its data source:
// a literal run input, an upstream artifact, or an ordered fan-in sequence.
type InputBinding struct {
	// InputID is the canonical Input: id of the slot.
	InputID string `json:"inputId"`

	// Value is the literal value when the slot is fed by a run input.
	Value interface{} `json:"value,omitempty"`

	// ArtifactID is the upstream canonical Artifact: id feeding the slot.
	ArtifactID string `json:"artifactId,omitempty"`

	// FanIn is the ordered sequence of sub-artifact ids for collector-fed
	// slots.
	FanIn []string `json:"fanIn,omitempty"`
}

// JobCondition is a condition attached to one of the job's incoming edges.
// Indices are the merged dimension coordinates of source and target; target
// values win for shared names.
type JobCondition struct {
	Condition *conditions.Condition `json:"condition"`
	Indices   map[string]int        `json:"indices,omitempty"`

	// Source is the edge source reference, kept for skip diagnostics.
	Source string `json:"source,omitempty"`
}

// JobDescriptor is one schedulable unit of work: a producer instance at a
// concrete dimension coordinate. Descriptors are created by the planner and
// consumed by the executor; they are plain values with no back-pointers.
type JobDescriptor struct {
	// ID is stable across replans for the same producer, coordinates and
	// base revision.
	ID string `json:"id"`

	// Producer is the dotted alias path of the producer instance.
	Producer string `json:"producer"`

	// Indices are the job's coordinates along each surrounding loop.
	Indices map[string]int `json:"indices,omitempty"`

	// Inputs bind every input slot of the producer.
	Inputs []InputBinding `json:"inputs,omitempty"`

	// Produces are the canonical artifact ids this job must fill.
	Produces []string `json:"produces"`

	// Provider and Model select the external integration for leaf jobs.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// RateKey groups jobs that share a provider-side rate limit.
	RateKey string `json:"rateKey,omitempty"`

	// Config is the raw producer config from the import site.
	Config map[string]interface{} `json:"config,omitempty"`

	// InputConditions gate the job; if any is unsatisfied at run time the
	// job is skipped.
	InputConditions []JobCondition `json:"inputConditions,omitempty"`

	// DependsOn are upstream job ids.
	DependsOn []string `json:"dependsOn,omitempty"`
}

// SurgicalTarget pairs a requested artifact with the job regenerating it,
// recorded for observability of surgical plans.
type SurgicalTarget struct {
	ArtifactID string `json:"artifactId"`
	JobID      string `json:"jobId"`
}

// ExecutionPlan is the layered job graph of a run. Layers hold indices into
// Jobs; empty layers are retained so layer indices stay aligned with the
// blueprint across scoped replans.
type ExecutionPlan struct {
	// MovieID identifies the build the plan writes into.
	MovieID string `json:"movieId"`

	// Revision is the new revision this plan will produce.
	Revision string `json:"revision"`

	// BaseRevision is the revision the plan builds on, if any.
	BaseRevision string `json:"baseRevision,omitempty"`

	// BaseManifestHash fingerprints the manifest the plan was derived from.
	BaseManifestHash string `json:"baseManifestHash,omitempty"`

	// Jobs is the flat job arena.
	Jobs []JobDescriptor `json:"jobs"`

	// Layers lists job indices per topological layer.
	Layers [][]int `json:"layers"`

	// BlueprintLayerCount is the layer count of the unscoped blueprint,
	// kept so callers can offer valid start and end layers.
	BlueprintLayerCount int `json:"blueprintLayerCount"`

	// Surgical records the requested targets of a surgical plan.
	Surgical []SurgicalTarget `json:"surgical,omitempty"`
}

// Job returns the descriptor with the given id.
func (p *ExecutionPlan) Job(id string) (*JobDescriptor, bool) {
	for i := range p.Jobs {
		if p.Jobs[i].ID == id {
			return &p.Jobs[i], true
		}
	}
	return nil, false
}

// JobCount returns the number of scheduled jobs.
func (p *ExecutionPlan) JobCount() int {
	return len(p.Jobs)
}

// ScopeKind selects how much of the blueprint a plan covers.
type ScopeKind string

const (
	// ScopeFull plans every producer at every coordinate.
	ScopeFull ScopeKind = "full"

	// ScopeReRunFrom skips layers below the given index, keeping empty
	// slots so indices stay stable.
	ScopeReRunFrom ScopeKind = "reRunFrom"

	// ScopeUpToLayer plans only layers at or below the given index.
	ScopeUpToLayer ScopeKind = "upToLayer"

	// ScopeSurgical regenerates exactly the given artifacts plus their
	// downstream dependents.
	ScopeSurgical ScopeKind = "surgical"
)

// Scope narrows a plan to part of the blueprint.
type Scope struct {
	Kind ScopeKind `json:"kind"`

	// Layer is the boundary layer for reRunFrom and upToLayer.
	Layer int `json:"layer,omitempty"`

	// ArtifactIDs are the surgical regeneration targets.
	ArtifactIDs []string `json:"artifactIds,omitempty"`
}

// FullScope is the default scope.
func FullScope() Scope {
	return Scope{Kind: ScopeFull}
}

// JobResult records the outcome of one executed job.
type JobResult struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`

	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`

	// Error is the classified failure, if any.
	Error *PipelineError `json:"error,omitempty"`

	// Attempts counts handler invocations including retries.
	Attempts int `json:"attempts,omitempty"`

	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"duration"`
}

// BuildSummary aggregates the outcome of an execution.
type BuildSummary struct {
	Status   RunStatus `json:"status"`
	Revision string    `json:"revision"`

	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cached    int `json:"cached"`
	Cancelled int `json:"cancelled"`

	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"duration"`

	// Results maps job id to its outcome.
	Results map[string]JobResult `json:"results,omitempty"`
}
