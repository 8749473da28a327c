// Package producer defines the stable surface producer implementations code
// against: the handler contract, the invocation runtime and the registry the
// engine resolves handlers from. A producer is an opaque function plus
// metadata; the engine never sees provider internals.
package producer

import (
	"context"
	"time"
)

// Mode selects how a handler runs.
type Mode string

const (
	// ModeNormal contacts the external provider.
	ModeNormal Mode = "normal"

	// ModeSimulated returns a deterministic placeholder and contacts no
	// provider.
	ModeSimulated Mode = "simulated"
)

// Request describes one job invocation.
type Request struct {
	// JobID is the stable id of the job being executed.
	JobID string `json:"jobId"`

	// Producer is the dotted alias path of the producer instance.
	Producer string `json:"producer"`

	// Produces lists the canonical artifact ids this call must fill.
	Produces []string `json:"produces"`

	// Provider and Model select the external integration.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Indices are the job's dimension coordinates.
	Indices map[string]int `json:"indices,omitempty"`
}

// ArtifactResult is one produced artifact of a handler response.
type ArtifactResult struct {
	// ArtifactID is the canonical id the result fills.
	ArtifactID string `json:"artefactId"`

	// Data holds blob bytes to persist content-addressed. Mutually
	// exclusive with Inline.
	Data []byte `json:"-"`

	// MimeType declares the media type of Data.
	MimeType string `json:"mimeType,omitempty"`

	// Inline holds a small JSON-like value stored directly in the event.
	Inline interface{} `json:"inline,omitempty"`
}

// Response is the outcome of a handler invocation.
type Response struct {
	// Artifacts carry the produced outputs; one per requested id.
	Artifacts []ArtifactResult `json:"artefacts"`

	// Diagnostics are attached to the emitted events.
	Diagnostics map[string]interface{} `json:"diagnostics,omitempty"`
}

// Runtime is the environment a handler runs in. The engine supplies the
// implementation; handlers must treat it as read-only.
type Runtime interface {
	// Mode reports whether the invocation is simulated.
	Mode() Mode

	// Input returns the resolved value for a canonical input id.
	Input(id string) (interface{}, bool)

	// FanIn returns the ordered sub-artifact ids of a collector-fed input.
	FanIn(id string) ([]string, bool)

	// Config returns the validated raw config for the handler.
	Config() map[string]interface{}

	// Notify surfaces a structured progress message through the executor
	// observer.
	Notify(message string, fields map[string]interface{})

	// Secret resolves a scoped secret by name.
	Secret(ctx context.Context, name string) (string, error)
}

// Handler is the producer contract. Invoke must be cancel-aware: provider
// I/O is the only real blocking work in a run.
type Handler interface {
	Invoke(ctx context.Context, req Request, rt Runtime) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request, rt Runtime) (*Response, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, req Request, rt Runtime) (*Response, error) {
	return f(ctx, req, rt)
}

// Estimate is a pure cost prediction for one job.
type Estimate struct {
	// Cost is the predicted cost in the provider's billing currency.
	Cost float64 `json:"cost"`

	// IsPlaceholder marks a guess rather than a provider-backed figure.
	IsPlaceholder bool `json:"isPlaceholder,omitempty"`

	// Min and Max bound the estimate when the provider reports a range.
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`

	// HasRange reports whether Min and Max are meaningful.
	HasRange bool `json:"hasRange,omitempty"`
}

// Estimator predicts the cost of a request without invoking it.
type Estimator interface {
	Estimate(req Request) (Estimate, error)
}

// Metadata declares the retry and deadline policy of a handler. The engine
// reads it instead of hard-coding a policy.
type Metadata struct {
	// MaxRetries bounds in-process retries of transient failures.
	MaxRetries int `json:"maxRetries"`

	// AttemptTimeout caps one invocation; exceeding it is transient.
	AttemptTimeout time.Duration `json:"attemptTimeout"`

	// TotalTimeout caps the job across retries; exceeding it is permanent.
	TotalTimeout time.Duration `json:"totalTimeout"`
}

// DefaultMetadata is applied when a handler declares none.
func DefaultMetadata() Metadata {
	return Metadata{
		MaxRetries:     3,
		AttemptTimeout: 5 * time.Minute,
		TotalTimeout:   30 * time.Minute,
	}
}
