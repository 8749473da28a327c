// Package storage is the durable layer of a build: content-addressed blobs,
// an append-only artifact event log and manifests materialized from it. The
// event log is the source of truth; manifests are derived projections.
package storage

import (
	"fmt"
	"strconv"
	"time"
)

// EventStatus is the terminal status an artifact event records.
type EventStatus string

const (
	// EventSucceeded marks a produced artifact.
	EventSucceeded EventStatus = "succeeded"

	// EventFailed marks a production failure; diagnostics carry the cause.
	EventFailed EventStatus = "failed"

	// EventSkipped marks an artifact whose producing job was skipped by a
	// condition.
	EventSkipped EventStatus = "skipped"

	// EventCancelled marks an artifact abandoned by a cancelled run.
	EventCancelled EventStatus = "cancelled"
)

// Validate checks if the status is valid.
func (s EventStatus) Validate() error {
	switch s {
	case EventSucceeded, EventFailed, EventSkipped, EventCancelled:
		return nil
	default:
		return fmt.Errorf("invalid event status: %s", s)
	}
}

// Blob describes content-addressed bytes. Same content hashes to the same
// blob and is stored once.
type Blob struct {
	// Hash is the lowercase hex SHA-256 of the content.
	Hash string `json:"hash"`

	// Size is the content length in bytes.
	Size int64 `json:"size"`

	// MimeType is the declared media type of the content.
	MimeType string `json:"mimeType"`
}

// Output is the payload of a succeeded event: a blob reference or a small
// inline value.
type Output struct {
	// Blob references content-addressed bytes, if the output was persisted.
	Blob *Blob `json:"blob,omitempty"`

	// Inline holds a small JSON-like value stored directly in the event.
	Inline interface{} `json:"inline,omitempty"`
}

// ArtifactEvent is one append-only record of the event log. The latest event
// per artifact id wins.
type ArtifactEvent struct {
	// ArtifactID is the canonical id of the artifact instance.
	ArtifactID string `json:"artefactId"`

	// Revision is the build revision the event belongs to.
	Revision string `json:"revision"`

	// InputsHash is the stable hash over the producing job's resolved
	// inputs and model selection.
	InputsHash string `json:"inputsHash,omitempty"`

	// Status is the terminal status of the production attempt.
	Status EventStatus `json:"status"`

	// Output carries the produced value for succeeded events.
	Output *Output `json:"output,omitempty"`

	// ProducedBy is the job id that emitted the event.
	ProducedBy string `json:"producedBy,omitempty"`

	// Diagnostics carries failure classification, skip reasons and recovery
	// annotations.
	Diagnostics map[string]interface{} `json:"diagnostics,omitempty"`

	// CreatedAt is the append timestamp.
	CreatedAt time.Time `json:"createdAt"`
}

// Recoverable reports whether a failed event can be reconciled against its
// provider later.
func (e *ArtifactEvent) Recoverable() bool {
	if e.Status != EventFailed || e.Diagnostics == nil {
		return false
	}
	flag, _ := e.Diagnostics["recoverable"].(bool)
	return flag
}

// ManifestEntry is one artifact slot of a materialized manifest.
type ManifestEntry struct {
	Status EventStatus `json:"status"`
	Output *Output     `json:"output,omitempty"`

	// Revision is the revision of the winning event.
	Revision string `json:"revision"`

	// ProducedBy is the job that produced the winning event.
	ProducedBy string `json:"producedBy,omitempty"`
}

// Manifest is a snapshot of the latest successful state per artifact id at a
// given revision.
type Manifest struct {
	Revision     string                   `json:"revision"`
	BaseRevision string                   `json:"baseRevision,omitempty"`
	CreatedAt    time.Time                `json:"createdAt"`
	Inputs       map[string]interface{}   `json:"inputs,omitempty"`
	Artifacts    map[string]ManifestEntry `json:"artefacts"`
}

// Current is the atomically updated pointer to the latest manifest.
type Current struct {
	Revision     string `json:"revision"`
	ManifestPath string `json:"manifestPath,omitempty"`
}

// revisionWidth fixes the zero-padding of generated revisions so they order
// lexicographically.
const revisionWidth = 6

// NextRevision returns the revision following prev ("" yields the first).
func NextRevision(prev string) string {
	n := 0
	if prev != "" {
		if parsed, err := strconv.Atoi(prev); err == nil {
			n = parsed
		}
	}
	return fmt.Sprintf("%0*d", revisionWidth, n+1)
}

// RevisionLE reports whether revision a orders at or before b. Numeric
// revisions compare numerically, anything else lexicographically.
func RevisionLE(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na <= nb
	}
	return a <= b
}
