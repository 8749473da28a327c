package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/reelforge/reelforge/pkg/ident"
	"github.com/reelforge/reelforge/pkg/storage"
)

// valueStore tracks the latest event per artifact id during execution and
// resolves condition lookups against it. It is seeded from the event log and
// updated in memory on every append so conditions see the current layer's
// results without re-reading the log.
type valueStore struct {
	movieID string
	blobs   *storage.BlobStore

	mu     sync.RWMutex
	latest map[string]storage.ArtifactEvent
}

func newValueStore(ctx context.Context, movieID string, log *storage.EventLog, blobs *storage.BlobStore) (*valueStore, error) {
	latest, err := log.Latest(ctx, movieID)
	if err != nil {
		return nil, NewInternalError("failed to read event log", err).WithCode(ErrCodeStorageFailed)
	}
	if latest == nil {
		latest = make(map[string]storage.ArtifactEvent)
	}
	return &valueStore{movieID: movieID, blobs: blobs, latest: latest}, nil
}

// record tracks an appended event.
func (s *valueStore) record(event storage.ArtifactEvent) {
	s.mu.Lock()
	s.latest[event.ArtifactID] = event
	s.mu.Unlock()
}

// lookup returns the latest event for an artifact id.
func (s *valueStore) lookup(id string) (storage.ArtifactEvent, bool) {
	s.mu.RLock()
	event, ok := s.latest[id]
	s.mu.RUnlock()
	return event, ok
}

// DecomposedValue implements conditions.ValueSource: the value stored under
// the fully substituted leaf id, if any.
func (s *valueStore) DecomposedValue(ctx context.Context, id ident.ID) (interface{}, bool, error) {
	return s.value(ctx, id)
}

// CompositeValue implements conditions.ValueSource: the value stored under
// the composite artifact id.
func (s *valueStore) CompositeValue(ctx context.Context, id ident.ID) (interface{}, bool, error) {
	return s.value(ctx, id)
}

func (s *valueStore) value(ctx context.Context, id ident.ID) (interface{}, bool, error) {
	event, ok := s.lookup(id.String())
	if !ok || event.Status != storage.EventSucceeded || event.Output == nil {
		return nil, false, nil
	}
	if event.Output.Blob == nil {
		return event.Output.Inline, true, nil
	}

	data, err := s.blobs.Read(ctx, s.movieID, *event.Output.Blob)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read blob for %s: %w", id, err)
	}
	switch event.Output.Blob.MimeType {
	case "application/json":
		var value interface{}
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, false, fmt.Errorf("corrupt json blob for %s: %w", id, err)
		}
		return value, true, nil
	default:
		// Text blobs keep their literal text; coercion happens at the
		// operator.
		return string(data), true, nil
	}
}

// inputsHash computes the stable hash over a job's resolved inputs and model
// selection, used for cache-hit detection across replans.
func inputsHash(job *JobDescriptor, resolve func(binding InputBinding) interface{}) string {
	type entry struct {
		ID    string      `json:"id"`
		Value interface{} `json:"value,omitempty"`
		FanIn []string    `json:"fanIn,omitempty"`
	}
	entries := make([]entry, 0, len(job.Inputs))
	for _, binding := range job.Inputs {
		e := entry{ID: binding.InputID, FanIn: binding.FanIn}
		if binding.FanIn == nil {
			e.Value = resolve(binding)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	payload := struct {
		Inputs   []entry                `json:"inputs"`
		Provider string                 `json:"provider,omitempty"`
		Model    string                 `json:"model,omitempty"`
		Config   map[string]interface{} `json:"config,omitempty"`
	}{Inputs: entries, Provider: job.Provider, Model: job.Model, Config: job.Config}

	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
