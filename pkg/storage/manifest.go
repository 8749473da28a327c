package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ManifestStore materializes manifests from the event log and maintains the
// current.json pointer. Manifests are rebuilt, never mutated.
type ManifestStore struct {
	root   string
	events *EventLog
	logger zerolog.Logger
}

// NewManifestStore creates a manifest store sharing the event log.
func NewManifestStore(root string, events *EventLog, logger zerolog.Logger) *ManifestStore {
	return &ManifestStore{root: root, events: events, logger: logger}
}

func (s *ManifestStore) manifestPath(movieID, revision string) string {
	return filepath.Join(s.root, "builds", movieID, "manifests", revision+".json")
}

func (s *ManifestStore) currentPath(movieID string) string {
	return filepath.Join(s.root, "builds", movieID, "current.json")
}

// Materialize projects the event log at the given revision: per artifact id
// the latest event with revision at or before the target, keeping succeeded
// and skipped entries. The manifest is written to disk and current.json is
// updated by write-then-rename.
func (s *ManifestStore) Materialize(ctx context.Context, movieID, revision string, inputs map[string]interface{}) (*Manifest, error) {
	events, err := s.events.Stream(ctx, movieID)
	if err != nil {
		return nil, err
	}

	winners := make(map[string]ArtifactEvent)
	baseRevision := ""
	for _, event := range events {
		if !RevisionLE(event.Revision, revision) {
			continue
		}
		winners[event.ArtifactID] = event
		if event.Revision != revision && (baseRevision == "" || RevisionLE(baseRevision, event.Revision)) {
			baseRevision = event.Revision
		}
	}

	manifest := &Manifest{
		Revision:     revision,
		BaseRevision: baseRevision,
		CreatedAt:    time.Now().UTC(),
		Inputs:       inputs,
		Artifacts:    make(map[string]ManifestEntry, len(winners)),
	}
	for id, event := range winners {
		if event.Status != EventSucceeded && event.Status != EventSkipped {
			continue
		}
		manifest.Artifacts[id] = ManifestEntry{
			Status:     event.Status,
			Output:     event.Output,
			Revision:   event.Revision,
			ProducedBy: event.ProducedBy,
		}
	}

	path := s.manifestPath(movieID, revision)
	if err := writeJSONAtomic(path, manifest); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := writeJSONAtomic(s.currentPath(movieID), Current{
		Revision:     revision,
		ManifestPath: path,
	}); err != nil {
		return nil, fmt.Errorf("failed to update current pointer: %w", err)
	}

	s.logger.Info().
		Str("movie_id", movieID).
		Str("revision", revision).
		Int("artefacts", len(manifest.Artifacts)).
		Msg("manifest materialized")
	return manifest, nil
}

// Current reads the current pointer. A missing pointer returns nil without
// error.
func (s *ManifestStore) Current(ctx context.Context, movieID string) (*Current, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.currentPath(movieID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current pointer: %w", err)
	}
	var cur Current
	if err := json.Unmarshal(data, &cur); err != nil {
		return nil, fmt.Errorf("corrupt current pointer: %w", err)
	}
	return &cur, nil
}

// Load reads a materialized manifest by revision.
func (s *ManifestStore) Load(ctx context.Context, movieID, revision string) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.manifestPath(movieID, revision))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", revision, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("corrupt manifest %s: %w", revision, err)
	}
	return &manifest, nil
}

// LoadCurrent resolves the pointer and loads the manifest it names. Both a
// missing pointer and an empty pointer return nil without error.
func (s *ManifestStore) LoadCurrent(ctx context.Context, movieID string) (*Manifest, error) {
	cur, err := s.Current(ctx, movieID)
	if err != nil || cur == nil {
		return nil, err
	}
	if cur.Revision == "" {
		return nil, nil
	}
	return s.Load(ctx, movieID, cur.Revision)
}

// writeJSONAtomic writes v as indented JSON via a temp file and rename so a
// reader never observes a half-written file.
func writeJSONAtomic(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
