package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventLog is the append-only artifact event log, one JSONL file per movie.
// Appends are serialized per movie; readers see a monotonically growing
// prefix. At most one succeeded event exists per (revision, artefactId)
// pair; Append enforces this across all writers.
type EventLog struct {
	root   string
	logger zerolog.Logger

	mu     sync.Mutex
	movies map[string]*movieLog
}

// movieLog is the per-movie writer state: the append lock and the set of
// (revision, artefactId) pairs that already have a succeeded event. The set
// is loaded from disk on first append so a fresh EventLog over an existing
// log still rejects duplicates.
type movieLog struct {
	mu        sync.Mutex
	succeeded map[string]bool
}

// NewEventLog creates an event log rooted at root.
func NewEventLog(root string, logger zerolog.Logger) *EventLog {
	return &EventLog{
		root:   root,
		logger: logger,
		movies: make(map[string]*movieLog),
	}
}

func (l *EventLog) path(movieID string) string {
	return filepath.Join(l.root, "builds", movieID, "events", "log.jsonl")
}

func (l *EventLog) movie(movieID string) *movieLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.movies[movieID]
	if !ok {
		m = &movieLog{}
		l.movies[movieID] = m
	}
	return m
}

func succeededKey(revision, artifactID string) string {
	return revision + "\x00" + artifactID
}

// Append writes one event to the end of the movie's log. The event's
// CreatedAt is stamped if unset. A succeeded event for a (revision,
// artefactId) pair that already holds one is rejected.
func (l *EventLog) Append(ctx context.Context, movieID string, event ArtifactEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Status.Validate(); err != nil {
		return err
	}
	if event.ArtifactID == "" {
		return fmt.Errorf("event is missing artefactId")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	m := l.movie(movieID)
	m.mu.Lock()
	defer m.mu.Unlock()

	path := l.path(movieID)
	if event.Status == EventSucceeded {
		if m.succeeded == nil {
			seen, err := loadSucceeded(path)
			if err != nil {
				return err
			}
			m.succeeded = seen
		}
		if m.succeeded[succeededKey(event.Revision, event.ArtifactID)] {
			return fmt.Errorf("duplicate succeeded event for %s at revision %s",
				event.ArtifactID, event.Revision)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create event directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	if event.Status == EventSucceeded {
		m.succeeded[succeededKey(event.Revision, event.ArtifactID)] = true
	}

	l.logger.Debug().
		Str("movie_id", movieID).
		Str("artefact_id", event.ArtifactID).
		Str("status", string(event.Status)).
		Str("revision", event.Revision).
		Msg("event appended")
	return nil
}

// Stream yields every event of the movie in append order. A missing log is
// an empty stream, not an error.
func (l *EventLog) Stream(ctx context.Context, movieID string) ([]ArtifactEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readEvents(l.path(movieID))
}

// readEvents scans one JSONL log file. A missing file is an empty stream.
func readEvents(path string) ([]ArtifactEvent, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []ArtifactEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var event ArtifactEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("corrupt event log at line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// loadSucceeded rebuilds the succeeded (revision, artefactId) set from an
// existing log file.
func loadSucceeded(path string) (map[string]bool, error) {
	events, err := readEvents(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, event := range events {
		if event.Status == EventSucceeded {
			seen[succeededKey(event.Revision, event.ArtifactID)] = true
		}
	}
	return seen, nil
}

// Latest folds the stream into the latest event per artifact id.
func (l *EventLog) Latest(ctx context.Context, movieID string) (map[string]ArtifactEvent, error) {
	events, err := l.Stream(ctx, movieID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]ArtifactEvent, len(events))
	for _, event := range events {
		latest[event.ArtifactID] = event
	}
	return latest, nil
}

// LatestRevision returns the highest revision present in the log, or "" for
// an empty log.
func (l *EventLog) LatestRevision(ctx context.Context, movieID string) (string, error) {
	events, err := l.Stream(ctx, movieID)
	if err != nil {
		return "", err
	}
	var latest string
	for _, event := range events {
		if latest == "" || RevisionLE(latest, event.Revision) {
			latest = event.Revision
		}
	}
	return latest, nil
}
