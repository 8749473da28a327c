package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestBlobPersistContentAddressed(t *testing.T) {
	store := NewBlobStore(t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	data := []byte("hello segment zero")
	blob, err := store.Persist(ctx, "m1", data, "text/plain")
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	sum := sha256.Sum256(data)
	if blob.Hash != hex.EncodeToString(sum[:]) {
		t.Errorf("hash = %s, want sha256 of content", blob.Hash)
	}
	if blob.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", blob.Size, len(data))
	}

	path := store.Path("m1", blob.Hash, "text/plain")
	if !strings.Contains(path, filepath.Join("blobs", blob.Hash[:2])) {
		t.Errorf("path %s is not sharded by hash prefix", path)
	}
	if !strings.HasSuffix(path, ".txt") {
		t.Errorf("path %s does not carry the text extension", path)
	}

	got, err := store.Read(ctx, "m1", blob)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Read() = %q, want %q", got, data)
	}
}

func TestBlobPersistNeverOverwrites(t *testing.T) {
	store := NewBlobStore(t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	data := []byte(`{"title":"Movie"}`)
	first, err := store.Persist(ctx, "m1", data, "application/json")
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	path := store.Path("m1", first.Hash, "application/json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	mtime := info.ModTime()

	second, err := store.Persist(ctx, "m1", data, "application/json")
	if err != nil {
		t.Fatalf("second Persist() error = %v", err)
	}
	if second.Hash != first.Hash {
		t.Errorf("same content hashed differently: %s vs %s", second.Hash, first.Hash)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Error("existing blob was rewritten")
	}
}

func TestEventLogAppendAndStream(t *testing.T) {
	log := NewEventLog(t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	events := []ArtifactEvent{
		{ArtifactID: "Artifact:P.Text[0]", Revision: "000001", Status: EventSucceeded, ProducedBy: "job-a"},
		{ArtifactID: "Artifact:P.Text[1]", Revision: "000001", Status: EventFailed,
			Diagnostics: map[string]interface{}{"recoverable": true, "provider": "fal"}},
		{ArtifactID: "Artifact:P.Text[0]", Revision: "000002", Status: EventSucceeded, ProducedBy: "job-b"},
	}
	for _, e := range events {
		if err := log.Append(ctx, "m1", e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := log.Stream(ctx, "m1")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("streamed %d events, want 3", len(got))
	}
	for i := range got {
		if got[i].ArtifactID != events[i].ArtifactID {
			t.Errorf("event %d out of append order: %s", i, got[i].ArtifactID)
		}
		if got[i].CreatedAt.IsZero() {
			t.Errorf("event %d missing createdAt stamp", i)
		}
	}

	latest, err := log.Latest(ctx, "m1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest["Artifact:P.Text[0]"].ProducedBy != "job-b" {
		t.Error("latest event per id should win")
	}
	failedEvent := latest["Artifact:P.Text[1]"]
	if !failedEvent.Recoverable() {
		t.Error("failed event with recoverable diagnostics should report Recoverable()")
	}

	rev, err := log.LatestRevision(ctx, "m1")
	if err != nil {
		t.Fatalf("LatestRevision() error = %v", err)
	}
	if rev != "000002" {
		t.Errorf("latest revision = %s, want 000002", rev)
	}
}

func TestEventLogMissingIsEmpty(t *testing.T) {
	log := NewEventLog(t.TempDir(), zerolog.Nop())
	events, err := log.Stream(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if events != nil {
		t.Errorf("expected empty stream, got %d events", len(events))
	}
}

func TestEventLogRejectsInvalidEvents(t *testing.T) {
	log := NewEventLog(t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	if err := log.Append(ctx, "m1", ArtifactEvent{Status: EventSucceeded}); err == nil {
		t.Error("expected error for missing artefactId")
	}
	if err := log.Append(ctx, "m1", ArtifactEvent{ArtifactID: "x", Status: "exploded"}); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestEventLogRejectsDuplicateSucceeded(t *testing.T) {
	root := t.TempDir()
	log := NewEventLog(root, zerolog.Nop())
	ctx := context.Background()

	first := ArtifactEvent{ArtifactID: "Artifact:P.Text[0]", Revision: "000001", Status: EventSucceeded}
	if err := log.Append(ctx, "m1", first); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := log.Append(ctx, "m1", first); err == nil {
		t.Error("expected error for second succeeded event at the same revision")
	}

	// A failure may follow a success at the same revision, and a later
	// revision may succeed again.
	appendAll(t, log, "m1", []ArtifactEvent{
		{ArtifactID: "Artifact:P.Text[0]", Revision: "000001", Status: EventFailed},
		{ArtifactID: "Artifact:P.Text[0]", Revision: "000002", Status: EventSucceeded},
	})

	// A failed-then-succeeded pair at one revision is still a single success.
	appendAll(t, log, "m1", []ArtifactEvent{
		{ArtifactID: "Artifact:P.Text[1]", Revision: "000002", Status: EventFailed},
		{ArtifactID: "Artifact:P.Text[1]", Revision: "000002", Status: EventSucceeded},
	})

	// A second writer over the same root sees the pairs already on disk.
	other := NewEventLog(root, zerolog.Nop())
	dup := ArtifactEvent{ArtifactID: "Artifact:P.Text[0]", Revision: "000002", Status: EventSucceeded}
	if err := other.Append(ctx, "m1", dup); err == nil {
		t.Error("expected fresh log instance to reject duplicate from disk")
	}

	events, err := log.Stream(ctx, "m1")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(events) != 5 {
		t.Errorf("streamed %d events, want 5; rejected appends must not be written", len(events))
	}
}

func TestEventLogConcurrentAppends(t *testing.T) {
	log := NewEventLog(t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := ArtifactEvent{
				ArtifactID: "Artifact:P.Out[" + string(rune('a'+i)) + "]",
				Revision:   "000001",
				Status:     EventSucceeded,
			}
			if err := log.Append(ctx, "m1", event); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	events, err := log.Stream(ctx, "m1")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(events) != 20 {
		t.Errorf("streamed %d events, want 20; concurrent appends interleaved", len(events))
	}
}

func TestManifestMaterialize(t *testing.T) {
	root := t.TempDir()
	log := NewEventLog(root, zerolog.Nop())
	manifests := NewManifestStore(root, log, zerolog.Nop())
	ctx := context.Background()

	appendAll(t, log, "m1", []ArtifactEvent{
		{ArtifactID: "Artifact:P.Text[0]", Revision: "000001", Status: EventSucceeded,
			Output: &Output{Inline: "v1"}},
		{ArtifactID: "Artifact:P.Text[1]", Revision: "000001", Status: EventFailed},
		{ArtifactID: "Artifact:Q.Audio[0]", Revision: "000001", Status: EventSkipped,
			Diagnostics: map[string]interface{}{"reason": "HasAudio !== true"}},
		{ArtifactID: "Artifact:P.Text[0]", Revision: "000002", Status: EventSucceeded,
			Output: &Output{Inline: "v2"}},
	})

	manifest, err := manifests.Materialize(ctx, "m1", "000002", map[string]interface{}{"Topic": "space"})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	if entry := manifest.Artifacts["Artifact:P.Text[0]"]; entry.Output == nil || entry.Output.Inline != "v2" {
		t.Errorf("latest revision should win, got %+v", entry)
	}
	if _, ok := manifest.Artifacts["Artifact:P.Text[1]"]; ok {
		t.Error("failed artifact must not appear in the manifest")
	}
	if entry := manifest.Artifacts["Artifact:Q.Audio[0]"]; entry.Status != EventSkipped {
		t.Error("skipped entries are retained")
	}

	// Truncating to the first revision hides the later event.
	older, err := manifests.Materialize(ctx, "m1", "000001", nil)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if entry := older.Artifacts["Artifact:P.Text[0]"]; entry.Output == nil || entry.Output.Inline != "v1" {
		t.Errorf("truncated manifest should keep revision 000001 value, got %+v", entry)
	}

	cur, err := manifests.Current(ctx, "m1")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if cur == nil || cur.Revision != "000001" {
		t.Fatalf("current = %+v, want pointer at last materialized revision", cur)
	}

	loaded, err := manifests.LoadCurrent(ctx, "m1")
	if err != nil {
		t.Fatalf("LoadCurrent() error = %v", err)
	}
	if loaded.Revision != "000001" {
		t.Errorf("loaded revision = %s", loaded.Revision)
	}
}

func TestManifestCurrentMissing(t *testing.T) {
	root := t.TempDir()
	manifests := NewManifestStore(root, NewEventLog(root, zerolog.Nop()), zerolog.Nop())
	cur, err := manifests.Current(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if cur != nil {
		t.Errorf("expected nil pointer, got %+v", cur)
	}
}

func TestNextRevision(t *testing.T) {
	if got := NextRevision(""); got != "000001" {
		t.Errorf("NextRevision(\"\") = %s", got)
	}
	if got := NextRevision("000009"); got != "000010" {
		t.Errorf("NextRevision(000009) = %s", got)
	}
	if !RevisionLE("000002", "000010") {
		t.Error("numeric revisions must compare numerically")
	}
}

func appendAll(t *testing.T, log *EventLog, movieID string, events []ArtifactEvent) {
	t.Helper()
	for _, e := range events {
		if err := log.Append(context.Background(), movieID, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
}
