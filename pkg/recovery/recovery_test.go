package recovery

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/reelforge/reelforge/pkg/storage"
)

type fakeProber struct {
	results map[string]ProbeResult
	err     error
	probes  int
}

func (f *fakeProber) Probe(_ context.Context, requestID string) (ProbeResult, error) {
	f.probes++
	if f.err != nil {
		return ProbeResult{}, f.err
	}
	result, ok := f.results[requestID]
	if !ok {
		return ProbeResult{}, fmt.Errorf("unknown request %s", requestID)
	}
	return result, nil
}

type fakeDownloader struct {
	files map[string][]byte
}

func (f *fakeDownloader) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	data, ok := f.files[rawURL]
	if !ok {
		return nil, fmt.Errorf("no such file %s", rawURL)
	}
	return data, nil
}

type recoveryEnv struct {
	events *storage.EventLog
	blobs  *storage.BlobStore
}

func newRecoveryEnv(t *testing.T) *recoveryEnv {
	t.Helper()
	root := t.TempDir()
	return &recoveryEnv{
		events: storage.NewEventLog(root, zerolog.Nop()),
		blobs:  storage.NewBlobStore(root, zerolog.Nop()),
	}
}

func (env *recoveryEnv) prepass(prober StatusProber, files map[string][]byte) *Prepass {
	probers := map[string]StatusProber{}
	if prober != nil {
		probers["videoai"] = prober
	}
	return NewPrepass(env.events, env.blobs, probers, &fakeDownloader{files: files}, zerolog.Nop())
}

func (env *recoveryEnv) appendFailure(t *testing.T, artifactID, requestID string) {
	env.appendFailureAt(t, artifactID, requestID, "000001")
}

func (env *recoveryEnv) appendFailureAt(t *testing.T, artifactID, requestID, revision string) {
	t.Helper()
	err := env.events.Append(context.Background(), "m1", storage.ArtifactEvent{
		ArtifactID: artifactID,
		Revision:   revision,
		InputsHash: "abc",
		Status:     storage.EventFailed,
		ProducedBy: "Clip",
		Diagnostics: map[string]interface{}{
			"recoverable":       true,
			"provider":          "videoai",
			"providerRequestId": requestID,
		},
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

func TestPrepassRecoversCompletedRequest(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()

	// An earlier succeeded event establishes the artifact's media type.
	blob, err := env.blobs.Persist(ctx, "m1", []byte("old clip"), "video/mp4")
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if err := env.events.Append(ctx, "m1", storage.ArtifactEvent{
		ArtifactID: "Artifact:Clip.Video[0]",
		Revision:   "000001",
		Status:     storage.EventSucceeded,
		Output:     &storage.Output{Blob: &blob},
		ProducedBy: "Clip",
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	env.appendFailureAt(t, "Artifact:Clip.Video[0]", "req-1", "000002")

	prober := &fakeProber{results: map[string]ProbeResult{
		"req-1": {State: StateCompleted, Outputs: []string{"https://cdn.example/clip"}},
	}}
	pre := env.prepass(prober, map[string][]byte{
		"https://cdn.example/clip": []byte("new clip"),
	})

	summary, err := pre.Run(ctx, "m1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Checked != 1 || len(summary.Recovered) != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	latest, _ := env.events.Latest(ctx, "m1")
	event := latest["Artifact:Clip.Video[0]"]
	if event.Status != storage.EventSucceeded {
		t.Fatalf("latest = %+v", event)
	}
	if event.Output.Blob.MimeType != "video/mp4" {
		t.Errorf("mime = %q, want inherited video/mp4", event.Output.Blob.MimeType)
	}
	if event.InputsHash != "abc" || event.ProducedBy != "Clip" {
		t.Errorf("recovered event should inherit hash and producer: %+v", event)
	}
	if event.Diagnostics["recoveredBy"] != "prepass" {
		t.Errorf("diagnostics = %+v", event.Diagnostics)
	}
	data, err := env.blobs.Read(ctx, "m1", *event.Output.Blob)
	if err != nil || string(data) != "new clip" {
		t.Errorf("recovered blob = %q, err = %v", data, err)
	}

	// Idempotent: the latest event is succeeded now, nothing left to probe.
	again, err := pre.Run(ctx, "m1")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if again.Checked != 0 {
		t.Errorf("second pass checked = %d, want 0", again.Checked)
	}
}

func TestPrepassPendingRequest(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()
	env.appendFailure(t, "Artifact:Clip.Video", "req-1")

	prober := &fakeProber{results: map[string]ProbeResult{
		"req-1": {State: StatePending},
	}}
	before, _ := env.events.Stream(ctx, "m1")

	summary, err := env.prepass(prober, nil).Run(ctx, "m1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Pending) != 1 || summary.Pending[0] != "Artifact:Clip.Video" {
		t.Errorf("summary = %+v", summary)
	}

	after, _ := env.events.Stream(ctx, "m1")
	if len(after) != len(before) {
		t.Error("pending requests must append no events")
	}

	// The failure stays recoverable for the next pass.
	again, _ := env.prepass(prober, nil).Run(ctx, "m1")
	if again.Checked != 1 {
		t.Errorf("second pass checked = %d, want 1", again.Checked)
	}
}

func TestPrepassFinalProviderFailure(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()
	env.appendFailure(t, "Artifact:Clip.Video", "req-1")

	prober := &fakeProber{results: map[string]ProbeResult{
		"req-1": {State: StateFailed, Detail: "content policy violation"},
	}}

	summary, err := env.prepass(prober, nil).Run(ctx, "m1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Failed) != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	latest, _ := env.events.Latest(ctx, "m1")
	event := latest["Artifact:Clip.Video"]
	if event.Status != storage.EventFailed {
		t.Fatalf("latest = %+v", event)
	}
	if event.Recoverable() {
		t.Error("final failure must not stay recoverable")
	}
	if event.Diagnostics["message"] != "content policy violation" {
		t.Errorf("diagnostics = %+v", event.Diagnostics)
	}

	// Settled: the next pass probes nothing.
	again, _ := env.prepass(prober, nil).Run(ctx, "m1")
	if again.Checked != 0 {
		t.Errorf("second pass checked = %d, want 0", again.Checked)
	}
}

func TestPrepassSelectsOutputByIndex(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()
	env.appendFailure(t, "Artifact:Clip.Video[2]", "req-1")

	prober := &fakeProber{results: map[string]ProbeResult{
		"req-1": {State: StateCompleted, Outputs: []string{
			"https://cdn.example/a.png",
			"https://cdn.example/b.png",
			"https://cdn.example/c.png",
		}},
	}}
	pre := env.prepass(prober, map[string][]byte{
		"https://cdn.example/c.png": []byte("third"),
	})

	summary, err := pre.Run(ctx, "m1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Recovered) != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	latest, _ := env.events.Latest(ctx, "m1")
	event := latest["Artifact:Clip.Video[2]"]
	data, err := env.blobs.Read(ctx, "m1", *event.Output.Blob)
	if err != nil || string(data) != "third" {
		t.Errorf("recovered blob = %q, err = %v", data, err)
	}
	// No prior event: the media type falls back to the URL extension.
	if event.Output.Blob.MimeType != "image/png" {
		t.Errorf("mime = %q", event.Output.Blob.MimeType)
	}
}

func TestPrepassIndexlessMultiOutputFails(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()
	env.appendFailure(t, "Artifact:Clip.Video", "req-1")

	prober := &fakeProber{results: map[string]ProbeResult{
		"req-1": {State: StateCompleted, Outputs: []string{
			"https://cdn.example/a.png",
			"https://cdn.example/b.png",
		}},
	}}

	summary, err := env.prepass(prober, nil).Run(ctx, "m1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Failed) != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	latest, _ := env.events.Latest(ctx, "m1")
	if event := latest["Artifact:Clip.Video"]; event.Recoverable() {
		t.Error("ambiguous output must settle the failure")
	}
}

func TestPrepassWithoutProberStaysPending(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()
	env.appendFailure(t, "Artifact:Clip.Video", "req-1")

	summary, err := env.prepass(nil, nil).Run(ctx, "m1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Pending) != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestPrepassProbeErrorStaysPending(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()
	env.appendFailure(t, "Artifact:Clip.Video", "req-1")

	prober := &fakeProber{err: fmt.Errorf("provider unreachable")}
	summary, err := env.prepass(prober, nil).Run(ctx, "m1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Pending) != 1 || len(summary.Failed) != 0 {
		t.Errorf("summary = %+v", summary)
	}
}
