package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelforge/reelforge/pkg/blueprint"
	"github.com/reelforge/reelforge/pkg/producer"
	"github.com/reelforge/reelforge/pkg/secrets"
	"github.com/reelforge/reelforge/pkg/storage"
)

type execEnv struct {
	root      string
	blobs     *storage.BlobStore
	events    *storage.EventLog
	manifests *storage.ManifestStore
	registry  *producer.Registry
}

func newExecEnv(t *testing.T) *execEnv {
	t.Helper()
	root := t.TempDir()
	logger := zerolog.Nop()
	events := storage.NewEventLog(root, logger)
	return &execEnv{
		root:      root,
		events:    events,
		blobs:     storage.NewBlobStore(root, logger),
		manifests: storage.NewManifestStore(root, events, logger),
		registry:  producer.NewRegistry(),
	}
}

func (env *execEnv) executor(opts ...func(*ExecutorConfig)) *Executor {
	cfg := ExecutorConfig{
		Concurrency:    2,
		Registry:       env.registry,
		Blobs:          env.blobs,
		Events:         env.events,
		Secrets:        secrets.Static{},
		RetryBaseDelay: time.Millisecond,
		Logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewExecutor(cfg)
}

// fanInCapture records what the mixer handler observed.
type fanInCapture struct {
	mu    sync.Mutex
	clips []string
	runs  int
}

// registerChainHandlers wires the three movie-fixture providers. hasAudio
// drives the per-segment flag the script emits.
func registerChainHandlers(t *testing.T, env *execEnv, hasAudio []bool) *fanInCapture {
	t.Helper()

	err := env.registry.Register("openai", producer.HandlerFunc(
		func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
			segments := make([]map[string]interface{}, len(hasAudio))
			for i, flag := range hasAudio {
				segments[i] = map[string]interface{}{
					"Text":     fmt.Sprintf("segment %d", i),
					"HasAudio": flag,
				}
			}
			data, err := json.Marshal(map[string]interface{}{
				"Title":    "Demo",
				"Segments": segments,
			})
			if err != nil {
				return nil, err
			}
			return &producer.Response{Artifacts: []producer.ArtifactResult{{
				ArtifactID: req.Produces[0],
				Data:       data,
				MimeType:   "application/json",
			}}}, nil
		}))
	if err != nil {
		t.Fatalf("register openai: %v", err)
	}

	err = env.registry.Register("elevenlabs", producer.HandlerFunc(
		func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
			if _, ok := rt.Input("Input:Voice.Text"); !ok {
				return nil, NewPermanentError("text input missing", nil)
			}
			return &producer.Response{Artifacts: []producer.ArtifactResult{{
				ArtifactID: req.Produces[0],
				Data:       []byte(fmt.Sprintf("audio %d", req.Indices["segment"])),
				MimeType:   "audio/mpeg",
			}}}, nil
		}))
	if err != nil {
		t.Fatalf("register elevenlabs: %v", err)
	}

	capture := &fanInCapture{}
	err = env.registry.Register("mixer", producer.HandlerFunc(
		func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
			clips, _ := rt.FanIn("Input:Mix.Clips")
			capture.mu.Lock()
			capture.clips = append([]string(nil), clips...)
			capture.runs++
			capture.mu.Unlock()
			return &producer.Response{Artifacts: []producer.ArtifactResult{{
				ArtifactID: req.Produces[0],
				Data:       []byte("mixdown"),
				MimeType:   "audio/mpeg",
			}}}, nil
		}))
	if err != nil {
		t.Fatalf("register mixer: %v", err)
	}
	return capture
}

func soloTree(t *testing.T, provider string) *blueprint.Tree {
	t.Helper()
	tree, err := blueprint.LoadTree("root.yaml", blueprint.MemReader{
		"root.yaml": `
meta: {id: solo}
inputs:
  - name: Prompt
    type: string
    required: true
producers:
  - alias: Solo
    path: leaf.yaml
connections:
  - from: Prompt
    to: Solo.Prompt
`,
		"leaf.yaml": fmt.Sprintf(`
meta: {id: leaf}
inputs:
  - name: Prompt
    type: string
    required: true
artifacts:
  - name: Out
    type: string
models:
  - provider: %s
    model: test-v1
`, provider),
	})
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}
	return tree
}

func TestExecuteChain(t *testing.T) {
	env := newExecEnv(t)
	capture := registerChainHandlers(t, env, []bool{true, true})

	ctx := context.Background()
	tree := movieTree(t)
	plan := buildMoviePlan(t, nil, FullScope())

	summary, err := env.executor().Execute(ctx, plan, tree)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if summary.Status != RunStatusSucceeded {
		t.Fatalf("status = %s, results = %+v", summary.Status, summary.Results)
	}
	if summary.Succeeded != 4 || summary.Total != 4 {
		t.Errorf("succeeded = %d, total = %d", summary.Succeeded, summary.Total)
	}

	latest, err := env.events.Latest(ctx, "m1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}

	out, ok := latest["Artifact:Script.Out"]
	if !ok || out.Status != storage.EventSucceeded {
		t.Fatalf("script output event = %+v", out)
	}
	if out.Output.Blob == nil || out.Output.Blob.MimeType != "application/json" {
		t.Errorf("script output = %+v", out.Output)
	}
	if out.InputsHash == "" {
		t.Error("succeeded event should carry an inputs hash")
	}

	// The json artifact decomposes into per-segment text/plain leaves.
	leaf, ok := latest["Artifact:Script.Out.Segments.Text[1]"]
	if !ok {
		t.Fatal("decomposed leaf Artifact:Script.Out.Segments.Text[1] missing")
	}
	data, err := env.blobs.Read(ctx, "m1", *leaf.Output.Blob)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "segment 1" {
		t.Errorf("leaf text = %q", data)
	}
	if leaf.Output.Blob.MimeType != "text/plain" {
		t.Errorf("leaf mime = %q", leaf.Output.Blob.MimeType)
	}
	if flag, ok := latest["Artifact:Script.Out.Segments.HasAudio[0]"]; !ok {
		t.Error("decomposed boolean leaf missing")
	} else if data, _ := env.blobs.Read(ctx, "m1", *flag.Output.Blob); string(data) != "true" {
		t.Errorf("boolean leaf = %q", data)
	}

	if audio, ok := latest["Artifact:Voice.Audio[1]"]; !ok || audio.ProducedBy != "Voice[segment=1]" {
		t.Errorf("voice event = %+v", audio)
	}

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if capture.runs != 1 {
		t.Fatalf("mixer ran %d times", capture.runs)
	}
	if len(capture.clips) != 2 ||
		capture.clips[0] != "Artifact:Voice.Audio[0]" ||
		capture.clips[1] != "Artifact:Voice.Audio[1]" {
		t.Errorf("mixer clips = %v", capture.clips)
	}

	manifest, err := env.manifests.Materialize(ctx, "m1", plan.Revision, movieInputs())
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if entry, ok := manifest.Artifacts["Artifact:Mix.Final"]; !ok || entry.Status != storage.EventSucceeded {
		t.Errorf("manifest entry = %+v", entry)
	}
}

func TestExecuteConditionalSkip(t *testing.T) {
	env := newExecEnv(t)
	registerChainHandlers(t, env, []bool{true, false})

	ctx := context.Background()
	summary, err := env.executor().Execute(ctx, buildMoviePlan(t, nil, FullScope()), movieTree(t))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	voice1 := summary.Results["Voice[segment=1]"]
	if voice1.Status != JobStatusSkipped {
		t.Fatalf("Voice[segment=1] = %+v", voice1)
	}
	if voice1.Reason != "HasAudio !== true" {
		t.Errorf("skip reason = %q", voice1.Reason)
	}
	if voice0 := summary.Results["Voice[segment=0]"]; voice0.Status != JobStatusSucceeded {
		t.Errorf("Voice[segment=0] = %+v", voice0)
	}

	// A skipped upstream makes the collector's consumer unrunnable.
	if mix := summary.Results["Mix"]; mix.Status != JobStatusSkipped {
		t.Errorf("Mix = %+v", mix)
	}

	latest, err := env.events.Latest(ctx, "m1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	skipped, ok := latest["Artifact:Voice.Audio[1]"]
	if !ok || skipped.Status != storage.EventSkipped {
		t.Fatalf("skipped event = %+v", skipped)
	}
	if reason := skipped.Diagnostics["reason"]; reason != "HasAudio !== true" {
		t.Errorf("event reason = %v", reason)
	}

	if summary.Status != RunStatusSucceeded {
		t.Errorf("status = %s, skips are not failures", summary.Status)
	}
}

func TestExecuteCacheHit(t *testing.T) {
	env := newExecEnv(t)
	capture := registerChainHandlers(t, env, []bool{true, true})

	ctx := context.Background()
	tree := movieTree(t)

	plan1 := buildMoviePlan(t, nil, FullScope())
	if _, err := env.executor().Execute(ctx, plan1, tree); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	base, err := env.manifests.Materialize(ctx, "m1", plan1.Revision, movieInputs())
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	before, _ := env.events.Stream(ctx, "m1")

	plan2 := buildMoviePlan(t, base, FullScope())
	summary, err := env.executor().Execute(ctx, plan2, tree)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if summary.Cached != 4 || summary.Succeeded != 0 {
		t.Fatalf("cached = %d, succeeded = %d, results = %+v",
			summary.Cached, summary.Succeeded, summary.Results)
	}
	if summary.Status != RunStatusSucceeded {
		t.Errorf("status = %s", summary.Status)
	}

	after, _ := env.events.Stream(ctx, "m1")
	if len(after) != len(before) {
		t.Errorf("cache hits must append no events: %d -> %d", len(before), len(after))
	}

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if capture.runs != 1 {
		t.Errorf("mixer should not rerun on a cache hit, ran %d times", capture.runs)
	}
}

func TestExecuteRetriesTransient(t *testing.T) {
	env := newExecEnv(t)

	var mu sync.Mutex
	attempts := 0
	err := env.registry.Register("flaky", producer.HandlerFunc(
		func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 3 {
				return nil, NewTransientError("rate limited", nil).WithCode(ErrCodeRateLimited)
			}
			return &producer.Response{Artifacts: []producer.ArtifactResult{{
				ArtifactID: req.Produces[0],
				Inline:     "ok",
			}}}, nil
		}),
		producer.WithMetadata(producer.Metadata{
			MaxRetries:     3,
			AttemptTimeout: time.Second,
			TotalTimeout:   time.Minute,
		}))
	if err != nil {
		t.Fatalf("register flaky: %v", err)
	}

	tree := soloTree(t, "flaky")
	planner := NewPlanner(zerolog.Nop())
	plan, err := planner.BuildPlan(context.Background(), tree, Inputs{"Prompt": "hi"}, "m1", nil, FullScope())
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	var completed []Notification
	observer := ObserverFunc(func(n Notification) {
		if n.Type == NotifyJobComplete {
			mu.Lock()
			completed = append(completed, n)
			mu.Unlock()
		}
	})

	summary, err := env.executor(func(cfg *ExecutorConfig) {
		cfg.Observer = observer
	}).Execute(context.Background(), plan, tree)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result := summary.Results["Solo"]
	if result.Status != JobStatusSucceeded {
		t.Fatalf("result = %+v", result)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if len(completed) != 1 || completed[0].Attempts != 3 {
		t.Errorf("completion notification = %+v, want attempts carried", completed)
	}
}

func TestExecutePermanentFailureSkipsDownstream(t *testing.T) {
	env := newExecEnv(t)

	mustRegister := func(provider string, h producer.Handler) {
		if err := env.registry.Register(provider, h); err != nil {
			t.Fatalf("register %s: %v", provider, err)
		}
	}
	mustRegister("openai", producer.HandlerFunc(
		func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
			data, _ := json.Marshal(map[string]interface{}{
				"Segments": []map[string]interface{}{
					{"Text": "a", "HasAudio": true},
					{"Text": "b", "HasAudio": true},
				},
			})
			return &producer.Response{Artifacts: []producer.ArtifactResult{{
				ArtifactID: req.Produces[0], Data: data, MimeType: "application/json",
			}}}, nil
		}))
	mustRegister("elevenlabs", producer.HandlerFunc(
		func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
			return nil, NewPermanentError("synthesis rejected", nil).WithCode(ErrCodeProviderFailed)
		}))
	mustRegister("mixer", producer.HandlerFunc(
		func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
			t.Error("mixer must not run after failed dependencies")
			return nil, nil
		}))

	ctx := context.Background()
	summary, err := env.executor().Execute(ctx, buildMoviePlan(t, nil, FullScope()), movieTree(t))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if summary.Status != RunStatusPartial {
		t.Errorf("status = %s, want %s", summary.Status, RunStatusPartial)
	}
	if summary.Failed != 2 || summary.Skipped != 1 || summary.Succeeded != 1 {
		t.Errorf("summary = %+v", summary)
	}

	voice := summary.Results["Voice[segment=0]"]
	if voice.Status != JobStatusFailed || voice.Attempts != 1 {
		t.Errorf("voice result = %+v", voice)
	}
	if !IsPermanent(voice.Error) {
		t.Errorf("voice error class = %v", voice.Error)
	}

	latest, _ := env.events.Latest(ctx, "m1")
	failed, ok := latest["Artifact:Voice.Audio[0]"]
	if !ok || failed.Status != storage.EventFailed {
		t.Fatalf("failed event = %+v", failed)
	}
	if failed.Diagnostics["causedByUser"] != false {
		t.Errorf("diagnostics = %+v", failed.Diagnostics)
	}
	if failed.Diagnostics["errorCode"] != ErrCodeProviderFailed {
		t.Errorf("errorCode = %v", failed.Diagnostics["errorCode"])
	}
}

func TestExecuteUnknownProvider(t *testing.T) {
	env := newExecEnv(t)

	tree := soloTree(t, "nobody")
	planner := NewPlanner(zerolog.Nop())
	plan, err := planner.BuildPlan(context.Background(), tree, Inputs{"Prompt": "hi"}, "m1", nil, FullScope())
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	summary, err := env.executor().Execute(context.Background(), plan, tree)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if summary.Status != RunStatusFailed {
		t.Errorf("status = %s", summary.Status)
	}
	result := summary.Results["Solo"]
	if result.Status != JobStatusFailed || !IsUserInput(result.Error) {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteConfigSchemaRejection(t *testing.T) {
	env := newExecEnv(t)
	err := env.registry.Register("strict", producer.HandlerFunc(
		func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
			t.Error("handler must not run with invalid config")
			return nil, nil
		}),
		producer.WithConfigSchema(map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"format"},
			"properties": map[string]interface{}{
				"format": map[string]interface{}{"type": "string"},
			},
		}))
	if err != nil {
		t.Fatalf("register strict: %v", err)
	}

	tree := soloTree(t, "strict")
	planner := NewPlanner(zerolog.Nop())
	plan, err := planner.BuildPlan(context.Background(), tree, Inputs{"Prompt": "hi"}, "m1", nil, FullScope())
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	summary, err := env.executor().Execute(context.Background(), plan, tree)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result := summary.Results["Solo"]
	if result.Status != JobStatusFailed || !IsUserInput(result.Error) {
		t.Fatalf("result = %+v", result)
	}
	if result.Error.Code != ErrCodeInvalidConfig {
		t.Errorf("code = %s", result.Error.Code)
	}
}

func TestExecuteCancellation(t *testing.T) {
	env := newExecEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registerChainHandlers(t, env, []bool{true, true})
	// Replace the voice handler path by cancelling once the layer starts.
	observer := ObserverFunc(func(n Notification) {
		if n.Type == NotifyLayerStart && n.Layer == 1 {
			cancel()
		}
	})

	summary, err := env.executor(func(cfg *ExecutorConfig) {
		cfg.Observer = observer
	}).Execute(ctx, buildMoviePlan(t, nil, FullScope()), movieTree(t))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if summary.Status != RunStatusCancelled {
		t.Errorf("status = %s, results = %+v", summary.Status, summary.Results)
	}
	if _, ran := summary.Results["Mix"]; ran {
		t.Error("Mix must not run after cancellation")
	}
}

func TestExecuteSimulatedMode(t *testing.T) {
	env := newExecEnv(t)

	var seen producer.Mode
	err := env.registry.Register("sim", producer.HandlerFunc(
		func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
			seen = rt.Mode()
			return &producer.Response{Artifacts: []producer.ArtifactResult{{
				ArtifactID: req.Produces[0],
				Inline:     "placeholder",
			}}}, nil
		}))
	if err != nil {
		t.Fatalf("register sim: %v", err)
	}

	tree := soloTree(t, "sim")
	planner := NewPlanner(zerolog.Nop())
	plan, err := planner.BuildPlan(context.Background(), tree, Inputs{"Prompt": "hi"}, "m1", nil, FullScope())
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	summary, err := env.executor(func(cfg *ExecutorConfig) {
		cfg.Mode = producer.ModeSimulated
	}).Execute(context.Background(), plan, tree)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if summary.Status != RunStatusSucceeded {
		t.Fatalf("status = %s", summary.Status)
	}
	if seen != producer.ModeSimulated {
		t.Errorf("handler saw mode %q", seen)
	}
}

func TestExecuteObserverOrdering(t *testing.T) {
	env := newExecEnv(t)
	registerChainHandlers(t, env, []bool{true, true})

	var mu sync.Mutex
	var types []NotificationType
	observer := ObserverFunc(func(n Notification) {
		mu.Lock()
		types = append(types, n.Type)
		mu.Unlock()
	})

	_, err := env.executor(func(cfg *ExecutorConfig) {
		cfg.Observer = observer
	}).Execute(context.Background(), buildMoviePlan(t, nil, FullScope()), movieTree(t))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(types) == 0 || types[0] != NotifyPlanReady {
		t.Fatalf("first notification = %v", types)
	}
	if types[len(types)-1] != NotifyExecutionComplete {
		t.Errorf("last notification = %v", types[len(types)-1])
	}
	counts := make(map[NotificationType]int)
	for _, typ := range types {
		counts[typ]++
	}
	if counts[NotifyLayerStart] != 3 || counts[NotifyLayerComplete] != 3 {
		t.Errorf("layer notifications = %+v", counts)
	}
	if counts[NotifyJobStart] != 4 || counts[NotifyJobComplete] != 4 {
		t.Errorf("job notifications = %+v", counts)
	}
}

func TestEstimateCost(t *testing.T) {
	env := newExecEnv(t)

	registerWithEstimate := func(provider string, cost float64) {
		err := env.registry.Register(provider, producer.HandlerFunc(
			func(ctx context.Context, req producer.Request, rt producer.Runtime) (*producer.Response, error) {
				return nil, nil
			}),
			producer.WithEstimator(estimatorFunc(func(req producer.Request) (producer.Estimate, error) {
				return producer.Estimate{Cost: cost}, nil
			})))
		if err != nil {
			t.Fatalf("register %s: %v", provider, err)
		}
	}
	registerWithEstimate("openai", 0.05)
	registerWithEstimate("elevenlabs", 0.10)
	// mixer stays unregistered to exercise the placeholder path.

	plan := buildMoviePlan(t, nil, FullScope())
	summary, err := EstimateCost(plan, env.registry)
	if err != nil {
		t.Fatalf("EstimateCost() error = %v", err)
	}

	if summary.Jobs != 4 {
		t.Errorf("jobs = %d", summary.Jobs)
	}
	want := 0.05 + 2*0.10
	if diff := summary.Total - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("total = %f, want %f", summary.Total, want)
	}
	if !summary.HasPlaceholders {
		t.Error("missing estimator should mark placeholders")
	}
	if len(summary.MissingProviders) != 1 || summary.MissingProviders[0] != "mixer" {
		t.Errorf("missingProviders = %v", summary.MissingProviders)
	}
	if summary.ByProducer["Voice"] != 0.20 {
		t.Errorf("byProducer = %v", summary.ByProducer)
	}
}

type estimatorFunc func(req producer.Request) (producer.Estimate, error)

func (f estimatorFunc) Estimate(req producer.Request) (producer.Estimate, error) {
	return f(req)
}
