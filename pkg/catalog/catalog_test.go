package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelforge/reelforge/pkg/engine"
)

const sampleCatalog = `
models:
  - provider: openai
    model: gpt-4o
    rateKey: openai-chat
    costPerCall: 0.05
    maxRetries: 5
    attemptTimeout: 90s
    totalTimeout: 10m
  - provider: elevenlabs
    model: tts-v2
    costMin: 0.08
    costMax: 0.24
  - provider: videoai
    model: motion-1
    costPerCall: 1.50
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}

	entry, ok := c.Lookup("openai", "gpt-4o")
	if !ok {
		t.Fatal("Lookup(openai, gpt-4o) not found")
	}
	if entry.RateKey != "openai-chat" {
		t.Errorf("RateKey = %q", entry.RateKey)
	}
	if entry.CostPerCall != 0.05 {
		t.Errorf("CostPerCall = %v", entry.CostPerCall)
	}
	if time.Duration(entry.AttemptTimeout) != 90*time.Second {
		t.Errorf("AttemptTimeout = %v", entry.AttemptTimeout)
	}

	// Entries without an explicit rate key default to provider/model.
	entry, _ = c.Lookup("elevenlabs", "tts-v2")
	if entry.RateKey != "elevenlabs/tts-v2" {
		t.Errorf("default RateKey = %q", entry.RateKey)
	}

	if _, ok := c.Lookup("openai", "gpt-3.5"); ok {
		t.Error("Lookup() found an undeclared model")
	}
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing provider", "models:\n  - model: gpt-4o\n"},
		{"duplicate entry", "models:\n  - {provider: a, model: m}\n  - {provider: a, model: m}\n"},
		{"inverted range", "models:\n  - {provider: a, model: m, costMin: 2.0, costMax: 1.0}\n"},
		{"bad duration", "models:\n  - {provider: a, model: m, attemptTimeout: soon}\n"},
		{"not yaml", "models: ["},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeCatalog(t, tc.content))
			if err == nil {
				t.Fatal("Load() accepted an invalid catalog")
			}
			if !engine.IsUserInput(err) {
				t.Errorf("error class = %v, want user_input", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !engine.IsUserInput(err) {
		t.Fatalf("Load() error = %v, want user_input", err)
	}
}

func TestApplyToPlan(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	plan := &engine.ExecutionPlan{Jobs: []engine.JobDescriptor{
		{ID: "Script", Provider: "openai", Model: "gpt-4o", RateKey: "openai/gpt-4o"},
		{ID: "Other", Provider: "mystery", Model: "x", RateKey: "mystery/x"},
		{ID: "Collector"},
	}}
	c.ApplyToPlan(plan)

	if plan.Jobs[0].RateKey != "openai-chat" {
		t.Errorf("known model rateKey = %q", plan.Jobs[0].RateKey)
	}
	if plan.Jobs[1].RateKey != "mystery/x" {
		t.Errorf("unknown model rateKey = %q, want untouched", plan.Jobs[1].RateKey)
	}
}

func TestMetadata(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	meta := c.Metadata("openai", "gpt-4o")
	if meta.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", meta.MaxRetries)
	}
	if meta.AttemptTimeout != 90*time.Second || meta.TotalTimeout != 10*time.Minute {
		t.Errorf("timeouts = %v/%v", meta.AttemptTimeout, meta.TotalTimeout)
	}

	// Unknown models and unset fields keep the SDK defaults.
	fallback := c.Metadata("nobody", "nothing")
	if fallback.MaxRetries != 3 {
		t.Errorf("fallback MaxRetries = %d", fallback.MaxRetries)
	}
	partial := c.Metadata("elevenlabs", "tts-v2")
	if partial.AttemptTimeout != 5*time.Minute {
		t.Errorf("partial AttemptTimeout = %v", partial.AttemptTimeout)
	}
}

func TestEstimate(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	est, ok := c.Estimate("videoai", "motion-1")
	if !ok || est.Cost != 1.50 || est.HasRange {
		t.Errorf("point estimate = %+v, ok = %v", est, ok)
	}

	est, ok = c.Estimate("elevenlabs", "tts-v2")
	if !ok || !est.HasRange {
		t.Fatalf("range estimate = %+v, ok = %v", est, ok)
	}
	if est.Min != 0.08 || est.Max != 0.24 {
		t.Errorf("range = [%v, %v]", est.Min, est.Max)
	}
	if est.Cost != (0.08+0.24)/2 {
		t.Errorf("midpoint = %v", est.Cost)
	}

	if _, ok := c.Estimate("nobody", "nothing"); ok {
		t.Error("Estimate() priced an unknown model")
	}
}

func TestReloadKeepsEntriesOnError(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("models: ["), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := c.Reload(); err == nil {
		t.Fatal("Reload() accepted a broken catalog")
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d after failed reload, want 3", c.Len())
	}
}

func TestWatchReloads(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Catalog, 1)
	w := NewWatcher(c, zerolog.Nop())
	if err := w.Watch(ctx, func(c *Catalog) {
		select {
		case reloaded <- c:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Stop()

	updated := sampleCatalog + `
  - provider: mixer
    model: concat-v1
    costPerCall: 0.01
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded after a write")
	}
	if _, ok := c.Lookup("mixer", "concat-v1"); !ok {
		t.Error("reloaded catalog is missing the new model")
	}
}
