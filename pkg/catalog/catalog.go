// Package catalog loads the model catalog: the YAML file mapping provider
// and model tokens to rate keys, cost hints and deadline policies. The plan
// builder reads rate keys from it, the estimate command reads placeholder
// pricing, and the dev command watches it for edits.
package catalog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/reelforge/reelforge/pkg/engine"
	"github.com/reelforge/reelforge/pkg/producer"
)

// Duration is a time.Duration that unmarshals from Go duration strings
// ("90s", "2m") the way they appear in catalog files.
type Duration time.Duration

// UnmarshalYAML decodes a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML emits the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Entry describes one provider model.
type Entry struct {
	Provider string `yaml:"provider" json:"provider" validate:"required"`
	Model    string `yaml:"model" json:"model" validate:"required"`

	// RateKey groups models that share a provider-side rate limit. Defaults
	// to "<provider>/<model>".
	RateKey string `yaml:"rateKey,omitempty" json:"rateKey,omitempty"`

	// CostPerCall is the placeholder price of one invocation.
	CostPerCall float64 `yaml:"costPerCall,omitempty" json:"costPerCall,omitempty" validate:"gte=0"`

	// CostMin and CostMax bound the price when the provider bills by output
	// size rather than per call.
	CostMin float64 `yaml:"costMin,omitempty" json:"costMin,omitempty" validate:"gte=0"`
	CostMax float64 `yaml:"costMax,omitempty" json:"costMax,omitempty" validate:"gte=0"`

	// Deadline policy, applied as handler metadata when registering the
	// provider. Zero values fall back to the SDK defaults.
	MaxRetries     int      `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty" validate:"gte=0"`
	AttemptTimeout Duration `yaml:"attemptTimeout,omitempty" json:"attemptTimeout,omitempty"`
	TotalTimeout   Duration `yaml:"totalTimeout,omitempty" json:"totalTimeout,omitempty"`

	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// HasRange reports whether the entry prices by a min/max band.
func (e *Entry) HasRange() bool {
	return e.CostMax > e.CostMin
}

// catalogYAML is the file shape.
type catalogYAML struct {
	Models []Entry `yaml:"models"`
}

// Catalog is the loaded model catalog. Lookups are safe under concurrent
// reloads.
type Catalog struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
}

func key(provider, model string) string {
	return provider + "/" + model
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file, replacing the entries atomically. On
// error the previous entries stay in place.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return engine.NewUserInputError(
			fmt.Sprintf("cannot read model catalog %s", c.path), err).
			WithCode(engine.ErrCodeValidation)
	}

	var raw catalogYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return engine.NewUserInputError(
			fmt.Sprintf("model catalog %s is not valid YAML", c.path), err).
			WithCode(engine.ErrCodeValidation)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	entries := make(map[string]Entry, len(raw.Models))
	for i := range raw.Models {
		entry := raw.Models[i]
		if err := validate.Struct(&entry); err != nil {
			return engine.NewUserInputError(
				fmt.Sprintf("model catalog entry %d is invalid", i), err).
				WithCode(engine.ErrCodeValidation)
		}
		if entry.CostMax < entry.CostMin {
			return engine.NewUserInputError(
				fmt.Sprintf("model %s/%s declares costMax below costMin", entry.Provider, entry.Model), nil).
				WithCode(engine.ErrCodeValidation)
		}
		k := key(entry.Provider, entry.Model)
		if _, dup := entries[k]; dup {
			return engine.NewUserInputError(
				fmt.Sprintf("model catalog declares %s twice", k), nil).
				WithCode(engine.ErrCodeValidation)
		}
		if entry.RateKey == "" {
			entry.RateKey = k
		}
		entries[k] = entry
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Lookup returns the entry for a provider model.
func (c *Catalog) Lookup(provider, model string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key(provider, model)]
	return entry, ok
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ApplyToPlan overwrites each job's rate key with the catalog's, leaving jobs
// whose model the catalog does not know untouched.
func (c *Catalog) ApplyToPlan(plan *engine.ExecutionPlan) {
	for i := range plan.Jobs {
		job := &plan.Jobs[i]
		if job.Provider == "" {
			continue
		}
		if entry, ok := c.Lookup(job.Provider, job.Model); ok {
			job.RateKey = entry.RateKey
		}
	}
}

// Metadata maps an entry's deadline policy onto handler metadata, falling
// back to the SDK defaults for unset fields.
func (c *Catalog) Metadata(provider, model string) producer.Metadata {
	meta := producer.DefaultMetadata()
	entry, ok := c.Lookup(provider, model)
	if !ok {
		return meta
	}
	if entry.MaxRetries > 0 {
		meta.MaxRetries = entry.MaxRetries
	}
	if entry.AttemptTimeout > 0 {
		meta.AttemptTimeout = time.Duration(entry.AttemptTimeout)
	}
	if entry.TotalTimeout > 0 {
		meta.TotalTimeout = time.Duration(entry.TotalTimeout)
	}
	return meta
}

// Estimate prices one job from the catalog's cost hints. The second return
// is false when the catalog does not know the model.
func (c *Catalog) Estimate(provider, model string) (producer.Estimate, bool) {
	entry, ok := c.Lookup(provider, model)
	if !ok {
		return producer.Estimate{}, false
	}
	if entry.HasRange() {
		return producer.Estimate{
			Cost:     (entry.CostMin + entry.CostMax) / 2,
			Min:      entry.CostMin,
			Max:      entry.CostMax,
			HasRange: true,
		}, true
	}
	return producer.Estimate{Cost: entry.CostPerCall}, true
}
