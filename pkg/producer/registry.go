package producer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registration couples a handler with its optional schema, estimator and
// policy metadata.
type Registration struct {
	Provider  string
	Handler   Handler
	Estimator Estimator
	Metadata  Metadata

	schema *jsonschema.Schema
}

// Option configures a registration.
type Option func(*Registration) error

// WithConfigSchema declares the JSON schema the handler's config must
// satisfy. The schema is compiled at registration time.
func WithConfigSchema(schema map[string]interface{}) Option {
	return func(r *Registration) error {
		raw, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("failed to encode config schema: %w", err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("failed to parse config schema: %w", err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config.json", doc); err != nil {
			return fmt.Errorf("failed to add config schema: %w", err)
		}
		compiled, err := compiler.Compile("config.json")
		if err != nil {
			return fmt.Errorf("failed to compile config schema: %w", err)
		}
		r.schema = compiled
		return nil
	}
}

// WithEstimator attaches a cost estimator.
func WithEstimator(est Estimator) Option {
	return func(r *Registration) error {
		r.Estimator = est
		return nil
	}
}

// WithMetadata overrides the default retry and deadline policy.
func WithMetadata(meta Metadata) Option {
	return func(r *Registration) error {
		r.Metadata = meta
		return nil
	}
}

// Registry resolves providers to their registered handlers. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Registration)}
}

// Register binds a handler to a provider name.
func (r *Registry) Register(provider string, handler Handler, opts ...Option) error {
	if provider == "" {
		return fmt.Errorf("provider name is empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q is nil", provider)
	}

	reg := &Registration{
		Provider: provider,
		Handler:  handler,
		Metadata: DefaultMetadata(),
	}
	for _, opt := range opts {
		if err := opt(reg); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[provider]; exists {
		return fmt.Errorf("provider %q already registered", provider)
	}
	r.handlers[provider] = reg
	return nil
}

// Lookup returns the registration for a provider.
func (r *Registry) Lookup(provider string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[provider]
	return reg, ok
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		providers = append(providers, name)
	}
	return providers
}

// InvalidConfigError reports a config that failed schema validation. It is a
// user-input failure, never retried.
type InvalidConfigError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config for provider %s: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying validation error.
func (e *InvalidConfigError) Unwrap() error {
	return e.Err
}

// ValidateConfig checks a raw config object against the registration's
// schema. A registration without a schema accepts anything.
func (r *Registration) ValidateConfig(config map[string]interface{}) error {
	if r.schema == nil {
		return nil
	}

	// Round-trip so numbers take the shape the validator expects.
	raw, err := json.Marshal(config)
	if err != nil {
		return &InvalidConfigError{Provider: r.Provider, Err: err}
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &InvalidConfigError{Provider: r.Provider, Err: err}
	}
	if err := r.schema.Validate(value); err != nil {
		return &InvalidConfigError{Provider: r.Provider, Err: err}
	}
	return nil
}
