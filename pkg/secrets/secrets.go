// Package secrets resolves provider credentials for producer handlers. The
// engine passes a Resolver into every invocation; handlers never read the
// environment directly.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Resolver resolves named secrets.
type Resolver interface {
	// Secret returns the secret value for name.
	Secret(ctx context.Context, name string) (string, error)
}

// EnvResolver resolves secrets from environment variables. The name is upper
// snake-cased and prefixed: resolver "REELFORGE" maps "openai-api-key" to
// REELFORGE_OPENAI_API_KEY.
type EnvResolver struct {
	prefix string
}

// NewEnvResolver creates a resolver with the given variable prefix.
func NewEnvResolver(prefix string) *EnvResolver {
	return &EnvResolver{prefix: prefix}
}

// Secret implements Resolver.
func (r *EnvResolver) Secret(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name is empty")
	}
	key := envKey(r.prefix, name)
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("secret %s is not set (env %s)", name, key)
	}
	return value, nil
}

func envKey(prefix, name string) string {
	normalized := strings.ToUpper(name)
	normalized = strings.NewReplacer("-", "_", ".", "_", "/", "_", " ", "_").Replace(normalized)
	if prefix == "" {
		return normalized
	}
	return strings.ToUpper(prefix) + "_" + normalized
}

// Static is a fixed-map resolver for tests and simulated runs.
type Static map[string]string

// Secret implements Resolver.
func (s Static) Secret(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %s is not set", name)
	}
	return value, nil
}
