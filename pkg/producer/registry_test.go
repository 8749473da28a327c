package producer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req Request, rt Runtime) (*Response, error) {
		return &Response{Artifacts: []ArtifactResult{{
			ArtifactID: req.Produces[0],
			Inline:     "echo",
		}}}, nil
	})
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("openai", echoHandler()))

	reg, ok := r.Lookup("openai")
	require.True(t, ok)
	assert.Equal(t, "openai", reg.Provider)
	assert.Equal(t, DefaultMetadata(), reg.Metadata)

	_, ok = r.Lookup("nobody")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("openai", echoHandler()))
	assert.Error(t, r.Register("openai", echoHandler()))
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", echoHandler()))
	assert.Error(t, r.Register("openai", nil))
}

func TestRegistryProviders(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("openai", echoHandler()))
	require.NoError(t, r.Register("elevenlabs", echoHandler()))

	assert.ElementsMatch(t, []string{"openai", "elevenlabs"}, r.Providers())
}

func TestWithMetadata(t *testing.T) {
	r := NewRegistry()
	meta := Metadata{MaxRetries: 1, AttemptTimeout: time.Second, TotalTimeout: time.Minute}
	require.NoError(t, r.Register("openai", echoHandler(), WithMetadata(meta)))

	reg, _ := r.Lookup("openai")
	assert.Equal(t, meta, reg.Metadata)
}

func TestValidateConfig(t *testing.T) {
	r := NewRegistry()
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"voice"},
		"properties": map[string]interface{}{
			"voice": map[string]interface{}{"type": "string"},
			"speed": map[string]interface{}{"type": "number", "minimum": 0.5},
		},
	}
	require.NoError(t, r.Register("tts", echoHandler(), WithConfigSchema(schema)))
	reg, _ := r.Lookup("tts")

	assert.NoError(t, reg.ValidateConfig(map[string]interface{}{"voice": "nova"}))
	assert.NoError(t, reg.ValidateConfig(map[string]interface{}{"voice": "nova", "speed": 1.25}))

	err := reg.ValidateConfig(map[string]interface{}{"speed": 1.0})
	require.Error(t, err)
	var invalid *InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "tts", invalid.Provider)

	assert.Error(t, reg.ValidateConfig(map[string]interface{}{"voice": "nova", "speed": 0.1}))
	assert.Error(t, reg.ValidateConfig(map[string]interface{}{"voice": 42}))
}

func TestValidateConfigWithoutSchema(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("anything", echoHandler()))
	reg, _ := r.Lookup("anything")

	assert.NoError(t, reg.ValidateConfig(nil))
	assert.NoError(t, reg.ValidateConfig(map[string]interface{}{"whatever": true}))
}

func TestWithConfigSchemaRejectsBadSchema(t *testing.T) {
	r := NewRegistry()
	err := r.Register("bad", echoHandler(), WithConfigSchema(map[string]interface{}{
		"type": 42,
	}))
	assert.Error(t, err)
}
