package producer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedFillsEveryArtifact(t *testing.T) {
	h := Simulated()
	req := Request{
		JobID:    "Clip[scene=1]",
		Producer: "Clip",
		Produces: []string{"Artifact:Clip.Out[1]", "Artifact:Clip.Thumb[1]"},
		Provider: "videoai",
		Model:    "motion-1",
	}

	resp, err := h.Invoke(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, resp.Artifacts, 2)

	for i, id := range req.Produces {
		assert.Equal(t, id, resp.Artifacts[i].ArtifactID)
		inline, ok := resp.Artifacts[i].Inline.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, inline["simulated"])
		assert.Equal(t, "videoai", inline["provider"])
		assert.Equal(t, "motion-1", inline["model"])
	}
	assert.Equal(t, true, resp.Diagnostics["simulated"])
}

func TestSimulatedIsDeterministic(t *testing.T) {
	h := Simulated()
	req := Request{JobID: "Script", Produces: []string{"Artifact:Script.Out"}}

	first, err := h.Invoke(context.Background(), req, nil)
	require.NoError(t, err)
	second, err := h.Invoke(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSimulatedHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Simulated().Invoke(ctx, Request{Produces: []string{"Artifact:X.Out"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
