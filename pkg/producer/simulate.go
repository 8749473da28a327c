package producer

import "context"

// Simulated returns a handler that fills every requested artifact with a
// deterministic inline placeholder and contacts no provider. The CLI registers
// it for providers without a linked integration; real handlers switch on
// Runtime.Mode themselves.
func Simulated() Handler {
	return HandlerFunc(func(ctx context.Context, req Request, _ Runtime) (*Response, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp := &Response{
			Diagnostics: map[string]interface{}{"simulated": true},
		}
		for _, id := range req.Produces {
			resp.Artifacts = append(resp.Artifacts, ArtifactResult{
				ArtifactID: id,
				Inline: map[string]interface{}{
					"simulated": true,
					"provider":  req.Provider,
					"model":     req.Model,
					"jobId":     req.JobID,
				},
			})
		}
		return resp, nil
	})
}
