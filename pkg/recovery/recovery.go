// Package recovery implements the pre-run reconciliation pass: failed events
// that carry a pollable provider request id are probed against the provider,
// and completed outputs are downloaded and appended as succeeded events. The
// pass is additive-only; it never rewrites or removes existing events.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelforge/reelforge/pkg/engine"
	"github.com/reelforge/reelforge/pkg/ident"
	"github.com/reelforge/reelforge/pkg/storage"
)

// JobState is the provider-side state of a tracked request.
type JobState string

const (
	// StatePending means the provider is still working; try again later.
	StatePending JobState = "pending"

	// StateCompleted means outputs are ready for download.
	StateCompleted JobState = "completed"

	// StateFailed means the provider gave up; the failure is final.
	StateFailed JobState = "failed"
)

// ProbeResult is the outcome of polling one provider request.
type ProbeResult struct {
	State JobState

	// Outputs are the download URLs of a completed request, one per
	// produced index for array outputs.
	Outputs []string

	// Detail is the provider's failure message for failed requests.
	Detail string
}

// StatusProber polls a provider for the state of a tracked request.
type StatusProber interface {
	Probe(ctx context.Context, providerRequestID string) (ProbeResult, error)
}

// Downloader fetches the bytes behind an output URL.
type Downloader interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPDownloader fetches outputs over HTTP.
type HTTPDownloader struct {
	Client *http.Client
}

// Fetch implements Downloader.
func (d *HTTPDownloader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Summary reports what one recovery pass did.
type Summary struct {
	// Checked counts the recoverable failures probed.
	Checked int `json:"checked"`

	// Recovered lists artifact ids reconciled to succeeded.
	Recovered []string `json:"recovered,omitempty"`

	// Pending lists artifact ids whose provider request is still running.
	Pending []string `json:"pending,omitempty"`

	// Failed lists artifact ids whose recovery failed for good.
	Failed []string `json:"failed,omitempty"`
}

// Prepass reconciles recoverable failures before a new plan is built. Running
// it twice is safe: a recovered artifact's latest event is succeeded, so the
// second pass has nothing left to probe.
type Prepass struct {
	events     *storage.EventLog
	blobs      *storage.BlobStore
	probers    map[string]StatusProber
	downloader Downloader
	logger     zerolog.Logger
}

// NewPrepass creates a recovery prepass. probers maps provider names to their
// status probers; providers without one stay pending.
func NewPrepass(events *storage.EventLog, blobs *storage.BlobStore,
	probers map[string]StatusProber, downloader Downloader, logger zerolog.Logger) *Prepass {

	if downloader == nil {
		downloader = &HTTPDownloader{}
	}
	return &Prepass{
		events:     events,
		blobs:      blobs,
		probers:    probers,
		downloader: downloader,
		logger:     logger,
	}
}

// Run probes every recoverable failure of the movie and appends succeeded
// events for completed provider requests.
func (p *Prepass) Run(ctx context.Context, movieID string) (*Summary, error) {
	all, err := p.events.Stream(ctx, movieID)
	if err != nil {
		return nil, engine.NewInternalError("failed to read event log", err).
			WithCode(engine.ErrCodeStorageFailed)
	}

	latest := make(map[string]storage.ArtifactEvent, len(all))
	for _, event := range all {
		latest[event.ArtifactID] = event
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	summary := &Summary{}
	for _, id := range ids {
		event := latest[id]
		if !event.Recoverable() {
			continue
		}
		summary.Checked++

		if err := p.recoverOne(ctx, movieID, all, event, summary); err != nil {
			return nil, err
		}
	}

	p.logger.Info().
		Str("movie_id", movieID).
		Int("checked", summary.Checked).
		Int("recovered", len(summary.Recovered)).
		Int("pending", len(summary.Pending)).
		Int("failed", len(summary.Failed)).
		Msg("recovery prepass complete")
	return summary, nil
}

func (p *Prepass) recoverOne(ctx context.Context, movieID string,
	all []storage.ArtifactEvent, event storage.ArtifactEvent, summary *Summary) error {

	id := event.ArtifactID
	provider, _ := event.Diagnostics["provider"].(string)
	requestID, _ := event.Diagnostics["providerRequestId"].(string)
	if requestID == "" {
		summary.Failed = append(summary.Failed, id)
		return p.appendFinalFailure(ctx, movieID, event, "recoverable failure carries no provider request id")
	}

	prober, ok := p.probers[provider]
	if !ok {
		// No prober registered; the request may still complete later.
		summary.Pending = append(summary.Pending, id)
		return nil
	}

	result, err := prober.Probe(ctx, requestID)
	if err != nil {
		// A probe error is transient; leave the failure recoverable.
		p.logger.Warn().Err(err).Str("artefact_id", id).Msg("probe failed, leaving pending")
		summary.Pending = append(summary.Pending, id)
		return nil
	}

	switch result.State {
	case StatePending:
		summary.Pending = append(summary.Pending, id)
		return nil

	case StateFailed:
		summary.Failed = append(summary.Failed, id)
		detail := result.Detail
		if detail == "" {
			detail = "provider reported final failure"
		}
		return p.appendFinalFailure(ctx, movieID, event, detail)

	case StateCompleted:
		if err := p.downloadAndRecord(ctx, movieID, all, event, requestID, result.Outputs); err != nil {
			var perr *engine.PipelineError
			if errors.As(err, &perr) && perr.CausedByUser() {
				summary.Failed = append(summary.Failed, id)
				return p.appendFinalFailure(ctx, movieID, event, perr.Message)
			}
			return err
		}
		summary.Recovered = append(summary.Recovered, id)
		return nil

	default:
		return engine.NewInternalError(
			fmt.Sprintf("prober returned unknown state %q", result.State), nil).
			WithCode(engine.ErrCodeInternal)
	}
}

// downloadAndRecord fetches the completed output and appends the succeeded
// event the failed run never got to write.
func (p *Prepass) downloadAndRecord(ctx context.Context, movieID string,
	all []storage.ArtifactEvent, event storage.ArtifactEvent, requestID string, outputs []string) error {

	outputURL, err := selectOutput(event.ArtifactID, outputs)
	if err != nil {
		return err
	}

	data, err := p.downloader.Fetch(ctx, outputURL)
	if err != nil {
		return engine.NewTransientError("failed to download recovered output", err).
			WithCode(engine.ErrCodeProviderFailed)
	}

	mimeType := priorMimeType(all, event.ArtifactID)
	if mimeType == "" {
		mimeType = urlMimeType(outputURL)
	}
	if mimeType == "" {
		return engine.NewUserInputError(
			fmt.Sprintf("cannot determine media type for recovered output of %s", event.ArtifactID), nil).
			WithCode(engine.ErrCodeValidation)
	}

	blob, err := p.blobs.Persist(ctx, movieID, data, mimeType)
	if err != nil {
		return engine.NewInternalError("failed to persist recovered blob", err).
			WithCode(engine.ErrCodeStorageFailed)
	}

	recovered := storage.ArtifactEvent{
		ArtifactID: event.ArtifactID,
		Revision:   event.Revision,
		InputsHash: event.InputsHash,
		Status:     storage.EventSucceeded,
		Output:     &storage.Output{Blob: &blob},
		ProducedBy: event.ProducedBy,
		Diagnostics: map[string]interface{}{
			"recoveredBy":       "prepass",
			"recoveredAt":       time.Now().UTC().Format(time.RFC3339),
			"providerRequestId": requestID,
		},
	}
	if err := p.events.Append(ctx, movieID, recovered); err != nil {
		return engine.NewInternalError("failed to append recovered event", err).
			WithCode(engine.ErrCodeStorageFailed)
	}
	return nil
}

// appendFinalFailure records a non-recoverable failure so later passes stop
// probing the request.
func (p *Prepass) appendFinalFailure(ctx context.Context, movieID string,
	event storage.ArtifactEvent, detail string) error {

	final := storage.ArtifactEvent{
		ArtifactID: event.ArtifactID,
		Revision:   event.Revision,
		InputsHash: event.InputsHash,
		Status:     storage.EventFailed,
		ProducedBy: event.ProducedBy,
		Diagnostics: map[string]interface{}{
			"message":     detail,
			"recoveredBy": "prepass",
		},
	}
	if err := p.events.Append(ctx, movieID, final); err != nil {
		return engine.NewInternalError("failed to append final failure", err).
			WithCode(engine.ErrCodeStorageFailed)
	}
	return nil
}

// selectOutput picks the download URL for the artifact. Multi-output requests
// are disambiguated by the artifact's trailing index; an indexless artifact
// with several outputs is unresolvable.
func selectOutput(artifactID string, outputs []string) (string, error) {
	if len(outputs) == 0 {
		return "", engine.NewUserInputError(
			fmt.Sprintf("completed request for %s reported no outputs", artifactID), nil).
			WithCode(engine.ErrCodeMissingArtifact)
	}
	if len(outputs) == 1 {
		return outputs[0], nil
	}

	parsed, err := ident.Parse(artifactID)
	if err != nil || len(parsed.Indices) == 0 {
		return "", engine.NewUserInputError(
			fmt.Sprintf("request for %s has %d outputs but the artifact carries no index",
				artifactID, len(outputs)), nil).
			WithCode(engine.ErrCodeNoOutputIndex)
	}
	idx := parsed.Indices[len(parsed.Indices)-1]
	if idx >= len(outputs) {
		return "", engine.NewUserInputError(
			fmt.Sprintf("index %d of %s exceeds the %d reported outputs",
				idx, artifactID, len(outputs)), nil).
			WithCode(engine.ErrCodeNoOutputIndex)
	}
	return outputs[idx], nil
}

// priorMimeType returns the media type of the artifact's most recent earlier
// succeeded blob, if any.
func priorMimeType(all []storage.ArtifactEvent, artifactID string) string {
	mimeType := ""
	for _, event := range all {
		if event.ArtifactID != artifactID || event.Status != storage.EventSucceeded {
			continue
		}
		if event.Output != nil && event.Output.Blob != nil {
			mimeType = event.Output.Blob.MimeType
		}
	}
	return mimeType
}

// urlMimeType infers a media type from the URL path extension.
func urlMimeType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}
