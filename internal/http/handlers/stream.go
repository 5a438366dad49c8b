// Package handlers provides the control-surface API handlers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/repository"
	"github.com/splicecast/splicecast/internal/session"
)

// StreamHandler handles session lifecycle and event injection endpoints.
type StreamHandler struct {
	manager *session.Manager
	presets repository.PresetRepository
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(manager *session.Manager) *StreamHandler {
	return &StreamHandler{manager: manager}
}

// WithPresets enables starting sessions from stored presets.
func (h *StreamHandler) WithPresets(presets repository.PresetRepository) *StreamHandler {
	h.presets = presets
	return h
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "startStream",
		Method:        http.MethodPost,
		Path:          "/stream/start",
		Summary:       "Start a stream session",
		Description:   "Creates a session and brings up one output target per requested format",
		Tags:          []string{"Streams"},
		DefaultStatus: http.StatusCreated,
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "injectSCTE35",
		Method:      http.MethodPost,
		Path:        "/stream/scte35",
		Summary:     "Inject an SCTE-35 event",
		Description: "Issues a CUE-OUT or CUE-IN marker and fans it out to every running output",
		Tags:        []string{"SCTE-35"},
	}, h.Inject)

	huma.Register(api, huma.Operation{
		OperationID: "stopStream",
		Method:      http.MethodPost,
		Path:        "/stream/stop",
		Summary:     "Stop a stream session",
		Description: "Tears the session down; stopping an unknown session is not an error",
		Tags:        []string{"Streams"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      http.MethodGet,
		Path:        "/streams",
		Summary:     "List stream sessions",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      http.MethodGet,
		Path:        "/stream/{name}",
		Summary:     "Get a stream session",
		Tags:        []string{"Streams"},
	}, h.Get)
}

// StartStreamRequest is the start-stream request body. Preset names a stored
// preset used for any field left empty.
type StartStreamRequest struct {
	Name      string                `json:"name" doc:"Unique session name"`
	SourceURL string                `json:"sourceUrl,omitempty" doc:"Ingest source URL"`
	Formats   []models.OutputFormat `json:"outputFormats,omitempty" doc:"Output formats to fan out to"`
	Video     models.VideoSettings  `json:"videoSettings,omitempty"`
	Audio     models.AudioSettings  `json:"audioSettings,omitempty"`
	SCTE35    models.SCTE35Settings `json:"scte35Settings,omitempty"`
	Outputs   models.OutputSettings `json:"outputSettings,omitempty"`
	Preset    string                `json:"preset,omitempty" doc:"Stored preset name to start from"`
}

// StartStreamInput is the input for the start-stream endpoint.
type StartStreamInput struct {
	Body StartStreamRequest
}

// StartStreamOutput is the output for the start-stream endpoint.
type StartStreamOutput struct {
	Body struct {
		Stream *models.StreamSession `json:"stream"`
	}
}

// Start creates and starts a session.
func (h *StreamHandler) Start(ctx context.Context, input *StartStreamInput) (*StartStreamOutput, error) {
	req, err := h.buildStartRequest(ctx, input.Body)
	if err != nil {
		return nil, err
	}

	sess, err := h.manager.Start(ctx, req)
	if err != nil {
		return nil, mapError(err, "failed to start stream")
	}

	resp := &StartStreamOutput{}
	resp.Body.Stream = sess
	return resp, nil
}

// buildStartRequest merges the request with a stored preset when one is named.
func (h *StreamHandler) buildStartRequest(ctx context.Context, body StartStreamRequest) (session.StartRequest, error) {
	req := session.StartRequest{
		Name:      body.Name,
		SourceURL: body.SourceURL,
		Formats:   body.Formats,
		Video:     body.Video,
		Audio:     body.Audio,
		SCTE35:    body.SCTE35,
		Outputs:   body.Outputs,
	}
	if body.Preset == "" {
		return req, nil
	}
	if h.presets == nil {
		return req, huma.Error400BadRequest("presets are not configured")
	}

	preset, err := h.presets.GetByName(ctx, body.Preset)
	if err != nil {
		if errors.Is(err, models.ErrPresetNotFound) {
			return req, huma.Error404NotFound(fmt.Sprintf("preset %q not found", body.Preset))
		}
		return req, huma.Error500InternalServerError("failed to load preset", err)
	}

	if req.SourceURL == "" {
		req.SourceURL = preset.SourceURL
	}
	if len(req.Formats) == 0 {
		formats, err := preset.GetFormats()
		if err != nil {
			return req, huma.Error500InternalServerError("failed to decode preset formats", err)
		}
		req.Formats = formats
	}
	video, audio, scte, outputs, err := preset.GetSettings()
	if err != nil {
		return req, huma.Error500InternalServerError("failed to decode preset settings", err)
	}
	if req.Video == (models.VideoSettings{}) {
		req.Video = video
	}
	if req.Audio == (models.AudioSettings{}) {
		req.Audio = audio
	}
	if req.SCTE35 == (models.SCTE35Settings{}) {
		req.SCTE35 = scte
	}
	if req.Outputs == (models.OutputSettings{}) {
		req.Outputs = outputs
	}
	return req, nil
}

// InjectEventRequest is the SCTE-35 injection request body.
type InjectEventRequest struct {
	StreamName string           `json:"streamName" doc:"Target session name"`
	Type       models.EventType `json:"type" enum:"CUE-OUT,CUE-IN" doc:"Splice event type"`
	Duration   float64          `json:"duration,omitempty" doc:"Break duration in seconds (CUE-OUT)"`
	PreRoll    float64          `json:"preRoll,omitempty" doc:"Seconds of warning before the splice point"`
}

// InjectEventInput is the input for the injection endpoint.
type InjectEventInput struct {
	Body InjectEventRequest
}

// InjectEventOutput is the output for the injection endpoint.
type InjectEventOutput struct {
	Body struct {
		Event *models.SCTE35Event `json:"event"`
	}
}

// Inject issues a splice event against a running session.
func (h *StreamHandler) Inject(ctx context.Context, input *InjectEventInput) (*InjectEventOutput, error) {
	event, err := h.manager.Inject(ctx, input.Body.StreamName, session.EventRequest{
		Type:     input.Body.Type,
		Duration: input.Body.Duration,
		PreRoll:  input.Body.PreRoll,
	})
	if err != nil {
		return nil, mapError(err, "failed to inject event")
	}

	resp := &InjectEventOutput{}
	resp.Body.Event = event
	return resp, nil
}

// StopStreamRequest is the stop-stream request body.
type StopStreamRequest struct {
	StreamName string `json:"streamName" doc:"Session name to stop"`
}

// StopStreamInput is the input for the stop-stream endpoint.
type StopStreamInput struct {
	Body StopStreamRequest
}

// StopStreamOutput is the output for the stop-stream endpoint.
type StopStreamOutput struct {
	Body struct {
		Stream *models.StreamSession `json:"stream,omitempty"`
		// Stopped is false when the session was already gone.
		Stopped bool `json:"stopped"`
	}
}

// Stop tears a session down; unknown names are reported, not errors.
func (h *StreamHandler) Stop(ctx context.Context, input *StopStreamInput) (*StopStreamOutput, error) {
	sess, err := h.manager.Stop(ctx, input.Body.StreamName)
	if err != nil {
		return nil, mapError(err, "failed to stop stream")
	}

	resp := &StopStreamOutput{}
	resp.Body.Stream = sess
	resp.Body.Stopped = sess != nil
	return resp, nil
}

// ListStreamsInput is the input for the list-streams endpoint.
type ListStreamsInput struct{}

// ListStreamsOutput is the output for the list-streams endpoint.
type ListStreamsOutput struct {
	Body struct {
		Streams []*models.StreamSession `json:"streams"`
	}
}

// List returns all registered sessions.
func (h *StreamHandler) List(ctx context.Context, _ *ListStreamsInput) (*ListStreamsOutput, error) {
	resp := &ListStreamsOutput{}
	resp.Body.Streams = h.manager.List(ctx)
	if resp.Body.Streams == nil {
		resp.Body.Streams = []*models.StreamSession{}
	}
	return resp, nil
}

// GetStreamInput is the input for the get-stream endpoint.
type GetStreamInput struct {
	Name string `path:"name" doc:"Session name"`
}

// GetStreamOutput is the output for the get-stream endpoint.
type GetStreamOutput struct {
	Body struct {
		Stream *models.StreamSession `json:"stream"`
	}
}

// Get returns one session by name.
func (h *StreamHandler) Get(ctx context.Context, input *GetStreamInput) (*GetStreamOutput, error) {
	sess, err := h.manager.Get(ctx, input.Name)
	if err != nil {
		return nil, mapError(err, "failed to get stream")
	}

	resp := &GetStreamOutput{}
	resp.Body.Stream = sess
	return resp, nil
}

// mapError converts domain errors into API status codes.
func mapError(err error, fallback string) error {
	switch {
	case models.IsValidation(err):
		return huma.Error400BadRequest(err.Error())
	case models.IsConflict(err):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, models.ErrSessionNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, models.ErrSessionNotRunning):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError(fallback, err)
	}
}
