package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/repository"
)

// PresetHandler handles stored preset CRUD endpoints.
type PresetHandler struct {
	presets repository.PresetRepository
}

// NewPresetHandler creates a new preset handler.
func NewPresetHandler(presets repository.PresetRepository) *PresetHandler {
	return &PresetHandler{presets: presets}
}

// Register registers the preset routes with the API.
func (h *PresetHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listPresets",
		Method:      http.MethodGet,
		Path:        "/presets",
		Summary:     "List presets",
		Tags:        []string{"Presets"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "createPreset",
		Method:        http.MethodPost,
		Path:          "/presets",
		Summary:       "Create a preset",
		Tags:          []string{"Presets"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "getPreset",
		Method:      http.MethodGet,
		Path:        "/presets/{id}",
		Summary:     "Get a preset",
		Tags:        []string{"Presets"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updatePreset",
		Method:      http.MethodPut,
		Path:        "/presets/{id}",
		Summary:     "Update a preset",
		Tags:        []string{"Presets"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deletePreset",
		Method:      http.MethodDelete,
		Path:        "/presets/{id}",
		Summary:     "Delete a preset",
		Tags:        []string{"Presets"},
	}, h.Delete)
}

// PresetRequest is the create/update preset body.
type PresetRequest struct {
	Name      string                `json:"name"`
	SourceURL string                `json:"sourceUrl"`
	Formats   []models.OutputFormat `json:"outputFormats"`
	Video     models.VideoSettings  `json:"videoSettings,omitempty"`
	Audio     models.AudioSettings  `json:"audioSettings,omitempty"`
	SCTE35    models.SCTE35Settings `json:"scte35Settings,omitempty"`
	Outputs   models.OutputSettings `json:"outputSettings,omitempty"`
}

// PresetResponse is a stored preset with its settings decoded.
type PresetResponse struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	SourceURL string                `json:"sourceUrl"`
	Formats   []models.OutputFormat `json:"outputFormats"`
	Video     models.VideoSettings  `json:"videoSettings"`
	Audio     models.AudioSettings  `json:"audioSettings"`
	SCTE35    models.SCTE35Settings `json:"scte35Settings"`
	Outputs   models.OutputSettings `json:"outputSettings"`
}

func presetResponse(preset *models.StreamPreset) (PresetResponse, error) {
	formats, err := preset.GetFormats()
	if err != nil {
		return PresetResponse{}, err
	}
	video, audio, scte, outputs, err := preset.GetSettings()
	if err != nil {
		return PresetResponse{}, err
	}
	return PresetResponse{
		ID:        preset.ID,
		Name:      preset.Name,
		SourceURL: preset.SourceURL,
		Formats:   formats,
		Video:     video,
		Audio:     audio,
		SCTE35:    scte,
		Outputs:   outputs,
	}, nil
}

func presetFromRequest(req PresetRequest) (*models.StreamPreset, error) {
	for _, f := range req.Formats {
		if !f.Valid() {
			return nil, models.ErrValidation{Field: "outputFormats", Message: fmt.Sprintf("unknown format %q", f)}
		}
	}
	preset := &models.StreamPreset{
		Name:      req.Name,
		SourceURL: req.SourceURL,
	}
	if err := preset.SetFormats(req.Formats); err != nil {
		return nil, err
	}
	if err := preset.SetSettings(req.Video, req.Audio, req.SCTE35, req.Outputs); err != nil {
		return nil, err
	}
	return preset, nil
}

// ListPresetsInput is the input for the list-presets endpoint.
type ListPresetsInput struct{}

// ListPresetsOutput is the output for the list-presets endpoint.
type ListPresetsOutput struct {
	Body struct {
		Presets []PresetResponse `json:"presets"`
	}
}

// List returns all stored presets.
func (h *PresetHandler) List(ctx context.Context, _ *ListPresetsInput) (*ListPresetsOutput, error) {
	presets, err := h.presets.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list presets", err)
	}

	resp := &ListPresetsOutput{}
	resp.Body.Presets = make([]PresetResponse, 0, len(presets))
	for _, preset := range presets {
		p, err := presetResponse(preset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to decode preset", err)
		}
		resp.Body.Presets = append(resp.Body.Presets, p)
	}
	return resp, nil
}

// CreatePresetInput is the input for the create-preset endpoint.
type CreatePresetInput struct {
	Body PresetRequest
}

// CreatePresetOutput is the output for the create-preset endpoint.
type CreatePresetOutput struct {
	Body PresetResponse
}

// Create stores a new preset.
func (h *PresetHandler) Create(ctx context.Context, input *CreatePresetInput) (*CreatePresetOutput, error) {
	preset, err := presetFromRequest(input.Body)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	if err := h.presets.Create(ctx, preset); err != nil {
		return nil, mapPresetError(err, "failed to create preset")
	}

	body, err := presetResponse(preset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to decode preset", err)
	}
	return &CreatePresetOutput{Body: body}, nil
}

// GetPresetInput is the input for the get-preset endpoint.
type GetPresetInput struct {
	ID string `path:"id" doc:"Preset ID"`
}

// GetPresetOutput is the output for the get-preset endpoint.
type GetPresetOutput struct {
	Body PresetResponse
}

// Get returns a preset by id.
func (h *PresetHandler) Get(ctx context.Context, input *GetPresetInput) (*GetPresetOutput, error) {
	preset, err := h.presets.GetByID(ctx, input.ID)
	if err != nil {
		return nil, mapPresetError(err, "failed to get preset")
	}

	body, err := presetResponse(preset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to decode preset", err)
	}
	return &GetPresetOutput{Body: body}, nil
}

// UpdatePresetInput is the input for the update-preset endpoint.
type UpdatePresetInput struct {
	ID   string `path:"id" doc:"Preset ID"`
	Body PresetRequest
}

// UpdatePresetOutput is the output for the update-preset endpoint.
type UpdatePresetOutput struct {
	Body PresetResponse
}

// Update replaces a stored preset.
func (h *PresetHandler) Update(ctx context.Context, input *UpdatePresetInput) (*UpdatePresetOutput, error) {
	preset, err := presetFromRequest(input.Body)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	preset.ID = input.ID

	if err := h.presets.Update(ctx, preset); err != nil {
		return nil, mapPresetError(err, "failed to update preset")
	}

	body, err := presetResponse(preset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to decode preset", err)
	}
	return &UpdatePresetOutput{Body: body}, nil
}

// DeletePresetInput is the input for the delete-preset endpoint.
type DeletePresetInput struct {
	ID string `path:"id" doc:"Preset ID"`
}

// DeletePresetOutput is the output for the delete-preset endpoint.
type DeletePresetOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// Delete removes a preset by id.
func (h *PresetHandler) Delete(ctx context.Context, input *DeletePresetInput) (*DeletePresetOutput, error) {
	if err := h.presets.Delete(ctx, input.ID); err != nil {
		return nil, mapPresetError(err, "failed to delete preset")
	}

	resp := &DeletePresetOutput{}
	resp.Body.Deleted = true
	return resp, nil
}

func mapPresetError(err error, fallback string) error {
	switch {
	case errors.Is(err, models.ErrPresetNotFound):
		return huma.Error404NotFound("preset not found")
	case errors.Is(err, models.ErrNameRequired),
		errors.Is(err, models.ErrSourceURLRequired),
		models.IsValidation(err):
		return huma.Error400BadRequest(err.Error())
	case models.IsConflict(err):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError(fallback, err)
	}
}
