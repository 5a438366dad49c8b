package handlers

import (
	"context"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"

	"github.com/splicecast/splicecast/internal/validator"
)

// ValidateHandler exposes the cue preservation validator as a diagnostic
// endpoint. Paths are resolved on the server's filesystem.
type ValidateHandler struct{}

// NewValidateHandler creates a new validate handler.
func NewValidateHandler() *ValidateHandler {
	return &ValidateHandler{}
}

// Register registers the validate route with the API.
func (h *ValidateHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "validateCuePreservation",
		Method:      http.MethodPost,
		Path:        "/validate",
		Summary:     "Validate cue preservation",
		Description: "Scans an input transport stream and an output artifact and reports how many ad-cue markers survived",
		Tags:        []string{"SCTE-35"},
	}, h.Validate)
}

// ValidateRequest is the validate request body.
type ValidateRequest struct {
	InputPath  string `json:"inputPath" doc:"Path to the source MPEG-TS file"`
	OutputPath string `json:"outputPath" doc:"Path to the output artifact (.ts, .m3u8 or .mpd)"`
}

// ValidateInput is the input for the validate endpoint.
type ValidateInput struct {
	Body ValidateRequest
}

// ValidateOutput is the output for the validate endpoint.
type ValidateOutput struct {
	Body *validator.Result
}

// Validate runs the preservation scan.
func (h *ValidateHandler) Validate(ctx context.Context, input *ValidateInput) (*ValidateOutput, error) {
	for _, path := range []string{input.Body.InputPath, input.Body.OutputPath} {
		if path == "" {
			return nil, huma.Error400BadRequest("inputPath and outputPath are required")
		}
		if _, err := os.Stat(path); err != nil {
			return nil, huma.Error400BadRequest("file not found: " + path)
		}
	}

	result, err := validator.Validate(ctx, input.Body.InputPath, input.Body.OutputPath)
	if err != nil {
		return nil, huma.Error500InternalServerError("validation failed", err)
	}
	return &ValidateOutput{Body: result}, nil
}
