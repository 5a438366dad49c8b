package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StreamPreset is a stored start-request template. Presets let operators
// start a session by name without repeating encode and output settings.
type StreamPreset struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"uniqueIndex;not null"`
	SourceURL string    `json:"sourceUrl" gorm:"not null"`
	Formats   string    `json:"-" gorm:"column:formats;not null"`
	Settings  string    `json:"-" gorm:"column:settings;type:text"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName overrides the gorm table name.
func (StreamPreset) TableName() string {
	return "stream_presets"
}

// presetSettings is the JSON blob stored in the settings column.
type presetSettings struct {
	Video   VideoSettings  `json:"videoSettings"`
	Audio   AudioSettings  `json:"audioSettings"`
	SCTE35  SCTE35Settings `json:"scte35Settings"`
	Outputs OutputSettings `json:"outputSettings"`
}

// SetFormats stores the output formats as a JSON array.
func (p *StreamPreset) SetFormats(formats []OutputFormat) error {
	raw, err := json.Marshal(formats)
	if err != nil {
		return err
	}
	p.Formats = string(raw)
	return nil
}

// GetFormats decodes the stored output formats.
func (p *StreamPreset) GetFormats() ([]OutputFormat, error) {
	if p.Formats == "" {
		return nil, nil
	}
	var formats []OutputFormat
	if err := json.Unmarshal([]byte(p.Formats), &formats); err != nil {
		return nil, err
	}
	return formats, nil
}

// SetSettings stores the encode and output settings as a JSON blob.
func (p *StreamPreset) SetSettings(video VideoSettings, audio AudioSettings, scte SCTE35Settings, outputs OutputSettings) error {
	raw, err := json.Marshal(presetSettings{Video: video, Audio: audio, SCTE35: scte, Outputs: outputs})
	if err != nil {
		return err
	}
	p.Settings = string(raw)
	return nil
}

// GetSettings decodes the stored encode and output settings.
func (p *StreamPreset) GetSettings() (VideoSettings, AudioSettings, SCTE35Settings, OutputSettings, error) {
	var s presetSettings
	if p.Settings != "" {
		if err := json.Unmarshal([]byte(p.Settings), &s); err != nil {
			return s.Video, s.Audio, s.SCTE35, s.Outputs, err
		}
	}
	return s.Video, s.Audio, s.SCTE35, s.Outputs, nil
}

// BeforeCreate assigns an id and validates the preset before it is persisted.
func (p *StreamPreset) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Name == "" {
		return ErrNameRequired
	}
	if p.SourceURL == "" {
		return ErrSourceURLRequired
	}
	return nil
}
