// Package repository provides data access for stored stream presets.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/splicecast/splicecast/internal/models"
)

// PresetRepository stores and retrieves stream presets.
type PresetRepository interface {
	Create(ctx context.Context, preset *models.StreamPreset) error
	GetByID(ctx context.Context, id string) (*models.StreamPreset, error)
	GetByName(ctx context.Context, name string) (*models.StreamPreset, error)
	List(ctx context.Context) ([]*models.StreamPreset, error)
	Update(ctx context.Context, preset *models.StreamPreset) error
	Delete(ctx context.Context, id string) error
}

// presetRepo implements PresetRepository using GORM.
type presetRepo struct {
	db *gorm.DB
}

// NewPresetRepository creates a new PresetRepository.
func NewPresetRepository(db *gorm.DB) *presetRepo {
	return &presetRepo{db: db}
}

// Create stores a new preset. A duplicate name is a conflict.
func (r *presetRepo) Create(ctx context.Context, preset *models.StreamPreset) error {
	if err := r.db.WithContext(ctx).Create(preset).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.ErrConflict{Resource: "preset " + preset.Name, Message: "already exists"}
		}
		return fmt.Errorf("creating preset: %w", err)
	}
	return nil
}

// GetByID retrieves a preset by id.
func (r *presetRepo) GetByID(ctx context.Context, id string) (*models.StreamPreset, error) {
	var preset models.StreamPreset
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&preset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrPresetNotFound
		}
		return nil, fmt.Errorf("getting preset by id: %w", err)
	}
	return &preset, nil
}

// GetByName retrieves a preset by its unique name.
func (r *presetRepo) GetByName(ctx context.Context, name string) (*models.StreamPreset, error) {
	var preset models.StreamPreset
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&preset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrPresetNotFound
		}
		return nil, fmt.Errorf("getting preset by name: %w", err)
	}
	return &preset, nil
}

// List retrieves all presets ordered by name.
func (r *presetRepo) List(ctx context.Context) ([]*models.StreamPreset, error) {
	var presets []*models.StreamPreset
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&presets).Error; err != nil {
		return nil, fmt.Errorf("listing presets: %w", err)
	}
	return presets, nil
}

// Update saves changes to an existing preset.
func (r *presetRepo) Update(ctx context.Context, preset *models.StreamPreset) error {
	result := r.db.WithContext(ctx).Model(&models.StreamPreset{}).
		Where("id = ?", preset.ID).
		Updates(map[string]interface{}{
			"name":       preset.Name,
			"source_url": preset.SourceURL,
			"formats":    preset.Formats,
			"settings":   preset.Settings,
		})
	if result.Error != nil {
		return fmt.Errorf("updating preset: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrPresetNotFound
	}
	return nil
}

// Delete removes a preset by id.
func (r *presetRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.StreamPreset{})
	if result.Error != nil {
		return fmt.Errorf("deleting preset: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrPresetNotFound
	}
	return nil
}
