// Package presets implements the model preset registry: a small, read-mostly
// catalog of named model presets plus one active selection, seeded
// idempotently from configuration at startup.
package presets

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/dara-labs/workflow-control-plane/internal/config"
	"github.com/dara-labs/workflow-control-plane/internal/store"
)

// ValidationError is returned when set_active names an unknown preset.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// activeStateID is the single row id for the active-preset state; the table
// holds at most one row.
const activeStateID = "active"

// Registry is the model preset registry.
type Registry struct {
	store *store.Store
}

// Open seeds the registry from cfg if it has never been seeded, then
// returns a Registry backed by s. Seeding is idempotent: an existing row
// for a preset name is left untouched.
func Open(s *store.Store, cfg config.PresetsConfig) (*Registry, error) {
	r := &Registry{store: s}
	if err := r.seed(cfg); err != nil {
		return nil, fmt.Errorf("seeding preset registry: %w", err)
	}
	return r, nil
}

func (r *Registry) seed(cfg config.PresetsConfig) error {
	defaults := []store.ModelPreset{
		{Name: "quality", Model: cfg.Quality},
		{Name: "main", Model: cfg.Main},
		{Name: "fast", Model: cfg.Fast},
		{Name: "long", Model: cfg.Long},
	}
	return r.store.Tx(func(tx *gorm.DB) error {
		for _, p := range defaults {
			var existing store.ModelPreset
			err := tx.Where("name = ?", p.Name).First(&existing).Error
			if err == gorm.ErrRecordNotFound {
				if err := tx.Create(&p).Error; err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		}
		var state store.ModelPresetState
		err := tx.First(&state, "id = ?", activeStateID).Error
		if err == gorm.ErrRecordNotFound {
			return tx.Create(&store.ModelPresetState{ID: activeStateID, ActivePreset: cfg.Default}).Error
		}
		return err
	})
}

// Preset pairs a preset name with its underlying model id.
type Preset struct {
	Name  string
	Model string
}

// List returns the catalog and the name of the currently active preset.
func (r *Registry) List() ([]Preset, string, error) {
	var rows []store.ModelPreset
	if err := r.store.DB().Order("name").Find(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("listing presets: %w", err)
	}
	presets := make([]Preset, 0, len(rows))
	for _, row := range rows {
		presets = append(presets, Preset{Name: row.Name, Model: row.Model})
	}
	active, err := r.activeName()
	if err != nil {
		return nil, "", err
	}
	return presets, active, nil
}

// SetActive changes the active preset. Fails with *ValidationError if name
// is not a known preset.
func (r *Registry) SetActive(name string) error {
	var existing store.ModelPreset
	if err := r.store.DB().First(&existing, "name = ?", name).Error; err != nil {
		return &ValidationError{Reason: fmt.Sprintf("unknown model preset %q", name)}
	}
	return r.store.Tx(func(tx *gorm.DB) error {
		return tx.Model(&store.ModelPresetState{}).Where("id = ?", activeStateID).
			Update("active_preset", name).Error
	})
}

// ActiveModel returns the model id behind the currently active preset.
func (r *Registry) ActiveModel() (string, error) {
	name, err := r.activeName()
	if err != nil {
		return "", err
	}
	var row store.ModelPreset
	if err := r.store.DB().First(&row, "name = ?", name).Error; err != nil {
		return "", fmt.Errorf("active preset %q has no catalog entry: %w", name, err)
	}
	return row.Model, nil
}

func (r *Registry) activeName() (string, error) {
	var state store.ModelPresetState
	if err := r.store.DB().First(&state, "id = ?", activeStateID).Error; err != nil {
		return "", fmt.Errorf("reading active preset state: %w", err)
	}
	return state.ActivePreset, nil
}
