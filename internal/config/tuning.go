// Package config loads map tuning parameters from JSON files.
//
// All fields are pointers so a partial config file overrides only the
// values it names; everything else keeps the compiled-in defaults from
// voxel.DefaultMapParams.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/volumetric.map/internal/voxel"
)

// TuningConfig is the root configuration for the occupancy map and the
// saliency state machine. The schema doubles as the runtime-update
// payload, so the same JSON works for startup and live re-tuning.
type TuningConfig struct {
	// Occupancy map params
	Resolution         *float64 `json:"resolution,omitempty"`
	ProbabilityHit     *float64 `json:"probability_hit,omitempty"`
	ProbabilityMiss    *float64 `json:"probability_miss,omitempty"`
	ThresholdMin       *float64 `json:"threshold_min,omitempty"`
	ThresholdMax       *float64 `json:"threshold_max,omitempty"`
	ThresholdOccupancy *float64 `json:"threshold_occupancy,omitempty"`
	SensorMaxRange     *float64 `json:"sensor_max_range,omitempty"`
	MaxFreeSpace       *float64 `json:"max_free_space,omitempty"`
	MinHeightFreeSpace *float64 `json:"min_height_free_space,omitempty"`

	// Query policy params
	TreatUnknownAsOccupied *bool `json:"treat_unknown_as_occupied,omitempty"`
	FilterSpeckles         *bool `json:"filter_speckles,omitempty"`
	ChangeDetection        *bool `json:"change_detection,omitempty"`

	// Saliency params
	SaliencyAlpha     *float64 `json:"saliency_alpha,omitempty"`
	SaliencyBeta      *float64 `json:"saliency_beta,omitempty"`
	SaliencyThreshold *int     `json:"saliency_threshold,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks set fields for values the map would reject anyway, so
// bad configs fail at load time rather than at map construction.
func (c *TuningConfig) Validate() error {
	if c.Resolution != nil && *c.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %f", *c.Resolution)
	}
	for name, p := range map[string]*float64{
		"probability_hit":     c.ProbabilityHit,
		"probability_miss":    c.ProbabilityMiss,
		"threshold_occupancy": c.ThresholdOccupancy,
	} {
		if p != nil && (*p <= 0 || *p >= 1) {
			return fmt.Errorf("%s must be in (0,1), got %f", name, *p)
		}
	}
	if c.ThresholdMin != nil && c.ThresholdMax != nil && *c.ThresholdMin >= *c.ThresholdMax {
		return fmt.Errorf("threshold_min %f must be below threshold_max %f", *c.ThresholdMin, *c.ThresholdMax)
	}
	if c.SaliencyThreshold != nil && (*c.SaliencyThreshold < 0 || *c.SaliencyThreshold > 255) {
		return fmt.Errorf("saliency_threshold must be in [0,255], got %d", *c.SaliencyThreshold)
	}
	return nil
}

// MapParams merges the config over voxel.DefaultMapParams.
func (c *TuningConfig) MapParams() voxel.MapParams {
	p := voxel.DefaultMapParams()
	if c == nil {
		return p
	}
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setF(&p.Resolution, c.Resolution)
	setF(&p.ProbabilityHit, c.ProbabilityHit)
	setF(&p.ProbabilityMiss, c.ProbabilityMiss)
	setF(&p.ThresholdMin, c.ThresholdMin)
	setF(&p.ThresholdMax, c.ThresholdMax)
	setF(&p.ThresholdOccupancy, c.ThresholdOccupancy)
	setF(&p.SensorMaxRange, c.SensorMaxRange)
	setF(&p.MaxFreeSpace, c.MaxFreeSpace)
	setF(&p.MinHeightFreeSpace, c.MinHeightFreeSpace)
	if c.TreatUnknownAsOccupied != nil {
		p.TreatUnknownAsOccupied = *c.TreatUnknownAsOccupied
	}
	if c.FilterSpeckles != nil {
		p.FilterSpeckles = *c.FilterSpeckles
	}
	if c.ChangeDetection != nil {
		p.ChangeDetection = *c.ChangeDetection
	}
	return p
}

// SaliencyConfig merges the config over the stock saliency tuning.
func (c *TuningConfig) SaliencyConfig() voxel.SaliencyConfig {
	cfg := voxel.SaliencyConfig{Alpha: 0.5, Beta: -0.01, Threshold: 128}
	if c == nil {
		return cfg
	}
	if c.SaliencyAlpha != nil {
		cfg.Alpha = *c.SaliencyAlpha
	}
	if c.SaliencyBeta != nil {
		cfg.Beta = *c.SaliencyBeta
	}
	if c.SaliencyThreshold != nil {
		cfg.Threshold = uint8(*c.SaliencyThreshold)
	}
	return cfg
}
