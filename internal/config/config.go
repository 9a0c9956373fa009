// Package config loads measurement parameter presets from YAML files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sperm-tracer/internal/preprocess"
	"sperm-tracer/internal/trace"
)

// Preset bundles the parameters for one acquisition setup.
type Preset struct {
	// MicronsPerPixel overrides the calibration from image metadata when
	// positive.
	MicronsPerPixel float64 `yaml:"microns_per_pixel"`

	Preprocess preprocess.Params  `yaml:"preprocess"`
	Growth     trace.GrowthParams `yaml:"growth"`

	// EraseRadius is the default disc eraser size in pixels.
	EraseRadius int `yaml:"erase_radius"`
}

// Default returns the preset used when no file is given.
func Default() Preset {
	return Preset{
		Preprocess:  preprocess.DefaultParams(),
		Growth:      trace.DefaultGrowthParams(),
		EraseRadius: 10,
	}
}

// Load reads a preset from a YAML file. Missing fields keep their
// defaults; the result is validated before being returned.
func Load(path string) (Preset, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read preset: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse preset: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate checks the embedded parameter bundles.
func (p Preset) Validate() error {
	if err := p.Preprocess.Validate(); err != nil {
		return err
	}
	if err := p.Growth.Validate(); err != nil {
		return err
	}
	if p.EraseRadius < 0 {
		return fmt.Errorf("erase radius %d is negative", p.EraseRadius)
	}
	return nil
}

// Save writes a preset to a YAML file.
func Save(path string, p Preset) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
