// Package export persists measurement results and skeleton overlays.
// The core owns no state; export is invoked by the host after a
// successful measurement.
package export

import (
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"sperm-tracer/internal/trace"
)

// MeasurementRecord is one exported measurement, keyed by image ID.
type MeasurementRecord struct {
	ImageID           string  `json:"image_id"`
	Difficulty        string  `json:"difficulty,omitempty"`
	LengthPixels      float64 `json:"length_pixels"`
	LengthMicrometers float64 `json:"length_micrometers"`
	Calibration       float64 `json:"calibration_um_per_px"`
	Timestamp         string  `json:"timestamp"`
}

const measurementsFile = "measurements.json"

// WriteMeasurement appends or updates rec in measurements.json under dir,
// creating the directory and file as needed. An existing record with the
// same image ID is replaced.
func WriteMeasurement(dir string, rec MeasurementRecord) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	path := filepath.Join(dir, measurementsFile)
	var records []MeasurementRecord
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("failed to parse existing %s: %w", measurementsFile, err)
		}
	}

	updated := false
	for i, r := range records {
		if r.ImageID == rec.ImageID {
			records[i] = rec
			updated = true
			break
		}
	}
	if !updated {
		records = append(records, rec)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WriteSkeletonPNG saves a skeleton mask as a grayscale PNG.
func WriteSkeletonPNG(path string, skeleton *trace.Mask) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create skeleton dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create skeleton file: %w", err)
	}
	defer f.Close()
	return png.Encode(f, skeleton.ToImage())
}
