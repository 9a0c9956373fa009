// Package groundtruth compares estimated cell lengths against manually
// measured reference values.
package groundtruth

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"sperm-tracer/internal/measure"
)

// ErrInvalidReference reports a reference record with a non-positive
// expected length.
var ErrInvalidReference = errors.New("invalid ground truth reference")

// Record is an externally supplied reference measurement for one image.
type Record struct {
	ImageID              string  `json:"image_id"`
	ExpectedMicrometers  float64 `json:"expected_um"`
	ToleranceMicrometers float64 `json:"tolerance_um"`
}

// Comparison reports how an estimate relates to its reference.
type Comparison struct {
	AbsoluteError   float64 `json:"absolute_error_um"`
	RelativeError   float64 `json:"relative_error"`
	WithinTolerance bool    `json:"within_tolerance"`
}

// Compare computes absolute and relative error of a measurement against a
// reference. Pure function; fails only on a non-positive expected length.
func Compare(m measure.Measurement, ref Record) (Comparison, error) {
	if ref.ExpectedMicrometers <= 0 {
		return Comparison{}, fmt.Errorf("%w: expected length %g", ErrInvalidReference, ref.ExpectedMicrometers)
	}
	abs := math.Abs(m.LengthMicrometers - ref.ExpectedMicrometers)
	return Comparison{
		AbsoluteError:   abs,
		RelativeError:   abs / ref.ExpectedMicrometers,
		WithinTolerance: abs <= ref.ToleranceMicrometers,
	}, nil
}

// Store holds reference records keyed by image ID.
type Store struct {
	records map[string]Record
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// Add inserts or replaces a record.
func (s *Store) Add(r Record) {
	s.records[r.ImageID] = r
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Lookup finds the record for an image ID. Magnification suffixes like
// "_20x" are stripped when no exact match exists, matching how the
// reference sheets name their images.
func (s *Store) Lookup(imageID string) (Record, bool) {
	if r, ok := s.records[imageID]; ok {
		return r, true
	}
	if i := strings.LastIndex(imageID, "_"); i > 0 {
		suffix := imageID[i+1:]
		if strings.HasSuffix(suffix, "x") {
			if r, ok := s.records[imageID[:i]]; ok {
				return r, true
			}
		}
	}
	return Record{}, false
}

// LoadCSV reads records from a CSV file with columns
// image_id,length_um,tolerance_um. A header row is skipped when present.
func LoadCSV(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ground truth file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse ground truth CSV: %w", err)
	}

	store := NewStore()
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		length, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("ground truth row %d: bad length %q", i+1, row[1])
		}
		rec := Record{
			ImageID:             strings.TrimSpace(row[0]),
			ExpectedMicrometers: length,
		}
		if len(row) > 2 {
			tol, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("ground truth row %d: bad tolerance %q", i+1, row[2])
			}
			rec.ToleranceMicrometers = tol
		}
		if rec.ExpectedMicrometers <= 0 {
			return nil, fmt.Errorf("ground truth row %d: %w", i+1, ErrInvalidReference)
		}
		store.Add(rec)
	}
	return store, nil
}
