// Package dataset manages the difficulty-bucketed image collections the
// measurement sessions work through.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sperm-tracer/internal/groundtruth"
	"sperm-tracer/internal/image"
)

// Difficulty identifies one of the image buckets.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Difficulties lists the buckets in presentation order.
func Difficulties() []Difficulty {
	return []Difficulty{Easy, Medium, Hard}
}

// Manager scans a dataset root with one subdirectory per difficulty and
// joins images with their ground-truth records.
type Manager struct {
	root  string
	truth *groundtruth.Store
	files map[Difficulty][]string
}

// New scans root for image files under easy/, medium/ and hard/.
// truth may be nil when no reference sheet is available.
func New(root string, truth *groundtruth.Store) (*Manager, error) {
	m := &Manager{root: root, truth: truth, files: make(map[Difficulty][]string)}
	for _, d := range Difficulties() {
		dir := filepath.Join(root, string(d))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || !image.IsSupportedFormat(e.Name()) {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		m.files[d] = names
	}
	return m, nil
}

// Count returns the number of images in a difficulty bucket.
func (m *Manager) Count(d Difficulty) int {
	return len(m.files[d])
}

// Load opens the image at the given index within a difficulty bucket and
// returns its layer plus the matching ground-truth record, if any.
func (m *Manager) Load(d Difficulty, index int) (*image.Layer, *groundtruth.Record, error) {
	names := m.files[d]
	if index < 0 || index >= len(names) {
		return nil, nil, fmt.Errorf("image index %d out of range (%d images in %s)", index, len(names), d)
	}

	path := filepath.Join(m.root, string(d), names[index])
	layer, err := image.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if m.truth != nil {
		id := strings.TrimSuffix(names[index], filepath.Ext(names[index]))
		if rec, ok := m.truth.Lookup(id); ok {
			return layer, &rec, nil
		}
	}
	return layer, nil, nil
}
