package trace

import (
	"fmt"

	"gocv.io/x/gocv"

	"sperm-tracer/pkg/geometry"
)

// Connectivity selects which neighbors are adjacent during region growth.
type Connectivity int

const (
	// Connect4 considers the orthogonal neighbors adjacent.
	Connect4 Connectivity = 4
	// Connect8 additionally considers the diagonal neighbors adjacent.
	Connect8 Connectivity = 8
)

// GrowthParams configures a flood-fill growth operation.
type GrowthParams struct {
	// Tolerance is the maximum absolute intensity deviation from the seed
	// pixel for a neighbor to be admitted.
	Tolerance int `yaml:"tolerance"`

	Connectivity Connectivity `yaml:"connectivity"`

	// MaxRegionSize caps the grown region. Reaching the cap is not an
	// error; the result carries Capped=true so the host can tell the user
	// to reduce the tolerance.
	MaxRegionSize int `yaml:"max_region_size"`
}

// DefaultGrowthParams returns parameters suited to binarized cell images.
func DefaultGrowthParams() GrowthParams {
	return GrowthParams{
		Tolerance:     32,
		Connectivity:  Connect8,
		MaxRegionSize: 200000,
	}
}

// Validate checks the parameters against their allowed ranges.
func (p GrowthParams) Validate() error {
	if p.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance %d must be positive", ErrInvalidParameter, p.Tolerance)
	}
	if p.MaxRegionSize <= 0 {
		return fmt.Errorf("%w: max region size %d must be positive", ErrInvalidParameter, p.MaxRegionSize)
	}
	if p.Connectivity != Connect4 && p.Connectivity != Connect8 {
		return fmt.Errorf("%w: connectivity must be 4 or 8, got %d", ErrInvalidParameter, p.Connectivity)
	}
	return nil
}

// GrowResult is the outcome of a grow or erase operation.
type GrowResult struct {
	Mask    *Mask // updated mask; the caller owns it
	Region  int   // pixels in the region grown from the seed
	Changed int   // mask pixels actually flipped by this operation
	Capped  bool  // growth stopped at MaxRegionSize
}

// Grow performs breadth-first region growth on a grayscale image from the
// seed pixel and unions the grown region with the existing mask, so repeated
// clicks in one session extend a single trace. A nil existing mask starts
// from empty. The input Mats are never modified.
//
// The admitted set depends only on the admission rule, never on visitation
// order, so identical inputs always produce bit-identical masks.
func Grow(img gocv.Mat, seed geometry.PointInt, p GrowthParams, existing *Mask) (*GrowResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rows, cols := img.Rows(), img.Cols()
	if seed.X < 0 || seed.X >= cols || seed.Y < 0 || seed.Y >= rows {
		return nil, fmt.Errorf("%w: (%d,%d) outside %dx%d image", ErrInvalidSeed, seed.X, seed.Y, cols, rows)
	}
	if existing != nil && (existing.Rows() != rows || existing.Cols() != cols) {
		return nil, fmt.Errorf("%w: mask is %dx%d but image is %dx%d",
			ErrInvalidParameter, existing.Cols(), existing.Rows(), cols, rows)
	}

	region, capped := growRegion(img, seed, p)

	var result *Mask
	if existing != nil {
		result = existing.Clone()
	} else {
		result = NewMask(rows, cols)
	}

	changed := 0
	for _, pt := range region {
		if !result.At(pt.X, pt.Y) {
			result.set(pt.X, pt.Y)
			changed++
		}
	}

	return &GrowResult{Mask: result, Region: len(region), Changed: changed, Capped: capped}, nil
}

// GrowErase grows a region from an erase seed under the same admission rule
// and subtracts it from the current mask. The erase seed must lie inside
// the traced region.
func GrowErase(img gocv.Mat, seed geometry.PointInt, p GrowthParams, current *Mask) (*GrowResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rows, cols := img.Rows(), img.Cols()
	if seed.X < 0 || seed.X >= cols || seed.Y < 0 || seed.Y >= rows {
		return nil, fmt.Errorf("%w: (%d,%d) outside %dx%d image", ErrInvalidSeed, seed.X, seed.Y, cols, rows)
	}
	if current == nil || !current.At(seed.X, seed.Y) {
		return nil, fmt.Errorf("%w: erase seed (%d,%d) outside traced region", ErrInvalidSeed, seed.X, seed.Y)
	}
	if current.Rows() != rows || current.Cols() != cols {
		return nil, fmt.Errorf("%w: mask is %dx%d but image is %dx%d",
			ErrInvalidParameter, current.Cols(), current.Rows(), cols, rows)
	}

	region, capped := growRegion(img, seed, p)

	result := current.Clone()
	changed := 0
	for _, pt := range region {
		if result.At(pt.X, pt.Y) {
			result.clear(pt.X, pt.Y)
			changed++
		}
	}

	return &GrowResult{Mask: result, Region: len(region), Changed: changed, Capped: capped}, nil
}

// neighbor step tables, clockwise from north
var (
	steps4 = [4]geometry.PointInt{{X: 0, Y: -1}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}}
	steps8 = [8]geometry.PointInt{
		{X: 0, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 0}, {X: 1, Y: 1},
		{X: 0, Y: 1}, {X: -1, Y: 1}, {X: -1, Y: 0}, {X: -1, Y: -1},
	}
)

// growRegion runs the BFS and returns the admitted pixels in visitation
// order, plus whether growth stopped at the size cap.
func growRegion(img gocv.Mat, seed geometry.PointInt, p GrowthParams) ([]geometry.PointInt, bool) {
	rows, cols := img.Rows(), img.Cols()
	seedVal := int(img.GetUCharAt(seed.Y, seed.X))

	steps := steps8[:]
	if p.Connectivity == Connect4 {
		steps = steps4[:]
	}

	visited := make([]bool, rows*cols)
	visited[seed.Y*cols+seed.X] = true

	region := make([]geometry.PointInt, 0, 256)
	region = append(region, seed)
	queue := []geometry.PointInt{seed}
	capped := false

bfs:
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, d := range steps {
			nx, ny := cur.X+d.X, cur.Y+d.Y
			if nx < 0 || nx >= cols || ny < 0 || ny >= rows {
				continue
			}
			idx := ny*cols + nx
			if visited[idx] {
				continue
			}
			visited[idx] = true

			diff := int(img.GetUCharAt(ny, nx)) - seedVal
			if diff < 0 {
				diff = -diff
			}
			if diff > p.Tolerance {
				continue
			}

			if len(region) >= p.MaxRegionSize {
				// An admissible pixel remains beyond the cap
				capped = true
				break bfs
			}
			region = append(region, geometry.PointInt{X: nx, Y: ny})
			queue = append(queue, geometry.PointInt{X: nx, Y: ny})
		}
	}

	return region, capped
}
