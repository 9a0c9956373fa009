// Package trace provides interactive cell-body tracing: constrained flood
// fill from user-clicked seeds, and the session state machine that governs
// trace and erase operations on a single mask.
package trace

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"sperm-tracer/pkg/geometry"
)

// Mask is a binary pixel grid marking the traced cell body. It always has
// the same dimensions as the image it was grown on. Pixels are stored as
// 0/255 in an 8-bit Mat so the host can hand it straight to an overlay.
type Mask struct {
	mat gocv.Mat
}

// NewMask creates an all-false mask with the given dimensions.
func NewMask(rows, cols int) *Mask {
	return &Mask{mat: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U)}
}

// MaskFromImage builds a mask from a decoded image; pixels brighter than
// 127 are treated as set. Used to re-load exported masks.
func MaskFromImage(img image.Image) *Mask {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	m := NewMask(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			luma := (299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000
			if luma > 127 {
				m.mat.SetUCharAt(y, x, 255)
			}
		}
	}
	return m
}

// WrapMat wraps an existing single-channel 8-bit Mat as a Mask, taking
// ownership of it.
func WrapMat(mat gocv.Mat) *Mask {
	return &Mask{mat: mat}
}

// Rows returns the mask height in pixels.
func (m *Mask) Rows() int { return m.mat.Rows() }

// Cols returns the mask width in pixels.
func (m *Mask) Cols() int { return m.mat.Cols() }

// At reports whether the pixel at column x, row y is set.
func (m *Mask) At(x, y int) bool {
	if x < 0 || x >= m.mat.Cols() || y < 0 || y >= m.mat.Rows() {
		return false
	}
	return m.mat.GetUCharAt(y, x) != 0
}

func (m *Mask) set(x, y int) {
	m.mat.SetUCharAt(y, x, 255)
}

func (m *Mask) clear(x, y int) {
	m.mat.SetUCharAt(y, x, 0)
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	return gocv.CountNonZero(m.mat)
}

// Clone returns an independent copy of the mask.
func (m *Mask) Clone() *Mask {
	return &Mask{mat: m.mat.Clone()}
}

// Union sets every pixel that is set in other.
func (m *Mask) Union(other *Mask) {
	gocv.BitwiseOr(m.mat, other.mat, &m.mat)
}

// Subtract clears every pixel that is set in other.
func (m *Mask) Subtract(other *Mask) {
	gocv.Subtract(m.mat, other.mat, &m.mat)
}

// ClearDisc clears a filled disc around center and returns the number of
// pixels that were cleared. Used by the session's disc eraser.
func (m *Mask) ClearDisc(center geometry.PointInt, radius int) int {
	rows, cols := m.mat.Rows(), m.mat.Cols()
	cleared := 0
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			x, y := center.X+dx, center.Y+dy
			if x < 0 || x >= cols || y < 0 || y >= rows {
				continue
			}
			if m.mat.GetUCharAt(y, x) != 0 {
				m.mat.SetUCharAt(y, x, 0)
				cleared++
			}
		}
	}
	return cleared
}

// Bounds returns the bounding rectangle of the set pixels.
func (m *Mask) Bounds() geometry.RectInt {
	rows, cols := m.mat.Rows(), m.mat.Cols()
	minX, minY := cols, rows
	maxX, maxY := -1, -1
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if m.mat.GetUCharAt(y, x) == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return geometry.RectInt{}
	}
	return geometry.RectInt{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1}
}

// Mat exposes the underlying Mat for overlay rendering and export.
// Callers must treat it as read-only.
func (m *Mask) Mat() gocv.Mat { return m.mat }

// ToImage converts the mask to an 8-bit grayscale image for export.
func (m *Mask) ToImage() *image.Gray {
	rows, cols := m.mat.Rows(), m.mat.Cols()
	img := image.NewGray(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			img.SetGray(x, y, color.Gray{Y: m.mat.GetUCharAt(y, x)})
		}
	}
	return img
}

// Close releases the underlying Mat.
func (m *Mask) Close() {
	m.mat.Close()
}
