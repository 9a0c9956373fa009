// Package measure reduces a traced cell mask to a length in physical units:
// morphological skeletonization followed by longest-path arc length, with a
// best-fit-ellipse fallback for regions too compact to skeletonize.
package measure

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"sperm-tracer/internal/trace"
)

var (
	// ErrDegenerateMask reports a mask with too few pixels to measure.
	ErrDegenerateMask = errors.New("mask too small to measure")

	// ErrInvalidCalibration reports a non-positive micrometer calibration.
	ErrInvalidCalibration = errors.New("calibration must be positive")
)

// MinMaskPixels is the smallest mask that yields a meaningful path.
const MinMaskPixels = 2

// Measurement is the immutable result of measuring one mask.
type Measurement struct {
	LengthPixels      float64 `json:"length_pixels"`
	LengthMicrometers float64 `json:"length_micrometers"`

	// Calibration is the micrometers-per-pixel factor used.
	Calibration float64 `json:"calibration_um_per_px"`

	// Fallback is true when the ellipse major axis was used instead of the
	// skeleton path (region too small or not elongated).
	Fallback bool `json:"fallback,omitempty"`

	SkeletonPixels int `json:"skeleton_pixels"`

	// Skeleton is the centerline mask for overlay rendering and export.
	Skeleton *trace.Mask `json:"-"`
}

// Measure computes the length of the traced region. calibration is the
// physical size of one pixel in micrometers and must be positive.
func Measure(m *trace.Mask, calibration float64) (Measurement, error) {
	if calibration <= 0 {
		return Measurement{}, fmt.Errorf("%w: got %g", ErrInvalidCalibration, calibration)
	}
	count := m.Count()
	if count < MinMaskPixels {
		return Measurement{}, fmt.Errorf("%w: %d pixels", ErrDegenerateMask, count)
	}

	skel := Skeletonize(m.Mat())
	skelMask := trace.WrapMat(skel)

	pts := skeletonPoints(skel)
	lengthPx := 0.0
	fallback := false

	if len(pts) >= 2 {
		comp := largestComponent(pts)
		lengthPx = longestPathLength(comp)
	}
	if lengthPx == 0 {
		// Region too compact for a centerline path; use the major axis of
		// the best-fit ellipse over the mask pixels instead.
		lengthPx = ellipseMajorAxis(m)
		fallback = true
	}

	return Measurement{
		LengthPixels:      lengthPx,
		LengthMicrometers: lengthPx * calibration,
		Calibration:       calibration,
		Fallback:          fallback,
		SkeletonPixels:    len(pts),
		Skeleton:          skelMask,
	}, nil
}

// ellipseMajorAxis returns the major axis length of the image-moment
// ellipse fitted to the mask pixels: 4 standard deviations along the
// principal direction, the largest eigenvalue of the pixel covariance.
func ellipseMajorAxis(m *trace.Mask) float64 {
	rows, cols := m.Rows(), m.Cols()

	var n, sumX, sumY float64
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if m.At(x, y) {
				n++
				sumX += float64(x)
				sumY += float64(y)
			}
		}
	}
	if n == 0 {
		return 0
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy, syy float64
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if m.At(x, y) {
				dx := float64(x) - meanX
				dy := float64(y) - meanY
				sxx += dx * dx
				sxy += dx * dy
				syy += dy * dy
			}
		}
	}
	sxx /= n
	sxy /= n
	syy /= n

	cov := mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy})
	var eig mat.EigenSym
	if !eig.Factorize(cov, false) {
		return 0
	}
	vals := eig.Values(nil)
	lambda := math.Max(vals[0], vals[1])
	if lambda <= 0 {
		return 0
	}
	return 4 * math.Sqrt(lambda)
}
