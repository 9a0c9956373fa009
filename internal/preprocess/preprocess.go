// Package preprocess prepares raw microscopy images for interactive tracing.
//
// The pipeline follows the measurement protocol: min-max normalization,
// optional Gaussian smoothing, then either histogram equalization or
// adaptive thresholding with iterated morphological closing to bridge
// gaps along the cell body.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrInvalidParameter reports a preprocessing parameter outside its
// allowed range.
var ErrInvalidParameter = errors.New("invalid preprocessing parameter")

// ContrastMode selects the contrast transform applied after smoothing.
type ContrastMode string

const (
	// ContrastNone applies no contrast transform.
	ContrastNone ContrastMode = "none"
	// ContrastEqualize applies global histogram equalization.
	ContrastEqualize ContrastMode = "equalize"
	// ContrastAdaptive binarizes with Gaussian adaptive thresholding and
	// closes gaps along cell edges. This is the mode used for tracing.
	ContrastAdaptive ContrastMode = "adaptive"
)

// Params configures the preprocessing pipeline.
type Params struct {
	ContrastMode    ContrastMode `yaml:"contrast_mode"`
	SmoothingRadius int          `yaml:"smoothing_radius"` // Gaussian kernel radius, 0 disables
	BlockSize       int          `yaml:"block_size"`       // adaptive threshold neighborhood, odd
	CValue          float64      `yaml:"c_value"`          // constant subtracted from the local mean
	CloseKernel     int          `yaml:"close_kernel"`     // closing structuring element size, odd
	CloseIterations int          `yaml:"close_iterations"` // closing passes
}

// DefaultParams returns the parameters that work well on the reference
// sperm image sets.
func DefaultParams() Params {
	return Params{
		ContrastMode:    ContrastAdaptive,
		SmoothingRadius: 2,
		BlockSize:       51,
		CValue:          -3,
		CloseKernel:     3,
		CloseIterations: 1,
	}
}

// Validate checks the parameters against their allowed ranges.
func (p Params) Validate() error {
	switch p.ContrastMode {
	case ContrastNone, ContrastEqualize, ContrastAdaptive:
	default:
		return fmt.Errorf("%w: unknown contrast mode %q", ErrInvalidParameter, p.ContrastMode)
	}
	if p.SmoothingRadius < 0 {
		return fmt.Errorf("%w: smoothing radius %d is negative", ErrInvalidParameter, p.SmoothingRadius)
	}
	if p.ContrastMode == ContrastAdaptive {
		if p.BlockSize < 3 || p.BlockSize%2 == 0 {
			return fmt.Errorf("%w: block size %d must be odd and >= 3", ErrInvalidParameter, p.BlockSize)
		}
		if p.CloseKernel < 1 || p.CloseKernel%2 == 0 {
			return fmt.Errorf("%w: close kernel %d must be odd and >= 1", ErrInvalidParameter, p.CloseKernel)
		}
		if p.CloseIterations < 0 {
			return fmt.Errorf("%w: close iterations %d is negative", ErrInvalidParameter, p.CloseIterations)
		}
	}
	return nil
}

// Run applies the preprocessing pipeline to a grayscale image.
// The source Mat is never modified; the caller owns the returned Mat.
// The result is deterministic for identical inputs.
func Run(src gocv.Mat, p Params) (gocv.Mat, error) {
	if err := p.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	if src.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: source image is empty", ErrInvalidParameter)
	}

	gray := gocv.NewMat()
	if src.Channels() == 3 {
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	} else {
		src.CopyTo(&gray)
	}
	defer gray.Close()

	// Stretch intensities to the full 8-bit range
	normalized := gocv.NewMat()
	defer normalized.Close()
	gocv.Normalize(gray, &normalized, 0, 255, gocv.NormMinMax)

	smoothed := gocv.NewMat()
	defer smoothed.Close()
	if p.SmoothingRadius > 0 {
		k := 2*p.SmoothingRadius + 1
		gocv.GaussianBlur(normalized, &smoothed, image.Point{X: k, Y: k}, 0, 0, gocv.BorderDefault)
	} else {
		normalized.CopyTo(&smoothed)
	}

	switch p.ContrastMode {
	case ContrastNone:
		out := gocv.NewMat()
		smoothed.CopyTo(&out)
		return out, nil

	case ContrastEqualize:
		out := gocv.NewMat()
		gocv.EqualizeHist(smoothed, &out)
		return out, nil

	default: // ContrastAdaptive
		thresh := gocv.NewMat()
		gocv.AdaptiveThreshold(smoothed, &thresh, 255,
			gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary,
			p.BlockSize, float32(p.CValue))

		if p.CloseIterations > 0 {
			kernel := gocv.GetStructuringElement(gocv.MorphRect,
				image.Point{X: p.CloseKernel, Y: p.CloseKernel})
			defer kernel.Close()
			for i := 0; i < p.CloseIterations; i++ {
				gocv.MorphologyEx(thresh, &thresh, gocv.MorphClose, kernel)
			}
		}
		return thresh, nil
	}
}
