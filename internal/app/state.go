// Package app provides the host-facing application state: the loaded image,
// the preprocessed working image, the single active trace session, and an
// event emitter the host uses to refresh its overlays.
package app

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"sperm-tracer/internal/groundtruth"
	"sperm-tracer/internal/image"
	"sperm-tracer/internal/measure"
	"sperm-tracer/internal/preprocess"
	"sperm-tracer/internal/trace"
	"sperm-tracer/pkg/geometry"
)

var (
	// ErrSessionActive reports StartTrace while a session is still tracing
	// or erasing. The host must cancel or finalize it first.
	ErrSessionActive = errors.New("a trace session is already active")

	// ErrNoImage reports an operation that needs a loaded image.
	ErrNoImage = errors.New("no image loaded")

	// ErrNotPreprocessed reports tracing before preprocessing.
	ErrNotPreprocessed = errors.New("image has not been preprocessed")

	// ErrNoSession reports a session operation with no session.
	ErrNoSession = errors.New("no trace session")

	// ErrNoMeasurement reports a comparison before any measurement.
	ErrNoMeasurement = errors.New("no measurement available")
)

// EventType identifies host-visible application events.
type EventType int

const (
	EventImageLoaded EventType = iota
	EventPreprocessed
	EventMaskUpdated
	EventMeasured
	EventSessionClosed
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// State holds the application state. All operations are synchronous
// request/response calls made from the host's event thread; the mutex only
// guards the listener table.
type State struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener

	log zerolog.Logger

	layer       *image.Layer
	calibration float64 // micrometers per pixel

	gray       gocv.Mat
	processed  gocv.Mat
	hasGray    bool
	hasProcess bool

	// sessionImg is the session's private copy of the working image, so
	// re-running Preprocess cannot free a Mat the session still reads.
	sessionImg    gocv.Mat
	hasSessionImg bool

	session     *trace.Session
	measurement *measure.Measurement
}

// NewState creates an empty application state.
func NewState(log zerolog.Logger) *State {
	return &State{
		listeners: make(map[EventType][]EventListener),
		log:       log,
	}
}

// On registers an event listener for the specified event type.
func (s *State) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *State) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// LoadImage loads an image from disk and makes it current, discarding any
// previous session and measurement. Calibration from image metadata is
// adopted when present.
func (s *State) LoadImage(path string) error {
	layer, err := image.Load(path)
	if err != nil {
		return err
	}
	s.SetLayer(layer)
	return nil
}

// SetLayer makes an already-loaded layer current.
func (s *State) SetLayer(layer *image.Layer) {
	s.closeSession()
	s.releaseMats()
	s.layer = layer
	s.measurement = nil
	if layer.MicronsPerPixel > 0 {
		s.calibration = layer.MicronsPerPixel
	}
	s.log.Info().Str("path", layer.Path).
		Int("width", layer.Width()).Int("height", layer.Height()).
		Float64("um_per_px", layer.MicronsPerPixel).
		Msg("image loaded")
	s.Emit(EventImageLoaded, layer)
}

// SetCalibration overrides the micrometers-per-pixel factor.
func (s *State) SetCalibration(umPerPx float64) error {
	if umPerPx <= 0 {
		return fmt.Errorf("%w: got %g", measure.ErrInvalidCalibration, umPerPx)
	}
	s.calibration = umPerPx
	return nil
}

// Calibration returns the current micrometers-per-pixel factor.
func (s *State) Calibration() float64 { return s.calibration }

// Layer returns the current image layer, or nil.
func (s *State) Layer() *image.Layer { return s.layer }

// Preprocess runs the preprocessing pipeline on the current image and
// stores the result as the working image for tracing. Re-running with new
// parameters replaces the working image; an active session keeps growing
// over its own copy of the previous one until it is restarted.
func (s *State) Preprocess(p preprocess.Params) error {
	if s.layer == nil {
		return ErrNoImage
	}
	if !s.hasGray {
		s.gray = s.layer.GrayMat()
		s.hasGray = true
	}
	out, err := preprocess.Run(s.gray, p)
	if err != nil {
		return err
	}
	if s.hasProcess {
		s.processed.Close()
	}
	s.processed = out
	s.hasProcess = true
	s.log.Debug().Str("mode", string(p.ContrastMode)).Msg("image preprocessed")
	s.Emit(EventPreprocessed, nil)
	return nil
}

// Processed exposes the preprocessed working image, read-only.
func (s *State) Processed() (gocv.Mat, bool) {
	return s.processed, s.hasProcess
}

// StartTrace begins a new trace session over a private copy of the
// preprocessed image, so Preprocess may be re-run mid-session.
// Fails with ErrSessionActive while a session is tracing or erasing;
// a finalized or idle session is replaced.
func (s *State) StartTrace() error {
	if !s.hasProcess {
		return ErrNotPreprocessed
	}
	if s.session != nil {
		switch s.session.State() {
		case trace.StateTracing, trace.StateErasing:
			return ErrSessionActive
		}
		s.closeSession()
	}
	s.sessionImg = s.processed.Clone()
	s.hasSessionImg = true
	s.session = trace.NewSession(s.sessionImg, s.log)
	if err := s.session.Start(); err != nil {
		return err
	}
	s.measurement = nil
	return nil
}

// AddSeed grows the session mask from a user click.
func (s *State) AddSeed(seed geometry.PointInt, p trace.GrowthParams) (*trace.GrowResult, error) {
	if s.session == nil {
		return nil, ErrNoSession
	}
	res, err := s.session.AddSeed(seed, p)
	if err != nil {
		return nil, err
	}
	s.Emit(EventMaskUpdated, s.session.Mask())
	return res, nil
}

// Erase subtracts a flood-filled region from the session mask.
func (s *State) Erase(seed geometry.PointInt, p trace.GrowthParams) (*trace.GrowResult, error) {
	if s.session == nil {
		return nil, ErrNoSession
	}
	res, err := s.session.Erase(seed, p)
	if err != nil {
		return nil, err
	}
	s.Emit(EventMaskUpdated, s.session.Mask())
	return res, nil
}

// EraseDisc clears a disc from the session mask.
func (s *State) EraseDisc(center geometry.PointInt, radius int) (int, error) {
	if s.session == nil {
		return 0, ErrNoSession
	}
	n, err := s.session.EraseDisc(center, radius)
	if err != nil {
		return 0, err
	}
	s.Emit(EventMaskUpdated, s.session.Mask())
	return n, nil
}

// ToggleMode switches the session between tracing and erasing.
func (s *State) ToggleMode() error {
	if s.session == nil {
		return ErrNoSession
	}
	return s.session.ToggleMode()
}

// CancelTrace discards the session and its mask.
func (s *State) CancelTrace() error {
	if s.session == nil {
		return ErrNoSession
	}
	if err := s.session.Cancel(); err != nil {
		return err
	}
	s.closeSession()
	s.Emit(EventSessionClosed, nil)
	return nil
}

// FinalizeTrace commits the session mask and measures it with the current
// calibration. The session stays finalized so the host can still render
// the mask and skeleton. When the mask cannot be measured the session is
// reopened for tracing, keeping the mask, so the user's work is not lost.
func (s *State) FinalizeTrace() (measure.Measurement, error) {
	if s.session == nil {
		return measure.Measurement{}, ErrNoSession
	}
	if s.calibration <= 0 {
		return measure.Measurement{}, fmt.Errorf("%w: got %g", measure.ErrInvalidCalibration, s.calibration)
	}
	if err := s.session.Finalize(); err != nil {
		return measure.Measurement{}, err
	}
	m, err := measure.Measure(s.session.Mask(), s.calibration)
	if err != nil {
		if rerr := s.session.Reopen(); rerr != nil {
			s.log.Error().Err(rerr).Msg("failed to reopen session after measurement error")
		}
		return measure.Measurement{}, err
	}
	s.measurement = &m
	s.log.Info().
		Float64("length_px", m.LengthPixels).
		Float64("length_um", m.LengthMicrometers).
		Bool("fallback", m.Fallback).
		Msg("cell measured")
	s.Emit(EventMeasured, m)
	return m, nil
}

// CurrentMask returns the active session's mask for overlay rendering,
// or nil when no session exists.
func (s *State) CurrentMask() *trace.Mask {
	if s.session == nil {
		return nil
	}
	return s.session.Mask()
}

// Session returns the active session, or nil.
func (s *State) Session() *trace.Session { return s.session }

// Measurement returns the last measurement, or nil.
func (s *State) Measurement() *measure.Measurement { return s.measurement }

// CompareToGroundTruth compares the last measurement against a reference.
func (s *State) CompareToGroundTruth(ref groundtruth.Record) (groundtruth.Comparison, error) {
	if s.measurement == nil {
		return groundtruth.Comparison{}, ErrNoMeasurement
	}
	return groundtruth.Compare(*s.measurement, ref)
}

// Close releases all image and session resources.
func (s *State) Close() {
	s.closeSession()
	s.releaseMats()
}

func (s *State) closeSession() {
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	if s.hasSessionImg {
		s.sessionImg.Close()
		s.hasSessionImg = false
	}
	if s.measurement != nil && s.measurement.Skeleton != nil {
		s.measurement.Skeleton.Close()
	}
	s.measurement = nil
}

func (s *State) releaseMats() {
	if s.hasGray {
		s.gray.Close()
		s.hasGray = false
	}
	if s.hasProcess {
		s.processed.Close()
		s.hasProcess = false
	}
}
