package app

import (
	"errors"
	stdimage "image"
	"image/color"
	"testing"

	"github.com/rs/zerolog"

	"sperm-tracer/internal/groundtruth"
	"sperm-tracer/internal/image"
	"sperm-tracer/internal/measure"
	"sperm-tracer/internal/preprocess"
	"sperm-tracer/internal/trace"
	"sperm-tracer/pkg/geometry"
)

// testLayer builds an in-memory layer with a bright blob on a dark field.
func testLayer() *image.Layer {
	img := stdimage.NewGray(stdimage.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.SetGray(x, y, color.Gray{Y: 20})
		}
	}
	for y := 10; y < 20; y++ {
		for x := 10; x < 20; x++ {
			img.SetGray(x, y, color.Gray{Y: 220})
		}
	}
	// Lone bright pixel, disconnected from the blob
	img.SetGray(30, 30, color.Gray{Y: 220})
	return &image.Layer{Path: "synthetic.png", Image: img}
}

func passthroughParams() preprocess.Params {
	return preprocess.Params{ContrastMode: preprocess.ContrastNone, SmoothingRadius: 0}
}

func growthParams() trace.GrowthParams {
	return trace.GrowthParams{Tolerance: 60, Connectivity: trace.Connect8, MaxRegionSize: 10000}
}

func TestStateRequiresPreprocessBeforeTracing(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	if err := s.StartTrace(); !errors.Is(err, ErrNotPreprocessed) {
		t.Errorf("expected ErrNotPreprocessed, got %v", err)
	}
	if err := s.Preprocess(passthroughParams()); !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}

func TestStateFullMeasurementFlow(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	var maskUpdates, measured int
	s.On(EventMaskUpdated, func(interface{}) { maskUpdates++ })
	s.On(EventMeasured, func(interface{}) { measured++ })

	s.SetLayer(testLayer())
	if err := s.SetCalibration(0.5); err != nil {
		t.Fatalf("SetCalibration failed: %v", err)
	}
	if err := s.Preprocess(passthroughParams()); err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if err := s.StartTrace(); err != nil {
		t.Fatalf("StartTrace failed: %v", err)
	}

	res, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, growthParams())
	if err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	if res.Changed == 0 {
		t.Error("seed added no pixels")
	}
	if maskUpdates != 1 {
		t.Errorf("expected 1 mask update event, got %d", maskUpdates)
	}

	m, err := s.FinalizeTrace()
	if err != nil {
		t.Fatalf("FinalizeTrace failed: %v", err)
	}
	if m.LengthPixels <= 0 {
		t.Errorf("expected positive length, got %g", m.LengthPixels)
	}
	if m.Calibration != 0.5 {
		t.Errorf("expected calibration 0.5, got %g", m.Calibration)
	}
	if measured != 1 {
		t.Errorf("expected 1 measured event, got %d", measured)
	}
	if s.Measurement() == nil {
		t.Error("measurement not stored")
	}

	cmp, err := s.CompareToGroundTruth(groundtruth.Record{
		ImageID:              "synthetic",
		ExpectedMicrometers:  m.LengthMicrometers + 1,
		ToleranceMicrometers: 2,
	})
	if err != nil {
		t.Fatalf("CompareToGroundTruth failed: %v", err)
	}
	if !cmp.WithinTolerance {
		t.Error("1 um error should be within a 2 um tolerance")
	}
}

func TestStateRejectsSecondActiveSession(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	s.SetLayer(testLayer())
	if err := s.Preprocess(passthroughParams()); err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if err := s.StartTrace(); err != nil {
		t.Fatalf("StartTrace failed: %v", err)
	}

	if err := s.StartTrace(); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}

	if err := s.CancelTrace(); err != nil {
		t.Fatalf("CancelTrace failed: %v", err)
	}
	if err := s.StartTrace(); err != nil {
		t.Errorf("StartTrace after cancel failed: %v", err)
	}
}

func TestStateReplacesFinalizedSession(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	s.SetLayer(testLayer())
	s.SetCalibration(1.0)
	if err := s.Preprocess(passthroughParams()); err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if err := s.StartTrace(); err != nil {
		t.Fatalf("StartTrace failed: %v", err)
	}
	if _, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, growthParams()); err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	if _, err := s.FinalizeTrace(); err != nil {
		t.Fatalf("FinalizeTrace failed: %v", err)
	}

	// A finalized session does not block a new one
	if err := s.StartTrace(); err != nil {
		t.Errorf("StartTrace after finalize failed: %v", err)
	}
	if s.Measurement() != nil {
		t.Error("starting a new session should discard the old measurement")
	}
}

func TestStateFinalizeEmptyTraceKeepsSession(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	s.SetLayer(testLayer())
	s.SetCalibration(1.0)
	if err := s.Preprocess(passthroughParams()); err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if err := s.StartTrace(); err != nil {
		t.Fatalf("StartTrace failed: %v", err)
	}

	if _, err := s.FinalizeTrace(); !errors.Is(err, trace.ErrEmptyTrace) {
		t.Fatalf("expected ErrEmptyTrace, got %v", err)
	}
	if s.Session().State() != trace.StateTracing {
		t.Error("session should stay active after empty finalize")
	}
}

func TestStateSessionGuards(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	if _, err := s.AddSeed(geometry.PointInt{X: 1, Y: 1}, growthParams()); !errors.Is(err, ErrNoSession) {
		t.Errorf("AddSeed without session: expected ErrNoSession, got %v", err)
	}
	if err := s.CancelTrace(); !errors.Is(err, ErrNoSession) {
		t.Errorf("CancelTrace without session: expected ErrNoSession, got %v", err)
	}
	if _, err := s.CompareToGroundTruth(groundtruth.Record{ExpectedMicrometers: 10}); !errors.Is(err, ErrNoMeasurement) {
		t.Errorf("expected ErrNoMeasurement, got %v", err)
	}
}

func TestStateSetCalibrationRejectsNonPositive(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	if err := s.SetCalibration(0); err == nil {
		t.Error("expected error for zero calibration")
	}
	if err := s.SetCalibration(-1); err == nil {
		t.Error("expected error for negative calibration")
	}
}

func TestStatePreprocessDuringActiveSession(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	s.SetLayer(testLayer())
	s.SetCalibration(1.0)
	if err := s.Preprocess(passthroughParams()); err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if err := s.StartTrace(); err != nil {
		t.Fatalf("StartTrace failed: %v", err)
	}
	if _, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, growthParams()); err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	count := s.CurrentMask().Count()

	// Replacing the working image must not disturb the running session
	p := preprocess.Params{ContrastMode: preprocess.ContrastEqualize, SmoothingRadius: 1}
	if err := s.Preprocess(p); err != nil {
		t.Fatalf("re-Preprocess failed: %v", err)
	}
	if _, err := s.AddSeed(geometry.PointInt{X: 12, Y: 12}, growthParams()); err != nil {
		t.Fatalf("AddSeed after re-preprocess failed: %v", err)
	}
	if got := s.CurrentMask().Count(); got < count {
		t.Errorf("mask shrank after re-preprocess: %d -> %d", count, got)
	}

	if _, err := s.FinalizeTrace(); err != nil {
		t.Errorf("FinalizeTrace after re-preprocess failed: %v", err)
	}
}

func TestStateFinalizeWithoutCalibration(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	s.SetLayer(testLayer())
	if err := s.Preprocess(passthroughParams()); err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if err := s.StartTrace(); err != nil {
		t.Fatalf("StartTrace failed: %v", err)
	}
	if _, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, growthParams()); err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}

	if _, err := s.FinalizeTrace(); !errors.Is(err, measure.ErrInvalidCalibration) {
		t.Fatalf("expected ErrInvalidCalibration, got %v", err)
	}
	// The trace must survive the failed finalize
	if s.Session().State() != trace.StateTracing {
		t.Fatalf("session should still be Tracing, got %s", s.Session().State())
	}

	if err := s.SetCalibration(1.0); err != nil {
		t.Fatalf("SetCalibration failed: %v", err)
	}
	if _, err := s.FinalizeTrace(); err != nil {
		t.Errorf("FinalizeTrace after setting calibration failed: %v", err)
	}
}

func TestStateFinalizeDegenerateMaskReopensSession(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	s.SetLayer(testLayer())
	s.SetCalibration(1.0)
	if err := s.Preprocess(passthroughParams()); err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if err := s.StartTrace(); err != nil {
		t.Fatalf("StartTrace failed: %v", err)
	}

	// The lone pixel grows a 1-pixel region, too small to measure
	if _, err := s.AddSeed(geometry.PointInt{X: 30, Y: 30}, growthParams()); err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	if _, err := s.FinalizeTrace(); !errors.Is(err, measure.ErrDegenerateMask) {
		t.Fatalf("expected ErrDegenerateMask, got %v", err)
	}
	if s.Session().State() != trace.StateTracing {
		t.Fatalf("session should reopen to Tracing, got %s", s.Session().State())
	}

	// The user can extend the trace and finalize again
	if _, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, growthParams()); err != nil {
		t.Fatalf("AddSeed after reopen failed: %v", err)
	}
	if _, err := s.FinalizeTrace(); err != nil {
		t.Errorf("FinalizeTrace after extending trace failed: %v", err)
	}
}

func TestStateEraseDiscFlow(t *testing.T) {
	s := NewState(zerolog.Nop())
	defer s.Close()

	s.SetLayer(testLayer())
	if err := s.Preprocess(passthroughParams()); err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if err := s.StartTrace(); err != nil {
		t.Fatalf("StartTrace failed: %v", err)
	}
	if _, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, growthParams()); err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	before := s.CurrentMask().Count()

	if err := s.ToggleMode(); err != nil {
		t.Fatalf("ToggleMode failed: %v", err)
	}
	cleared, err := s.EraseDisc(geometry.PointInt{X: 15, Y: 15}, 3)
	if err != nil {
		t.Fatalf("EraseDisc failed: %v", err)
	}
	if cleared == 0 {
		t.Error("disc erase cleared nothing")
	}
	if got := s.CurrentMask().Count(); got != before-cleared {
		t.Errorf("mask count %d does not match %d-%d", got, before, cleared)
	}
}
