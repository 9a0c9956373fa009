package trace

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"sperm-tracer/pkg/geometry"
)

func newTestSession(t *testing.T) (*Session, func()) {
	t.Helper()
	img := blobMat(40, 40, 10, 10, 10, 10)
	s := NewSession(img, zerolog.Nop())
	return s, func() {
		s.Close()
		img.Close()
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()

	if s.State() != StateIdle {
		t.Fatalf("new session should be Idle, got %s", s.State())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.State() != StateTracing {
		t.Fatalf("expected Tracing after Start, got %s", s.State())
	}

	p := params(50, Connect8, 10000)
	res, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, p)
	if err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	if res.Changed == 0 {
		t.Error("first seed added no pixels")
	}
	if len(s.Seeds()) != 1 {
		t.Errorf("expected 1 seed record, got %d", len(s.Seeds()))
	}

	if err := s.ToggleMode(); err != nil {
		t.Fatalf("ToggleMode failed: %v", err)
	}
	if s.State() != StateErasing {
		t.Fatalf("expected Erasing after toggle, got %s", s.State())
	}

	if _, err := s.EraseDisc(geometry.PointInt{X: 15, Y: 15}, 2); err != nil {
		t.Fatalf("EraseDisc failed: %v", err)
	}

	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if s.State() != StateFinalized {
		t.Fatalf("expected Finalized, got %s", s.State())
	}
}

func TestSessionRejectsOutOfStateCalls(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()
	p := params(50, Connect8, 10000)
	seed := geometry.PointInt{X: 15, Y: 15}

	// Idle: only Start is valid
	if _, err := s.AddSeed(seed, p); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AddSeed while Idle: expected ErrInvalidState, got %v", err)
	}
	if err := s.ToggleMode(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ToggleMode while Idle: expected ErrInvalidState, got %v", err)
	}
	if err := s.Cancel(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Cancel while Idle: expected ErrInvalidState, got %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Tracing: erase calls are invalid
	if _, err := s.Erase(seed, p); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Erase while Tracing: expected ErrInvalidState, got %v", err)
	}
	if _, err := s.EraseDisc(seed, 3); !errors.Is(err, ErrInvalidState) {
		t.Errorf("EraseDisc while Tracing: expected ErrInvalidState, got %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start while Tracing: expected ErrInvalidState, got %v", err)
	}

	if _, err := s.AddSeed(seed, p); err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	// Finalized: everything mutating is invalid
	if _, err := s.AddSeed(seed, p); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AddSeed after Finalize: expected ErrInvalidState, got %v", err)
	}
	if err := s.Finalize(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Finalize: expected ErrInvalidState, got %v", err)
	}
}

func TestSessionFinalizeEmptyTrace(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Finalize(); !errors.Is(err, ErrEmptyTrace) {
		t.Fatalf("expected ErrEmptyTrace, got %v", err)
	}
	// Session stays active so the user can keep tracing
	if s.State() != StateTracing {
		t.Errorf("session should stay Tracing after empty finalize, got %s", s.State())
	}
	if _, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, params(50, Connect8, 10000)); err != nil {
		t.Errorf("AddSeed after failed finalize should work: %v", err)
	}
}

func TestSessionCancelDiscardsMask(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, params(50, Connect8, 10000)); err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected Idle after Cancel, got %s", s.State())
	}
	if s.Mask() != nil {
		t.Error("mask should be discarded on Cancel")
	}
	if len(s.Seeds()) != 0 {
		t.Error("seed history should be cleared on Cancel")
	}

	// A cancelled session can be restarted
	if err := s.Start(); err != nil {
		t.Errorf("Start after Cancel failed: %v", err)
	}
}

func TestSessionReopen(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()
	p := params(50, Connect8, 10000)
	seed := geometry.PointInt{X: 15, Y: 15}

	if err := s.Reopen(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Reopen while Idle: expected ErrInvalidState, got %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Reopen(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Reopen while Tracing: expected ErrInvalidState, got %v", err)
	}
	if _, err := s.AddSeed(seed, p); err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	count := s.Mask().Count()
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if err := s.Reopen(); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if s.State() != StateTracing {
		t.Fatalf("expected Tracing after Reopen, got %s", s.State())
	}
	if s.Mask().Count() != count {
		t.Errorf("Reopen changed the mask: %d -> %d", count, s.Mask().Count())
	}
	if _, err := s.AddSeed(seed, p); err != nil {
		t.Errorf("AddSeed after Reopen failed: %v", err)
	}
}

func TestSessionEraseRemovesTracedRegion(t *testing.T) {
	s, cleanup := newTestSession(t)
	defer cleanup()
	p := params(50, Connect8, 10000)

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := s.AddSeed(geometry.PointInt{X: 15, Y: 15}, p); err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	before := s.Mask().Count()

	if err := s.ToggleMode(); err != nil {
		t.Fatalf("ToggleMode failed: %v", err)
	}
	res, err := s.Erase(geometry.PointInt{X: 15, Y: 15}, p)
	if err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if res.Changed != before {
		t.Errorf("erase from the same seed should remove all %d pixels, removed %d", before, res.Changed)
	}
	if s.Mask().Count() != 0 {
		t.Errorf("mask should be empty, has %d pixels", s.Mask().Count())
	}

	rec := s.Seeds()
	if len(rec) != 2 || !rec[1].Erase {
		t.Error("erase seed not recorded in history")
	}
}
