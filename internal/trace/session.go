package trace

import (
	"fmt"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"sperm-tracer/pkg/geometry"
)

// State is the session lifecycle state.
type State int

const (
	// StateIdle means no mask exists yet (or the last one was discarded).
	StateIdle State = iota
	// StateTracing accepts AddSeed calls that extend the mask.
	StateTracing
	// StateErasing accepts Erase and EraseDisc calls that shrink the mask.
	StateErasing
	// StateFinalized means the mask is committed and read-only.
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateTracing:
		return "Tracing"
	case StateErasing:
		return "Erasing"
	case StateFinalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// SeedRecord is one applied user click.
type SeedRecord struct {
	Point  geometry.PointInt `json:"point"`
	Erase  bool              `json:"erase,omitempty"`
	Params GrowthParams      `json:"params"`
}

// Session governs one interactive tracing/erasing operation over a single
// preprocessed image. All calls are synchronous; the host invokes them from
// its event thread one at a time, so the session needs no locking. A session
// holds exactly one mask, which it owns until Finalize makes it read-only.
type Session struct {
	img   gocv.Mat
	state State
	mask  *Mask
	seeds []SeedRecord
	log   zerolog.Logger
}

// NewSession creates an idle session over a preprocessed grayscale image.
// The session keeps a reference to the image but never modifies it.
func NewSession(img gocv.Mat, log zerolog.Logger) *Session {
	return &Session{img: img, state: StateIdle, log: log}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Mask returns the session's mask, or nil while idle. The host may read it
// for overlay rendering between calls but must not mutate it.
func (s *Session) Mask() *Mask { return s.mask }

// Seeds returns a copy of the applied seed history.
func (s *Session) Seeds() []SeedRecord {
	out := make([]SeedRecord, len(s.seeds))
	copy(out, s.seeds)
	return out
}

// Start transitions Idle -> Tracing and initializes an empty mask.
func (s *Session) Start() error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: Start while %s", ErrInvalidState, s.state)
	}
	s.mask = NewMask(s.img.Rows(), s.img.Cols())
	s.seeds = nil
	s.state = StateTracing
	s.log.Debug().Str("state", s.state.String()).Msg("trace session started")
	return nil
}

// AddSeed grows the mask from a new seed click. Only valid while tracing.
func (s *Session) AddSeed(seed geometry.PointInt, p GrowthParams) (*GrowResult, error) {
	if s.state != StateTracing {
		return nil, fmt.Errorf("%w: AddSeed while %s", ErrInvalidState, s.state)
	}
	res, err := Grow(s.img, seed, p, s.mask)
	if err != nil {
		return nil, err
	}
	s.mask.Close()
	s.mask = res.Mask
	s.seeds = append(s.seeds, SeedRecord{Point: seed, Params: p})
	if res.Capped {
		s.log.Warn().
			Int("max_region_size", p.MaxRegionSize).
			Int("x", seed.X).Int("y", seed.Y).
			Msg("region growth capped; reduce tolerance")
	}
	s.log.Debug().
		Int("x", seed.X).Int("y", seed.Y).
		Int("region", res.Region).Int("added", res.Changed).
		Msg("seed applied")
	return res, nil
}

// Erase grows a region from an erase seed and subtracts it from the mask.
// Only valid while erasing.
func (s *Session) Erase(seed geometry.PointInt, p GrowthParams) (*GrowResult, error) {
	if s.state != StateErasing {
		return nil, fmt.Errorf("%w: Erase while %s", ErrInvalidState, s.state)
	}
	res, err := GrowErase(s.img, seed, p, s.mask)
	if err != nil {
		return nil, err
	}
	s.mask.Close()
	s.mask = res.Mask
	s.seeds = append(s.seeds, SeedRecord{Point: seed, Erase: true, Params: p})
	s.log.Debug().
		Int("x", seed.X).Int("y", seed.Y).
		Int("removed", res.Changed).
		Msg("erase seed applied")
	return res, nil
}

// EraseDisc clears a filled disc around center, the quick eraser for
// misclicks and noise attached to the cell body. Only valid while erasing.
func (s *Session) EraseDisc(center geometry.PointInt, radius int) (int, error) {
	if s.state != StateErasing {
		return 0, fmt.Errorf("%w: EraseDisc while %s", ErrInvalidState, s.state)
	}
	if radius <= 0 {
		return 0, fmt.Errorf("%w: erase radius %d must be positive", ErrInvalidParameter, radius)
	}
	if center.X < 0 || center.X >= s.img.Cols() || center.Y < 0 || center.Y >= s.img.Rows() {
		return 0, fmt.Errorf("%w: (%d,%d) outside image", ErrInvalidSeed, center.X, center.Y)
	}
	cleared := s.mask.ClearDisc(center, radius)
	s.log.Debug().
		Int("x", center.X).Int("y", center.Y).
		Int("radius", radius).Int("cleared", cleared).
		Msg("disc erased")
	return cleared, nil
}

// ToggleMode switches Tracing <-> Erasing without altering the mask.
func (s *Session) ToggleMode() error {
	switch s.state {
	case StateTracing:
		s.state = StateErasing
	case StateErasing:
		s.state = StateTracing
	default:
		return fmt.Errorf("%w: ToggleMode while %s", ErrInvalidState, s.state)
	}
	s.log.Debug().Str("state", s.state.String()).Msg("mode toggled")
	return nil
}

// Cancel discards the mask and returns to Idle.
func (s *Session) Cancel() error {
	if s.state != StateTracing && s.state != StateErasing {
		return fmt.Errorf("%w: Cancel while %s", ErrInvalidState, s.state)
	}
	if s.mask != nil {
		s.mask.Close()
		s.mask = nil
	}
	s.seeds = nil
	s.state = StateIdle
	s.log.Debug().Msg("trace session cancelled")
	return nil
}

// Finalize commits the mask, making it read-only, and transitions to
// Finalized. Fails with ErrEmptyTrace when nothing was traced; the session
// stays active so the user can keep clicking.
func (s *Session) Finalize() error {
	if s.state != StateTracing && s.state != StateErasing {
		return fmt.Errorf("%w: Finalize while %s", ErrInvalidState, s.state)
	}
	if s.mask == nil || s.mask.Count() == 0 {
		return ErrEmptyTrace
	}
	s.state = StateFinalized
	s.log.Debug().Int("pixels", s.mask.Count()).Msg("trace finalized")
	return nil
}

// Reopen returns a finalized session to Tracing so the user can refine a
// trace whose measurement failed. The mask is kept as-is.
func (s *Session) Reopen() error {
	if s.state != StateFinalized {
		return fmt.Errorf("%w: Reopen while %s", ErrInvalidState, s.state)
	}
	s.state = StateTracing
	s.log.Debug().Msg("trace session reopened")
	return nil
}

// Close releases the session's mask if it still owns one.
func (s *Session) Close() {
	if s.mask != nil {
		s.mask.Close()
		s.mask = nil
	}
}
