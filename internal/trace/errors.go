package trace

import "errors"

// Recoverable conditions surfaced to the host for user-facing messages.
var (
	// ErrInvalidParameter reports growth parameters outside their allowed range.
	ErrInvalidParameter = errors.New("invalid growth parameter")

	// ErrInvalidSeed reports a seed outside image bounds, or an erase seed
	// outside the currently traced region.
	ErrInvalidSeed = errors.New("invalid seed point")

	// ErrEmptyTrace reports an attempt to finalize a session with no traced pixels.
	ErrEmptyTrace = errors.New("nothing traced")

	// ErrInvalidState reports a session operation not allowed in the current state.
	ErrInvalidState = errors.New("operation not allowed in this session state")
)
