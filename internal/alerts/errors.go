package alerts

import (
	"errors"
)

// Error taxonomy for the coordination engine. Handlers map these onto HTTP
// statuses; the sweeper swallows ErrAlreadyTerminal as an expected race
// outcome while a human-facing resolve surfaces it.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("alert not found")
	ErrAlreadyTerminal = errors.New("alert already terminal")
	ErrNotEligible     = errors.New("identity not in notified set")
	ErrUnavailable     = errors.New("store unavailable")
)
