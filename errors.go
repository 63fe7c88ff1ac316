package medscan

import (
	"context"
	"errors"
)

var (
	ErrInvalidRequest     = errors.New("invalid analysis request")
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAnalysis           = errors.New("analysis failed")
)

// StatusFor maps an error to the top-level status a caller sees.
func StatusFor(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrInsufficientTokens):
		return StatusInsufficientTokens
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		return StatusServiceUnavailable
	default:
		return StatusError
	}
}
