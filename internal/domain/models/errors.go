package models

import (
	"context"
	"errors"
)

// Error kinds shared by every stage. Wrap them with fmt.Errorf("...: %w", ErrX).
var (
	ErrTransientProvider   = errors.New("transient provider error")
	ErrProvider            = errors.New("provider error")
	ErrMalformedData       = errors.New("malformed market data")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrNotFound            = errors.New("not found")
	ErrLocked              = errors.New("stage already running")
	ErrInvalidParameters   = errors.New("invalid model parameters")
	ErrInvalidQuery        = errors.New("invalid query")
)

// ErrorKind returns the short label used for results, logs and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransientProvider):
		return "transient_provider"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrMalformedData):
		return "malformed"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// Retryable reports whether a stage failure may succeed on a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTransientProvider)
}
