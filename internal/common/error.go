// Package common defines shared constants and sentinel errors used across
// gophdrive server layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Storage taxonomy. Every error returned by the services wraps one of these.
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = ErrorNotFound
	ErrAccessDenied  = errors.New("access denied")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrStorageIO     = errors.New("storage i/o error")
	ErrConsistency   = errors.New("consistency error")

	// Upload session errors.
	ErrSessionNotFound = fmt.Errorf("upload session %w", ErrNotFound)
	ErrCorruptTracking = errors.New("corrupted tracking state")
)

// MissingChunkError reports a chunk that is recorded in the tracking state
// but absent from the session area when assembly runs. The session stays
// resumable: resubmitting the chunk retries assembly.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %d", e.Index)
}

func (e *MissingChunkError) Unwrap() error {
	return ErrStorageIO
}
