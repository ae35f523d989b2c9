package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound             = errors.New("not found")
	ErrEventNotFound        = fmt.Errorf("event %w", ErrNotFound)
	ErrConflict             = errors.New("conflict: idempotency key already exists")
	ErrRateLimited          = errors.New("duplicate event submitted too quickly, back off and retry")
	ErrEnqueueFailed        = errors.New("event persisted but could not be queued for dispatch")
	ErrTotalDispatchFailure = errors.New("every channel failed for this attempt")
	ErrInvalidTransition    = errors.New("invalid event status transition")
)

// ValidationError describes malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// Validation sentinels. Compare with errors.Is, classify with IsValidation.
var (
	ErrEventTypeRequired   = &ValidationError{Field: "eventType", Reason: "is required"}
	ErrEventTypeMalformed  = &ValidationError{Field: "eventType", Reason: "must match ^[A-Z_]+$ and be at most 50 characters"}
	ErrEventTypeNotAllowed = &ValidationError{Field: "eventType", Reason: "is not a supported event type"}
	ErrUserIDRequired      = &ValidationError{Field: "userId", Reason: "is required"}
	ErrUserIDMalformed     = &ValidationError{Field: "userId", Reason: "must be 1-64 characters of [A-Za-z0-9_-]"}
	ErrPayloadRequired     = &ValidationError{Field: "payload", Reason: "is required"}
	ErrPayloadNotObject    = &ValidationError{Field: "payload", Reason: "must be a JSON object"}
	ErrPayloadTooLarge     = &ValidationError{Field: "payload", Reason: "exceeds the maximum serialized size"}
	ErrPayloadEmptyKey     = &ValidationError{Field: "payload", Reason: "keys must be non-empty strings"}
	ErrIdempotencyKeyLong  = &ValidationError{Field: "idempotencyKey", Reason: "must be at most 255 characters"}
)

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// EnqueueError is returned when the event row was written but the dispatch
// job could not be queued. The event has already been marked FAILED.
type EnqueueError struct {
	EventID string
	Err     error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue event %s: %v", e.EventID, e.Err)
}

func (e *EnqueueError) Unwrap() error { return e.Err }

// Is lets callers match with errors.Is(err, ErrEnqueueFailed).
func (e *EnqueueError) Is(target error) bool { return target == ErrEnqueueFailed }
