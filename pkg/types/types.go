// Package types defines the shared value types used across all murmur packages.
//
// These types form the lingua franca between the capture layer, the note
// repository, the processing pipeline, and the remote-service providers. They
// are intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import (
	"errors"
	"fmt"
)

// AudioClip is a finished audio recording as produced by a capture session.
// Data and MimeType are always set together; a note either carries a complete
// clip or none at all.
type AudioClip struct {
	// Data is the encoded audio payload exactly as the recording source
	// produced it (e.g., WebM/Opus from a browser MediaRecorder). It is
	// opaque to murmur — no decoding or re-encoding happens anywhere in
	// the pipeline.
	Data []byte

	// MimeType identifies the container/codec of Data (e.g., "audio/webm").
	// Forwarded verbatim to the transcription provider.
	MimeType string
}

// Empty reports whether the clip carries no audio data.
func (c AudioClip) Empty() bool {
	return len(c.Data) == 0
}

// ServiceError is the error type reported by transcription and polishing
// providers. The Transient flag drives the pipeline's retry decision: transient
// failures (service overload, 5xx, rate limiting) are retried with backoff,
// permanent failures (invalid credential, malformed request) fail the stage
// immediately.
type ServiceError struct {
	// Transient marks the failure as retryable.
	Transient bool

	// Message is a short human-readable description, safe to surface to the
	// user in a status line.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s service error: %s: %v", kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s service error: %s", kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// TransientError wraps err as a retryable [ServiceError].
func TransientError(message string, err error) *ServiceError {
	return &ServiceError{Transient: true, Message: message, Err: err}
}

// PermanentError wraps err as a non-retryable [ServiceError].
func PermanentError(message string, err error) *ServiceError {
	return &ServiceError{Transient: false, Message: message, Err: err}
}

// IsTransient reports whether err is (or wraps) a transient [ServiceError].
// Errors that are not ServiceErrors at all are treated as permanent.
func IsTransient(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Transient
}
