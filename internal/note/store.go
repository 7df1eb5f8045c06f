package note

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Repository operations that require an existing
// note id. It indicates a coordination bug in the caller, not a runtime
// condition, and is allowed to propagate.
var ErrNotFound = errors.New("note not found")

// ErrPartialLoad is reported (wrapped) by RecordStore.GetAll when individual
// records could not be decoded and were skipped. The successfully decoded
// records are still returned alongside the error.
var ErrPartialLoad = errors.New("some note records could not be loaded")

// StorageError wraps a failure of the underlying persistence medium (quota
// exceeded, medium unavailable, serialization failure). It is recoverable:
// the Repository keeps its in-memory state authoritative and the user sees a
// non-blocking warning instead of a crash.
type StorageError struct {
	// Op is the store operation that failed ("put", "get-all", "delete").
	Op string

	// ID is the note id involved, empty for whole-store operations.
	ID string

	// Err is the underlying medium error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("note store: %s %q: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("note store: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying medium error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// RecordStore is durable, asynchronous per-id persistence for notes.
//
// Operations take a context because the medium may involve I/O; no operation
// may block concurrent operations on unrelated ids. Medium failures are
// reported as [StorageError].
//
// Implementations must be safe for concurrent use.
type RecordStore interface {
	// Put inserts or fully overwrites the record at n.ID. The write is
	// atomic: a concurrent reader observes either the previous record or
	// the new one, never a half-written state.
	Put(ctx context.Context, n Note) error

	// GetAll returns every stored record in unspecified order. When
	// individual records are malformed they are skipped, but the returned
	// error wraps [ErrPartialLoad] so the caller knows the result is
	// incomplete; the decoded records are returned regardless.
	GetAll(ctx context.Context) ([]Note, error)

	// Delete removes the record at id. Deleting a non-existent id is a
	// no-op, not an error.
	Delete(ctx context.Context, id string) error
}
