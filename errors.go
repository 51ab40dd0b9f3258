package brigade

import (
	"errors"
	"fmt"
)

// Common errors returned by the Brigade client.
var (
	// ErrNotFound is returned when a replica entity or mutation is not found.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidEntityType is returned for an entity type outside the closed set.
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrInvalidAction is returned for an action other than CREATE, UPDATE, DELETE.
	ErrInvalidAction = errors.New("invalid mutation action")

	// ErrEmptyRecordID is returned when a mutation is enqueued without a record id.
	ErrEmptyRecordID = errors.New("record id cannot be empty")

	// ErrMissingPayload is returned when a CREATE or UPDATE carries no payload.
	ErrMissingPayload = errors.New("payload required for create/update")

	// ErrInvalidTransition is returned when a mutation status transition
	// violates the PENDING → IN_FLIGHT → {SYNCED|FAILED} lifecycle.
	ErrInvalidTransition = errors.New("invalid mutation status transition")

	// ErrOffline is returned when a network operation is attempted in offline mode.
	ErrOffline = errors.New("operation unavailable in offline mode")

	// ErrSyncInProgress is returned when a manual sync is requested while a
	// cycle is already running. The running cycle coalesces the request.
	ErrSyncInProgress = errors.New("sync cycle already in progress")
)

// ValidationError is returned when configuration or payload validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// SyncError is returned when a push or pull network operation fails.
// Extractable via errors.As(). Supports Unwrap().
type SyncError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sync: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sync: %s failed: %v", e.Operation, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// StorageError wraps a local SQLite failure. Local storage errors are fatal
// to the triggering operation and must surface loudly; callers must not
// proceed as if the mutation were queued.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
