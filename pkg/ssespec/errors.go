package ssespec

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrUnknownEventType is returned when an event type tag has not been registered
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrEventQueueFull is returned when the central event queue is saturated.
	// The persisted row survives and is recovered on the user's next reconnect.
	ErrEventQueueFull = errors.New("event queue full")

	// ErrMailboxFull is returned by a mailbox put that could not make room
	ErrMailboxFull = errors.New("mailbox full")

	// ErrManagerNotRunning is returned when an operation is attempted outside the RUNNING state
	ErrManagerNotRunning = errors.New("event manager not running")

	// ErrStreamClosed is returned when reading from a closed or evicted mailbox
	ErrStreamClosed = errors.New("stream closed")
)

// StoreError wraps errors that occur during event store operations
type StoreError struct {
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("event store %s: %v", e.Operation, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError
func NewStoreError(operation string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Err:       err,
	}
}
