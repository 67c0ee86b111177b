package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors - use with errors.Is()
var (
	// ErrNotFound means a referenced id is absent from the local tree
	ErrNotFound = errors.New("not found")
	// ErrInvalidParent means the target parent does not exist or is not a folder
	ErrInvalidParent = errors.New("invalid parent")
	// ErrCycleDetected means a move would place a folder inside itself
	ErrCycleDetected = errors.New("cycle detected")
	// ErrInvalidName means the name is empty, whitespace-only or otherwise rejected
	ErrInvalidName = errors.New("invalid name")
	// ErrGatewayFailure means the persistence layer rejected the call or was unreachable
	ErrGatewayFailure = errors.New("gateway failure")
	// ErrValidation covers malformed requests that are not tree errors
	ErrValidation = errors.New("validation failed")
)

// NotFoundError indicates a node id could not be resolved
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("item %s: not found", e.ID) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// GatewayError wraps a failed persistence call.
// It matches ErrGatewayFailure and unwraps to the underlying driver error.
type GatewayError struct {
	Op  string // gateway operation, e.g. "rename_folder"
	ID  string // item the call was about, empty for list calls
	Err error
}

func (e *GatewayError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
func (e *GatewayError) Is(target error) bool { return target == ErrGatewayFailure }

// NewGatewayError wraps err unless it is already a gateway error
func NewGatewayError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return err
	}
	return &GatewayError{Op: op, ID: id, Err: err}
}

// IsStructural reports whether err is a local invariant violation.
// Structural errors are rejected before anything is applied.
func IsStructural(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidParent) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrInvalidName)
}
