package engine

import (
	"errors"
	"fmt"
)

// Load-time errors. An indexer whose module fails to load never starts.
var (
	// ErrInvalidModule means the module bytes are not a well-formed
	// compiled unit.
	ErrInvalidModule = errors.New("invalid module")

	// ErrUnsupportedABIVersion means a well-formed module is missing
	// the required exports or declares an ABI version the host does
	// not speak.
	ErrUnsupportedABIVersion = errors.New("unsupported ABI version")
)

// ErrResourceExhausted is returned when a module exceeds one of its
// configured limits (memory pages, staged-entity bytes) or when the
// host's instance capacity is saturated. Per-block retryable.
var ErrResourceExhausted = errors.New("resource exhausted")

// ErrAlreadyRunning is returned by the supervisor when starting an
// indexer whose (namespace, name) is already running.
var ErrAlreadyRunning = errors.New("indexer already running")

// ErrStopped is returned by a loop that observed its stop signal.
var ErrStopped = errors.New("indexer stopped")

// TrapError wraps a runtime fault raised inside the sandbox: illegal
// memory access, unreachable instruction, stack overflow.
type TrapError struct {
	Cause error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("module trapped: %v", e.Cause)
}

func (e *TrapError) Unwrap() error { return e.Cause }

// FailedError is the terminal per-indexer state: the loop gave up on a
// height after exhausting its retry budget.
type FailedError struct {
	Height uint64
	Cause  error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("indexer failed at height %d: %v", e.Height, e.Cause)
}

func (e *FailedError) Unwrap() error { return e.Cause }
