package engine

import (
	"context"

	"github.com/lodestone-labs/lodestone/pkg/types"
)

// ExecutionStatus classifies the outcome of one block-handler call.
type ExecutionStatus uint8

const (
	// StatusSuccess: the handler returned normally; all staged
	// entities are eligible for commit.
	StatusSuccess ExecutionStatus = iota

	// StatusUserError: the module aborted the block explicitly via
	// early_exit. Entities staged before the exit still commit; the
	// block is not retried.
	StatusUserError

	// StatusTrap: the module faulted (illegal memory access,
	// unreachable, stack overflow). Nothing commits; the same height
	// is retried after backoff.
	StatusTrap

	// StatusTimeout: the call exceeded the configured wall-clock
	// limit. The instance is discarded, never reused.
	StatusTimeout

	// StatusResourceExhausted: a memory or staged-byte limit was hit.
	// Handled like a trap.
	StatusResourceExhausted
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUserError:
		return "user_error"
	case StatusTrap:
		return "trap"
	case StatusTimeout:
		return "timeout"
	case StatusResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// Retryable reports whether the status means the same height should be
// re-attempted.
func (s ExecutionStatus) Retryable() bool {
	return s == StatusTrap || s == StatusTimeout || s == StatusResourceExhausted
}

// ExecutionResult is what one block-handler invocation produced.
type ExecutionResult struct {
	Status ExecutionStatus

	// UserCode is the code passed to early_exit when Status is
	// StatusUserError.
	UserCode uint32

	// Entities are the staged entities, in staging order. Populated
	// for StatusSuccess and StatusUserError only.
	Entities []types.Entity

	// Err carries the underlying fault for the retryable statuses.
	Err error
}

// Executor runs one indexer module against blocks. Implemented by the
// module host; faked in loop tests.
type Executor interface {
	// Execute runs the module's block handler against the given block
	// with the given pre-filtered events. The call is bounded by the
	// host's execution timeout.
	Execute(ctx context.Context, block *types.Block, events []types.Event) (*ExecutionResult, error)

	// Close releases the executor's sandbox resources.
	Close(ctx context.Context) error
}
