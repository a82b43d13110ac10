package engine

import (
	"sync"
	"time"
)

// LoopState names the ingestion loop's state machine states. Height is
// the sole progress cursor; it lives in the checkpoint, not here.
type LoopState uint8

const (
	StateCreated LoopState = iota
	StateResolving
	StateFetching
	StateExecuting
	StatePersisting
	StateBackoff
	StateFailed
	StateIdleStopped
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateResolving:
		return "resolving"
	case StateFetching:
		return "fetching"
	case StateExecuting:
		return "executing"
	case StatePersisting:
		return "persisting"
	case StateBackoff:
		return "backoff"
	case StateFailed:
		return "failed"
	case StateIdleStopped:
		return "idle_stopped"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the loop.
func (s LoopState) Terminal() bool {
	return s == StateFailed || s == StateIdleStopped || s == StateStopped
}

// RuntimeState carries an indexer's lifecycle flags and counters.
// Owned by the supervisor; mutated only by the loop reporting
// outcomes. Safe for concurrent use.
type RuntimeState struct {
	mu sync.RWMutex

	state               LoopState
	height              uint64
	lastCommitted       uint64
	lastCommitTime      time.Time
	consecutiveFailures int
	lastErr             error
}

// Snapshot is a point-in-time copy of a RuntimeState for reporting.
type Snapshot struct {
	State               LoopState `json:"state"`
	Height              uint64    `json:"height"`
	LastCommitted       uint64    `json:"last_committed"`
	LastCommitTime      time.Time `json:"last_commit_time"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

func NewRuntimeState() *RuntimeState {
	return &RuntimeState{state: StateCreated}
}

// SetState records a state transition at the given height.
func (r *RuntimeState) SetState(s LoopState, height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.height = height
}

// ReportCommit records a successful block commit and clears the
// failure counter.
func (r *RuntimeState) ReportCommit(height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCommitted = height
	r.lastCommitTime = time.Now()
	r.consecutiveFailures = 0
	r.lastErr = nil
}

// ReportFailure records a per-block failure and returns the new
// consecutive failure count.
func (r *RuntimeState) ReportFailure(err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveFailures++
	r.lastErr = err
	return r.consecutiveFailures
}

// IdleSince returns the time of the last commit, or the zero time if
// nothing committed yet.
func (r *RuntimeState) IdleSince() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastCommitTime
}

// State returns the current loop state.
func (r *RuntimeState) State() LoopState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Snapshot returns a copy of the current state for status reporting.
func (r *RuntimeState) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		State:               r.state,
		Height:              r.height,
		LastCommitted:       r.lastCommitted,
		LastCommitTime:      r.lastCommitTime,
		ConsecutiveFailures: r.consecutiveFailures,
	}
	if r.lastErr != nil {
		snap.LastError = r.lastErr.Error()
	}
	return snap
}
