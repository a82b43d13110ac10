// Package ingest drives one indexer: fetch a block, execute the module,
// persist the result, advance. Height is the only progress cursor and
// it lives in the checkpoint.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lodestone-labs/lodestone/internal/logger"
	"github.com/lodestone-labs/lodestone/internal/metrics"
	"github.com/lodestone-labs/lodestone/internal/source"
	"github.com/lodestone-labs/lodestone/internal/store"
	"github.com/lodestone-labs/lodestone/pkg/config"
	"github.com/lodestone-labs/lodestone/pkg/engine"
	"github.com/lodestone-labs/lodestone/pkg/types"
)

// ExecutorProvider hands out a fresh sandbox for an indexer's module.
// The loop asks for a new one after every discarded instance.
type ExecutorProvider interface {
	NewExecutor(ctx context.Context) (engine.Executor, error)
}

// Committer is the slice of the store the loop needs.
type Committer interface {
	Commit(ctx context.Context, id types.IndexerID, block types.Block, entities []types.Entity) error
	GetCheckpoint(id types.IndexerID) (*store.Checkpoint, error)
	Reset(ctx context.Context, id types.IndexerID) error
}

// Config bundles the loop's tunables.
type Config struct {
	// PollInterval is the wait before re-requesting a height the
	// source has not produced yet.
	PollInterval time.Duration

	// Retry shapes the backoff between attempts at the same height.
	Retry *config.RetryConfig

	// MaxConsecutiveFailures moves the loop to Failed once reached.
	MaxConsecutiveFailures int
}

// Loop is one indexer's ingestion state machine.
type Loop struct {
	manifest *types.IndexerManifest
	src      source.Adapter
	store    Committer
	provider ExecutorProvider
	state    *engine.RuntimeState
	cfg      Config
	log      *logger.Logger

	stopCh chan struct{}

	// executor survives across blocks until an attempt discards it
	executor engine.Executor
}

// NewLoop builds a loop in the Created state. Run starts it.
func NewLoop(
	manifest *types.IndexerManifest,
	src source.Adapter,
	committer Committer,
	provider ExecutorProvider,
	state *engine.RuntimeState,
	cfg Config,
	log *logger.Logger,
) *Loop {
	if cfg.Retry == nil {
		cfg.Retry = config.DefaultRetryConfig()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}

	return &Loop{
		manifest: manifest,
		src:      src,
		store:    committer,
		provider: provider,
		state:    state,
		cfg:      cfg,
		log:      log.WithComponent("ingest"),
		stopCh:   make(chan struct{}),
	}
}

// Stop asks the loop to finish the in-flight block and stop before
// fetching the next height. Safe to call more than once.
func (l *Loop) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}

func (l *Loop) stopping(ctx context.Context) bool {
	select {
	case <-l.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run executes the loop until a terminal state. It returns nil on a
// clean stop and a FailedError when the failure budget is spent.
func (l *Loop) Run(ctx context.Context) error {
	id := l.manifest.ID
	defer l.dropExecutor(ctx)

	height, err := l.resolveStart(ctx)
	if err != nil {
		l.setState(engine.StateFailed, 0)
		return err
	}

	l.log.Infof("ingestion started: indexer=%s, height=%d, resumable=%t",
		id, height, l.manifest.Resumable)

	for {
		if l.stopping(ctx) {
			l.setState(engine.StateStopped, height)
			l.log.Infof("ingestion stopped: indexer=%s, next_height=%d", id, height)
			return nil
		}

		block, err := l.fetch(ctx, height)
		if errors.Is(err, source.ErrNotYetProduced) {
			l.wait(ctx, l.cfg.PollInterval)
			continue
		}
		if err != nil {
			if !source.Transient(err) {
				// A permanent source error never resolves on retry.
				l.state.ReportFailure(err)
				l.setState(engine.StateFailed, height)
				l.log.Errorf("permanent fetch error: indexer=%s, height=%d, err=%v", id, height, err)
				return &engine.FailedError{Height: height, Cause: err}
			}
			if terminal := l.fail(ctx, height, err); terminal != nil {
				return terminal
			}
			continue
		}

		result, err := l.execute(ctx, block)
		if err != nil {
			if terminal := l.fail(ctx, height, err); terminal != nil {
				return terminal
			}
			continue
		}

		metrics.ExecutionOutcomeInc(id.String(), result.Status.String())

		if result.Status.Retryable() {
			l.dropExecutor(ctx)
			if terminal := l.fail(ctx, height, result.Err); terminal != nil {
				return terminal
			}
			continue
		}

		if result.Status == engine.StatusUserError {
			// Early exit still commits what was staged before it.
			l.dropExecutor(ctx)
			l.log.Warnf("module early exit: indexer=%s, height=%d, code=%d, staged=%d",
				id, height, result.UserCode, len(result.Entities))
		}

		if err := l.persist(ctx, block, result.Entities); err != nil {
			// The transaction rolled back; the height re-executes
			// from scratch on retry.
			l.dropExecutor(ctx)
			if terminal := l.fail(ctx, height, err); terminal != nil {
				return terminal
			}
			continue
		}

		l.state.ReportCommit(height)
		metrics.BlocksCommittedInc(id.String())
		metrics.CheckpointHeightSet(id.String(), height)
		metrics.EntitiesStagedAdd(id.String(), len(result.Entities))

		height++
	}
}

// resolveStart reads the checkpoint, or the manifest start height when
// none exists. Non-resumable indexers always start fresh.
func (l *Loop) resolveStart(ctx context.Context) (uint64, error) {
	l.setState(engine.StateResolving, 0)

	if !l.manifest.Resumable {
		if err := l.store.Reset(ctx, l.manifest.ID); err != nil {
			return 0, fmt.Errorf("failed to reset non-resumable indexer %s: %w", l.manifest.ID, err)
		}
		return l.manifest.StartBlock, nil
	}

	cp, err := l.store.GetCheckpoint(l.manifest.ID)
	if errors.Is(err, store.ErrNotFound) {
		return l.manifest.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve start height for %s: %w", l.manifest.ID, err)
	}

	return cp.LastHeight + 1, nil
}

func (l *Loop) fetch(ctx context.Context, height uint64) (*types.Block, error) {
	l.setState(engine.StateFetching, height)
	return l.src.GetBlock(ctx, height)
}

func (l *Loop) execute(ctx context.Context, block *types.Block) (*engine.ExecutionResult, error) {
	l.setState(engine.StateExecuting, block.Height)

	if l.executor == nil {
		exec, err := l.provider.NewExecutor(ctx)
		if err != nil {
			return nil, err
		}
		l.executor = exec
	}

	events := l.manifest.FilterEvents(block)

	start := time.Now()
	result, err := l.executor.Execute(ctx, block, events)
	metrics.ExecutionTimeLog(l.manifest.ID.String(), time.Since(start))

	return result, err
}

func (l *Loop) persist(ctx context.Context, block *types.Block, entities []types.Entity) error {
	l.setState(engine.StatePersisting, block.Height)

	start := time.Now()
	err := l.store.Commit(ctx, l.manifest.ID, *block, entities)
	metrics.CommitTimeLog(l.manifest.ID.String(), time.Since(start))

	return err
}

// fail charges one failure against the budget. It returns a terminal
// error once the budget is spent, otherwise it backs off and lets the
// caller retry the same height.
func (l *Loop) fail(ctx context.Context, height uint64, cause error) error {
	id := l.manifest.ID

	count := l.state.ReportFailure(cause)
	metrics.BlockRetryInc(id.String())

	if count >= l.cfg.MaxConsecutiveFailures {
		l.setState(engine.StateFailed, height)
		l.log.Errorf("ingestion failed: indexer=%s, height=%d, consecutive_failures=%d, err=%v",
			id, height, count, cause)
		return &engine.FailedError{Height: height, Cause: cause}
	}

	delay := source.Backoff(count, l.cfg.Retry)
	l.log.Warnf("block attempt failed: indexer=%s, height=%d, attempt=%d, backoff=%v, err=%v",
		id, height, count, delay, cause)

	l.setState(engine.StateBackoff, height)
	l.wait(ctx, delay)

	return nil
}

// wait sleeps unless a stop or cancellation arrives first; the return
// says whether the full wait elapsed.
func (l *Loop) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-l.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) setState(s engine.LoopState, height uint64) {
	l.state.SetState(s, height)
	metrics.IndexerStateSet(l.manifest.ID.String(), uint8(s))
}

func (l *Loop) dropExecutor(ctx context.Context) {
	if l.executor != nil {
		_ = l.executor.Close(ctx)
		l.executor = nil
	}
}
