// Package supervisor owns the set of running indexers: it starts their
// ingestion loops, serves status queries and evicts idle indexers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lodestone-labs/lodestone/internal/ingest"
	"github.com/lodestone-labs/lodestone/internal/logger"
	"github.com/lodestone-labs/lodestone/internal/metrics"
	"github.com/lodestone-labs/lodestone/internal/source"
	"github.com/lodestone-labs/lodestone/pkg/config"
	"github.com/lodestone-labs/lodestone/pkg/engine"
	"github.com/lodestone-labs/lodestone/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ErrNotRunning is returned when stopping or querying an indexer the
// supervisor does not know.
var ErrNotRunning = errors.New("indexer not running")

// ProviderLoader compiles a manifest's module and hands back an
// executor provider. Implemented by the module host.
type ProviderLoader interface {
	LoadProvider(ctx context.Context, manifest *types.IndexerManifest) (ingest.ExecutorProvider, error)
}

// Status is one indexer's reported state.
type Status struct {
	ID       types.IndexerID `json:"id"`
	Snapshot engine.Snapshot `json:"snapshot"`
}

// runningIndexer tracks one indexer's loop and lifecycle.
type runningIndexer struct {
	manifest  *types.IndexerManifest
	state     *engine.RuntimeState
	loop      *ingest.Loop
	startedAt time.Time
	done      chan struct{}
	runErr    error
}

// Supervisor manages indexer lifecycles. Loops for different indexers
// run as independent goroutines sharing only the store and the host's
// capacity accounting.
type Supervisor struct {
	mu sync.RWMutex

	loader ProviderLoader
	src    source.Adapter
	store  ingest.Committer
	cfg    config.SupervisorConfig
	loop   ingest.Config
	log    *logger.Logger

	indexers map[types.IndexerID]*runningIndexer

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// New creates a Supervisor.
func New(
	loader ProviderLoader,
	src source.Adapter,
	committer ingest.Committer,
	cfg config.SupervisorConfig,
	loopCfg ingest.Config,
	log *logger.Logger,
) *Supervisor {
	return &Supervisor{
		loader:   loader,
		src:      src,
		store:    committer,
		cfg:      cfg,
		loop:     loopCfg,
		log:      log.WithComponent("supervisor"),
		indexers: make(map[types.IndexerID]*runningIndexer),
	}
}

// Start loads the manifest's module and launches its ingestion loop.
// Fails with ErrAlreadyRunning when the identifier is live; a terminal
// entry (Failed, IdleStopped, Stopped) is replaced.
func (s *Supervisor) Start(ctx context.Context, manifest *types.IndexerManifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := manifest.ID
	if existing, ok := s.indexers[id]; ok {
		if !existing.state.State().Terminal() {
			return fmt.Errorf("%w: %s", engine.ErrAlreadyRunning, id)
		}
	}

	provider, err := s.loader.LoadProvider(ctx, manifest)
	if err != nil {
		return fmt.Errorf("failed to load module for %s: %w", id, err)
	}

	state := engine.NewRuntimeState()
	loop := ingest.NewLoop(manifest, s.src, s.store, provider, state, s.loop, s.log)

	ri := &runningIndexer{
		manifest:  manifest,
		state:     state,
		loop:      loop,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.indexers[id] = ri

	go func() {
		ri.runErr = loop.Run(ctx)
		if ri.runErr != nil {
			metrics.ComponentHealthSet(id.String(), false)
		}
		close(ri.done)
	}()

	metrics.ComponentHealthSet(id.String(), true)
	s.log.Infof("indexer started: indexer=%s, start_block=%d", id, manifest.StartBlock)

	return nil
}

// Stop asks one indexer's loop to finish its in-flight block and waits
// for it to exit.
func (s *Supervisor) Stop(ctx context.Context, id types.IndexerID) error {
	s.mu.RLock()
	ri, ok := s.indexers[id]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	ri.loop.Stop()

	select {
	case <-ri.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Infof("indexer stopped: indexer=%s", id)

	return nil
}

// Status returns one indexer's runtime snapshot.
func (s *Supervisor) Status(id types.IndexerID) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ri, ok := s.indexers[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	return Status{ID: id, Snapshot: ri.state.Snapshot()}, nil
}

// List returns the status of every known indexer.
func (s *Supervisor) List() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]Status, 0, len(s.indexers))
	for id, ri := range s.indexers {
		statuses = append(statuses, Status{ID: id, Snapshot: ri.state.Snapshot()})
	}
	return statuses
}

// StartWatching launches the idle eviction watcher when enabled.
func (s *Supervisor) StartWatching(ctx context.Context) {
	if !s.cfg.StopIdleIndexers {
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	s.watchDone = make(chan struct{})

	go s.watchIdle(watchCtx)

	s.log.Infof("idle eviction enabled: timeout=%v", s.cfg.IdleTimeout.Duration)
}

// watchIdle periodically stops indexers that have not committed a block
// for the configured timeout. An evicted indexer reports IdleStopped,
// distinct from Failed.
func (s *Supervisor) watchIdle(ctx context.Context) {
	defer close(s.watchDone)

	interval := s.cfg.IdleTimeout.Duration / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle(ctx)
		}
	}
}

func (s *Supervisor) evictIdle(ctx context.Context) {
	now := time.Now()

	s.mu.RLock()
	var idle []*runningIndexer
	for _, ri := range s.indexers {
		if ri.state.State().Terminal() {
			continue
		}
		lastActivity := ri.state.IdleSince()
		if lastActivity.IsZero() {
			lastActivity = ri.startedAt
		}
		if now.Sub(lastActivity) >= s.cfg.IdleTimeout.Duration {
			idle = append(idle, ri)
		}
	}
	s.mu.RUnlock()

	for _, ri := range idle {
		id := ri.manifest.ID
		s.log.Infof("evicting idle indexer: indexer=%s, idle_for=%v", id, now.Sub(ri.state.IdleSince()))

		ri.loop.Stop()
		select {
		case <-ri.done:
		case <-ctx.Done():
			return
		}

		snap := ri.state.Snapshot()
		ri.state.SetState(engine.StateIdleStopped, snap.Height)
	}
}

// Close stops the idle watcher and every running loop.
func (s *Supervisor) Close(ctx context.Context) error {
	if s.watchCancel != nil {
		s.watchCancel()
		select {
		case <-s.watchDone:
		case <-ctx.Done():
		}
	}

	s.mu.RLock()
	ids := make([]types.IndexerID, 0, len(s.indexers))
	for id := range s.indexers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.Stop(gctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}
