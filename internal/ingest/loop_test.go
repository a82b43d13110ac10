package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/lodestone-labs/lodestone/internal/common"
	"github.com/lodestone-labs/lodestone/internal/db"
	"github.com/lodestone-labs/lodestone/internal/logger"
	"github.com/lodestone-labs/lodestone/internal/migrations"
	"github.com/lodestone-labs/lodestone/internal/source"
	"github.com/lodestone-labs/lodestone/internal/store"
	"github.com/lodestone-labs/lodestone/pkg/config"
	"github.com/lodestone-labs/lodestone/pkg/engine"
	"github.com/lodestone-labs/lodestone/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a fixed range of empty blocks and reports
// ErrNotYetProduced beyond the tip. The first such report is signalled
// so tests know the loop caught up.
type fakeSource struct {
	mu        sync.Mutex
	tip       uint64
	errQueue  map[uint64][]error
	requested []uint64

	caughtUp     chan struct{}
	caughtUpOnce sync.Once
}

func newFakeSource(tip uint64) *fakeSource {
	return &fakeSource{
		tip:      tip,
		errQueue: make(map[uint64][]error),
		caughtUp: make(chan struct{}),
	}
}

func (s *fakeSource) failNext(height uint64, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errQueue[height] = append(s.errQueue[height], errs...)
}

func (s *fakeSource) GetBlock(_ context.Context, height uint64) (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requested = append(s.requested, height)

	if queue := s.errQueue[height]; len(queue) > 0 {
		err := queue[0]
		s.errQueue[height] = queue[1:]
		return nil, err
	}

	if height > s.tip {
		s.caughtUpOnce.Do(func() { close(s.caughtUp) })
		return nil, source.ErrNotYetProduced
	}

	return &types.Block{
		Height: height,
		Hash:   gethcommon.BytesToHash([]byte{byte(height + 1)}),
		Time:   1700000000 + int64(height),
	}, nil
}

func (s *fakeSource) LatestHeight(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip, nil
}

func (s *fakeSource) Close() {}

func (s *fakeSource) heights() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.requested...)
}

// fakeExecutor returns canned results in order, repeating the last one.
type fakeExecutor struct {
	mu      sync.Mutex
	results []*engine.ExecutionResult
	calls   int
	closed  bool
}

func (e *fakeExecutor) Execute(_ context.Context, block *types.Block, _ []types.Event) (*engine.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.calls
	if idx >= len(e.results) {
		idx = len(e.results) - 1
	}
	e.calls++
	return e.results[idx], nil
}

func (e *fakeExecutor) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// fakeProvider hands out fresh fakeExecutors sharing one result script.
type fakeProvider struct {
	mu      sync.Mutex
	results []*engine.ExecutionResult
	created int
}

func (p *fakeProvider) NewExecutor(context.Context) (engine.Executor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	return &fakeExecutor{results: p.results}, nil
}

func successResult(entities ...types.Entity) *engine.ExecutionResult {
	return &engine.ExecutionResult{Status: engine.StatusSuccess, Entities: entities}
}

func setupLoopStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ingest_test.db")

	dbConfig := config.DatabaseConfig{Path: dbPath}
	dbConfig.ApplyDefaults()

	sqlDB, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, migrations.RunMigrationsDB(logger.NewNopLogger(), sqlDB))

	return store.New(sqlDB, logger.NewNopLogger(), &db.NoOpMaintenance{})
}

func testManifest(startBlock uint64, resumable bool) *types.IndexerManifest {
	return &types.IndexerManifest{
		ID:         types.IndexerID{Namespace: "test", Name: "loop"},
		StartBlock: startBlock,
		Resumable:  resumable,
	}
}

func fastConfig(maxFailures int) Config {
	return Config{
		PollInterval: 5 * time.Millisecond,
		Retry: &config.RetryConfig{
			InitialBackoff:    common.NewDuration(time.Millisecond),
			MaxBackoff:        common.NewDuration(5 * time.Millisecond),
			BackoffMultiplier: 2.0,
		},
		MaxConsecutiveFailures: maxFailures,
	}
}

// runUntilCaughtUp runs the loop until the source reports the tip was
// passed, then stops it cleanly.
func runUntilCaughtUp(t *testing.T, l *Loop, src *fakeSource) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case <-src.caughtUp:
	case <-time.After(5 * time.Second):
		t.Fatal("loop never caught up with the chain tip")
	}

	l.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_ProcessesChainFromStart(t *testing.T) {
	st := setupLoopStore(t)
	src := newFakeSource(5)
	manifest := testManifest(0, true)

	provider := &fakeProvider{results: []*engine.ExecutionResult{
		successResult(types.Entity{
			TypeID: 1,
			Key:    []byte("total"),
			Fields: []types.Field{{ID: 1, Value: types.Value{Kind: types.ValueUint64, Uint64: 6}}},
		}),
	}}

	state := engine.NewRuntimeState()
	l := NewLoop(manifest, src, st, provider, state, fastConfig(3), logger.NewNopLogger())

	runUntilCaughtUp(t, l, src)

	cp, err := st.GetCheckpoint(manifest.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(5), cp.LastHeight)

	entity, err := st.GetEntity("test", 1, []byte("total"))
	require.NoError(t, err)
	require.Equal(t, uint64(6), entity.Fields[0].Value.Uint64)

	require.Equal(t, engine.StateStopped, state.State())
	require.Equal(t, uint64(5), state.Snapshot().LastCommitted)
}

func TestLoop_FailsAfterMaxConsecutiveFailures(t *testing.T) {
	st := setupLoopStore(t)
	manifest := testManifest(0, true)

	// Height 100 already committed; execution at 101 times out forever.
	require.NoError(t, st.Commit(context.Background(), manifest.ID, types.Block{
		Height: 100,
		Hash:   gethcommon.BytesToHash([]byte{100}),
	}, nil))

	src := newFakeSource(200)
	provider := &fakeProvider{results: []*engine.ExecutionResult{
		{Status: engine.StatusTimeout, Err: errors.New("block handler exceeded 30s")},
	}}

	state := engine.NewRuntimeState()
	l := NewLoop(manifest, src, st, provider, state, fastConfig(3), logger.NewNopLogger())

	err := l.Run(context.Background())

	var failedErr *engine.FailedError
	require.ErrorAs(t, err, &failedErr)
	require.Equal(t, uint64(101), failedErr.Height)

	require.Equal(t, engine.StateFailed, state.State())
	require.Equal(t, 3, state.Snapshot().ConsecutiveFailures)

	// The checkpoint never advanced past the committed block.
	cp, err := st.GetCheckpoint(manifest.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(100), cp.LastHeight)

	// Every discarded instance was replaced: one per attempt.
	require.Equal(t, 3, provider.created)
}

func TestLoop_EarlyExitCommitsPartialBlock(t *testing.T) {
	st := setupLoopStore(t)
	src := newFakeSource(0)
	manifest := testManifest(0, true)

	partial := types.Entity{
		TypeID: 1,
		Key:    []byte("before-exit"),
		Fields: []types.Field{{ID: 1, Value: types.Value{Kind: types.ValueBool, Bool: true}}},
	}
	provider := &fakeProvider{results: []*engine.ExecutionResult{
		{Status: engine.StatusUserError, UserCode: 7, Entities: []types.Entity{partial}},
		successResult(),
	}}

	state := engine.NewRuntimeState()
	l := NewLoop(manifest, src, st, provider, state, fastConfig(3), logger.NewNopLogger())

	runUntilCaughtUp(t, l, src)

	// The block committed despite the early exit, with the entities
	// staged before it.
	cp, err := st.GetCheckpoint(manifest.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cp.LastHeight)

	entity, err := st.GetEntity("test", 1, []byte("before-exit"))
	require.NoError(t, err)
	require.True(t, entity.Fields[0].Value.Bool)

	// The early exit discarded the instance; a fresh one would serve
	// the next block.
	require.Equal(t, 1, provider.created)
	require.Zero(t, state.Snapshot().ConsecutiveFailures)
}

func TestLoop_TransientFetchErrorsRetrySameHeight(t *testing.T) {
	st := setupLoopStore(t)
	src := newFakeSource(0)
	src.failNext(0, errors.New("502 bad gateway"), errors.New("connection reset"))
	manifest := testManifest(0, true)

	provider := &fakeProvider{results: []*engine.ExecutionResult{successResult()}}

	state := engine.NewRuntimeState()
	l := NewLoop(manifest, src, st, provider, state, fastConfig(5), logger.NewNopLogger())

	runUntilCaughtUp(t, l, src)

	cp, err := st.GetCheckpoint(manifest.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cp.LastHeight)

	// Height 0 was attempted three times, never skipped.
	heights := src.heights()
	require.GreaterOrEqual(t, len(heights), 4)
	require.Equal(t, []uint64{0, 0, 0, 1}, heights[:4])

	// The commit cleared the failure counter.
	require.Zero(t, state.Snapshot().ConsecutiveFailures)
}

func TestLoop_PermanentFetchErrorFailsImmediately(t *testing.T) {
	st := setupLoopStore(t)
	src := newFakeSource(10)
	src.failNext(0, errors.New("the method chain_blockByHeight does not exist"))
	manifest := testManifest(0, true)

	provider := &fakeProvider{results: []*engine.ExecutionResult{successResult()}}

	state := engine.NewRuntimeState()
	l := NewLoop(manifest, src, st, provider, state, fastConfig(5), logger.NewNopLogger())

	err := l.Run(context.Background())

	var failedErr *engine.FailedError
	require.ErrorAs(t, err, &failedErr)
	require.Equal(t, uint64(0), failedErr.Height)
	require.Equal(t, engine.StateFailed, state.State())

	// No retry budget was spent waiting out an error that cannot heal.
	require.Equal(t, []uint64{0}, src.heights())
	require.Equal(t, 1, state.Snapshot().ConsecutiveFailures)
}

func TestLoop_ResumesFromCheckpoint(t *testing.T) {
	st := setupLoopStore(t)
	manifest := testManifest(0, true)

	require.NoError(t, st.Commit(context.Background(), manifest.ID, types.Block{
		Height: 4,
		Hash:   gethcommon.BytesToHash([]byte{4}),
	}, nil))

	src := newFakeSource(4)
	provider := &fakeProvider{results: []*engine.ExecutionResult{successResult()}}

	state := engine.NewRuntimeState()
	l := NewLoop(manifest, src, st, provider, state, fastConfig(3), logger.NewNopLogger())

	runUntilCaughtUp(t, l, src)

	// The first request went straight to checkpoint+1.
	heights := src.heights()
	require.NotEmpty(t, heights)
	require.Equal(t, uint64(5), heights[0])
}

func TestLoop_NonResumableStartsFresh(t *testing.T) {
	st := setupLoopStore(t)
	manifest := testManifest(0, false)

	// Old state from a previous run.
	require.NoError(t, st.Commit(context.Background(), manifest.ID, types.Block{
		Height: 9,
		Hash:   gethcommon.BytesToHash([]byte{9}),
	}, []types.Entity{{
		TypeID: 1,
		Key:    []byte("stale"),
		Fields: []types.Field{{ID: 1, Value: types.Value{Kind: types.ValueInt64, Int64: 1}}},
	}}))

	src := newFakeSource(0)
	provider := &fakeProvider{results: []*engine.ExecutionResult{successResult()}}

	state := engine.NewRuntimeState()
	l := NewLoop(manifest, src, st, provider, state, fastConfig(3), logger.NewNopLogger())

	runUntilCaughtUp(t, l, src)

	// Stale state was wiped and indexing restarted from the manifest
	// start height.
	_, err := st.GetEntity("test", 1, []byte("stale"))
	require.ErrorIs(t, err, store.ErrNotFound)

	heights := src.heights()
	require.NotEmpty(t, heights)
	require.Equal(t, uint64(0), heights[0])

	cp, err := st.GetCheckpoint(manifest.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cp.LastHeight)
}
