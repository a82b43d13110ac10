package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/lodestone-labs/lodestone/internal/logger"
	"github.com/lodestone-labs/lodestone/internal/store"
	"github.com/lodestone-labs/lodestone/internal/supervisor"
	"github.com/lodestone-labs/lodestone/pkg/engine"
	"github.com/lodestone-labs/lodestone/pkg/types"
	"github.com/stretchr/testify/require"
)

var errDatabase = errors.New("database unavailable")

// fakeRegistry serves canned supervisor statuses.
type fakeRegistry struct {
	statuses []supervisor.Status
}

func (r *fakeRegistry) List() []supervisor.Status {
	return r.statuses
}

func (r *fakeRegistry) Status(id types.IndexerID) (supervisor.Status, error) {
	for _, status := range r.statuses {
		if status.ID == id {
			return status, nil
		}
	}
	return supervisor.Status{}, supervisor.ErrNotRunning
}

// fakeCheckpoints serves canned checkpoint rows.
type fakeCheckpoints struct {
	checkpoints map[types.IndexerID]*store.Checkpoint
	err         error
}

func (c *fakeCheckpoints) GetCheckpoint(id types.IndexerID) (*store.Checkpoint, error) {
	if c.err != nil {
		return nil, c.err
	}
	if checkpoint, ok := c.checkpoints[id]; ok {
		return checkpoint, nil
	}
	return nil, store.ErrNotFound
}

func testStatus(namespace, name string, state engine.LoopState, committed uint64) supervisor.Status {
	return supervisor.Status{
		ID: types.IndexerID{Namespace: namespace, Name: name},
		Snapshot: engine.Snapshot{
			State:         state,
			Height:        committed + 1,
			LastCommitted: committed,
		},
	}
}

// fakeTip reports a fixed chain tip.
type fakeTip struct {
	height uint64
	err    error
}

func (f *fakeTip) LatestHeight(context.Context) (uint64, error) {
	return f.height, f.err
}

func newTestHandler(registry StatusRegistry, checkpoints CheckpointReader) *Handler {
	return NewHandler(registry, checkpoints, nil, logger.NewNopLogger())
}

// serveMux routes a request through the same patterns the server
// registers, so PathValue works in handler tests.
func serveMux(h *Handler, method, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/v1/indexers", h.ListIndexers)
	mux.HandleFunc("GET /api/v1/indexers/{namespace}/{name}/status", h.GetStatus)
	mux.HandleFunc("GET /api/v1/indexers/{namespace}/{name}/checkpoint", h.GetCheckpoint)

	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestListIndexers(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{statuses: []supervisor.Status{
		testStatus("demo", "transfers", engine.StateFetching, 42),
		testStatus("demo", "blocks", engine.StateFailed, 10),
	}}
	h := newTestHandler(registry, &fakeCheckpoints{})

	w := serveMux(h, http.MethodGet, "/api/v1/indexers")
	require.Equal(t, http.StatusOK, w.Code)

	var infos []IndexerInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	require.Equal(t, "demo.transfers", infos[0].ID)
	require.Equal(t, "fetching", infos[0].State)
	require.Contains(t, infos[0].Endpoints, "/api/v1/indexers/demo/transfers/status")
	require.Contains(t, infos[0].Endpoints, "/api/v1/indexers/demo/transfers/checkpoint")
}

func TestListIndexersEmpty(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeRegistry{}, &fakeCheckpoints{})

	w := serveMux(h, http.MethodGet, "/api/v1/indexers")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "[]", w.Body.String())
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{statuses: []supervisor.Status{
		testStatus("demo", "transfers", engine.StateFetching, 42),
	}}
	h := newTestHandler(registry, &fakeCheckpoints{})

	w := serveMux(h, http.MethodGet, "/api/v1/indexers/demo/transfers/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "demo.transfers", status.ID)
	require.Equal(t, uint64(42), status.Snapshot.LastCommitted)
	require.Equal(t, uint64(43), status.Snapshot.Height)
}

func TestGetStatusNotFound(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeRegistry{}, &fakeCheckpoints{})

	w := serveMux(h, http.MethodGet, "/api/v1/indexers/demo/ghost/status")
	require.Equal(t, http.StatusNotFound, w.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	require.Equal(t, http.StatusNotFound, errResp.Code)
	require.Contains(t, errResp.Message, "demo.ghost")
}

func TestGetCheckpoint(t *testing.T) {
	t.Parallel()

	id := types.IndexerID{Namespace: "demo", Name: "transfers"}
	checkpoints := &fakeCheckpoints{checkpoints: map[types.IndexerID]*store.Checkpoint{
		id: {
			Namespace:  "demo",
			Name:       "transfers",
			LastHeight: 42,
			LastHash:   gethcommon.BytesToHash([]byte{0x2a}),
			UpdatedAt:  time.Now().Unix(),
		},
	}}
	h := newTestHandler(&fakeRegistry{}, checkpoints)

	w := serveMux(h, http.MethodGet, "/api/v1/indexers/demo/transfers/checkpoint")
	require.Equal(t, http.StatusOK, w.Code)

	var checkpoint CheckpointResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &checkpoint))
	require.Equal(t, "demo", checkpoint.Namespace)
	require.Equal(t, "transfers", checkpoint.Name)
	require.Equal(t, uint64(42), checkpoint.LastHeight)
	require.Equal(t, gethcommon.BytesToHash([]byte{0x2a}).Hex(), checkpoint.LastHash)
}

func TestGetCheckpointNotFound(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeRegistry{}, &fakeCheckpoints{})

	w := serveMux(h, http.MethodGet, "/api/v1/indexers/demo/transfers/checkpoint")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCheckpointStoreError(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeRegistry{}, &fakeCheckpoints{err: errDatabase})

	w := serveMux(h, http.MethodGet, "/api/v1/indexers/demo/transfers/checkpoint")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{statuses: []supervisor.Status{
		testStatus("demo", "transfers", engine.StateFetching, 42),
		testStatus("demo", "blocks", engine.StateFailed, 10),
		testStatus("demo", "sleepy", engine.StateIdleStopped, 7),
	}}
	h := newTestHandler(registry, &fakeCheckpoints{})

	w := serveMux(h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	require.Equal(t, "ok", health.Status)
	require.Len(t, health.Indexers, 3)

	byID := make(map[string]IndexerHealth)
	for _, indexer := range health.Indexers {
		byID[indexer.ID] = indexer
	}
	require.True(t, byID["demo.transfers"].Healthy)
	require.False(t, byID["demo.blocks"].Healthy)
	// idle-stopped is a deliberate stop, not a failure
	require.True(t, byID["demo.sleepy"].Healthy)

	// No tip reader configured: tip and lag stay absent.
	require.Nil(t, health.ChainTip)
	require.Nil(t, byID["demo.transfers"].Lag)
}

func TestHealthReportsChainTipLag(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{statuses: []supervisor.Status{
		testStatus("demo", "transfers", engine.StateFetching, 42),
		testStatus("demo", "ahead", engine.StateFetching, 50),
	}}
	h := NewHandler(registry, &fakeCheckpoints{}, &fakeTip{height: 50}, logger.NewNopLogger())

	w := serveMux(h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	require.NotNil(t, health.ChainTip)
	require.Equal(t, uint64(50), *health.ChainTip)

	byID := make(map[string]IndexerHealth)
	for _, indexer := range health.Indexers {
		byID[indexer.ID] = indexer
	}
	require.NotNil(t, byID["demo.transfers"].Lag)
	require.Equal(t, uint64(8), *byID["demo.transfers"].Lag)
	require.NotNil(t, byID["demo.ahead"].Lag)
	require.Zero(t, *byID["demo.ahead"].Lag)
}

func TestHealthTipUnavailable(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{statuses: []supervisor.Status{
		testStatus("demo", "transfers", engine.StateFetching, 42),
	}}
	h := NewHandler(registry, &fakeCheckpoints{}, &fakeTip{err: errDatabase}, logger.NewNopLogger())

	w := serveMux(h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	// The endpoint stays healthy when the source cannot be reached;
	// tip and lag are simply omitted.
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	require.Equal(t, "ok", health.Status)
	require.Nil(t, health.ChainTip)
	require.Nil(t, health.Indexers[0].Lag)
}
