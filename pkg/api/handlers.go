package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lodestone-labs/lodestone/internal/logger"
	"github.com/lodestone-labs/lodestone/internal/store"
	"github.com/lodestone-labs/lodestone/internal/supervisor"
	"github.com/lodestone-labs/lodestone/pkg/engine"
	"github.com/lodestone-labs/lodestone/pkg/types"
)

// StatusRegistry is the supervisor surface the API reads from.
type StatusRegistry interface {
	List() []supervisor.Status
	Status(id types.IndexerID) (supervisor.Status, error)
}

// CheckpointReader exposes durable indexer progress.
type CheckpointReader interface {
	GetCheckpoint(id types.IndexerID) (*store.Checkpoint, error)
}

// TipReader reports the source chain tip, for lag reporting. May be
// nil; health responses then omit tip and lag.
type TipReader interface {
	LatestHeight(ctx context.Context) (uint64, error)
}

// Handler handles HTTP requests for the API.
type Handler struct {
	registry    StatusRegistry
	checkpoints CheckpointReader
	tip         TipReader
	log         *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(registry StatusRegistry, checkpoints CheckpointReader, tip TipReader, log *logger.Logger) *Handler {
	return &Handler{
		registry:    registry,
		checkpoints: checkpoints,
		tip:         tip,
		log:         log,
	}
}

// ListIndexers returns a list of all registered indexers.
// @Summary List all indexers
// @Description Get a list of all registered indexers with their state and available endpoints
// @Tags Indexers
// @Produce json
// @Success 200 {array} IndexerInfo "List of indexers"
// @Router /indexers [get]
func (h *Handler) ListIndexers(w http.ResponseWriter, _ *http.Request) {
	statuses := h.registry.List()

	infos := make([]IndexerInfo, 0, len(statuses))
	for _, status := range statuses {
		base := fmt.Sprintf("/api/v1/indexers/%s/%s", status.ID.Namespace, status.ID.Name)
		infos = append(infos, IndexerInfo{
			ID:        status.ID.String(),
			Namespace: status.ID.Namespace,
			Name:      status.ID.Name,
			State:     status.Snapshot.State.String(),
			Endpoints: []string{base + "/status", base + "/checkpoint"},
		})
	}

	respondJSON(w, http.StatusOK, infos)
}

// GetStatus returns the runtime status of one indexer.
// @Summary Get indexer status
// @Description Retrieve the runtime state, current height and failure counters of one indexer
// @Tags Indexers
// @Produce json
// @Param namespace path string true "Indexer namespace"
// @Param name path string true "Indexer name"
// @Success 200 {object} StatusResponse "Indexer status"
// @Failure 404 {object} ErrorResponse "Indexer not found"
// @Router /indexers/{namespace}/{name}/status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathIndexerID(w, r)
	if !ok {
		return
	}

	status, err := h.registry.Status(id)
	if err != nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("indexer '%s' not found", id))
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		ID:       id.String(),
		Snapshot: status.Snapshot,
	})
}

// GetCheckpoint returns the durable checkpoint of one indexer.
// @Summary Get indexer checkpoint
// @Description Retrieve the last committed height and block hash of one indexer
// @Tags Indexers
// @Produce json
// @Param namespace path string true "Indexer namespace"
// @Param name path string true "Indexer name"
// @Success 200 {object} CheckpointResponse "Indexer checkpoint"
// @Failure 404 {object} ErrorResponse "Checkpoint not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /indexers/{namespace}/{name}/checkpoint [get]
func (h *Handler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathIndexerID(w, r)
	if !ok {
		return
	}

	checkpoint, err := h.checkpoints.GetCheckpoint(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("no checkpoint for indexer '%s'", id))
			return
		}
		h.log.Errorf("Failed to read checkpoint for %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to read checkpoint")
		return
	}

	respondJSON(w, http.StatusOK, CheckpointResponse{
		Namespace:  checkpoint.Namespace,
		Name:       checkpoint.Name,
		LastHeight: checkpoint.LastHeight,
		LastHash:   checkpoint.LastHash.Hex(),
		UpdatedAt:  time.Unix(checkpoint.UpdatedAt, 0).UTC(),
	})
}

// Health returns the health status of the service and all indexers.
// @Summary Health check
// @Description Check the health status of the service and all registered indexers, with their lag behind the chain tip
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service and indexer health status"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.List()

	var tip *uint64
	if h.tip != nil {
		if height, err := h.tip.LatestHeight(r.Context()); err == nil {
			tip = &height
		} else {
			h.log.Warnf("Failed to read chain tip: %v", err)
		}
	}

	indexers := make([]IndexerHealth, 0, len(statuses))
	for _, status := range statuses {
		ih := IndexerHealth{
			ID:            status.ID.String(),
			State:         status.Snapshot.State.String(),
			LastCommitted: status.Snapshot.LastCommitted,
			Healthy:       status.Snapshot.State != engine.StateFailed,
		}
		if tip != nil {
			lag := uint64(0)
			if *tip > status.Snapshot.LastCommitted {
				lag = *tip - status.Snapshot.LastCommitted
			}
			ih.Lag = &lag
		}
		indexers = append(indexers, ih)
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		ChainTip:  tip,
		Indexers:  indexers,
	})
}

// pathIndexerID extracts and validates the indexer identity from the
// request path, writing a 400 on failure.
func pathIndexerID(w http.ResponseWriter, r *http.Request) (types.IndexerID, bool) {
	namespace := r.PathValue("namespace")
	name := r.PathValue("name")
	if namespace == "" || name == "" {
		respondError(w, http.StatusBadRequest, "indexer namespace and name are required")
		return types.IndexerID{}, false
	}
	return types.IndexerID{Namespace: namespace, Name: name}, true
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode first so an encoding failure can still change the status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)

	if _, err := w.Write(encoded); err != nil {
		// Headers already sent, nothing left to do
		return
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
