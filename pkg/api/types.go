package api

import (
	"time"

	"github.com/lodestone-labs/lodestone/pkg/engine"
)

// IndexerInfo describes one registered indexer in list responses.
type IndexerInfo struct {
	ID        string   `json:"id"`
	Namespace string   `json:"namespace"`
	Name      string   `json:"name"`
	State     string   `json:"state"`
	Endpoints []string `json:"endpoints"`
}

// StatusResponse is the full runtime status of one indexer.
type StatusResponse struct {
	ID       string          `json:"id"`
	Snapshot engine.Snapshot `json:"snapshot"`
}

// CheckpointResponse reports an indexer's durable progress.
type CheckpointResponse struct {
	Namespace  string    `json:"namespace"`
	Name       string    `json:"name"`
	LastHeight uint64    `json:"last_height"`
	LastHash   string    `json:"last_hash"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IndexerHealth is one indexer's entry in the health response. Lag is
// the distance behind the chain tip and is omitted when the tip could
// not be read.
type IndexerHealth struct {
	ID            string  `json:"id"`
	State         string  `json:"state"`
	LastCommitted uint64  `json:"last_committed"`
	Healthy       bool    `json:"healthy"`
	Lag           *uint64 `json:"lag,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	ChainTip  *uint64         `json:"chain_tip,omitempty"`
	Indexers  []IndexerHealth `json:"indexers"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
