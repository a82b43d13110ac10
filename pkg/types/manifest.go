package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// IndexerID is the globally unique identity of a deployed indexer.
type IndexerID struct {
	Namespace string
	Name      string
}

func (id IndexerID) String() string {
	return id.Namespace + "." + id.Name
}

// IndexerManifest describes one deployed indexing workload. A manifest
// is immutable once its indexer is running; a new deployment creates a
// new manifest version.
type IndexerManifest struct {
	ID IndexerID

	// ModuleBytes is the compiled WASM module this indexer executes.
	ModuleBytes []byte

	// ModuleDigest is the sha256 of ModuleBytes, recorded for identity.
	ModuleDigest string

	// SchemaVersion references the target schema version the module
	// was compiled against. Opaque to the engine.
	SchemaVersion string

	// StartBlock is the height the indexer begins at when no
	// checkpoint exists.
	StartBlock uint64

	// Contracts is an optional allow-list of event source contracts.
	// When non-empty, events from other contracts are dropped before
	// they reach the module.
	Contracts []common.Hash

	// Resumable indicates the indexer resumes from its checkpoint on
	// restart rather than from StartBlock.
	Resumable bool
}

// Validate checks the manifest invariants the engine depends on.
func (m *IndexerManifest) Validate() error {
	if m.ID.Namespace == "" || m.ID.Name == "" {
		return errors.New("manifest requires a namespace and a name")
	}
	if len(m.ModuleBytes) == 0 {
		return fmt.Errorf("manifest %s has no module bytes", m.ID)
	}
	return nil
}

// Seal computes and records the module digest. Called once when the
// manifest is loaded.
func (m *IndexerManifest) Seal() {
	sum := sha256.Sum256(m.ModuleBytes)
	m.ModuleDigest = hex.EncodeToString(sum[:])
}

// AllowsContract reports whether events from the given contract pass
// the manifest's contract filter. An empty filter allows everything.
func (m *IndexerManifest) AllowsContract(contract common.Hash) bool {
	if len(m.Contracts) == 0 {
		return true
	}
	for _, c := range m.Contracts {
		if c == contract {
			return true
		}
	}
	return false
}

// FilterEvents returns the block's events with sources outside the
// manifest's allow-list removed. The block itself is not modified.
func (m *IndexerManifest) FilterEvents(b *Block) []Event {
	if len(m.Contracts) == 0 {
		return b.Events
	}
	filtered := make([]Event, 0, len(b.Events))
	for _, ev := range b.Events {
		if m.AllowsContract(ev.Contract) {
			filtered = append(filtered, ev)
		}
	}
	return filtered
}
