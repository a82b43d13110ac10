package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lodestone-labs/lodestone/internal/db"
	"github.com/lodestone-labs/lodestone/internal/logger"
	"github.com/lodestone-labs/lodestone/internal/wire"
	"github.com/lodestone-labs/lodestone/pkg/types"
	"github.com/russross/meddler"
)

// ErrNotFound is returned when a checkpoint or entity does not exist.
var ErrNotFound = errors.New("not found")

// Checkpoint records the last block an indexer committed.
// Uses meddler tags for automatic struct-to-db mapping.
type Checkpoint struct {
	Namespace  string      `meddler:"namespace" json:"namespace"`
	Name       string      `meddler:"name" json:"name"`
	LastHeight uint64      `meddler:"last_height" json:"last_height"`
	LastHash   common.Hash `meddler:"last_hash,hash" json:"last_hash"`
	UpdatedAt  int64       `meddler:"updated_at" json:"updated_at"`
}

// entityRow is the database representation of a staged entity. The body
// column holds the full encoded record so reads round-trip without loss.
type entityRow struct {
	Namespace   string `meddler:"namespace"`
	TypeID      uint32 `meddler:"type_id"`
	EntityKey   []byte `meddler:"entity_key"`
	Body        []byte `meddler:"body"`
	BlockHeight uint64 `meddler:"block_height"`
	UpdatedAt   int64  `meddler:"updated_at"`
}

// Store persists entities and checkpoints for all indexers sharing one
// database. Every Commit is a single transaction, so a crash never
// leaves a block half applied.
type Store struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance
}

// New creates a Store on top of an already migrated database.
func New(sqlDB *sql.DB, log *logger.Logger, maintenance db.Maintenance) *Store {
	return &Store{
		db:          sqlDB,
		log:         log.WithComponent("store"),
		maintenance: maintenance,
	}
}

// Commit atomically applies the entities an indexer staged for one
// block and advances its checkpoint. Entities are applied in staging
// order, so the last write to a key wins. Re-committing an already
// committed block is harmless: entity upserts are idempotent and the
// checkpoint never moves backwards.
func (s *Store) Commit(ctx context.Context, id types.IndexerID, block types.Block, entities []types.Entity) error {
	if s.maintenance != nil {
		unlock := s.maintenance.AcquireOperationLock()
		defer unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().Unix()

	for i := range entities {
		if err := s.upsertEntity(tx, id.Namespace, &entities[i], block.Height, now); err != nil {
			return err
		}
	}

	if err := s.resolveRefs(tx, id.Namespace); err != nil {
		return err
	}

	if err := s.advanceCheckpoint(tx, id, block, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block %d for %s: %w", block.Height, id, err)
	}

	s.log.Debugf("committed block: indexer=%s, height=%d, hash=%s, entities=%d",
		id, block.Height, block.Hash.Hex(), len(entities))

	return nil
}

func (s *Store) upsertEntity(tx *sql.Tx, namespace string, e *types.Entity, height uint64, now int64) error {
	body := wire.EncodeEntity(e)

	_, err := tx.Exec(`
		INSERT INTO entities (namespace, type_id, entity_key, body, block_height, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, type_id, entity_key) DO UPDATE SET
			body = excluded.body,
			block_height = excluded.block_height,
			updated_at = excluded.updated_at
	`, namespace, e.TypeID, e.Key, body, height, now)
	if err != nil {
		return fmt.Errorf("failed to upsert entity (type=%d): %w", e.TypeID, err)
	}

	for _, f := range e.Fields {
		if f.Value.Kind != types.ValueRef {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO entity_refs (namespace, src_type_id, src_key, field_id, ref_type_id, ref_key, resolved)
			VALUES (?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT (namespace, src_type_id, src_key, field_id) DO UPDATE SET
				ref_type_id = excluded.ref_type_id,
				ref_key = excluded.ref_key,
				resolved = 0
		`, namespace, e.TypeID, e.Key, f.ID, f.Value.RefTypeID, f.Value.RefKey)
		if err != nil {
			return fmt.Errorf("failed to record reference (type=%d, field=%d): %w", e.TypeID, f.ID, err)
		}
	}

	return nil
}

// resolveRefs marks every pending reference whose target entity now
// exists. References to entities staged later in the same block, or in
// a future block, resolve as soon as the target lands.
func (s *Store) resolveRefs(tx *sql.Tx, namespace string) error {
	_, err := tx.Exec(`
		UPDATE entity_refs SET resolved = 1
		WHERE namespace = ? AND resolved = 0 AND EXISTS (
			SELECT 1 FROM entities e
			WHERE e.namespace = entity_refs.namespace
			  AND e.type_id = entity_refs.ref_type_id
			  AND e.entity_key = entity_refs.ref_key
		)
	`, namespace)
	if err != nil {
		return fmt.Errorf("failed to resolve references: %w", err)
	}
	return nil
}

// advanceCheckpoint moves the checkpoint forward. A commit at or below
// the stored height leaves the checkpoint as is.
func (s *Store) advanceCheckpoint(tx *sql.Tx, id types.IndexerID, block types.Block, now int64) error {
	_, err := tx.Exec(`
		INSERT INTO checkpoints (namespace, name, last_height, last_hash, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, name) DO UPDATE SET
			last_height = excluded.last_height,
			last_hash = excluded.last_hash,
			updated_at = excluded.updated_at
		WHERE excluded.last_height > checkpoints.last_height
	`, id.Namespace, id.Name, block.Height, block.Hash.Hex(), now)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint for %s: %w", id, err)
	}
	return nil
}

// GetCheckpoint returns the checkpoint for an indexer, or ErrNotFound
// when the indexer never committed a block.
func (s *Store) GetCheckpoint(id types.IndexerID) (*Checkpoint, error) {
	if s.maintenance != nil {
		unlock := s.maintenance.AcquireOperationLock()
		defer unlock()
	}

	var cp Checkpoint
	err := meddler.QueryRow(s.db, &cp, `
		SELECT * FROM checkpoints WHERE namespace = ? AND name = ?
	`, id.Namespace, id.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for %s: %w", id, err)
	}

	return &cp, nil
}

// GetEntity loads one entity by type and key, or ErrNotFound.
func (s *Store) GetEntity(namespace string, typeID uint32, key []byte) (*types.Entity, error) {
	if s.maintenance != nil {
		unlock := s.maintenance.AcquireOperationLock()
		defer unlock()
	}

	var row entityRow
	err := meddler.QueryRow(s.db, &row, `
		SELECT * FROM entities WHERE namespace = ? AND type_id = ? AND entity_key = ?
	`, namespace, typeID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity (type=%d): %w", typeID, err)
	}

	entity, err := wire.DecodeEntity(row.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored entity (type=%d): %w", typeID, err)
	}

	return entity, nil
}

// CountUnresolvedRefs returns how many references in a namespace still
// point at entities that do not exist yet.
func (s *Store) CountUnresolvedRefs(namespace string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM entity_refs WHERE namespace = ? AND resolved = 0
	`, namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved references: %w", err)
	}
	return count, nil
}

// Reset removes every entity, reference and checkpoint an indexer's
// namespace owns. Non-resumable indexers reset on every start.
func (s *Store) Reset(ctx context.Context, id types.IndexerID) error {
	if s.maintenance != nil {
		unlock := s.maintenance.AcquireOperationLock()
		defer unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{
		`DELETE FROM entity_refs WHERE namespace = ?`,
		`DELETE FROM entities WHERE namespace = ?`,
	} {
		if _, err := tx.Exec(stmt, id.Namespace); err != nil {
			return fmt.Errorf("failed to reset namespace %s: %w", id.Namespace, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM checkpoints WHERE namespace = ? AND name = ?`,
		id.Namespace, id.Name); err != nil {
		return fmt.Errorf("failed to reset checkpoint for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to reset %s: %w", id, err)
	}

	s.log.Warnf("indexer state reset: indexer=%s", id)

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the database connection for use by other components.
func (s *Store) DB() *sql.DB {
	return s.db
}
