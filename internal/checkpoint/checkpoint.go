// Package checkpoint persists the position of a subscriber: the last applied block
// pointer and the cursor that came with it.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/db"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/russross/meddler"
)

// Checkpoint is the last applied position of a subscriber on a chain.
type Checkpoint struct {
	Chain       string                 `meddler:"chain" json:"chain"`
	Subscriber  string                 `meddler:"subscriber" json:"subscriber"`
	BlockNumber blockchain.BlockNumber `meddler:"block_number" json:"block_number"`
	BlockHash   common.Hash            `meddler:"block_hash,hash" json:"block_hash"`
	Cursor      blockchain.Cursor      `meddler:"cursor" json:"cursor"`
	UpdatedAt   int64                  `meddler:"updated_at" json:"updated_at"`
}

// Ptr returns the pointer of the last applied block.
func (c *Checkpoint) Ptr() blockchain.BlockPtr {
	return blockchain.NewBlockPtr(c.BlockHash, c.BlockNumber)
}

// Store reads and writes checkpoints of one chain.
type Store struct {
	db          *sql.DB
	chain       string
	maintenance db.Maintenance
	log         *logger.Logger
}

// NewStore creates a checkpoint store. maintenance may be nil.
func NewStore(sqlDB *sql.DB, chain string, maintenance db.Maintenance, log *logger.Logger) *Store {
	return &Store{
		db:          sqlDB,
		chain:       chain,
		maintenance: maintenance,
		log:         log.WithComponent(internalcommon.ComponentCheckpoint),
	}
}

// Get returns the checkpoint of subscriber, nil when it never applied an event.
func (s *Store) Get(ctx context.Context, subscriber string) (*Checkpoint, error) {
	if s.maintenance != nil {
		unlock := s.maintenance.AcquireOperationLock()
		defer unlock()
	}

	var cp Checkpoint
	err := meddler.QueryRow(s.db, &cp,
		`SELECT * FROM stream_checkpoints WHERE chain = ? AND subscriber = ?`, s.chain, subscriber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint of %s: %w", subscriber, err)
	}

	return &cp, nil
}

// Save records ptr and cursor as the last applied position of subscriber.
func (s *Store) Save(ctx context.Context, subscriber string, ptr blockchain.BlockPtr, cursor blockchain.Cursor) error {
	if s.maintenance != nil {
		unlock := s.maintenance.AcquireOperationLock()
		defer unlock()
	}

	updatedAt := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_checkpoints (chain, subscriber, block_number, block_hash, cursor, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (chain, subscriber) DO UPDATE SET
			block_number = excluded.block_number,
			block_hash   = excluded.block_hash,
			cursor       = excluded.cursor,
			updated_at   = excluded.updated_at
	`, s.chain, subscriber, ptr.Number, ptr.Hash.Hex(), string(cursor), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint of %s at %s: %w", subscriber, ptr, err)
	}

	s.log.Debugf("saved checkpoint: subscriber=%s block=%d hash=%s", subscriber, ptr.Number, ptr.Hash.Hex())
	return nil
}

// Reset forgets the position of subscriber so the next run starts from its start block.
func (s *Store) Reset(ctx context.Context, subscriber string) error {
	if s.maintenance != nil {
		unlock := s.maintenance.AcquireOperationLock()
		defer unlock()
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stream_checkpoints WHERE chain = ? AND subscriber = ?`, s.chain, subscriber)
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint of %s: %w", subscriber, err)
	}

	s.log.Infof("checkpoint reset: subscriber=%s", subscriber)
	return nil
}
