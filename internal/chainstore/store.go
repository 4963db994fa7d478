package chainstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/db"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/internal/metrics"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/chainstore"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/russross/meddler"
)

var _ chainstore.ChainStore = (*Store)(nil)

const defaultBodyCacheSize = 1024

// chainRow is the per-chain record holding the identifier and the head pointer.
type chainRow struct {
	Name             string       `meddler:"name"`
	NetVersion       string       `meddler:"net_version"`
	GenesisBlockHash common.Hash  `meddler:"genesis_block_hash,hash"`
	HeadBlockNumber  *int64       `meddler:"head_block_number"`
	HeadBlockHash    *common.Hash `meddler:"head_block_hash,hash"`
}

func (r *chainRow) head() *blockchain.BlockPtr {
	if r.HeadBlockNumber == nil || r.HeadBlockHash == nil {
		return nil
	}
	ptr := blockchain.NewBlockPtr(*r.HeadBlockHash, blockchain.BlockNumber(*r.HeadBlockNumber))
	return &ptr
}

// Store is a SQLite backed chain store for a single chain.
// Block bodies are immutable once cached, so an LRU keeps recently read bodies in memory.
// Presence is always checked against the database because other processes (the repair
// tool) may delete rows.
type Store struct {
	chain       string
	ident       blockchain.ChainIdentifier
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance

	bodies *lru.Cache[common.Hash, *chainstore.StoredBlock]
}

// New creates a chain store for chain on an already migrated database.
// When ident is nil the identifier must already be recorded in the database.
// When ident is set and differs from the recorded one, ErrChainIdentifierMismatch is returned.
func New(
	ctx context.Context,
	chain string,
	ident *blockchain.ChainIdentifier,
	sqlDB *sql.DB,
	bodyCacheSize int,
	maintenance db.Maintenance,
	log *logger.Logger,
) (*Store, error) {
	if bodyCacheSize <= 0 {
		bodyCacheSize = defaultBodyCacheSize
	}

	bodies, err := lru.New[common.Hash, *chainstore.StoredBlock](bodyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create block body cache: %w", err)
	}

	if maintenance == nil {
		maintenance = db.NopMaintenance{}
	}

	s := &Store{
		chain:       chain,
		db:          sqlDB,
		log:         log.WithComponent(internalcommon.ComponentChainStore),
		maintenance: maintenance,
		bodies:      bodies,
	}

	var head *blockchain.BlockPtr
	row, err := s.loadChainRow(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if ident == nil {
			return nil, fmt.Errorf("chain %s is not initialised in the chain store", chain)
		}
		if err := s.insertChainRow(ctx, *ident); err != nil {
			return nil, err
		}
		s.ident = *ident
		s.log.Infof("initialised chain store: chain=%s %s", chain, ident)
	case err != nil:
		return nil, s.storageErr("load chain", err)
	default:
		stored := blockchain.ChainIdentifier{NetVersion: row.NetVersion, GenesisBlockHash: row.GenesisBlockHash}
		if ident != nil && stored != *ident {
			return nil, fmt.Errorf("%w: chain %s stored (%s), provider (%s)",
				chainstore.ErrChainIdentifierMismatch, chain, stored, ident)
		}
		s.ident = stored
		head = row.head()
	}

	if head != nil {
		s.log.Infof("chain store opened: chain=%s head=%s", chain, head)
		chainHeadGauge.WithLabelValues(chain).Set(float64(head.Number))
	} else {
		s.log.Infof("chain store opened: chain=%s head=none", chain)
	}

	metrics.SetHealth(internalcommon.ComponentChainStore, chain, true)

	return s, nil
}

// Chain returns the name of the chain this store holds.
func (s *Store) Chain() string {
	return s.chain
}

// ChainIdentifier returns the identifier recorded for the chain.
func (s *Store) ChainIdentifier() blockchain.ChainIdentifier {
	return s.ident
}

// Blocks returns the cached blocks among hashes, in no particular order.
func (s *Store) Blocks(ctx context.Context, hashes []blockchain.BlockHash) ([]*chainstore.StoredBlock, error) {
	hashes = dedupe(hashes)
	if len(hashes) == 0 {
		return []*chainstore.StoredBlock{}, nil
	}

	defer s.observe("blocks", time.Now())

	present, err := s.presentHashes(ctx, hashes)
	if err != nil {
		return nil, s.storageErr("blocks", err)
	}

	result := make([]*chainstore.StoredBlock, 0, len(present))
	missing := make([]blockchain.BlockHash, 0, len(present))
	for _, h := range present {
		if body, ok := s.bodies.Get(h); ok {
			result = append(result, body)
			bodyCacheLookups.WithLabelValues(s.chain, "hit").Inc()
			continue
		}
		bodyCacheLookups.WithLabelValues(s.chain, "miss").Inc()
		missing = append(missing, h)
	}

	if len(missing) > 0 {
		var loaded []*chainstore.StoredBlock
		query, args := s.inQuery("SELECT * FROM blocks WHERE chain = ? AND hash IN (%s)", missing)
		if err := meddler.QueryAll(s.db, &loaded, query, args...); err != nil {
			return nil, s.storageErr("blocks", err)
		}
		for _, b := range loaded {
			s.bodies.Add(b.Hash, b)
		}
		result = append(result, loaded...)
	}

	return result, nil
}

// BlockHashesByBlockNumber returns every cached hash at height number.
func (s *Store) BlockHashesByBlockNumber(
	ctx context.Context, number blockchain.BlockNumber) ([]blockchain.BlockHash, error) {
	defer s.observe("hashes_by_number", time.Now())

	rows, err := s.db.QueryContext(ctx,
		"SELECT hash FROM blocks WHERE chain = ? AND number = ? ORDER BY hash", s.chain, number)
	if err != nil {
		return nil, s.storageErr("hashes by number", err)
	}
	defer rows.Close()

	hashes := make([]blockchain.BlockHash, 0, 1)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, s.storageErr("hashes by number", err)
		}
		hashes = append(hashes, common.HexToHash(h))
	}

	if err := rows.Err(); err != nil {
		return nil, s.storageErr("hashes by number", err)
	}

	return hashes, nil
}

// ChainHeadBlock returns the height of the stored chain head, nil when uninitialised.
func (s *Store) ChainHeadBlock(ctx context.Context) (*blockchain.BlockNumber, error) {
	head, err := s.ChainHead(ctx)
	if err != nil || head == nil {
		return nil, err
	}
	number := head.Number
	return &number, nil
}

// ChainHead returns the stored head pointer, nil when uninitialised.
// It always reads the database, where the head moves in the same transaction as
// the blocks it points at.
func (s *Store) ChainHead(ctx context.Context) (*blockchain.BlockPtr, error) {
	defer s.observe("chain_head", time.Now())

	row, err := s.loadChainRow(ctx)
	if err != nil {
		return nil, s.storageErr("chain head", err)
	}

	return row.head(), nil
}

// UpsertBlocks caches blocks and optionally moves the head, atomically.
func (s *Store) UpsertBlocks(ctx context.Context, blocks []blockchain.Block, head *blockchain.BlockPtr) error {
	if len(blocks) == 0 && head == nil {
		return nil
	}

	stored := make([]*chainstore.StoredBlock, 0, len(blocks))
	for _, b := range blocks {
		sb, err := chainstore.NewStoredBlock(s.chain, b)
		if err != nil {
			return err
		}
		stored = append(stored, sb)
	}

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	defer s.observe("upsert_blocks", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageErr("upsert blocks", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	var inserted int64
	for _, b := range stored {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO blocks (chain, hash, number, parent_hash, data) VALUES (?, ?, ?, ?, ?)`,
			s.chain, b.Hash.Hex(), b.Number, b.ParentHash.Hex(), b.Body)
		if err != nil {
			return s.storageErr("upsert blocks", fmt.Errorf("failed to insert block %s: %w", b.Ptr(), err))
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if head != nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE chains SET head_block_number = ?, head_block_hash = ? WHERE name = ?",
			head.Number, head.Hash.Hex(), s.chain); err != nil {
			return s.storageErr("set chain head", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.storageErr("upsert blocks", fmt.Errorf("failed to commit transaction: %w", err))
	}

	for _, b := range stored {
		s.bodies.Add(b.Hash, b)
	}
	blocksCached.WithLabelValues(s.chain).Add(float64(inserted))

	if head != nil {
		chainHeadGauge.WithLabelValues(s.chain).Set(float64(head.Number))
	}

	if len(stored) > 0 {
		s.log.Debugf("cached blocks: chain=%s count=%d new=%d from=%d to=%d",
			s.chain, len(stored), inserted, stored[0].Number, stored[len(stored)-1].Number)
	}

	return nil
}

// DeleteBlocks removes the given hashes from the cache.
// Any request touching genesis fails with ErrGenesisDeletion and deletes nothing.
func (s *Store) DeleteBlocks(ctx context.Context, hashes []blockchain.BlockHash) (int64, error) {
	hashes = dedupe(hashes)
	if len(hashes) == 0 {
		return 0, nil
	}

	for _, h := range hashes {
		if h == s.ident.GenesisBlockHash {
			return 0, fmt.Errorf("%w: %s", chainstore.ErrGenesisDeletion, h.Hex())
		}
	}

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	defer s.observe("delete_blocks", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.storageErr("delete blocks", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	var genesisCount int
	query, args := s.inQuery("SELECT COUNT(*) FROM blocks WHERE chain = ? AND number = 0 AND hash IN (%s)", hashes)
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&genesisCount); err != nil {
		return 0, s.storageErr("delete blocks", err)
	}
	if genesisCount > 0 {
		return 0, chainstore.ErrGenesisDeletion
	}

	query, args = s.inQuery("DELETE FROM blocks WHERE chain = ? AND hash IN (%s)", hashes)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.storageErr("delete blocks", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, s.storageErr("delete blocks", fmt.Errorf("failed to commit transaction: %w", err))
	}

	for _, h := range hashes {
		s.bodies.Remove(h)
	}

	deleted, _ := res.RowsAffected()
	blocksDeleted.WithLabelValues(s.chain, "delete").Add(float64(deleted))
	s.log.Debugf("deleted blocks: chain=%s requested=%d deleted=%d", s.chain, len(hashes), deleted)

	return deleted, nil
}

// TruncateBlockCache removes every cached block above genesis. The head pointer is untouched.
func (s *Store) TruncateBlockCache(ctx context.Context) (int64, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	defer s.observe("truncate", time.Now())

	res, err := s.db.ExecContext(ctx, "DELETE FROM blocks WHERE chain = ? AND number > 0", s.chain)
	if err != nil {
		return 0, s.storageErr("truncate block cache", err)
	}

	s.bodies.Purge()

	deleted, _ := res.RowsAffected()
	blocksDeleted.WithLabelValues(s.chain, "truncate").Add(float64(deleted))
	s.log.Infof("truncated block cache: chain=%s deleted=%d", s.chain, deleted)

	return deleted, nil
}

// Compact reclaims the space freed by deletions.
func (s *Store) Compact(ctx context.Context) error {
	return s.maintenance.Compact(ctx)
}

func (s *Store) loadChainRow(ctx context.Context) (*chainRow, error) {
	var row chainRow
	if err := meddler.QueryRow(s.db, &row, "SELECT * FROM chains WHERE name = ?", s.chain); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) insertChainRow(ctx context.Context, ident blockchain.ChainIdentifier) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chains (name, net_version, genesis_block_hash) VALUES (?, ?, ?)",
		s.chain, ident.NetVersion, ident.GenesisBlockHash.Hex())
	if err != nil {
		return s.storageErr("initialise chain", err)
	}
	return nil
}

func (s *Store) presentHashes(ctx context.Context, hashes []blockchain.BlockHash) ([]blockchain.BlockHash, error) {
	query, args := s.inQuery("SELECT hash FROM blocks WHERE chain = ? AND hash IN (%s)", hashes)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make([]blockchain.BlockHash, 0, len(hashes))
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		present = append(present, common.HexToHash(h))
	}
	return present, rows.Err()
}

// inQuery expands the single %s in query into one placeholder per hash.
// The chain name is always the first argument.
func (s *Store) inQuery(query string, hashes []blockchain.BlockHash) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	args := make([]any, 0, len(hashes)+1)
	args = append(args, s.chain)
	for _, h := range hashes {
		args = append(args, h.Hex())
	}
	return fmt.Sprintf(query, placeholders), args
}

func (s *Store) observe(op string, start time.Time) {
	queryDuration.WithLabelValues(s.chain, op).Observe(time.Since(start).Seconds())
}

func (s *Store) storageErr(op string, err error) error {
	queryErrors.WithLabelValues(s.chain, op).Inc()
	metrics.ErrorsInc(internalcommon.ComponentChainStore, s.chain, "error")
	return &chainstore.StorageError{Chain: s.chain, Operation: op, Err: err}
}

func dedupe(hashes []blockchain.BlockHash) []blockchain.BlockHash {
	seen := make(map[blockchain.BlockHash]struct{}, len(hashes))
	out := make([]blockchain.BlockHash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
