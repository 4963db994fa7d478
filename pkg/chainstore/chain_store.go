package chainstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

// ErrGenesisDeletion is returned when an operation would remove the genesis block.
var ErrGenesisDeletion = errors.New("genesis block can't be removed")

// ErrChainIdentifierMismatch is returned when a store was created for a different chain.
var ErrChainIdentifierMismatch = errors.New("chain identifier mismatch")

// ChainStore is the durable cache of blocks and the chain head pointer for one chain.
// Implementations permit concurrent readers; a reader never observes a partially
// written block and head pair.
type ChainStore interface {
	// Chain returns the name of the chain this store holds.
	Chain() string

	// ChainIdentifier returns the identifier the store was initialised with.
	ChainIdentifier() blockchain.ChainIdentifier

	// Blocks returns the cached blocks among hashes. Missing hashes are skipped.
	Blocks(ctx context.Context, hashes []blockchain.BlockHash) ([]*StoredBlock, error)

	// BlockHashesByBlockNumber returns every cached hash at the given height.
	// More than one result means an uncollapsed fork.
	BlockHashesByBlockNumber(ctx context.Context, number blockchain.BlockNumber) ([]blockchain.BlockHash, error)

	// ChainHeadBlock returns the height of the stored head, nil when uninitialised.
	ChainHeadBlock(ctx context.Context) (*blockchain.BlockNumber, error)

	// ChainHead returns the stored head pointer, nil when uninitialised.
	ChainHead(ctx context.Context) (*blockchain.BlockPtr, error)

	// UpsertBlocks caches the given blocks and, when head is set, moves the chain head
	// in the same transaction. Cached bodies are immutable: existing hashes are left untouched.
	UpsertBlocks(ctx context.Context, blocks []blockchain.Block, head *blockchain.BlockPtr) error

	// DeleteBlocks removes cache entries. Deleting an absent hash is not an error.
	DeleteBlocks(ctx context.Context, hashes []blockchain.BlockHash) (int64, error)

	// TruncateBlockCache removes every cached block except genesis.
	// The head pointer is left as is.
	TruncateBlockCache(ctx context.Context) (int64, error)
}

// StoredBlock is a block as persisted in the chain store.
type StoredBlock struct {
	Chain      string                 `meddler:"chain"`
	Hash       common.Hash            `meddler:"hash,hash"`
	Number     blockchain.BlockNumber `meddler:"number"`
	ParentHash common.Hash            `meddler:"parent_hash,hash"`
	Body       string                 `meddler:"data"`
}

// Ptr returns the pointer to the stored block.
func (b *StoredBlock) Ptr() blockchain.BlockPtr {
	return blockchain.NewBlockPtr(b.Hash, b.Number)
}

// ParentPtr returns the parent pointer, nil for genesis.
func (b *StoredBlock) ParentPtr() *blockchain.BlockPtr {
	if b.Number == blockchain.GenesisBlockNumber {
		return nil
	}
	ptr := blockchain.NewBlockPtr(b.ParentHash, b.Number-1)
	return &ptr
}

// Data returns the cached JSON body.
func (b *StoredBlock) Data() (json.RawMessage, error) {
	if !json.Valid([]byte(b.Body)) {
		return nil, fmt.Errorf("cached body of block %s is not valid JSON", b.Hash.Hex())
	}
	return json.RawMessage(b.Body), nil
}

// NewStoredBlock converts a block into its stored form.
func NewStoredBlock(chain string, block blockchain.Block) (*StoredBlock, error) {
	data, err := block.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize block %s: %w", block.Ptr(), err)
	}

	ptr := block.Ptr()
	stored := &StoredBlock{
		Chain:  chain,
		Hash:   ptr.Hash,
		Number: ptr.Number,
		Body:   string(data),
	}

	if parent := block.ParentPtr(); parent != nil {
		if parent.Number != ptr.Number-1 {
			return nil, fmt.Errorf("block %s has parent %s at a non-adjacent height", ptr, parent)
		}
		stored.ParentHash = parent.Hash
	} else if !ptr.IsGenesis() {
		return nil, fmt.Errorf("block %s has no parent", ptr)
	}

	return stored, nil
}

// StorageError is returned when the underlying store fails.
type StorageError struct {
	Chain     string
	Operation string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("chain store %s: %s failed: %v", e.Chain, e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
