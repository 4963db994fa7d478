package ethereum

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

var _ blockchain.Block = (*Block)(nil)

// ErrMalformedBlock is returned when a provider response is not a block.
var ErrMalformedBlock = errors.New("malformed block")

// header holds the fields every block response must carry.
type header struct {
	Hash       *common.Hash    `json:"hash"`
	ParentHash *common.Hash    `json:"parentHash"`
	Number     *hexutil.Uint64 `json:"number"`
}

// Block is an Ethereum block as returned by eth_getBlockBy*.
// The raw JSON is kept verbatim; logs are attached while scanning.
type Block struct {
	ptr    blockchain.BlockPtr
	parent common.Hash
	raw    json.RawMessage
	logs   []types.Log
}

// ParseBlock decodes the pointer fields of a raw block.
func ParseBlock(raw json.RawMessage) (*Block, error) {
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBlock, err)
	}
	if h.Hash == nil || h.Number == nil {
		return nil, fmt.Errorf("%w: missing hash or number", ErrMalformedBlock)
	}
	if uint64(*h.Number) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: block number %d out of range", ErrMalformedBlock, uint64(*h.Number))
	}

	number := blockchain.BlockNumber(*h.Number)
	if h.ParentHash == nil && number != blockchain.GenesisBlockNumber {
		return nil, fmt.Errorf("%w: block #%d has no parent hash", ErrMalformedBlock, number)
	}

	b := &Block{
		ptr: blockchain.NewBlockPtr(*h.Hash, number),
		raw: append(json.RawMessage(nil), raw...),
	}
	if h.ParentHash != nil {
		b.parent = *h.ParentHash
	}
	return b, nil
}

// Ptr implements blockchain.Block.
func (b *Block) Ptr() blockchain.BlockPtr {
	return b.ptr
}

// ParentPtr implements blockchain.Block.
func (b *Block) ParentPtr() *blockchain.BlockPtr {
	if b.ptr.IsGenesis() {
		return nil
	}
	ptr := blockchain.NewBlockPtr(b.parent, b.ptr.Number-1)
	return &ptr
}

// Data implements blockchain.Block.
func (b *Block) Data() (json.RawMessage, error) {
	return b.raw, nil
}

// Logs returns the logs attached while scanning.
func (b *Block) Logs() []types.Log {
	return b.logs
}
