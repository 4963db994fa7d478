package rpc

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthClient defines the provider operations the chain store and the triggers adapter need.
// Blocks are returned as the raw JSON the provider sent, so the chain store can cache them
// verbatim and the repair tool can compare them structurally.
type EthClient interface {
	// Close closes the RPC client connection.
	Close()

	// NetVersion returns the network version tag reported by net_version.
	NetVersion(ctx context.Context) (string, error)

	// BlockNumber returns the number of the latest block known to the provider.
	BlockNumber(ctx context.Context) (uint64, error)

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// BlockByNumber returns the raw block at number, nil when the provider does not know it.
	BlockByNumber(ctx context.Context, number uint64) (json.RawMessage, error)

	// BlockByHash returns the raw block with hash, nil when the provider does not know it.
	BlockByHash(ctx context.Context, hash common.Hash) (json.RawMessage, error)

	// BatchBlocksByNumber returns the raw blocks for numbers in a batch call.
	// The result is positional; unknown blocks are nil.
	BatchBlocksByNumber(ctx context.Context, numbers []uint64) ([]json.RawMessage, error)
}
