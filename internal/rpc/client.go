package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	internalcommon "github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/pkg/config"
	pkgrpc "github.com/goran-ethernal/ChainStream/pkg/rpc"
	"golang.org/x/time/rate"
)

// Compile-time check to ensure Client implements pkgrpc.EthClient interface.
var _ pkgrpc.EthClient = (*Client)(nil)

const maxBatch = 100

// Client wraps the Ethereum RPC client with retries, rate limiting and metrics.
// It implements the pkgrpc.EthClient interface.
type Client struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	retry   *config.RetryConfig
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewClient creates a new RPC client connected to the given endpoint.
// A nil retryCfg executes every call once; a nil rateCfg disables rate limiting.
func NewClient(
	ctx context.Context,
	endpoint string,
	retryCfg *config.RetryConfig,
	rateCfg *config.RateLimitConfig,
	log *logger.Logger,
) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return NewClientFromRPC(rpcClient, retryCfg, rateCfg, log), nil
}

// NewClientFromRPC wraps an already connected RPC client.
func NewClientFromRPC(
	rpcClient *rpc.Client,
	retryCfg *config.RetryConfig,
	rateCfg *config.RateLimitConfig,
	log *logger.Logger,
) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rateCfg != nil && rateCfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateCfg.RequestsPerSecond), max(rateCfg.Burst, 1))
	}

	return &Client{
		eth:     ethclient.NewClient(rpcClient),
		rpc:     rpcClient,
		retry:   retryCfg,
		limiter: limiter,
		log:     log.WithComponent(internalcommon.ComponentRPC),
	}
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// NetVersion returns the network version tag reported by net_version.
func (c *Client) NetVersion(ctx context.Context) (string, error) {
	var version string
	err := c.call(ctx, "net_version", func() error {
		return c.rpc.CallContext(ctx, &version, "net_version")
	})
	return version, err
}

// BlockNumber returns the number of the latest block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.call(ctx, "eth_blockNumber", func() error {
		var err error
		number, err = c.eth.BlockNumber(ctx)
		return err
	})
	return number, err
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func() error {
		return c.rpc.CallContext(ctx, &logs, "eth_getLogs", toFilterArg(query))
	})
	return logs, err
}

// BlockByNumber returns the raw block at number without full transactions.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		return c.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", toBlockNumArg(number), false)
	})
	if err != nil {
		return nil, err
	}
	return nullToNil(raw), nil
}

// BlockByHash returns the raw block with hash without full transactions.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.call(ctx, "eth_getBlockByHash", func() error {
		return c.rpc.CallContext(ctx, &raw, "eth_getBlockByHash", hash, false)
	})
	if err != nil {
		return nil, err
	}
	return nullToNil(raw), nil
}

// BatchBlocksByNumber retrieves raw blocks for multiple numbers, chunked into batch calls.
func (c *Client) BatchBlocksByNumber(ctx context.Context, numbers []uint64) ([]json.RawMessage, error) {
	allResults := make([]json.RawMessage, 0, len(numbers))

	for i := 0; i < len(numbers); i += maxBatch {
		end := min(i+maxBatch, len(numbers))
		chunk := numbers[i:end]

		var results []json.RawMessage
		err := c.call(ctx, "eth_getBlockByNumber_batch", func() error {
			batch := make([]rpc.BatchElem, len(chunk))
			results = make([]json.RawMessage, len(chunk))

			for j, number := range chunk {
				batch[j] = rpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(number), false}, // false = don't include transactions
					Result: &results[j],
				}
			}

			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}

			// Check for individual errors
			for _, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		for _, raw := range results {
			allResults = append(allResults, nullToNil(raw))
		}
	}

	return allResults, nil
}

// call waits for the rate limiter, runs fn with retries and records metrics.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	limiterWait.Observe(time.Since(waitStart).Seconds())

	done := trackCall(method)
	err := withRetry(ctx, c.retry, method, fn)
	done(err)

	if err != nil {
		c.log.Debugw("rpc call failed", "method", method, "class", classify(err).String(), "error", err)
	}
	return err
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// toFilterArg renders q as eth_getLogs parameters. A block hash excludes the range fields.
func toFilterArg(q ethereum.FilterQuery) map[string]any {
	arg := map[string]any{"topics": q.Topics}

	switch {
	case q.BlockHash != nil:
		arg["blockHash"] = *q.BlockHash
	default:
		if q.FromBlock != nil {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock.Uint64())
		}
		if q.ToBlock != nil {
			arg["toBlock"] = toBlockNumArg(q.ToBlock.Uint64())
		}
	}

	switch len(q.Addresses) {
	case 0:
	case 1:
		arg["address"] = q.Addresses[0]
	default:
		arg["address"] = q.Addresses
	}

	return arg
}

func toBlockNumArg(number uint64) string {
	return hexutil.EncodeUint64(number)
}
