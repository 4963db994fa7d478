package ethereum

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainStream/internal/chainstore"
	internalcommon "github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/ethereum/ethtest"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	irpc "github.com/goran-ethernal/ChainStream/internal/rpc"
	"github.com/goran-ethernal/ChainStream/internal/testutil"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/config"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	otherAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	transferSig = "Transfer(address indexed from, address indexed to, uint256 value)"
)

type adapterFixture struct {
	chain   *ethtest.Chain
	store   *chainstore.Handle
	adapter *TriggersAdapter
}

func setupAdapter(t *testing.T, head blockchain.BlockNumber) *adapterFixture {
	t.Helper()

	chain := ethtest.NewChain(head)
	t.Cleanup(chain.Close)

	retry := &config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    internalcommon.NewDuration(time.Millisecond),
		MaxBackoff:        internalcommon.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
	}
	client := irpc.NewClientFromRPC(chain.Dial(), retry, nil, logger.NewNopLogger())
	t.Cleanup(client.Close)

	cfg := config.ChainConfig{
		Name:   "devnet",
		RPCURL: "inproc",
		DB:     config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "chain.sqlite")},
	}
	cfg.ApplyDefaults()

	ident := chain.Ident()
	store, err := chainstore.Open(context.Background(), cfg, &ident, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &adapterFixture{
		chain:   chain,
		store:   store,
		adapter: NewTriggersAdapter(client, store.Store, logger.NewNopLogger()),
	}
}

func transferFilter(t *testing.T) *LogFilter {
	t.Helper()
	f, err := NewLogFilter([]config.ContractConfig{{Address: tokenAddr.Hex(), Events: []string{transferSig}}})
	require.NoError(t, err)
	return f
}

func transferTopic(t *testing.T) common.Hash {
	t.Helper()
	sig, err := ParseEventSignature(transferSig)
	require.NoError(t, err)
	return sig.Topic()
}

func TestScanTriggers_ReturnsEveryBlockInOrder(t *testing.T) {
	ctx := context.Background()
	f := setupAdapter(t, 10)

	topic := transferTopic(t)
	f.chain.AddLog(3, tokenAddr, topic)
	f.chain.AddLog(3, tokenAddr, topic)
	f.chain.AddLog(5, otherAddr, topic)
	f.chain.AddLog(6, tokenAddr, common.HexToHash("0x01"))

	blocks, err := f.adapter.ScanTriggers(ctx, 2, 7, transferFilter(t))
	require.NoError(t, err)
	require.Len(t, blocks, 6)

	for i, b := range blocks {
		require.Equal(t, f.chain.Ptr(blockchain.BlockNumber(2+i)), b.Ptr())
		if i > 0 {
			require.Equal(t, blocks[i-1].Ptr(), *b.ParentPtr())
		}
	}

	require.Equal(t, 2, blocks[1].TriggerCount())
	require.Zero(t, blocks[3].TriggerCount(), "other contract")
	require.Zero(t, blocks[4].TriggerCount(), "other event")
	require.Equal(t, TriggerKindLog, blocks[1].Triggers[0].Kind())

	// scanned blocks are cached
	stored, err := f.store.Blocks(ctx, []blockchain.BlockHash{f.chain.Ptr(2).Hash, f.chain.Ptr(7).Hash})
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestScanTriggers_InvalidRange(t *testing.T) {
	f := setupAdapter(t, 3)

	_, err := f.adapter.ScanTriggers(context.Background(), 3, 2, nil)
	require.ErrorIs(t, err, blockchain.ErrInvalidScanRange)
}

func TestScanTriggers_StopsAtProviderHead(t *testing.T) {
	f := setupAdapter(t, 5)

	blocks, err := f.adapter.ScanTriggers(context.Background(), 4, 9, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, f.chain.Head(), blocks[1].Ptr())

	blocks, err = f.adapter.ScanTriggers(context.Background(), 6, 9, nil)
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestScanTriggers_SplitsTooManyResults(t *testing.T) {
	f := setupAdapter(t, 8)

	topic := transferTopic(t)
	for n := blockchain.BlockNumber(1); n <= 8; n++ {
		f.chain.AddLog(n, tokenAddr, topic)
	}
	f.chain.SetMaxLogs(3)

	blocks, err := f.adapter.ScanTriggers(context.Background(), 1, 8, transferFilter(t))
	require.NoError(t, err)
	require.Len(t, blocks, 8)

	total := 0
	for _, b := range blocks {
		total += b.TriggerCount()
	}
	require.Equal(t, 8, total)
	require.Greater(t, f.chain.LogCalls.Load(), int64(1))
}

func TestScanTriggers_SingleBlockTooManyResults(t *testing.T) {
	f := setupAdapter(t, 2)

	topic := transferTopic(t)
	f.chain.AddLog(1, tokenAddr, topic)
	f.chain.AddLog(1, tokenAddr, topic)
	f.chain.SetMaxLogs(1)

	_, err := f.adapter.ScanTriggers(context.Background(), 1, 1, transferFilter(t))
	require.Error(t, err)
	require.True(t, blockchain.IsRetryable(err))
	require.ErrorContains(t, err, "cannot split range further")
}

func TestScanTriggers_RetriesTransientFailures(t *testing.T) {
	f := setupAdapter(t, 4)
	f.chain.FailNext(2)

	blocks, err := f.adapter.ScanTriggers(context.Background(), 1, 4, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 4)
}

func TestScanTriggers_ProviderFailureIsRetryable(t *testing.T) {
	f := setupAdapter(t, 4)
	f.chain.FailNext(10)

	_, err := f.adapter.ScanTriggers(context.Background(), 1, 4, nil)
	require.Error(t, err)
	require.True(t, blockchain.IsRetryable(err))
}

func TestTriggersInBlock(t *testing.T) {
	ctx := context.Background()
	f := setupAdapter(t, 3)
	f.chain.AddLog(2, tokenAddr, transferTopic(t))

	blocks, err := f.adapter.ScanTriggers(ctx, 2, 2, transferFilter(t))
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	t.Run("scanned block is filtered without refetching", func(t *testing.T) {
		calls := f.chain.BlockCalls.Load()
		bwt, err := f.adapter.TriggersInBlock(ctx, blocks[0].Block, transferFilter(t))
		require.NoError(t, err)
		require.Equal(t, 1, bwt.TriggerCount())
		require.Equal(t, calls, f.chain.BlockCalls.Load())
	})

	t.Run("narrower filter drops triggers", func(t *testing.T) {
		narrow, err := NewLogFilter([]config.ContractConfig{{Address: otherAddr.Hex()}})
		require.NoError(t, err)
		bwt, err := f.adapter.TriggersInBlock(ctx, blocks[0].Block, narrow)
		require.NoError(t, err)
		require.Zero(t, bwt.TriggerCount())
	})

	t.Run("cached block yields no triggers", func(t *testing.T) {
		stored, err := f.store.Blocks(ctx, []blockchain.BlockHash{f.chain.Ptr(2).Hash})
		require.NoError(t, err)
		require.Len(t, stored, 1)
		bwt, err := f.adapter.TriggersInBlock(ctx, stored[0], transferFilter(t))
		require.NoError(t, err)
		require.Zero(t, bwt.TriggerCount())
		require.Equal(t, f.chain.Ptr(2), bwt.Ptr())
	})

	t.Run("foreign filter type is rejected", func(t *testing.T) {
		_, err := f.adapter.TriggersInBlock(ctx, blocks[0].Block, "not a filter")
		require.ErrorIs(t, err, ErrUnsupportedFilter)
	})
}

func TestAncestorBlock(t *testing.T) {
	ctx := context.Background()
	f := setupAdapter(t, 10)

	head := f.chain.Head()

	b, err := f.adapter.AncestorBlock(ctx, head, 0)
	require.NoError(t, err)
	require.Equal(t, head, b.Ptr())

	b, err = f.adapter.AncestorBlock(ctx, head, 4)
	require.NoError(t, err)
	require.Equal(t, f.chain.Ptr(6), b.Ptr())

	b, err = f.adapter.AncestorBlock(ctx, head, 10)
	require.NoError(t, err)
	require.Equal(t, f.chain.Ptr(0), b.Ptr())

	b, err = f.adapter.AncestorBlock(ctx, head, 11)
	require.NoError(t, err)
	require.Nil(t, b)

	// the second walk is served from the chain store
	calls := f.chain.BlockCalls.Load()
	b, err = f.adapter.AncestorBlock(ctx, head, 4)
	require.NoError(t, err)
	require.Equal(t, f.chain.Ptr(6), b.Ptr())
	require.Equal(t, calls, f.chain.BlockCalls.Load())
}

func TestAncestorBlock_UnknownBlock(t *testing.T) {
	f := setupAdapter(t, 3)

	b, err := f.adapter.AncestorBlock(context.Background(), testutil.Ptr("nowhere", 2), 1)
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestParentPtr(t *testing.T) {
	ctx := context.Background()
	f := setupAdapter(t, 5)

	parent, err := f.adapter.ParentPtr(ctx, f.chain.Ptr(0))
	require.NoError(t, err)
	require.Nil(t, parent)

	parent, err = f.adapter.ParentPtr(ctx, f.chain.Ptr(5))
	require.NoError(t, err)
	require.Equal(t, f.chain.Ptr(4), *parent)

	// blocks dropped from the canonical chain still resolve by hash
	old := f.chain.Ptr(4)
	f.chain.Fork("b", 2, 6)
	parent, err = f.adapter.ParentPtr(ctx, old)
	require.NoError(t, err)
	require.Equal(t, testutil.Ptr("a", 3), *parent)

	_, err = f.adapter.ParentPtr(ctx, testutil.Ptr("nowhere", 3))
	require.ErrorContains(t, err, "unknown")
}

func TestIsOnMainChain(t *testing.T) {
	ctx := context.Background()
	f := setupAdapter(t, 5)

	old := f.chain.Ptr(4)
	ok, err := f.adapter.IsOnMainChain(ctx, old)
	require.NoError(t, err)
	require.True(t, ok)

	f.chain.Fork("b", 2, 6)

	ok, err = f.adapter.IsOnMainChain(ctx, old)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.adapter.IsOnMainChain(ctx, f.chain.Ptr(2))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.adapter.IsOnMainChain(ctx, testutil.Ptr("b", 9))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChainHeadPtr_RecordsHead(t *testing.T) {
	ctx := context.Background()
	f := setupAdapter(t, 7)

	head, err := f.adapter.ChainHeadPtr(ctx)
	require.NoError(t, err)
	require.Equal(t, f.chain.Head(), *head)

	stored, err := f.store.ChainHead(ctx)
	require.NoError(t, err)
	require.Equal(t, *head, *stored)
}

func TestFetchChainIdentifier(t *testing.T) {
	f := setupAdapter(t, 1)

	client := irpc.NewClientFromRPC(f.chain.Dial(), nil, nil, logger.NewNopLogger())
	defer client.Close()

	ident, err := FetchChainIdentifier(context.Background(), "devnet", client)
	require.NoError(t, err)
	require.Equal(t, f.chain.Ident(), ident)
}

func TestChain_TriggersAdapter(t *testing.T) {
	f := setupAdapter(t, 1)
	deployment := blockchain.DeploymentLocator{ID: 1, Hash: "erc20-transfers"}

	chain := NewChain("devnet", f.adapter, false)

	adapter, err := chain.TriggersAdapter(deployment, nil, "0.0.7")
	require.NoError(t, err)
	require.Same(t, f.adapter, adapter)

	_, err = chain.TriggersAdapter(deployment, Capabilities{Archive: true}, "0.0.7")
	require.ErrorIs(t, err, ErrUnsupportedCapabilities)

	_, err = chain.TriggersAdapter(deployment, Capabilities{Traces: true}, "0.0.7")
	require.ErrorIs(t, err, ErrUnsupportedCapabilities)

	_, err = NewChain("devnet", f.adapter, true).TriggersAdapter(deployment, Capabilities{Archive: true}, "0.0.7")
	require.NoError(t, err)
}
