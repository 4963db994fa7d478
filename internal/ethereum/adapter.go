package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	irpc "github.com/goran-ethernal/ChainStream/internal/rpc"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/chainstore"
	pkgrpc "github.com/goran-ethernal/ChainStream/pkg/rpc"
)

var _ blockchain.TriggersAdapter = (*TriggersAdapter)(nil)

// TriggersAdapter fetches blocks and event logs from an Ethereum provider and
// caches every fetched block in the chain store.
type TriggersAdapter struct {
	chain  string
	client pkgrpc.EthClient
	store  chainstore.ChainStore
	log    *logger.Logger
}

// NewTriggersAdapter creates a triggers adapter for the chain the store holds.
func NewTriggersAdapter(client pkgrpc.EthClient, store chainstore.ChainStore, log *logger.Logger) *TriggersAdapter {
	return &TriggersAdapter{
		chain:  store.Chain(),
		client: client,
		store:  store,
		log:    log.WithComponent(internalcommon.ComponentTriggersAdapter),
	}
}

// ScanTriggers fetches the blocks from..=to together with the logs the filter selects.
// Every block in the range is returned, triggers or not, in ascending order. When the
// provider does not know a block yet, or its chain changes mid-scan, the result stops
// at the last consistent block.
func (a *TriggersAdapter) ScanTriggers(
	ctx context.Context,
	from, to blockchain.BlockNumber,
	filter blockchain.TriggerFilter,
) ([]*blockchain.BlockWithTriggers, error) {
	if from > to || from < 0 {
		return nil, fmt.Errorf("%w: [%d, %d]", blockchain.ErrInvalidScanRange, from, to)
	}

	logFilter, err := asLogFilter(filter)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	numbers := make([]uint64, 0, to-from+1)
	for n := from; n <= to; n++ {
		numbers = append(numbers, uint64(n))
	}

	raws, err := a.client.BatchBlocksByNumber(ctx, numbers)
	if err != nil {
		return nil, blockchain.NewProviderError(a.chain, "fetch blocks", err)
	}

	blocks, err := a.parseRange(from, raws)
	if err != nil || len(blocks) == 0 {
		return nil, err
	}

	last := blocks[len(blocks)-1].ptr.Number
	if !logFilter.IsEmpty() {
		if err := a.attachLogs(ctx, blocks, logFilter); err != nil {
			return nil, err
		}
	}

	stored := make([]blockchain.Block, len(blocks))
	for i, b := range blocks {
		stored[i] = b
	}
	if err := a.store.UpsertBlocks(ctx, stored, nil); err != nil {
		return nil, err
	}

	result := make([]*blockchain.BlockWithTriggers, 0, len(blocks))
	triggerCount := 0
	for _, b := range blocks {
		bwt := blockWithTriggers(b, logFilter)
		triggerCount += bwt.TriggerCount()
		result = append(result, bwt)
	}

	observeScan(a.chain, len(result), triggerCount, time.Since(start))
	a.log.Debugf("scanned blocks %d..%d: blocks=%d triggers=%d", from, last, len(result), triggerCount)

	return result, nil
}

// parseRange decodes a batch response starting at from. It stops at the first block
// the provider does not have and at the first break in the parent links.
func (a *TriggersAdapter) parseRange(from blockchain.BlockNumber, raws []json.RawMessage) ([]*Block, error) {
	blocks := make([]*Block, 0, len(raws))

	for i, raw := range raws {
		expected := from + blockchain.BlockNumber(i)
		if raw == nil {
			a.log.Debugf("block %d not available from provider yet, truncating scan", expected)
			break
		}

		b, err := ParseBlock(raw)
		if err != nil {
			return nil, blockchain.NewProviderError(a.chain, "fetch blocks", err)
		}
		if b.ptr.Number != expected {
			return nil, &blockchain.IntegrityError{
				Chain:    a.chain,
				Expected: fmt.Sprintf("block #%d", expected),
				Actual:   b.ptr.String(),
			}
		}

		if len(blocks) > 0 && b.parent != blocks[len(blocks)-1].ptr.Hash {
			a.log.Debugf("chain changed during scan at block %d, truncating scan", expected)
			break
		}

		blocks = append(blocks, b)
	}

	return blocks, nil
}

// attachLogs fetches logs for the blocks and assigns them by block hash.
func (a *TriggersAdapter) attachLogs(ctx context.Context, blocks []*Block, filter *LogFilter) error {
	from := uint64(blocks[0].ptr.Number)
	to := uint64(blocks[len(blocks)-1].ptr.Number)

	logs, err := a.fetchLogs(ctx, filter, from, to)
	if err != nil {
		return blockchain.NewProviderError(a.chain, "fetch logs", err)
	}

	byHash := make(map[common.Hash]*Block, len(blocks))
	for _, b := range blocks {
		byHash[b.ptr.Hash] = b
	}

	for _, log := range logs {
		if log.Removed {
			continue
		}
		b, ok := byHash[log.BlockHash]
		if !ok {
			// the logs were served from a different chain than the blocks
			return blockchain.NewProviderError(a.chain, "fetch logs",
				fmt.Errorf("log in block %d references unknown block hash %s", log.BlockNumber, log.BlockHash.Hex()))
		}
		b.logs = append(b.logs, log)
	}

	return nil
}

// fetchLogs queries from..=to, splitting the range when the provider reports too many results.
func (a *TriggersAdapter) fetchLogs(ctx context.Context, filter *LogFilter, from, to uint64) ([]types.Log, error) {
	logs, err := a.client.GetLogs(ctx, filter.Query(from, to))
	if err == nil {
		return logs, nil
	}

	hint, ok := irpc.TooManyResults(err)
	if !ok {
		return nil, err
	}

	mid := from + (to-from)/2
	if hint != nil && hint.From == from && hint.To < to {
		mid = hint.To
	}
	if from == to {
		return nil, fmt.Errorf("cannot split range further, single block %d has too many logs", from)
	}

	a.log.Infof("too many logs, splitting range %d..%d at %d", from, to, mid)

	head, err := a.fetchLogs(ctx, filter, from, mid)
	if err != nil {
		return nil, err
	}
	tail, err := a.fetchLogs(ctx, filter, mid+1, to)
	if err != nil {
		return nil, err
	}
	return append(head, tail...), nil
}

// TriggersInBlock selects the triggers of an already fetched block. Blocks that were
// not fetched by a scan, such as cached ones, carry no logs and yield no triggers.
func (a *TriggersAdapter) TriggersInBlock(
	_ context.Context,
	block blockchain.Block,
	filter blockchain.TriggerFilter,
) (*blockchain.BlockWithTriggers, error) {
	logFilter, err := asLogFilter(filter)
	if err != nil {
		return nil, err
	}

	if b, ok := block.(*Block); ok {
		return blockWithTriggers(b, logFilter), nil
	}
	return blockchain.NewBlockWithTriggers(block, nil), nil
}

// AncestorBlock walks offset parent links back from ptr, preferring cached blocks.
// It returns nil when the walk leaves the known chain.
func (a *TriggersAdapter) AncestorBlock(
	ctx context.Context,
	ptr blockchain.BlockPtr,
	offset blockchain.BlockNumber,
) (blockchain.Block, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative ancestor offset %d", offset)
	}
	if offset > ptr.Number {
		return nil, nil
	}

	current := ptr
	for range offset {
		b, err := a.block(ctx, current)
		if err != nil || b == nil {
			return nil, err
		}
		current = *b.ParentPtr()
	}

	return a.block(ctx, current)
}

// ParentPtr returns the parent of ptr, nil for genesis.
func (a *TriggersAdapter) ParentPtr(ctx context.Context, ptr blockchain.BlockPtr) (*blockchain.BlockPtr, error) {
	if ptr.IsGenesis() {
		return nil, nil
	}

	b, err := a.block(ctx, ptr)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("block %s is unknown to the chain store and the provider", ptr)
	}
	return b.ParentPtr(), nil
}

// IsOnMainChain reports whether the provider's canonical block at ptr's height is ptr.
func (a *TriggersAdapter) IsOnMainChain(ctx context.Context, ptr blockchain.BlockPtr) (bool, error) {
	raw, err := a.client.BlockByNumber(ctx, uint64(ptr.Number))
	if err != nil {
		return false, blockchain.NewProviderError(a.chain, "fetch block by number", err)
	}
	if raw == nil {
		return false, nil
	}

	b, err := ParseBlock(raw)
	if err != nil {
		return false, blockchain.NewProviderError(a.chain, "fetch block by number", err)
	}
	return b.ptr == ptr, nil
}

// ChainHeadPtr returns the provider's latest block and records it as the chain head.
func (a *TriggersAdapter) ChainHeadPtr(ctx context.Context) (*blockchain.BlockPtr, error) {
	number, err := a.client.BlockNumber(ctx)
	if err != nil {
		return nil, blockchain.NewProviderError(a.chain, "fetch head number", err)
	}

	raw, err := a.client.BlockByNumber(ctx, number)
	if err != nil {
		return nil, blockchain.NewProviderError(a.chain, "fetch head block", err)
	}
	if raw == nil {
		return nil, blockchain.NewProviderError(a.chain, "fetch head block",
			fmt.Errorf("head block %d not available", number))
	}

	b, err := ParseBlock(raw)
	if err != nil {
		return nil, blockchain.NewProviderError(a.chain, "fetch head block", err)
	}

	head := b.ptr
	if err := a.store.UpsertBlocks(ctx, []blockchain.Block{b}, &head); err != nil {
		return nil, err
	}
	return &head, nil
}

// block resolves a single block from the store, falling back to the provider.
// It returns nil when neither knows the block.
func (a *TriggersAdapter) block(ctx context.Context, ptr blockchain.BlockPtr) (blockchain.Block, error) {
	cached, err := a.store.Blocks(ctx, []blockchain.BlockHash{ptr.Hash})
	if err != nil {
		return nil, err
	}
	if len(cached) == 1 && cached[0].Number == ptr.Number {
		blockLookups.WithLabelValues(a.chain, "store").Inc()
		return cached[0], nil
	}

	blockLookups.WithLabelValues(a.chain, "provider").Inc()
	raw, err := a.client.BlockByHash(ctx, ptr.Hash)
	if err != nil {
		return nil, blockchain.NewProviderError(a.chain, "fetch block by hash", err)
	}
	if raw == nil {
		return nil, nil
	}

	b, err := ParseBlock(raw)
	if err != nil {
		return nil, blockchain.NewProviderError(a.chain, "fetch block by hash", err)
	}
	if b.ptr != ptr {
		return nil, &blockchain.IntegrityError{Chain: a.chain, Expected: ptr.String(), Actual: b.ptr.String()}
	}

	if err := a.store.UpsertBlocks(ctx, []blockchain.Block{b}, nil); err != nil {
		return nil, err
	}
	return b, nil
}

func blockWithTriggers(b *Block, filter *LogFilter) *blockchain.BlockWithTriggers {
	var triggers []blockchain.Trigger
	for _, log := range filter.Filter(b.logs) {
		triggers = append(triggers, &LogTrigger{Log: log})
	}
	return blockchain.NewBlockWithTriggers(b, triggers)
}

// ErrUnsupportedFilter is returned when a filter of another chain kind is passed in.
var ErrUnsupportedFilter = errors.New("unsupported trigger filter")

func asLogFilter(filter blockchain.TriggerFilter) (*LogFilter, error) {
	switch f := filter.(type) {
	case nil:
		return nil, nil
	case *LogFilter:
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedFilter, filter)
	}
}
