package blockstream

import (
	"context"
	"fmt"
	"slices"

	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/config"
)

var _ blockchain.BlockStreamBuilder = (*Builder)(nil)

// Builder constructs block streams for one chain.
type Builder struct {
	chain string
	codec blockchain.CursorCodec
	cfg   config.StreamConfig
	log   *logger.Logger
}

// NewBuilder creates a builder. codec may be nil when the chain has no resumable cursors.
func NewBuilder(chain string, codec blockchain.CursorCodec, cfg config.StreamConfig, log *logger.Logger) *Builder {
	cfg.ApplyDefaults()
	return &Builder{chain: chain, codec: codec, cfg: cfg, log: log}
}

// BuildPolling implements blockchain.BlockStreamBuilder.
//
// The stream resumes from the cursor when one is given, otherwise from current.
// When both are given they must point at the same block. With neither, the first
// block scanned is the lowest of startBlocks (genesis when empty). A resume point that
// is no longer canonical is accepted and counted; the reconciler reverts it.
func (b *Builder) BuildPolling(
	ctx context.Context,
	adapter blockchain.TriggersAdapter,
	deployment blockchain.DeploymentLocator,
	startBlocks []blockchain.BlockNumber,
	current *blockchain.BlockPtr,
	cursor blockchain.Cursor,
	filter blockchain.TriggerFilter,
	apiVersion blockchain.APIVersion,
) (blockchain.BlockStream, error) {
	current, err := b.resumePoint(current, cursor)
	if err != nil {
		return nil, err
	}

	var parent *blockchain.BlockPtr
	if current != nil && !current.IsGenesis() {
		parent, err = adapter.ParentPtr(ctx, *current)
		if err == nil && parent == nil {
			err = fmt.Errorf("no parent for non-genesis block")
		}
		if err != nil {
			return nil, &AncestorLookupError{Ptr: *current, Err: err}
		}
	}

	if current != nil {
		onMain, err := adapter.IsOnMainChain(ctx, *current)
		if err != nil {
			return nil, err
		}
		if !onMain {
			resumeOffMainChain.WithLabelValues(b.chain).Inc()
			b.log.Warnw("resume point is not on the provider's main chain, it will be reverted once the provider moves past it",
				"current", current.String())
		}
	}

	var start blockchain.BlockNumber
	if len(startBlocks) > 0 {
		start = slices.Min(startBlocks)
	}

	source := NewPollingSource(adapter, filter, start, b.cfg.ChunkSize, b.cfg.PollInterval.Duration, b.log)
	stream := newStream(b.chain, deployment, source, NewReconciler(current, parent, adapter), b.codec, b.log)

	stream.log.Infow("block stream created",
		"current", ptrString(current),
		"start_block", start,
		"api_version", apiVersion,
	)

	return stream, nil
}

// BuildStatic creates a stream over a fixed sequence of chain heads, resuming after current.
func (b *Builder) BuildStatic(
	deployment blockchain.DeploymentLocator,
	chain []*blockchain.BlockWithTriggers,
	current *blockchain.BlockPtr,
) (*Stream, error) {
	source, err := NewStaticSource(chain, current)
	if err != nil {
		return nil, err
	}

	var parent *blockchain.BlockPtr
	if current != nil {
		if parent, err = source.ParentPtr(context.Background(), *current); err != nil {
			return nil, err
		}
	}

	return newStream(b.chain, deployment, source, NewReconciler(current, parent, source), b.codec, b.log), nil
}

func (b *Builder) resumePoint(current *blockchain.BlockPtr, cursor blockchain.Cursor) (*blockchain.BlockPtr, error) {
	if cursor.IsNone() || b.codec == nil {
		return current, nil
	}

	fromCursor, err := b.codec.DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	if current != nil && !blockchain.PtrEqual(current, fromCursor) {
		return nil, fmt.Errorf("cursor points at %s but the current block is %s", fromCursor, current)
	}
	return fromCursor, nil
}

func ptrString(ptr *blockchain.BlockPtr) string {
	if ptr == nil {
		return "none"
	}
	return ptr.String()
}
