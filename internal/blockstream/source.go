package blockstream

import (
	"context"
	"fmt"
	"time"

	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

// CandidateSource offers the block the stream should consider next.
type CandidateSource interface {
	// Next returns the candidate following current. It blocks until one is available.
	// A finite source returns ErrEndOfStream when exhausted.
	Next(ctx context.Context, current *blockchain.BlockPtr) (*blockchain.BlockWithTriggers, error)
	// Advance reports that the candidate returned by Next was consumed.
	Advance()
	// Reset reports that the stream reverted and buffered candidates are stale.
	Reset()
}

// StaticSource replays a fixed sequence of chain heads. When the next block is not a
// descendant of the previous one, the stream reverts until it is.
type StaticSource struct {
	blocks []*blockchain.BlockWithTriggers
	next   int
}

// NewStaticSource creates a source positioned after current, or at the start when current is nil.
func NewStaticSource(blocks []*blockchain.BlockWithTriggers, current *blockchain.BlockPtr) (*StaticSource, error) {
	s := &StaticSource{blocks: blocks}
	if current == nil {
		return s, nil
	}

	for i, b := range blocks {
		if b.Ptr() == *current {
			s.next = i + 1
			return s, nil
		}
	}
	return nil, fmt.Errorf("current block %s is not part of the static chain", current)
}

// Next implements CandidateSource.
func (s *StaticSource) Next(context.Context, *blockchain.BlockPtr) (*blockchain.BlockWithTriggers, error) {
	if s.next >= len(s.blocks) {
		return nil, ErrEndOfStream
	}
	return s.blocks[s.next], nil
}

// Advance implements CandidateSource.
func (s *StaticSource) Advance() {
	s.next++
}

// Reset implements CandidateSource. The same head is offered again after a revert.
func (s *StaticSource) Reset() {}

// ParentPtr resolves parents from the static chain.
func (s *StaticSource) ParentPtr(_ context.Context, ptr blockchain.BlockPtr) (*blockchain.BlockPtr, error) {
	for _, b := range s.blocks {
		if b.Ptr() == ptr {
			return b.ParentPtr(), nil
		}
	}
	return nil, fmt.Errorf("block %s is not part of the static chain", ptr)
}

// PollingSource scans the provider through a triggers adapter in chunks and waits for
// new blocks once the subscriber reaches the provider head.
type PollingSource struct {
	adapter      blockchain.TriggersAdapter
	filter       blockchain.TriggerFilter
	start        blockchain.BlockNumber
	chunkSize    blockchain.BlockNumber
	pollInterval time.Duration
	log          *logger.Logger

	buffer []*blockchain.BlockWithTriggers
}

// NewPollingSource creates a polling source. start is the first height scanned when
// nothing has been applied yet.
func NewPollingSource(
	adapter blockchain.TriggersAdapter,
	filter blockchain.TriggerFilter,
	start blockchain.BlockNumber,
	chunkSize uint32,
	pollInterval time.Duration,
	log *logger.Logger,
) *PollingSource {
	return &PollingSource{
		adapter:      adapter,
		filter:       filter,
		start:        start,
		chunkSize:    blockchain.BlockNumber(max(chunkSize, 1)),
		pollInterval: pollInterval,
		log:          log,
	}
}

// Next implements CandidateSource.
func (p *PollingSource) Next(
	ctx context.Context,
	current *blockchain.BlockPtr,
) (*blockchain.BlockWithTriggers, error) {
	for len(p.buffer) == 0 {
		blocks, err := p.poll(ctx, current)
		if err != nil {
			return nil, err
		}
		if len(blocks) > 0 {
			p.buffer = blocks
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}

	return p.buffer[0], nil
}

// Advance implements CandidateSource.
func (p *PollingSource) Advance() {
	if len(p.buffer) > 0 {
		p.buffer = p.buffer[1:]
	}
}

// Reset implements CandidateSource.
func (p *PollingSource) Reset() {
	p.buffer = nil
}

// poll returns the next chunk of candidates after current, or nothing when the
// subscriber is at the provider head.
//
// The first candidate is the canonical block right above current. If current has
// left the canonical chain, that block does not extend it and the stream reverts;
// every revert lowers the height polled next, so the stream walks back exactly to
// the common ancestor. When current sits at the head height with another hash, the
// head itself is offered so the revert is triggered.
func (p *PollingSource) poll(
	ctx context.Context,
	current *blockchain.BlockPtr,
) ([]*blockchain.BlockWithTriggers, error) {
	head, err := p.adapter.ChainHeadPtr(ctx)
	if err != nil {
		return nil, err
	}

	var from blockchain.BlockNumber
	switch {
	case current == nil:
		from = p.start
	case current.Number < head.Number:
		from = current.Number + 1
	case *current == *head:
		return nil, nil
	case current.Number == head.Number:
		from = head.Number
	default:
		p.log.Debugf("provider head %s is behind subscriber head %s, waiting", head, current)
		return nil, nil
	}

	if from > head.Number {
		return nil, nil
	}

	to := min(from+p.chunkSize-1, head.Number)
	return p.adapter.ScanTriggers(ctx, from, to, p.filter)
}
