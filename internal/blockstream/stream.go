package blockstream

import (
	"context"
	"strconv"
	"sync"

	internalcommon "github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/google/uuid"
)

var _ blockchain.BlockStream = (*Stream)(nil)

// Stream is a pull-based block stream: every call to Next performs at most the I/O
// needed to decide the next event.
type Stream struct {
	id         uuid.UUID
	chain      string
	deployment blockchain.DeploymentLocator
	source     CandidateSource
	reconciler *Reconciler
	codec      blockchain.CursorCodec
	log        *logger.Logger

	mu      sync.Mutex
	closed  bool
	fatal   error
	reverts int
}

func newStream(
	chain string,
	deployment blockchain.DeploymentLocator,
	source CandidateSource,
	reconciler *Reconciler,
	codec blockchain.CursorCodec,
	log *logger.Logger,
) *Stream {
	id := uuid.New()
	return &Stream{
		id:         id,
		chain:      chain,
		deployment: deployment,
		source:     source,
		reconciler: reconciler,
		codec:      codec,
		log:        log.WithComponent(internalcommon.ComponentBlockStream).
			WithFields("stream", id.String(), "deployment", deployment.String()),
	}
}

// ID returns the stream instance id used in logs.
func (s *Stream) ID() uuid.UUID {
	return s.id
}

// Current implements blockchain.BlockStream.
func (s *Stream) Current() *blockchain.BlockPtr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconciler.Current()
}

// Next implements blockchain.BlockStream. Provider errors leave the stream usable and
// Next may be called again; ErrRevertPastGenesis and AncestorLookupError end it.
func (s *Stream) Next(ctx context.Context) (blockchain.BlockStreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return blockchain.BlockStreamEvent{}, ErrStreamClosed
	}
	if s.fatal != nil {
		return blockchain.BlockStreamEvent{}, s.fatal
	}

	for {
		candidate, err := s.source.Next(ctx, s.reconciler.Current())
		if err != nil {
			return blockchain.BlockStreamEvent{}, err
		}

		event, consumed, err := s.reconciler.Step(ctx, candidate)
		if err != nil {
			s.fatal = err
			fatalErrors.WithLabelValues(s.chain).Inc()
			s.log.Errorw("block stream failed", "candidate", candidate.Ptr().String(), "error", err)
			return blockchain.BlockStreamEvent{}, err
		}

		if consumed {
			s.source.Advance()
		} else {
			s.source.Reset()
		}

		if event == nil {
			continue
		}

		s.observe(*event)
		if s.codec != nil {
			event.Cursor = s.codec.EncodeCursor(event.Ptr())
		}
		return *event, nil
	}
}

func (s *Stream) observe(event blockchain.BlockStreamEvent) {
	eventsEmitted.WithLabelValues(s.chain, event.Kind.String()).Inc()
	streamHead.WithLabelValues(s.chain, strconv.Itoa(int(s.deployment.ID))).Set(float64(event.Ptr().Number))

	switch event.Kind {
	case blockchain.EventRevert:
		s.reverts++
		s.log.Infow("reverting", "to", event.RevertTo.String())
	case blockchain.EventProcessBlock:
		if s.reverts > 0 {
			reorgLog(s.chain, s.reverts)
			s.log.Warnw("reorg handled", "depth", s.reverts, "new_block", event.Block.Ptr().String())
			s.reverts = 0
		}
		s.log.Debugw("processing block", "block", event.Block.Ptr().String(), "triggers", event.Block.TriggerCount())
	}
}

// Close implements blockchain.BlockStream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
