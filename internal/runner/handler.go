package runner

import (
	"context"

	"github.com/goran-ethernal/ChainStream/internal/ethereum"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

// Handler applies block stream events to the state of a subscriber.
// It is called sequentially per subscriber; the checkpoint is saved only after it returns nil.
type Handler interface {
	HandleEvent(ctx context.Context, subscriber string, event blockchain.BlockStreamEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, subscriber string, event blockchain.BlockStreamEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, subscriber string, event blockchain.BlockStreamEvent) error {
	return f(ctx, subscriber, event)
}

// LogHandler writes every trigger and revert to the log.
type LogHandler struct {
	log *logger.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(log *logger.Logger) *LogHandler {
	return &LogHandler{log: log}
}

func (h *LogHandler) HandleEvent(_ context.Context, subscriber string, event blockchain.BlockStreamEvent) error {
	if event.Kind == blockchain.EventRevert {
		h.log.Infow("revert", "subscriber", subscriber, "to", event.RevertTo.String())
		return nil
	}

	for _, trigger := range event.Block.Triggers {
		lt, ok := trigger.(*ethereum.LogTrigger)
		if !ok {
			h.log.Infow("trigger", "subscriber", subscriber, "kind", trigger.Kind())
			continue
		}

		var topic0 string
		if len(lt.Log.Topics) > 0 {
			topic0 = lt.Log.Topics[0].Hex()
		}
		h.log.Infow("log",
			"subscriber", subscriber,
			"block", event.Block.Ptr().Number,
			"address", lt.Log.Address.Hex(),
			"topic0", topic0,
			"tx", lt.Log.TxHash.Hex(),
			"index", lt.Log.Index,
		)
	}
	return nil
}
