package blockchain

import (
	"context"
	"fmt"
)

// Cursor is an opaque, provider-defined resumption token.
type Cursor string

// NoCursor is used when the provider does not support resumption.
const NoCursor Cursor = ""

// IsNone reports whether the cursor carries no resumption data.
func (c Cursor) IsNone() bool {
	return c == NoCursor
}

// EventKind distinguishes block stream events.
type EventKind int

const (
	// EventProcessBlock applies a block as the new head.
	EventProcessBlock EventKind = iota
	// EventRevert rolls back to an ancestor which becomes the new head.
	EventRevert
)

// String returns the string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventProcessBlock:
		return "process_block"
	case EventRevert:
		return "revert"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// BlockStreamEvent is either ProcessBlock(block, cursor) or Revert(ptr, cursor).
type BlockStreamEvent struct {
	Kind EventKind

	// Block is set for EventProcessBlock.
	Block *BlockWithTriggers

	// RevertTo is set for EventRevert.
	RevertTo BlockPtr

	Cursor Cursor
}

// ProcessBlock creates a ProcessBlock event.
func ProcessBlock(block *BlockWithTriggers, cursor Cursor) BlockStreamEvent {
	return BlockStreamEvent{Kind: EventProcessBlock, Block: block, Cursor: cursor}
}

// Revert creates a Revert event.
func Revert(to BlockPtr, cursor Cursor) BlockStreamEvent {
	return BlockStreamEvent{Kind: EventRevert, RevertTo: to, Cursor: cursor}
}

// Ptr returns the subscriber head after the event is applied.
func (e BlockStreamEvent) Ptr() BlockPtr {
	if e.Kind == EventRevert {
		return e.RevertTo
	}
	return e.Block.Ptr()
}

// String returns a human-readable representation of the event.
func (e BlockStreamEvent) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.Ptr())
}

// BlockStream produces an ordered sequence of events. The consumer drives pacing:
// the next event is only computed when Next is called, after the previous one was applied.
type BlockStream interface {
	// Next blocks until the next event is available, the context is done or the stream fails.
	Next(ctx context.Context) (BlockStreamEvent, error)
	// Current returns the pointer the stream believes is the subscriber head.
	Current() *BlockPtr
	// Close releases the resources held by the stream.
	Close() error
}

// BlockStreamBuilder constructs block streams for a deployment.
type BlockStreamBuilder interface {
	BuildPolling(
		ctx context.Context,
		adapter TriggersAdapter,
		deployment DeploymentLocator,
		startBlocks []BlockNumber,
		current *BlockPtr,
		cursor Cursor,
		filter TriggerFilter,
		apiVersion APIVersion,
	) (BlockStream, error)
}

// CursorCodec is implemented by providers that support resumable cursors.
type CursorCodec interface {
	EncodeCursor(ptr BlockPtr) Cursor
	DecodeCursor(cursor Cursor) (*BlockPtr, error)
}
