package blockchain

import "context"

// TriggersAdapter decides which blocks and events matter to a subscriber.
// There is one implementation per supported chain family.
type TriggersAdapter interface {
	// AncestorBlock returns the block offset steps before ptr along its chain of parents.
	// It returns nil when the ancestor would precede genesis or cannot be resolved.
	AncestorBlock(ctx context.Context, ptr BlockPtr, offset BlockNumber) (Block, error)

	// ScanTriggers fetches and filters the contiguous range [from, to].
	// Blocks are returned in ascending height order. from > to is a caller error.
	ScanTriggers(ctx context.Context, from, to BlockNumber, filter TriggerFilter) ([]*BlockWithTriggers, error)

	// TriggersInBlock computes the triggers of an already fetched block without refetching it.
	TriggersInBlock(ctx context.Context, block Block, filter TriggerFilter) (*BlockWithTriggers, error)

	// IsOnMainChain reports whether ptr is on the canonical branch known to the provider.
	IsOnMainChain(ctx context.Context, ptr BlockPtr) (bool, error)

	// ParentPtr returns the parent of ptr, nil only for genesis.
	ParentPtr(ctx context.Context, ptr BlockPtr) (*BlockPtr, error)

	// ChainHeadPtr returns the provider's current chain head.
	ChainHeadPtr(ctx context.Context) (*BlockPtr, error)
}

// TriggersAdapterSelector selects the adapter for a deployment, given the
// capabilities it requires and its API version.
type TriggersAdapterSelector interface {
	TriggersAdapter(
		deployment DeploymentLocator,
		capabilities NodeCapabilities,
		apiVersion APIVersion,
	) (TriggersAdapter, error)
}
