package blockstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

// ParentResolver looks up the parent of a block.
type ParentResolver interface {
	ParentPtr(ctx context.Context, ptr blockchain.BlockPtr) (*blockchain.BlockPtr, error)
}

// Reconciler sequences candidate blocks against the subscriber head.
// It holds no history beyond the head and its parent; deeper ancestors are
// resolved on demand.
type Reconciler struct {
	current  *blockchain.BlockPtr
	parent   *blockchain.BlockPtr
	resolver ParentResolver
}

// NewReconciler starts from current, whose parent is parent. A nil current means
// nothing has been applied yet.
func NewReconciler(current, parent *blockchain.BlockPtr, resolver ParentResolver) *Reconciler {
	return &Reconciler{
		current:  clonePtr(current),
		parent:   clonePtr(parent),
		resolver: resolver,
	}
}

// Current returns the subscriber head, nil when nothing has been applied.
func (r *Reconciler) Current() *blockchain.BlockPtr {
	return clonePtr(r.current)
}

// Parent returns the parent of the subscriber head.
func (r *Reconciler) Parent() *blockchain.BlockPtr {
	return clonePtr(r.parent)
}

// Step decides what candidate means for the subscriber head.
//
// It returns a ProcessBlock event and consumed=true when candidate extends the head,
// no event and consumed=true when candidate is the head already, and a Revert event
// to the head's parent with consumed=false when candidate is on another branch. In
// the last case the same candidate must be offered again.
func (r *Reconciler) Step(
	ctx context.Context,
	candidate *blockchain.BlockWithTriggers,
) (event *blockchain.BlockStreamEvent, consumed bool, err error) {
	ptr := candidate.Ptr()

	if r.current != nil && *r.current == ptr {
		return nil, true, nil
	}

	if r.current == nil || blockchain.PtrEqual(candidate.ParentPtr(), r.current) {
		r.current = &ptr
		r.parent = clonePtr(candidate.ParentPtr())
		ev := blockchain.ProcessBlock(candidate, blockchain.NoCursor)
		return &ev, true, nil
	}

	if r.current.IsGenesis() {
		return nil, false, fmt.Errorf("%w: candidate %s does not descend from genesis %s",
			ErrRevertPastGenesis, ptr, r.current)
	}

	if r.parent == nil {
		// resumed without a known parent
		parent, err := r.lookupParent(ctx, *r.current)
		if err != nil {
			return nil, false, err
		}
		r.parent = parent
	}

	revertTo := *r.parent
	grandparent, err := r.lookupParent(ctx, revertTo)
	if err != nil {
		return nil, false, err
	}

	r.current = &revertTo
	r.parent = grandparent
	ev := blockchain.Revert(revertTo, blockchain.NoCursor)
	return &ev, false, nil
}

func (r *Reconciler) lookupParent(ctx context.Context, ptr blockchain.BlockPtr) (*blockchain.BlockPtr, error) {
	if ptr.IsGenesis() {
		return nil, nil
	}

	parent, err := r.resolver.ParentPtr(ctx, ptr)
	if err == nil && parent == nil {
		err = errors.New("no parent for non-genesis block")
	}
	if err != nil {
		return nil, &AncestorLookupError{Ptr: ptr, Err: err}
	}
	return parent, nil
}

func clonePtr(ptr *blockchain.BlockPtr) *blockchain.BlockPtr {
	if ptr == nil {
		return nil
	}
	cp := *ptr
	return &cp
}
