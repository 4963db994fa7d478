package blockstream

import (
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

var (
	// ErrRevertPastGenesis is returned when a fork would require reverting genesis.
	// It is fatal to the stream instance.
	ErrRevertPastGenesis = errors.New("revert past genesis requested")

	// ErrEndOfStream is returned when a finite candidate source is exhausted.
	ErrEndOfStream = errors.New("end of block stream")

	// ErrStreamClosed is returned by Next after Close.
	ErrStreamClosed = errors.New("block stream closed")
)

// AncestorLookupError is returned when the parent of a revert target cannot be resolved.
// It is fatal to the stream instance; the subscriber restarts from its checkpoint.
type AncestorLookupError struct {
	Ptr blockchain.BlockPtr
	Err error
}

func (e *AncestorLookupError) Error() string {
	return fmt.Sprintf("failed to look up parent of %s: %v", e.Ptr, e.Err)
}

func (e *AncestorLookupError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the stream instance.
func IsFatal(err error) bool {
	var lookupErr *AncestorLookupError
	return errors.Is(err, ErrRevertPastGenesis) || errors.As(err, &lookupErr)
}
