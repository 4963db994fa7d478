// Package testutil contains fixtures shared by package tests.
package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

// Block is an in-memory blockchain.Block.
type Block struct {
	Pointer blockchain.BlockPtr
	Parent  *blockchain.BlockPtr
	Extra   map[string]any
}

// Ptr implements blockchain.Block.
func (b *Block) Ptr() blockchain.BlockPtr { return b.Pointer }

// ParentPtr implements blockchain.Block.
func (b *Block) ParentPtr() *blockchain.BlockPtr { return b.Parent }

// Data implements blockchain.Block.
func (b *Block) Data() (json.RawMessage, error) {
	body := map[string]any{
		"hash":   b.Pointer.Hash.Hex(),
		"number": b.Pointer.Number,
	}
	if b.Parent != nil {
		body["parentHash"] = b.Parent.Hash.Hex()
	}
	for k, v := range b.Extra {
		body[k] = v
	}
	return json.Marshal(body)
}

// Hash derives a deterministic hash for the block at number on branch.
func Hash(branch string, number blockchain.BlockNumber) blockchain.BlockHash {
	if number == 0 {
		branch = "genesis"
	}
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%d", branch, number)))
}

// Ptr is the pointer of the block at number on branch.
func Ptr(branch string, number blockchain.BlockNumber) blockchain.BlockPtr {
	return blockchain.NewBlockPtr(Hash(branch, number), number)
}

// Chain builds the blocks 0..=to of branch. Blocks up to and including forkAt
// are shared with base, so Chain("a", "", -1, 5) is a plain chain and
// Chain("b", "a", 2, 5) forks off "a" after block 2.
func Chain(branch, base string, forkAt, to blockchain.BlockNumber) []*Block {
	blocks := make([]*Block, 0, to+1)
	for n := blockchain.BlockNumber(0); n <= to; n++ {
		owner := branch
		if n <= forkAt {
			owner = base
		}
		b := &Block{Pointer: Ptr(owner, n)}
		if n > 0 {
			parent := blocks[n-1].Pointer
			b.Parent = &parent
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// AsBlocks converts fixtures into the blockchain.Block interface.
func AsBlocks(blocks []*Block) []blockchain.Block {
	out := make([]blockchain.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b
	}
	return out
}
