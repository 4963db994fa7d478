package blockchain

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// BlockHash is the 256-bit identifier of a block.
type BlockHash = common.Hash

// BlockNumber is a block height. Genesis is 0.
type BlockNumber = int32

// GenesisBlockNumber is the height of the first block of every chain.
const GenesisBlockNumber BlockNumber = 0

// BlockPtr points at a block by hash and number.
// It is an immutable value type and equality is structural.
type BlockPtr struct {
	Hash   BlockHash   `json:"hash"`
	Number BlockNumber `json:"number"`
}

// NewBlockPtr creates a BlockPtr.
func NewBlockPtr(hash BlockHash, number BlockNumber) BlockPtr {
	return BlockPtr{Hash: hash, Number: number}
}

// IsGenesis reports whether the pointer refers to height 0.
func (p BlockPtr) IsGenesis() bool {
	return p.Number == GenesisBlockNumber
}

// String returns a human-readable representation of the pointer.
func (p BlockPtr) String() string {
	return fmt.Sprintf("#%d (%s)", p.Number, p.Hash.Hex())
}

// PtrEqual compares two optional pointers. Two nil pointers are equal.
func PtrEqual(a, b *BlockPtr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Block is a chain-specific block payload.
type Block interface {
	// Ptr returns the pointer to this block.
	Ptr() BlockPtr
	// ParentPtr returns the pointer to the logical predecessor, nil only for genesis.
	ParentPtr() *BlockPtr
	// Data returns the self-describing JSON representation of the block.
	Data() (json.RawMessage, error)
}

// Trigger is a unit of on-chain activity relevant to a subscriber.
type Trigger interface {
	// Kind names the trigger variant, e.g. "log".
	Kind() string
}

// TriggerFilter decides which triggers matter. It is opaque to the core and
// passed through to the TriggersAdapter unmodified.
type TriggerFilter any

// NodeCapabilities describes what a provider must support. Opaque to the core.
type NodeCapabilities any

// APIVersion is the mapping API version tag used for feature gating.
type APIVersion string

// BlockWithTriggers pairs a block with the triggers found in it.
// The trigger list may be empty.
type BlockWithTriggers struct {
	Block    Block
	Triggers []Trigger
}

// NewBlockWithTriggers creates a BlockWithTriggers.
func NewBlockWithTriggers(block Block, triggers []Trigger) *BlockWithTriggers {
	if triggers == nil {
		triggers = []Trigger{}
	}
	return &BlockWithTriggers{Block: block, Triggers: triggers}
}

// Ptr returns the pointer of the wrapped block.
func (b *BlockWithTriggers) Ptr() BlockPtr {
	return b.Block.Ptr()
}

// ParentPtr returns the parent pointer of the wrapped block.
func (b *BlockWithTriggers) ParentPtr() *BlockPtr {
	return b.Block.ParentPtr()
}

// TriggerCount returns the number of triggers in the block.
func (b *BlockWithTriggers) TriggerCount() int {
	return len(b.Triggers)
}

// ChainIdentifier is used to validate that a chain store matches the chain it is fed from.
type ChainIdentifier struct {
	NetVersion       string    `json:"net_version"`
	GenesisBlockHash BlockHash `json:"genesis_block_hash"`
}

// String returns a human-readable representation of the identifier.
func (c ChainIdentifier) String() string {
	return fmt.Sprintf("net_version=%s genesis=%s", c.NetVersion, c.GenesisBlockHash.Hex())
}

// DeploymentLocator identifies the subscriber a block stream is built for.
type DeploymentLocator struct {
	ID   int32  `json:"id"`
	Hash string `json:"hash"`
}

// String returns a human-readable representation of the locator.
func (d DeploymentLocator) String() string {
	return fmt.Sprintf("%s[%d]", d.Hash, d.ID)
}
