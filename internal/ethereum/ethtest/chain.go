// Package ethtest serves an in-memory Ethereum chain over an in-process JSON-RPC server.
package ethtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/ChainStream/internal/testutil"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

// NetVersion is the network version the fake chain reports.
const NetVersion = "1337"

// errUnavailable is classified as transient by the RPC client.
var errUnavailable = errors.New("503 service unavailable")

// Chain is a mutable fake chain. Blocks of every branch stay retrievable by hash;
// only the canonical branch is served by number.
type Chain struct {
	mu        sync.Mutex
	blocks    map[common.Hash]map[string]any
	canonical []common.Hash
	logs      map[common.Hash][]types.Log
	maxLogs   int
	failures  int
	hidden    map[common.Hash]bool

	server *rpc.Server

	BlockCalls atomic.Int64
	LogCalls   atomic.Int64
}

// NewChain creates a chain with blocks 0..=head on branch "a".
func NewChain(head blockchain.BlockNumber) *Chain {
	c := &Chain{
		blocks: make(map[common.Hash]map[string]any),
		logs:   make(map[common.Hash][]types.Log),
		hidden: make(map[common.Hash]bool),
		server: rpc.NewServer(),
	}
	c.Extend("a", head)

	if err := c.server.RegisterName("eth", &ethService{c: c}); err != nil {
		panic(err)
	}
	if err := c.server.RegisterName("net", &netService{}); err != nil {
		panic(err)
	}
	return c
}

// Dial returns an RPC client connected to the chain.
func (c *Chain) Dial() *rpc.Client {
	return rpc.DialInProc(c.server)
}

// Close stops the RPC server.
func (c *Chain) Close() {
	c.server.Stop()
}

// Extend appends blocks of branch on top of the canonical head up to and including to.
func (c *Chain) Extend(branch string, to blockchain.BlockNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for n := blockchain.BlockNumber(len(c.canonical)); n <= to; n++ {
		var parent common.Hash
		if n > 0 {
			parent = c.canonical[n-1]
		}
		hash := testutil.Hash(branch, n)
		c.blocks[hash] = map[string]any{
			"number":     hexutil.Uint64(n),
			"hash":       hash,
			"parentHash": parent,
			"timestamp":  hexutil.Uint64(1_700_000_000 + 12*int64(n)),
			"gasUsed":    hexutil.Uint64(0),
			"miner":      common.Address{},
		}
		c.canonical = append(c.canonical, hash)
	}
}

// Fork replaces the canonical blocks above at with blocks of branch up to and including to.
// The replaced blocks remain retrievable by hash.
func (c *Chain) Fork(branch string, at, to blockchain.BlockNumber) {
	c.mu.Lock()
	c.canonical = c.canonical[:at+1]
	c.mu.Unlock()

	c.Extend(branch, to)
}

// Rewind drops canonical blocks above to, as a provider that lost its tip would.
func (c *Chain) Rewind(to blockchain.BlockNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canonical = c.canonical[:to+1]
}

// Head returns the canonical head.
func (c *Chain) Head() blockchain.BlockPtr {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.canonical) - 1
	return blockchain.NewBlockPtr(c.canonical[n], blockchain.BlockNumber(n))
}

// Ptr returns the canonical block pointer at n.
func (c *Chain) Ptr(n blockchain.BlockNumber) blockchain.BlockPtr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return blockchain.NewBlockPtr(c.canonical[n], n)
}

// AddLog attaches a log emitted by address with topic0 to the canonical block at n.
func (c *Chain) AddLog(n blockchain.BlockNumber, address common.Address, topic0 common.Hash) types.Log {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := c.canonical[n]
	index := uint(len(c.logs[hash]))
	log := types.Log{
		Address:     address,
		Topics:      []common.Hash{topic0},
		Data:        []byte{},
		BlockNumber: uint64(n),
		BlockHash:   hash,
		TxHash:      crypto.Keccak256Hash(hash[:], []byte{byte(index)}),
		Index:       index,
	}
	c.logs[hash] = append(c.logs[hash], log)
	return log
}

// SetBlockField overwrites a field of the block with hash as served by the provider.
func (c *Chain) SetBlockField(hash common.Hash, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[hash][key] = value
}

// Hide makes the provider answer null for the block with hash when asked by hash.
func (c *Chain) Hide(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hidden[hash] = true
}

// FailNext makes the next n eth_ calls fail with a transient error.
func (c *Chain) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
}

// SetMaxLogs makes eth_getLogs reject queries returning more than max logs.
func (c *Chain) SetMaxLogs(maxLogs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxLogs = maxLogs
}

// RawBlock returns the body the provider serves for hash.
func (c *Chain) RawBlock(hash common.Hash) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawLocked(hash)
}

func (c *Chain) rawLocked(hash common.Hash) json.RawMessage {
	body, ok := c.blocks[hash]
	if !ok {
		return nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return raw
}

func (c *Chain) fail() error {
	if c.failures > 0 {
		c.failures--
		return errUnavailable
	}
	return nil
}

type ethService struct {
	c *Chain
}

func (s *ethService) BlockNumber() (hexutil.Uint64, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.c.fail(); err != nil {
		return 0, err
	}
	return hexutil.Uint64(len(s.c.canonical) - 1), nil
}

func (s *ethService) GetBlockByNumber(number hexutil.Uint64, _ bool) (json.RawMessage, error) {
	s.c.BlockCalls.Add(1)
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.c.fail(); err != nil {
		return nil, err
	}
	if int(number) >= len(s.c.canonical) {
		return nil, nil
	}
	return s.c.rawLocked(s.c.canonical[number]), nil
}

func (s *ethService) GetBlockByHash(hash common.Hash, _ bool) (json.RawMessage, error) {
	s.c.BlockCalls.Add(1)
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.c.fail(); err != nil {
		return nil, err
	}
	if s.c.hidden[hash] {
		return nil, nil
	}
	return s.c.rawLocked(hash), nil
}

type filterArg struct {
	FromBlock *hexutil.Uint64 `json:"fromBlock"`
	ToBlock   *hexutil.Uint64 `json:"toBlock"`
	Address   json.RawMessage `json:"address"`
	Topics    [][]common.Hash `json:"topics"`
}

func (f filterArg) addresses() (map[common.Address]bool, error) {
	if len(f.Address) == 0 {
		return nil, nil
	}
	var many []common.Address
	if err := json.Unmarshal(f.Address, &many); err != nil {
		var one common.Address
		if err := json.Unmarshal(f.Address, &one); err != nil {
			return nil, err
		}
		many = []common.Address{one}
	}
	set := make(map[common.Address]bool, len(many))
	for _, a := range many {
		set[a] = true
	}
	return set, nil
}

func (s *ethService) GetLogs(arg filterArg) ([]types.Log, error) {
	s.c.LogCalls.Add(1)
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.c.fail(); err != nil {
		return nil, err
	}

	addrs, err := arg.addresses()
	if err != nil {
		return nil, err
	}

	from, to := uint64(0), uint64(len(s.c.canonical)-1)
	if arg.FromBlock != nil {
		from = uint64(*arg.FromBlock)
	}
	if arg.ToBlock != nil {
		to = min(uint64(*arg.ToBlock), to)
	}

	out := []types.Log{}
	for n := from; n <= to; n++ {
		for _, log := range s.c.logs[s.c.canonical[n]] {
			if addrs != nil && !addrs[log.Address] {
				continue
			}
			if len(arg.Topics) > 0 && len(arg.Topics[0]) > 0 && !containsTopic(arg.Topics[0], log.Topics[0]) {
				continue
			}
			out = append(out, log)
		}
	}

	if s.c.maxLogs > 0 && len(out) > s.c.maxLogs {
		return nil, &tooManyResultsError{limit: s.c.maxLogs}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out, nil
}

func containsTopic(topics []common.Hash, topic common.Hash) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// tooManyResultsError mimics the data error providers return for oversized log queries.
type tooManyResultsError struct {
	limit int
}

func (e *tooManyResultsError) Error() string  { return "query returned more than allowed results" }
func (e *tooManyResultsError) ErrorCode() int { return -32005 }
func (e *tooManyResultsError) ErrorData() any {
	return fmt.Sprintf("Query returned more than %d results.", e.limit)
}

type netService struct{}

func (s *netService) Version() string {
	return NetVersion
}

// Ident returns the identifier a provider for this chain reports.
func (c *Chain) Ident() blockchain.ChainIdentifier {
	return blockchain.ChainIdentifier{NetVersion: NetVersion, GenesisBlockHash: c.Ptr(0).Hash}
}
