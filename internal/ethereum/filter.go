package ethereum

import (
	"bytes"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/config"
)

var _ blockchain.TriggerFilter = (*LogFilter)(nil)

// LogFilter selects event logs by contract address and event topic.
// A contract registered without events matches every log it emits.
type LogFilter struct {
	topics    map[common.Address]map[common.Hash]struct{}
	allTopics map[common.Address]struct{}
}

// NewLogFilter builds a filter from configured contracts.
func NewLogFilter(contracts []config.ContractConfig) (*LogFilter, error) {
	f := &LogFilter{
		topics:    make(map[common.Address]map[common.Hash]struct{}),
		allTopics: make(map[common.Address]struct{}),
	}

	for _, contract := range contracts {
		addr := common.HexToAddress(contract.Address)
		if len(contract.Events) == 0 {
			f.allTopics[addr] = struct{}{}
			continue
		}

		for _, event := range contract.Events {
			sig, err := ParseEventSignature(event)
			if err != nil {
				return nil, fmt.Errorf("contract %s: %w", contract.Address, err)
			}
			if _, ok := f.topics[addr]; !ok {
				f.topics[addr] = make(map[common.Hash]struct{})
			}
			f.topics[addr][sig.Topic()] = struct{}{}
		}
	}

	return f, nil
}

// IsEmpty reports whether the filter matches nothing.
func (f *LogFilter) IsEmpty() bool {
	return f == nil || (len(f.topics) == 0 && len(f.allTopics) == 0)
}

// Matches reports whether log is selected by the filter.
func (f *LogFilter) Matches(log types.Log) bool {
	if f.IsEmpty() || log.Removed {
		return false
	}
	if _, ok := f.allTopics[log.Address]; ok {
		return true
	}
	if len(log.Topics) == 0 {
		return false
	}
	_, ok := f.topics[log.Address][log.Topics[0]]
	return ok
}

// Addresses returns the watched addresses in a stable order.
func (f *LogFilter) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(f.topics)+len(f.allTopics))
	for addr := range f.allTopics {
		addrs = append(addrs, addr)
	}
	for addr := range f.topics {
		if _, dup := f.allTopics[addr]; !dup {
			addrs = append(addrs, addr)
		}
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	return addrs
}

// Query returns the eth_getLogs query covering from..=to.
// Topics are only narrowed when every address has an event list; Matches
// does the precise selection afterwards.
func (f *LogFilter) Query(from, to uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: f.Addresses(),
	}

	if len(f.allTopics) > 0 {
		return q
	}

	seen := make(map[common.Hash]struct{})
	var topic0 []common.Hash
	for _, topics := range f.topics {
		for topic := range topics {
			if _, ok := seen[topic]; !ok {
				seen[topic] = struct{}{}
				topic0 = append(topic0, topic)
			}
		}
	}
	slices.SortFunc(topic0, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
	q.Topics = [][]common.Hash{topic0}

	return q
}

// Filter returns the logs selected by the filter, in their original order.
func (f *LogFilter) Filter(logs []types.Log) []types.Log {
	var out []types.Log
	for _, log := range logs {
		if f.Matches(log) {
			out = append(out, log)
		}
	}
	return out
}
