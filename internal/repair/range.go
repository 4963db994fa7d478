package repair

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

const (
	inclusiveSep = "..="
	exclusiveSep = ".."
)

// Range is a block number range expression: "A..B", "A..=B", "A..", "..B", "..=B" or "..".
type Range struct {
	Lower     *blockchain.BlockNumber
	Upper     *blockchain.BlockNumber
	Inclusive bool
}

// ParseRange parses a range expression. An open upper bound is always inclusive.
func ParseRange(expr string) (Range, error) {
	sep, inclusive := exclusiveSep, false
	switch {
	case strings.Contains(expr, inclusiveSep):
		sep, inclusive = inclusiveSep, true
	case strings.Contains(expr, exclusiveSep):
	default:
		return Range{}, validationErr("Malformed range expression")
	}

	parts := strings.Split(expr, sep)
	if len(parts) != 2 { //nolint:mnd
		return Range{}, validationErr("Invalid range")
	}

	lower, err := parseBound(parts[0])
	if err != nil {
		return Range{}, err
	}
	upper, err := parseBound(parts[1])
	if err != nil {
		return Range{}, err
	}

	if upper == nil {
		inclusive = true
	}
	if lower != nil && upper != nil && *lower > *upper {
		return Range{}, validationErr("Invalid range")
	}

	return Range{Lower: lower, Upper: upper, Inclusive: inclusive}, nil
}

func parseBound(s string) (*blockchain.BlockNumber, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return nil, &ValidationError{Msg: "Invalid range bound " + strconv.Quote(s), Err: err}
	}
	bound := blockchain.BlockNumber(n)
	return &bound, nil
}

// MinMax resolves the range to the heights it covers. An omitted lower bound is 1;
// a nil max means the chain head.
func (r Range) MinMax() (blockchain.BlockNumber, *blockchain.BlockNumber, error) {
	minBlock := blockchain.BlockNumber(1)
	if r.Lower != nil {
		switch {
		case *r.Lower == blockchain.GenesisBlockNumber:
			return 0, nil, validationErr("Genesis block can't be removed.")
		case *r.Lower < 0:
			return 0, nil, validationErr("Negative block number")
		}
		minBlock = *r.Lower
	}

	if r.Upper == nil {
		return minBlock, nil, nil
	}
	if *r.Upper < 0 {
		return 0, nil, validationErr("Negative block number")
	}

	maxBlock := *r.Upper
	if !r.Inclusive {
		maxBlock--
	}
	return minBlock, &maxBlock, nil
}

// ParseBlockHash parses a 32 byte hex hash with an optional 0x prefix.
func ParseBlockHash(s string) (blockchain.BlockHash, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	raw, err := hexutil.Decode("0x" + trimmed)
	if err != nil || len(raw) != common.HashLength {
		return blockchain.BlockHash{}, &ValidationError{
			Msg: "Cannot parse H256 value from string `" + trimmed + "`",
			Err: err,
		}
	}
	return common.BytesToHash(raw), nil
}
