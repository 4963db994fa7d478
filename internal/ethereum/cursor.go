package ethereum

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
)

var _ blockchain.CursorCodec = CursorCodec{}

// CursorCodec encodes stream positions as "<number>:<hash>".
type CursorCodec struct{}

// EncodeCursor implements blockchain.CursorCodec.
func (CursorCodec) EncodeCursor(ptr blockchain.BlockPtr) blockchain.Cursor {
	return blockchain.Cursor(fmt.Sprintf("%d:%s", ptr.Number, ptr.Hash.Hex()))
}

// DecodeCursor implements blockchain.CursorCodec. NoCursor decodes to nil.
func (CursorCodec) DecodeCursor(cursor blockchain.Cursor) (*blockchain.BlockPtr, error) {
	if cursor.IsNone() {
		return nil, nil
	}

	number, hash, ok := strings.Cut(string(cursor), ":")
	if !ok {
		return nil, fmt.Errorf("malformed cursor %q", cursor)
	}

	n, err := strconv.ParseInt(number, 10, 32)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("malformed cursor %q: bad block number", cursor)
	}

	raw, err := hexutil.Decode(hash)
	if err != nil || len(raw) != common.HashLength {
		return nil, fmt.Errorf("malformed cursor %q: bad block hash", cursor)
	}

	ptr := blockchain.NewBlockPtr(common.BytesToHash(raw), blockchain.BlockNumber(n))
	return &ptr, nil
}
