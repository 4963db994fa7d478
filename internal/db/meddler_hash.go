package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("hash", hashMeddler{})
}

// hashMeddler stores common.Hash fields as 0x-prefixed hex text. A NULL column reads
// back as the zero hash, or as nil for *common.Hash fields.
type hashMeddler struct{}

func (hashMeddler) PreRead(any) (any, error) {
	return new(sql.NullString), nil
}

func (hashMeddler) PostRead(fieldAddr, scanTarget any) error {
	text, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("hash meddler: unexpected scan target %T", scanTarget)
	}

	switch field := fieldAddr.(type) {
	case *common.Hash:
		*field = common.Hash{}
		if text.Valid {
			*field = common.HexToHash(text.String)
		}
	case **common.Hash:
		*field = nil
		if text.Valid {
			h := common.HexToHash(text.String)
			*field = &h
		}
	default:
		return fmt.Errorf("hash meddler: unsupported field type %T", fieldAddr)
	}
	return nil
}

func (hashMeddler) PreWrite(field any) (any, error) {
	switch v := field.(type) {
	case common.Hash:
		return v.Hex(), nil
	case *common.Hash:
		if v == nil {
			return nil, nil
		}
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("hash meddler: unsupported field type %T", field)
	}
}
