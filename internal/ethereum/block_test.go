package ethereum

import (
	"encoding/json"
	"testing"

	"github.com/goran-ethernal/ChainStream/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestParseBlock(t *testing.T) {
	parent := testutil.Hash("a", 6)
	hash := testutil.Hash("a", 7)
	raw := json.RawMessage(`{"number":"0x7","hash":"` + hash.Hex() + `","parentHash":"` + parent.Hex() + `","gasUsed":"0x5208"}`)

	b, err := ParseBlock(raw)
	require.NoError(t, err)
	require.Equal(t, testutil.Ptr("a", 7), b.Ptr())
	require.Equal(t, testutil.Ptr("a", 6), *b.ParentPtr())

	data, err := b.Data()
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(data))
}

func TestParseBlock_Genesis(t *testing.T) {
	hash := testutil.Hash("", 0)
	b, err := ParseBlock(json.RawMessage(`{"number":"0x0","hash":"` + hash.Hex() + `"}`))
	require.NoError(t, err)
	require.Nil(t, b.ParentPtr())
}

func TestParseBlock_Malformed(t *testing.T) {
	hash := testutil.Hash("a", 1).Hex()
	for name, raw := range map[string]string{
		"not json":        `[`,
		"missing hash":    `{"number":"0x1"}`,
		"missing number":  `{"hash":"` + hash + `"}`,
		"missing parent":  `{"number":"0x1","hash":"` + hash + `"}`,
		"number overflow": `{"number":"0xffffffffff","hash":"` + hash + `","parentHash":"` + hash + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBlock(json.RawMessage(raw))
			require.ErrorIs(t, err, ErrMalformedBlock)
		})
	}
}
