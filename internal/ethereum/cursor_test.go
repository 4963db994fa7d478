package ethereum

import (
	"testing"

	"github.com/goran-ethernal/ChainStream/internal/testutil"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/stretchr/testify/require"
)

func TestCursorCodec(t *testing.T) {
	codec := CursorCodec{}
	ptr := testutil.Ptr("a", 42)

	cursor := codec.EncodeCursor(ptr)
	require.Equal(t, "42:"+ptr.Hash.Hex(), string(cursor))

	decoded, err := codec.DecodeCursor(cursor)
	require.NoError(t, err)
	require.Equal(t, ptr, *decoded)

	decoded, err = codec.DecodeCursor(blockchain.NoCursor)
	require.NoError(t, err)
	require.Nil(t, decoded)

	for _, bad := range []string{"42", "x:" + ptr.Hash.Hex(), "-1:" + ptr.Hash.Hex(), "42:0x1234", "42:" + ptr.Hash.Hex()[2:]} {
		_, err := codec.DecodeCursor(blockchain.Cursor(bad))
		require.Error(t, err, bad)
	}
}
