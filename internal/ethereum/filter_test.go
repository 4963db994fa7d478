package ethereum

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainStream/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLogFilter(t *testing.T) {
	transfer := transferTopic(t)
	approval := crypto256("Approval(address,address,uint256)")

	f, err := NewLogFilter([]config.ContractConfig{
		{Address: tokenAddr.Hex(), Events: []string{transferSig}},
		{Address: otherAddr.Hex()},
	})
	require.NoError(t, err)
	require.False(t, f.IsEmpty())

	tests := []struct {
		name string
		log  types.Log
		want bool
	}{
		{name: "watched event", log: types.Log{Address: tokenAddr, Topics: []common.Hash{transfer}}, want: true},
		{name: "other event", log: types.Log{Address: tokenAddr, Topics: []common.Hash{approval}}},
		{name: "anonymous log", log: types.Log{Address: tokenAddr}},
		{name: "all events of contract", log: types.Log{Address: otherAddr, Topics: []common.Hash{approval}}, want: true},
		{name: "all events, no topics", log: types.Log{Address: otherAddr}, want: true},
		{name: "removed", log: types.Log{Address: tokenAddr, Topics: []common.Hash{transfer}, Removed: true}},
		{name: "unwatched contract", log: types.Log{Address: common.HexToAddress("0x01"), Topics: []common.Hash{transfer}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, f.Matches(tt.log))
		})
	}

	q := f.Query(10, 20)
	require.Equal(t, uint64(10), q.FromBlock.Uint64())
	require.Equal(t, uint64(20), q.ToBlock.Uint64())
	require.ElementsMatch(t, []common.Address{tokenAddr, otherAddr}, q.Addresses)
	require.Nil(t, q.Topics, "a contract without events widens the query")
}

func TestLogFilter_QueryNarrowsTopics(t *testing.T) {
	f, err := NewLogFilter([]config.ContractConfig{
		{Address: tokenAddr.Hex(), Events: []string{transferSig, "Approval(address,address,uint256)"}},
		{Address: otherAddr.Hex(), Events: []string{transferSig}},
	})
	require.NoError(t, err)

	q := f.Query(1, 1)
	require.Len(t, q.Topics, 1)
	require.Len(t, q.Topics[0], 2, "topics are deduplicated")
}

func TestLogFilter_Empty(t *testing.T) {
	var nilFilter *LogFilter
	require.True(t, nilFilter.IsEmpty())
	require.False(t, nilFilter.Matches(types.Log{Address: tokenAddr}))

	f, err := NewLogFilter(nil)
	require.NoError(t, err)
	require.True(t, f.IsEmpty())
}

func TestLogFilter_InvalidEvent(t *testing.T) {
	_, err := NewLogFilter([]config.ContractConfig{{Address: tokenAddr.Hex(), Events: []string{"Transfer("}}})
	require.ErrorContains(t, err, tokenAddr.Hex())
}

func crypto256(sig string) common.Hash {
	s, err := ParseEventSignature(sig)
	if err != nil {
		panic(err)
	}
	return s.Topic()
}
