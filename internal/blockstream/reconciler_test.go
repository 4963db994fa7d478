package blockstream

import (
	"context"
	"errors"
	"testing"

	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/internal/testutil"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/config"
	"github.com/stretchr/testify/require"
)

func withTriggers(blocks []*testutil.Block) []*blockchain.BlockWithTriggers {
	out := make([]*blockchain.BlockWithTriggers, len(blocks))
	for i, b := range blocks {
		out[i] = blockchain.NewBlockWithTriggers(b, nil)
	}
	return out
}

// heads concatenates chain segments into a sequence of chain heads.
func heads(segments ...[]*testutil.Block) []*blockchain.BlockWithTriggers {
	var out []*blockchain.BlockWithTriggers
	for _, s := range segments {
		out = append(out, withTriggers(s)...)
	}
	return out
}

func staticStream(t *testing.T, chain []*blockchain.BlockWithTriggers, current *blockchain.BlockPtr) *Stream {
	t.Helper()
	b := NewBuilder("devnet", nil, config.StreamConfig{}, logger.NewNopLogger())
	s, err := b.BuildStatic(blockchain.DeploymentLocator{ID: 1, Hash: "test"}, chain, current)
	require.NoError(t, err)
	return s
}

// drain collects events until the stream ends, returning the terminating error.
func drain(t *testing.T, s *Stream) ([]string, error) {
	t.Helper()
	var events []string
	for {
		ev, err := s.Next(context.Background())
		if err != nil {
			return events, err
		}
		events = append(events, ev.String())
		require.Less(t, len(events), 1000, "stream does not terminate")
	}
}

func process(branch string, n blockchain.BlockNumber) string {
	return blockchain.ProcessBlock(blockchain.NewBlockWithTriggers(&testutil.Block{Pointer: testutil.Ptr(branch, n)}, nil), "").String()
}

func revert(branch string, n blockchain.BlockNumber) string {
	return blockchain.Revert(testutil.Ptr(branch, n), "").String()
}

func TestStream_Linear(t *testing.T) {
	a := testutil.Chain("a", "", -1, 5)
	s := staticStream(t, heads(a), nil)

	events, err := drain(t, s)
	require.ErrorIs(t, err, ErrEndOfStream)
	require.Equal(t, []string{
		process("", 0), process("a", 1), process("a", 2), process("a", 3), process("a", 4), process("a", 5),
	}, events)
	require.Equal(t, testutil.Ptr("a", 5), *s.Current())
}

func TestStream_SingleRevert(t *testing.T) {
	a := testutil.Chain("a", "", -1, 3)
	b := testutil.Chain("b", "a", 2, 3)

	// applied through 3 on a, the provider now has 3 on b
	current := a[3].Ptr()
	s := staticStream(t, heads(a, b[3:]), &current)

	events, err := drain(t, s)
	require.ErrorIs(t, err, ErrEndOfStream)
	require.Equal(t, []string{revert("a", 2), process("b", 3)}, events)
}

func TestStream_MultipleReverts(t *testing.T) {
	a := testutil.Chain("a", "", -1, 5)
	b := testutil.Chain("b", "a", 2, 6)

	s := staticStream(t, heads(a, b[3:]), nil)

	events, err := drain(t, s)
	require.ErrorIs(t, err, ErrEndOfStream)

	// minimal reverts: 5 -> 4 -> 3 -> 2, the common ancestor
	require.Equal(t, []string{
		process("", 0), process("a", 1), process("a", 2), process("a", 3), process("a", 4), process("a", 5),
		revert("a", 4), revert("a", 3), revert("a", 2),
		process("b", 3), process("b", 4), process("b", 5), process("b", 6),
	}, events)
}

func TestStream_RevertsPrecedeReplacementBlocks(t *testing.T) {
	a := testutil.Chain("a", "", -1, 4)
	b := testutil.Chain("b", "a", 1, 4)
	c := testutil.Chain("c", "b", 3, 5)

	s := staticStream(t, heads(a, b[2:], c[4:]), nil)

	events, err := drain(t, s)
	require.ErrorIs(t, err, ErrEndOfStream)
	require.Equal(t, []string{
		process("", 0), process("a", 1), process("a", 2), process("a", 3), process("a", 4),
		revert("a", 3), revert("a", 2), revert("a", 1),
		process("b", 2), process("b", 3), process("b", 4),
		revert("b", 3),
		process("c", 4), process("c", 5),
	}, events)
}

func TestStream_NoOpCandidateEmitsNothing(t *testing.T) {
	a := testutil.Chain("a", "", -1, 3)
	chain := heads(a)
	chain = append(chain, chain[3]) // head repeated by the provider

	s := staticStream(t, chain, nil)
	events, err := drain(t, s)
	require.ErrorIs(t, err, ErrEndOfStream)
	require.Len(t, events, 4)
}

func TestStream_RevertPastGenesisIsFatal(t *testing.T) {
	genesis := testutil.Chain("a", "", -1, 0)
	// a chain with a different genesis
	other := &testutil.Block{Pointer: blockchain.NewBlockPtr(testutil.Hash("x", 1), 1), Parent: &blockchain.BlockPtr{
		Hash: testutil.Hash("x", 7), Number: 0,
	}}

	s := staticStream(t, heads(genesis, []*testutil.Block{other}), nil)

	events, err := drain(t, s)
	require.ErrorIs(t, err, ErrRevertPastGenesis)
	require.True(t, IsFatal(err))
	require.Equal(t, []string{process("", 0)}, events)

	// the failure is sticky
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrRevertPastGenesis)
}

func TestStream_ResumeFromAppliedBlock(t *testing.T) {
	a := testutil.Chain("a", "", -1, 5)
	current := a[2].Ptr()

	s := staticStream(t, heads(a), &current)
	events, err := drain(t, s)
	require.ErrorIs(t, err, ErrEndOfStream)
	require.Equal(t, []string{process("a", 3), process("a", 4), process("a", 5)}, events)

	unknown := testutil.Ptr("z", 2)
	_, err = NewBuilder("devnet", nil, config.StreamConfig{}, logger.NewNopLogger()).
		BuildStatic(blockchain.DeploymentLocator{}, heads(a), &unknown)
	require.Error(t, err)
}

func TestStream_Close(t *testing.T) {
	s := staticStream(t, heads(testutil.Chain("a", "", -1, 2)), nil)
	require.NoError(t, s.Close())

	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, ErrStreamClosed)
}

type failingResolver struct{}

func (failingResolver) ParentPtr(context.Context, blockchain.BlockPtr) (*blockchain.BlockPtr, error) {
	return nil, errors.New("provider gone")
}

func TestReconciler_AncestorLookupFailureIsFatal(t *testing.T) {
	a := testutil.Chain("a", "", -1, 3)
	b := testutil.Chain("b", "a", 1, 3)

	current := a[3].Ptr()
	parent := a[2].Ptr()
	r := NewReconciler(&current, &parent, failingResolver{})

	_, _, err := r.Step(context.Background(), blockchain.NewBlockWithTriggers(b[3], nil))

	var lookupErr *AncestorLookupError
	require.ErrorAs(t, err, &lookupErr)
	require.Equal(t, parent, lookupErr.Ptr)
	require.True(t, IsFatal(err))
}

func TestReconciler_ResolvesUnknownParent(t *testing.T) {
	a := testutil.Chain("a", "", -1, 3)
	b := testutil.Chain("b", "a", 2, 3)

	source, err := NewStaticSource(heads(a, b[3:]), nil)
	require.NoError(t, err)

	current := a[3].Ptr()
	r := NewReconciler(&current, nil, source)

	ev, consumed, err := r.Step(context.Background(), blockchain.NewBlockWithTriggers(b[3], nil))
	require.NoError(t, err)
	require.False(t, consumed)
	require.Equal(t, blockchain.EventRevert, ev.Kind)
	require.Equal(t, a[2].Ptr(), ev.RevertTo)
	require.Equal(t, a[1].Ptr(), *r.Parent())

	ev, consumed, err = r.Step(context.Background(), blockchain.NewBlockWithTriggers(b[3], nil))
	require.NoError(t, err)
	require.True(t, consumed)
	require.Equal(t, blockchain.EventProcessBlock, ev.Kind)
	require.Equal(t, b[3].Ptr(), *r.Current())
}
