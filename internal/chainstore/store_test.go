package chainstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/internal/testutil"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/chainstore"
	"github.com/goran-ethernal/ChainStream/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdent() blockchain.ChainIdentifier {
	return blockchain.ChainIdentifier{NetVersion: "1337", GenesisBlockHash: testutil.Hash("", 0)}
}

func newTestConfig(t *testing.T) config.ChainConfig {
	t.Helper()

	cfg := config.ChainConfig{
		Name:   "devnet",
		RPCURL: "http://localhost:8545",
		DB:     config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "chain.sqlite")},
	}
	cfg.ApplyDefaults()
	return cfg
}

func setupStore(t *testing.T) *Handle {
	t.Helper()

	ident := testIdent()
	h, err := Open(context.Background(), newTestConfig(t), &ident, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestStore_UpsertAndRead(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	chain := testutil.Chain("a", "", -1, 3)
	head := chain[3].Ptr()
	require.NoError(t, s.UpsertBlocks(ctx, testutil.AsBlocks(chain), &head))

	stored, err := s.Blocks(ctx, []blockchain.BlockHash{chain[1].Pointer.Hash, chain[3].Pointer.Hash, common.HexToHash("0xdead")})
	require.NoError(t, err)
	require.Len(t, stored, 2)

	byHash := map[common.Hash]*chainstore.StoredBlock{}
	for _, b := range stored {
		byHash[b.Hash] = b
	}
	require.Equal(t, chain[1].Ptr(), byHash[chain[1].Pointer.Hash].Ptr())
	require.Equal(t, chain[0].Ptr(), *byHash[chain[1].Pointer.Hash].ParentPtr())

	data, err := byHash[chain[3].Pointer.Hash].Data()
	require.NoError(t, err)
	require.Contains(t, string(data), chain[3].Pointer.Hash.Hex())

	headNumber, err := s.ChainHeadBlock(ctx)
	require.NoError(t, err)
	require.NotNil(t, headNumber)
	require.Equal(t, blockchain.BlockNumber(3), *headNumber)
	gotHead, err := s.ChainHead(ctx)
	require.NoError(t, err)
	require.Equal(t, head, *gotHead)

	hashes, err := s.BlockHashesByBlockNumber(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []blockchain.BlockHash{chain[2].Pointer.Hash}, hashes)

	hashes, err = s.BlockHashesByBlockNumber(ctx, 42)
	require.NoError(t, err)
	require.Empty(t, hashes)
}

func TestStore_UninitialisedHead(t *testing.T) {
	s := setupStore(t)

	head, err := s.ChainHeadBlock(context.Background())
	require.NoError(t, err)
	require.Nil(t, head)
}

func TestStore_ForkedHeightsAreKept(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	a := testutil.Chain("a", "", -1, 3)
	b := testutil.Chain("b", "a", 1, 3)
	require.NoError(t, s.UpsertBlocks(ctx, testutil.AsBlocks(a), nil))
	require.NoError(t, s.UpsertBlocks(ctx, testutil.AsBlocks(b), nil))

	hashes, err := s.BlockHashesByBlockNumber(ctx, 2)
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	require.ElementsMatch(t, []blockchain.BlockHash{a[2].Pointer.Hash, b[2].Pointer.Hash}, hashes)

	hashes, err = s.BlockHashesByBlockNumber(ctx, 1)
	require.NoError(t, err)
	require.Len(t, hashes, 1)
}

func TestStore_CachedBodiesAreImmutable(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	chain := testutil.Chain("a", "", -1, 1)
	require.NoError(t, s.UpsertBlocks(ctx, testutil.AsBlocks(chain), nil))

	changed := *chain[1]
	changed.Extra = map[string]any{"gasUsed": "0x1"}
	require.NoError(t, s.UpsertBlocks(ctx, []blockchain.Block{&changed}, nil))

	stored, err := s.Blocks(ctx, []blockchain.BlockHash{chain[1].Pointer.Hash})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotContains(t, stored[0].Body, "gasUsed")
}

func TestStore_DeleteBlocks(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	chain := testutil.Chain("a", "", -1, 3)
	require.NoError(t, s.UpsertBlocks(ctx, testutil.AsBlocks(chain), nil))

	// warm the body cache so deletion has to evict it
	_, err := s.Blocks(ctx, []blockchain.BlockHash{chain[2].Pointer.Hash})
	require.NoError(t, err)

	deleted, err := s.DeleteBlocks(ctx, []blockchain.BlockHash{chain[2].Pointer.Hash})
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	stored, err := s.Blocks(ctx, []blockchain.BlockHash{chain[2].Pointer.Hash})
	require.NoError(t, err)
	require.Empty(t, stored)

	// idempotent
	deleted, err = s.DeleteBlocks(ctx, []blockchain.BlockHash{chain[2].Pointer.Hash})
	require.NoError(t, err)
	require.Zero(t, deleted)

	deleted, err = s.DeleteBlocks(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestStore_DeleteGenesisFails(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	chain := testutil.Chain("a", "", -1, 2)
	require.NoError(t, s.UpsertBlocks(ctx, testutil.AsBlocks(chain), nil))

	_, err := s.DeleteBlocks(ctx, []blockchain.BlockHash{chain[0].Pointer.Hash, chain[1].Pointer.Hash})
	require.ErrorIs(t, err, chainstore.ErrGenesisDeletion)

	// nothing was removed
	stored, err := s.Blocks(ctx, []blockchain.BlockHash{chain[0].Pointer.Hash, chain[1].Pointer.Hash})
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestStore_TruncateBlockCache(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	chain := testutil.Chain("a", "", -1, 5)
	head := chain[5].Ptr()
	require.NoError(t, s.UpsertBlocks(ctx, testutil.AsBlocks(chain), &head))

	deleted, err := s.TruncateBlockCache(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), deleted)

	hashes, err := s.BlockHashesByBlockNumber(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hashes, 1, "genesis survives truncation")

	for n := blockchain.BlockNumber(1); n <= 5; n++ {
		hashes, err := s.BlockHashesByBlockNumber(ctx, n)
		require.NoError(t, err)
		require.Empty(t, hashes)
	}

	// head pointer is not reset implicitly
	got, err := s.ChainHead(ctx)
	require.NoError(t, err)
	require.Equal(t, head, *got)

	// truncating an empty cache succeeds
	deleted, err = s.TruncateBlockCache(ctx)
	require.NoError(t, err)
	require.Zero(t, deleted)

	require.NoError(t, s.Compact(ctx))
}

func TestStore_ChainIdentifier(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	ident := testIdent()

	h, err := Open(ctx, cfg, &ident, logger.NewNopLogger())
	require.NoError(t, err)
	chain := testutil.Chain("a", "", -1, 2)
	head := chain[2].Ptr()
	require.NoError(t, h.UpsertBlocks(ctx, testutil.AsBlocks(chain), &head))
	require.NoError(t, h.Close())

	t.Run("reopen with the same identifier restores the head", func(t *testing.T) {
		h, err := Open(ctx, cfg, &ident, logger.NewNopLogger())
		require.NoError(t, err)
		defer h.Close()
		got, err := h.ChainHead(ctx)
		require.NoError(t, err)
		require.Equal(t, head, *got)
	})

	t.Run("reopen without identifier uses the recorded one", func(t *testing.T) {
		h, err := Open(ctx, cfg, nil, logger.NewNopLogger())
		require.NoError(t, err)
		defer h.Close()
		require.Equal(t, ident, h.ChainIdentifier())
	})

	t.Run("different net version is rejected", func(t *testing.T) {
		other := ident
		other.NetVersion = "5"
		_, err := Open(ctx, cfg, &other, logger.NewNopLogger())
		require.ErrorIs(t, err, chainstore.ErrChainIdentifierMismatch)
	})

	t.Run("unknown chain without identifier is rejected", func(t *testing.T) {
		fresh := newTestConfig(t)
		_, err := Open(ctx, fresh, nil, logger.NewNopLogger())
		require.ErrorContains(t, err, "not initialised")
	})
}

func TestStore_ConcurrentReadersSeeConsistentHead(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	chain := testutil.Chain("a", "", -1, 50)
	require.NoError(t, s.UpsertBlocks(ctx, testutil.AsBlocks(chain[:1]), nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i < len(chain); i++ {
			head := chain[i].Ptr()
			assert.NoError(t, s.UpsertBlocks(ctx, []blockchain.Block{chain[i]}, &head))
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				head, err := s.ChainHead(ctx)
				if !assert.NoError(t, err) || head == nil {
					continue
				}
				// a head is only ever published together with its block
				stored, err := s.Blocks(ctx, []blockchain.BlockHash{head.Hash})
				assert.NoError(t, err)
				assert.Len(t, stored, 1)
			}
		}()
	}

	wg.Wait()
}

func TestNewStoredBlock_RejectsNonAdjacentParent(t *testing.T) {
	parent := testutil.Ptr("a", 1)
	b := &testutil.Block{Pointer: testutil.Ptr("a", 5), Parent: &parent}

	_, err := chainstore.NewStoredBlock("devnet", b)
	require.ErrorContains(t, err, "non-adjacent")

	orphan := &testutil.Block{Pointer: testutil.Ptr("a", 5)}
	_, err = chainstore.NewStoredBlock("devnet", orphan)
	require.ErrorContains(t, err, "no parent")
}
