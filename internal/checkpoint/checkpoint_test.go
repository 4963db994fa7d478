package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/ChainStream/internal/db"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/internal/migrations"
	"github.com/goran-ethernal/ChainStream/internal/testutil"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/config"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, chain string) *Store {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "checkpoints.sqlite")}
	cfg.ApplyDefaults()

	sqlDB, err := db.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, migrations.Run(logger.NewNopLogger(), sqlDB))

	return NewStore(sqlDB, chain, db.NopMaintenance{}, logger.NewNopLogger())
}

func TestStore_SaveGetReset(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, "devnet")

	cp, err := s.Get(ctx, "transfers")
	require.NoError(t, err)
	require.Nil(t, cp)

	first := testutil.Ptr("a", 7)
	require.NoError(t, s.Save(ctx, "transfers", first, "7:cursor"))

	cp, err = s.Get(ctx, "transfers")
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Equal(t, first, cp.Ptr())
	require.Equal(t, blockchain.Cursor("7:cursor"), cp.Cursor)
	require.Equal(t, "devnet", cp.Chain)
	require.Positive(t, cp.UpdatedAt)

	// a revert moves the checkpoint back
	reverted := testutil.Ptr("a", 6)
	require.NoError(t, s.Save(ctx, "transfers", reverted, blockchain.NoCursor))

	cp, err = s.Get(ctx, "transfers")
	require.NoError(t, err)
	require.Equal(t, reverted, cp.Ptr())
	require.True(t, cp.Cursor.IsNone())

	require.NoError(t, s.Reset(ctx, "transfers"))
	cp, err = s.Get(ctx, "transfers")
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestStore_SubscribersAndChainsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, "devnet")
	other := NewStore(s.db, "testnet", nil, logger.NewNopLogger())

	require.NoError(t, s.Save(ctx, "a", testutil.Ptr("a", 1), ""))
	require.NoError(t, s.Save(ctx, "b", testutil.Ptr("b", 2), ""))
	require.NoError(t, other.Save(ctx, "a", testutil.Ptr("c", 3), ""))

	cp, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, testutil.Ptr("a", 1), cp.Ptr())

	cp, err = s.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, testutil.Ptr("b", 2), cp.Ptr())

	cp, err = other.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, testutil.Ptr("c", 3), cp.Ptr())

	require.NoError(t, s.Reset(ctx, "a"))
	cp, err = other.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, cp)
}
