package chainstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goran-ethernal/ChainStream/internal/db"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/internal/migrations"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/goran-ethernal/ChainStream/pkg/config"
)

// Handle owns the database of a chain store together with its maintenance coordinator.
type Handle struct {
	*Store

	DB          *sql.DB
	Maintenance db.Maintenance
}

// Open opens (and migrates) the database configured for chain and returns a store on it.
// ident follows the same rules as in New.
func Open(
	ctx context.Context,
	cfg config.ChainConfig,
	ident *blockchain.ChainIdentifier,
	log *logger.Logger,
) (*Handle, error) {
	sqlDB, err := db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open chain store database %s: %w", cfg.DB.Path, err)
	}

	if err := migrations.Run(log, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate chain store database: %w", err)
	}

	maintenance := db.NewMaintenance(cfg.Name, cfg.DB.Path, sqlDB, cfg.Maintenance, log)

	store, err := New(ctx, cfg.Name, ident, sqlDB, cfg.Cache.BlockCacheSize, maintenance, log)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Handle{Store: store, DB: sqlDB, Maintenance: maintenance}, nil
}

// Close stops background maintenance and closes the database.
func (h *Handle) Close() error {
	if err := h.Maintenance.Stop(); err != nil {
		h.log.Warnf("failed to stop maintenance: %v", err)
	}
	return h.DB.Close()
}
