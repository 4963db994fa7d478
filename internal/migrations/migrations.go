package migrations

import (
	"database/sql"
	"embed"

	"github.com/goran-ethernal/ChainStream/internal/db"
	"github.com/goran-ethernal/ChainStream/internal/logger"
)

// Chain store schema (chains, blocks) followed by the subscriber checkpoints.
//
//go:embed *.sql
var files embed.FS

// Run brings the schema of an open chain database up to date.
func Run(log *logger.Logger, sqlDB *sql.DB) error {
	_, err := db.Migrate(log, sqlDB, files)
	return err
}
