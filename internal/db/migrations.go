package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/goran-ethernal/ChainStream/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

// Migrate applies every pending migration found in the root directory of files.
// Migration files carry "-- +migrate Up" and "-- +migrate Down" sections and run in
// the order of their numeric prefix.
func Migrate(log *logger.Logger, sqlDB *sql.DB, files embed.FS) (int, error) {
	source := &migrate.EmbedFileSystemMigrationSource{FileSystem: files, Root: "."}

	known, err := source.FindMigrations()
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}

	applied, err := migrate.Exec(sqlDB, "sqlite3", source, migrate.Up)
	if err != nil {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if applied > 0 {
		log.Infof("applied %d of %d migrations", applied, len(known))
	} else {
		log.Debugf("schema is up to date (%d migrations)", len(known))
	}
	return applied, nil
}
