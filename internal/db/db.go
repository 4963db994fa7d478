package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goran-ethernal/ChainStream/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

// Open opens the SQLite database described by cfg, creating its directory when missing.
// Pragmas are passed in the DSN so every pooled connection gets them. Write transactions
// take the database lock up front (BEGIN IMMEDIATE) so concurrent writers queue on the
// busy timeout instead of failing on lock upgrade.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_foreign_keys", strconv.FormatBool(cfg.EnableForeignKeys))
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout))
	if cfg.JournalMode != "" {
		params.Set("_journal_mode", cfg.JournalMode)
	}
	if cfg.Synchronous != "" {
		params.Set("_synchronous", cfg.Synchronous)
	}
	if cfg.CacheSize != 0 {
		params.Set("_cache_size", strconv.Itoa(cfg.CacheSize))
	}

	sqlDB, err := sql.Open("sqlite3", "file:"+cfg.Path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}
	return sqlDB, nil
}

// sqlite keeps the write-ahead log and shared memory index next to the main file.
var sidecarSuffixes = []string{"", "-wal", "-shm"}

// TotalSize returns the combined size of the database file and its WAL/SHM sidecars.
// Missing files count as zero.
func TotalSize(dbPath string) (int64, error) {
	var total int64
	for _, suffix := range sidecarSuffixes {
		info, err := os.Stat(dbPath + suffix)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, fmt.Errorf("failed to stat %s: %w", dbPath+suffix, err)
		}
		total += info.Size()
	}
	return total, nil
}

func journalMode(ctx context.Context, sqlDB *sql.DB) (string, error) {
	var mode string
	if err := sqlDB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", fmt.Errorf("failed to read journal mode: %w", err)
	}
	return strings.ToUpper(mode), nil
}
