package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/pkg/config"
)

// Maintenance serialises housekeeping of a chain database with the stores using it.
// Stores hold the shared operation lock for every statement; a maintenance pass holds
// it exclusively.
type Maintenance interface {
	// Start schedules background passes if enabled. It returns immediately.
	Start(ctx context.Context) error
	// Stop cancels the schedule and waits for a running pass to finish.
	Stop() error
	// AcquireOperationLock takes the shared lock and returns its release function.
	AcquireOperationLock() func()
	// RunMaintenance performs a pass: VACUUM, then a WAL checkpoint in the configured mode.
	RunMaintenance(ctx context.Context) error
	// Compact reclaims the space left behind by bulk deletes, whether or not
	// background maintenance is enabled.
	Compact(ctx context.Context) error
	// Stats reports the passes run so far.
	Stats() MaintenanceStats
}

// MaintenanceStats summarises the passes run by a coordinator.
type MaintenanceStats struct {
	Runs      uint64
	LastRun   time.Time
	LastError error
}

// NopMaintenance is used when no coordinator is configured.
type NopMaintenance struct{}

func (NopMaintenance) Start(context.Context) error          { return nil }
func (NopMaintenance) Stop() error                          { return nil }
func (NopMaintenance) AcquireOperationLock() func()         { return func() {} }
func (NopMaintenance) RunMaintenance(context.Context) error { return nil }
func (NopMaintenance) Compact(context.Context) error        { return nil }
func (NopMaintenance) Stats() MaintenanceStats              { return MaintenanceStats{} }

type trigger string

const (
	triggerStartup   trigger = "startup"
	triggerScheduled trigger = "scheduled"
	triggerManual    trigger = "manual"
	triggerCompact   trigger = "compact"
)

// Coordinator runs maintenance passes on the database of one chain.
type Coordinator struct {
	chain  string
	dbPath string
	db     *sql.DB
	cfg    config.MaintenanceConfig
	log    *logger.Logger

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   MaintenanceStats
}

// NewMaintenance returns a coordinator for the database at dbPath, or NopMaintenance
// when cfg is nil.
func NewMaintenance(
	chain, dbPath string,
	sqlDB *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
) Maintenance {
	if cfg == nil {
		return NopMaintenance{}
	}
	return newCoordinator(chain, dbPath, sqlDB, *cfg, log)
}

func newCoordinator(
	chain, dbPath string,
	sqlDB *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
) *Coordinator {
	return &Coordinator{
		chain:  chain,
		dbPath: dbPath,
		db:     sqlDB,
		cfg:    cfg,
		log:    log.WithComponent(common.ComponentMaintenance).WithFields("chain", chain),
	}
}

// Start runs the startup pass when configured and schedules the periodic one.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("background maintenance is disabled")
		return nil
	}
	if c.cancel != nil {
		return fmt.Errorf("maintenance for chain %s already started", c.chain)
	}

	ctx, c.cancel = context.WithCancel(ctx)

	if c.cfg.VacuumOnStartup {
		if err := c.pass(ctx, triggerStartup, c.cfg.WALCheckpointMode); err != nil {
			c.log.Warnf("startup maintenance failed: %v", err)
		}
	}

	interval := c.cfg.CheckInterval.Duration
	c.wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.pass(ctx, triggerScheduled, c.cfg.WALCheckpointMode); err != nil {
					c.log.Warnf("scheduled maintenance failed: %v", err)
				}
			}
		}
	})

	c.log.Infof("background maintenance started: interval=%v checkpoint=%s", interval, c.cfg.WALCheckpointMode)
	return nil
}

// Stop cancels the schedule and waits for the worker to exit.
func (c *Coordinator) Stop() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.cancel = nil
	c.log.Info("background maintenance stopped")
	return nil
}

// AcquireOperationLock takes the shared lock. Operations run concurrently with each
// other and never overlap a maintenance pass.
func (c *Coordinator) AcquireOperationLock() func() {
	c.opLock.RLock()
	return c.opLock.RUnlock
}

// RunMaintenance performs a pass with the configured checkpoint mode.
func (c *Coordinator) RunMaintenance(ctx context.Context) error {
	return c.pass(ctx, triggerManual, c.cfg.WALCheckpointMode)
}

// Compact vacuums the database and truncates the WAL.
func (c *Coordinator) Compact(ctx context.Context) error {
	return c.pass(ctx, triggerCompact, "TRUNCATE")
}

// Stats reports the passes run so far.
func (c *Coordinator) Stats() MaintenanceStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// pass holds the exclusive lock while it vacuums and checkpoints the WAL. A failed
// vacuum does not prevent the checkpoint; the first error is returned.
func (c *Coordinator) pass(ctx context.Context, trig trigger, checkpointMode string) error {
	start := time.Now()

	c.opLock.Lock()
	defer c.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	before, err := TotalSize(c.dbPath)
	if err != nil {
		c.log.Warnf("failed to measure database: %v", err)
	}

	// In WAL mode VACUUM writes the rebuilt file into the log; the checkpoint after it
	// moves the pages back and shrinks the main file.
	var passErr error
	if err := c.vacuum(ctx); err != nil {
		passErr = err
	}
	if err := c.checkpoint(ctx, checkpointMode); err != nil && passErr == nil {
		passErr = err
	}

	after, err := TotalSize(c.dbPath)
	if err != nil {
		c.log.Warnf("failed to measure database: %v", err)
	}

	elapsed := time.Since(start)
	maintenanceObserve(c.chain, trig, elapsed, passErr)
	dbSizeSet(c.chain, after)

	c.statsMu.Lock()
	c.stats.Runs++
	c.stats.LastRun = time.Now().UTC()
	c.stats.LastError = passErr
	c.statsMu.Unlock()

	if passErr != nil {
		return fmt.Errorf("%s maintenance of chain %s: %w", trig, c.chain, passErr)
	}

	if before > after {
		reclaimed := uint64(before - after)
		spaceReclaimedSet(c.chain, reclaimed)
		c.log.Infof("%s maintenance reclaimed %s in %v", trig, common.HumanBytes(reclaimed), elapsed)
	} else {
		c.log.Debugf("%s maintenance finished in %v", trig, elapsed)
	}
	return nil
}

func (c *Coordinator) checkpoint(ctx context.Context, mode string) error {
	journal, err := journalMode(ctx, c.db)
	if err != nil {
		return err
	}
	if journal != "WAL" {
		return nil
	}

	var busy, frames, checkpointed int
	err = c.db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)).
		Scan(&busy, &frames, &checkpointed)
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	walCheckpointInc(c.chain, strings.ToLower(mode))
	if busy > 0 {
		c.log.Warnf("wal checkpoint could not complete: %d of %d frames checkpointed", checkpointed, frames)
	} else {
		c.log.Debugf("wal checkpoint %s: %d frames", mode, checkpointed)
	}
	return nil
}

func (c *Coordinator) vacuum(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "VACUUM"); err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("vacuum: database is locked by another connection")
		}
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
