package config

import (
	"cmp"
	"strings"
	"time"

	"github.com/goran-ethernal/ChainStream/internal/common"
)

var (
	journalModes    = []string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}
	syncModes       = []string{"FULL", "NORMAL", "OFF"}
	checkpointModes = []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
)

// DatabaseConfig describes the SQLite file backing a chain store.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path" toml:"path" jsonschema:"required,minLength=1"`

	// JournalMode defaults to WAL so readers never block the block stream writer
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode" jsonschema:"enum=WAL,enum=DELETE,enum=TRUNCATE,enum=PERSIST,enum=MEMORY,default=WAL"` //nolint:lll
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous" jsonschema:"enum=FULL,enum=NORMAL,enum=OFF,default=NORMAL"`                                 //nolint:lll

	// BusyTimeout is in milliseconds
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout" jsonschema:"minimum=0,default=5000"`

	// CacheSize follows the sqlite cache_size pragma: negative is KiB, positive is pages
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size" jsonschema:"default=10000"`

	MaxOpenConnections int  `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections" jsonschema:"minimum=0,default=25"` //nolint:lll
	MaxIdleConnections int  `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections" jsonschema:"minimum=0,default=5"`  //nolint:lll
	EnableForeignKeys  bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults fills unset tuning knobs and upper-cases the pragma values.
func (d *DatabaseConfig) ApplyDefaults() {
	d.JournalMode = strings.ToUpper(cmp.Or(d.JournalMode, "WAL"))
	d.Synchronous = strings.ToUpper(cmp.Or(d.Synchronous, "NORMAL"))
	d.BusyTimeout = cmp.Or(d.BusyTimeout, 5000)             //nolint:mnd
	d.CacheSize = cmp.Or(d.CacheSize, 10000)                //nolint:mnd
	d.MaxOpenConnections = cmp.Or(d.MaxOpenConnections, 25) //nolint:mnd
	d.MaxIdleConnections = cmp.Or(d.MaxIdleConnections, 5)  //nolint:mnd
}

func (d *DatabaseConfig) Validate() error {
	var p problems

	if d.Path == "" {
		p.addf("path is required")
	}
	p.oneOf("journal_mode", d.JournalMode, journalModes)
	p.oneOf("synchronous", d.Synchronous, syncModes)
	if d.MaxIdleConnections > d.MaxOpenConnections && d.MaxOpenConnections > 0 {
		p.addf("max_idle_connections %d exceeds max_open_connections %d", d.MaxIdleConnections, d.MaxOpenConnections)
	}

	return p.err()
}

// MaintenanceConfig configures periodic VACUUM and WAL checkpoints of the chain store.
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs one maintenance pass before the first subscriber starts
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode" jsonschema:"enum=PASSIVE,enum=FULL,enum=RESTART,enum=TRUNCATE,default=TRUNCATE"` //nolint:lll
}

func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	m.WALCheckpointMode = strings.ToUpper(cmp.Or(m.WALCheckpointMode, "TRUNCATE"))
}

func (m *MaintenanceConfig) Validate() error {
	var p problems

	p.oneOf("wal_checkpoint_mode", m.WALCheckpointMode, checkpointModes)
	if m.Enabled && m.CheckInterval.Duration <= 0 {
		p.addf("check_interval must be positive when maintenance is enabled")
	}

	return p.err()
}
