package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goran-ethernal/ChainStream/internal/logger"
	"github.com/goran-ethernal/ChainStream/pkg/config"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile_Examples(t *testing.T) {
	for _, file := range []string{"config.example.yaml", "config.example.json", "config.example.toml"} {
		t.Run(file, func(t *testing.T) {
			cfg, err := LoadFromFile(filepath.Join("..", "..", file))
			require.NoError(t, err)

			require.Len(t, cfg.Chains, 1)
			chain := cfg.Chains[0]
			require.Equal(t, "mainnet", chain.Name)
			require.Equal(t, "1", chain.NetVersion)
			require.Equal(t, "./data/mainnet.sqlite", chain.DB.Path)
			require.Equal(t, 5000, chain.DB.BusyTimeout, "default applied")
			require.Equal(t, uint32(100), chain.Stream.ChunkSize)
			require.Equal(t, 6*time.Second, chain.Stream.PollInterval.Duration)
			require.Equal(t, 30*time.Second, chain.Retry.MaxBackoff.Duration)
			require.Equal(t, 40, chain.RateLimit.Burst)
			require.Equal(t, 2048, chain.Cache.BlockCacheSize)
			require.Equal(t, 30*time.Minute, chain.Maintenance.CheckInterval.Duration)

			require.Len(t, chain.Subscribers, 1)
			sub := chain.Subscribers[0]
			require.Equal(t, "erc20-transfers", sub.Name)
			require.Equal(t, uint64(19_000_000), sub.StartBlock)
			require.Len(t, sub.Contracts, 1)
			require.Len(t, sub.Contracts[0].Events, 2)

			require.NotNil(t, cfg.Logging)
			require.Equal(t, "debug", cfg.Logging.GetComponentLevel("block-stream"))
			require.Equal(t, "info", cfg.Logging.GetComponentLevel("rpc"))
			require.NotNil(t, cfg.Metrics)
			require.Equal(t, ":9090", cfg.Metrics.ListenAddress)
		})
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.ini")
	require.ErrorContains(t, err, "unsupported config file format")
}

func TestLoadFromFile_UnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "config.yaml",
			content: `chains:
  - name: devnet
    rpc_url: "http://localhost:8545"
    db:
      path: "./devnet.sqlite"
    stream:
      poll_intervall: 1s
`,
		},
		{
			name:    "config.json",
			content: `{"chains":[{"name":"devnet","rpc_url":"http://localhost:8545","db":{"path":"./d.sqlite"},"chunksize":5}]}`,
		},
		{
			name: "config.toml",
			content: `[[chains]]
name = "devnet"
rpc_url = "http://localhost:8545"
start = 5

[chains.db]
path = "./devnet.sqlite"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.name, tt.content))
			require.Error(t, err)
			require.ErrorContains(t, err, "failed to parse config file")
		})
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	t.Setenv("CHAINSTREAM_TEST_RPC", "http://10.0.0.1:8545")
	t.Setenv("CHAINSTREAM_TEST_EMPTY", "")

	path := writeConfig(t, "config.yaml", `chains:
  - name: devnet
    rpc_url: "${CHAINSTREAM_TEST_RPC:-http://localhost:8545}"
    db:
      path: "${CHAINSTREAM_TEST_EMPTY:-./data}/devnet.sqlite"
  - name: $CHAINSTREAM_TEST_UNSET_NAME
    rpc_url: "${CHAINSTREAM_TEST_UNSET_RPC:-http://localhost:9545}"
    db:
      path: "./other.sqlite"
`)

	_, err := LoadFromFile(path)
	require.ErrorContains(t, err, "name is required", "unset variable without fallback expands to empty")

	t.Setenv("CHAINSTREAM_TEST_UNSET_NAME", "other")
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.1:8545", cfg.Chains[0].RPCURL)
	require.Equal(t, "./data/devnet.sqlite", cfg.Chains[0].DB.Path)
	require.Equal(t, "other", cfg.Chains[1].Name)
	require.Equal(t, "http://localhost:9545", cfg.Chains[1].RPCURL)
}

func TestLoadFromFile_MissingRequiredAfterExpansion(t *testing.T) {
	path := writeConfig(t, "config.yaml", `chains:
  - name: devnet
    rpc_url: "${CHAINSTREAM_TEST_UNSET_VARIABLE}"
    db:
      path: "./devnet.sqlite"
`)

	_, err := LoadFromFile(path)
	require.ErrorContains(t, err, "rpc_url is required")
}

func TestConfigDefaults(t *testing.T) {
	cfg := &config.Config{
		Chains: []config.ChainConfig{
			{
				Name:   "test",
				RPCURL: "https://test.com",
				DB: config.DatabaseConfig{
					Path: "./test.db",
				},
			},
		},
	}

	cfg.ApplyDefaults()

	chain := cfg.Chains[0]
	require.Equal(t, uint32(100), chain.Stream.ChunkSize)
	require.Equal(t, 2*time.Second, chain.Stream.PollInterval.Duration)
	require.Equal(t, "WAL", chain.DB.JournalMode)
	require.Equal(t, "NORMAL", chain.DB.Synchronous)
	require.Equal(t, 5000, chain.DB.BusyTimeout)
	require.Equal(t, 25, chain.DB.MaxOpenConnections)
	require.Equal(t, 1024, chain.Cache.BlockCacheSize)
	require.NotNil(t, chain.Retry)
	require.Equal(t, 5, chain.Retry.MaxAttempts)
	require.NotNil(t, chain.Maintenance)
	require.False(t, chain.Maintenance.Enabled)
	require.Equal(t, "TRUNCATE", chain.Maintenance.WALCheckpointMode)
	require.Nil(t, chain.RateLimit)
}

func TestConfigValidation(t *testing.T) {
	validChain := func() config.ChainConfig {
		return config.ChainConfig{
			Name:   "test",
			RPCURL: "https://test.com",
			DB:     config.DatabaseConfig{Path: "./test.db"},
			Subscribers: []config.SubscriberConfig{
				{
					Name: "sub",
					Contracts: []config.ContractConfig{
						{
							Address: "0x0000000000000000000000000000000000001234",
							Events:  []string{"Transfer(address,address,uint256)"},
						},
					},
				},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(cfg *config.Config) {},
		},
		{
			name:    "no chains",
			mutate:  func(cfg *config.Config) { cfg.Chains = nil },
			wantErr: "at least one chain",
		},
		{
			name:    "missing rpc_url",
			mutate:  func(cfg *config.Config) { cfg.Chains[0].RPCURL = "" },
			wantErr: "rpc_url is required",
		},
		{
			name:    "missing db path",
			mutate:  func(cfg *config.Config) { cfg.Chains[0].DB.Path = "" },
			wantErr: "path is required",
		},
		{
			name:    "invalid genesis hash",
			mutate:  func(cfg *config.Config) { cfg.Chains[0].GenesisHash = "0x1234" },
			wantErr: "genesis_hash",
		},
		{
			name:    "invalid contract address",
			mutate:  func(cfg *config.Config) { cfg.Chains[0].Subscribers[0].Contracts[0].Address = "0x1234" },
			wantErr: "invalid address",
		},
		{
			name: "duplicate subscriber",
			mutate: func(cfg *config.Config) {
				cfg.Chains[0].Subscribers = append(cfg.Chains[0].Subscribers, cfg.Chains[0].Subscribers[0])
			},
			wantErr: "duplicate subscriber name",
		},
		{
			name: "duplicate chain",
			mutate: func(cfg *config.Config) {
				second := validChain()
				second.DB.Path = "./other.db"
				cfg.Chains = append(cfg.Chains, second)
			},
			wantErr: "duplicate chain name",
		},
		{
			name: "shared db path",
			mutate: func(cfg *config.Config) {
				second := validChain()
				second.Name = "other"
				cfg.Chains = append(cfg.Chains, second)
			},
			wantErr: "db.path already used",
		},
		{
			name: "unknown log component",
			mutate: func(cfg *config.Config) {
				cfg.Logging = &config.LoggingConfig{ComponentLevels: map[string]string{"indexer": "debug"}}
			},
			wantErr: "unknown component",
		},
		{
			name: "invalid wal checkpoint mode",
			mutate: func(cfg *config.Config) {
				cfg.Chains[0].Maintenance = &config.MaintenanceConfig{WALCheckpointMode: "SOMETIMES"}
			},
			wantErr: "wal_checkpoint_mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Chains: []config.ChainConfig{validChain()}}
			tt.mutate(cfg)
			cfg.ApplyDefaults()

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Chain(t *testing.T) {
	cfg := &config.Config{Chains: []config.ChainConfig{{Name: "a"}, {Name: "b"}}}

	chain, err := cfg.Chain("b")
	require.NoError(t, err)
	require.Equal(t, "b", chain.Name)

	_, err = cfg.Chain("")
	require.ErrorContains(t, err, "select one by name")

	_, err = cfg.Chain("c")
	require.ErrorContains(t, err, "not configured")

	single := &config.Config{Chains: []config.ChainConfig{{Name: "only"}}}
	chain, err = single.Chain("")
	require.NoError(t, err)
	require.Equal(t, "only", chain.Name)
}

func TestConfigValidation_ReportsEveryProblem(t *testing.T) {
	cfg := &config.Config{
		Chains: []config.ChainConfig{
			{
				Name: "test",
				DB:   config.DatabaseConfig{Path: "./test.db", JournalMode: "sometimes"},
				Subscribers: []config.SubscriberConfig{
					{Contracts: []config.ContractConfig{{Address: "0x1234"}}},
				},
			},
		},
		Logging: &config.LoggingConfig{DefaultLevel: "loud"},
	}
	cfg.ApplyDefaults()

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"chains[0]: rpc_url is required",
		"chains[0]: db: journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY",
		"chains[0]: subscribers[0]: name is required",
		"chains[0]: subscribers[0]: contracts[0]: invalid address '0x1234'",
		"logging: default_level 'loud' must be one of: debug, error, info, warn",
	} {
		require.Contains(t, msg, want)
	}
	require.Len(t, strings.Split(msg, "\n"), 5)
}

func TestConfigDefaults_NormalisesNames(t *testing.T) {
	cfg := &config.Config{
		Chains: []config.ChainConfig{
			{
				Name:        "test",
				RPCURL:      "https://test.com",
				DB:          config.DatabaseConfig{Path: "./test.db", JournalMode: "wal", Synchronous: "full"},
				Maintenance: &config.MaintenanceConfig{WALCheckpointMode: "passive"},
			},
		},
		Logging: &config.LoggingConfig{
			DefaultLevel:    " WARN ",
			ComponentLevels: map[string]string{"Block-Stream": "DEBUG"},
		},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	require.Equal(t, "WAL", cfg.Chains[0].DB.JournalMode)
	require.Equal(t, "FULL", cfg.Chains[0].DB.Synchronous)
	require.Equal(t, "PASSIVE", cfg.Chains[0].Maintenance.WALCheckpointMode)
	require.Equal(t, "warn", cfg.Logging.GetDefaultLevel())
	require.Equal(t, "debug", cfg.Logging.GetComponentLevel("block-stream"))
	require.Equal(t, "warn", cfg.Logging.GetComponentLevel("rpc"))
}

func TestLoggingConfig_Unset(t *testing.T) {
	cfg := &config.Config{}
	require.Nil(t, cfg.Logging)

	require.Empty(t, cfg.Logging.GetDefaultLevel())
	require.Empty(t, cfg.Logging.GetComponentLevel("rpc"))
	require.False(t, cfg.Logging.IsDevelopment())

	// an unset section is handed to the logger as is
	log, err := logger.NewFromConfig(cfg.Logging)
	require.NoError(t, err)
	require.Equal(t, "info", log.GetLevel())
	require.Equal(t, "info", log.WithComponent("rpc").GetLevel())
}
