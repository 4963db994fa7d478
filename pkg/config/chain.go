package config

import (
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goran-ethernal/ChainStream/internal/common"
)

const (
	defaultChunkSize      = 100
	maxChunkSize          = 10000
	defaultPollInterval   = 2 * time.Second
	defaultBlockCacheSize = 1024

	defaultMaxAttempts    = 5
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultBackoffFactor  = 2.0

	defaultRequestsPerSecond = 25
)

// ChainConfig represents the configuration of a single chain.
type ChainConfig struct {
	// Name identifies the chain in the chain store, logs and metrics
	Name string `yaml:"name" json:"name" toml:"name" jsonschema:"required,minLength=1"`

	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url" jsonschema:"required,format=uri"`

	// NetVersion and GenesisHash pin the chain identity. Empty values accept whatever
	// the provider reports on first start.
	NetVersion  string `yaml:"net_version,omitempty" json:"net_version,omitempty" toml:"net_version,omitempty"`
	GenesisHash string `yaml:"genesis_hash,omitempty" json:"genesis_hash,omitempty" toml:"genesis_hash,omitempty" jsonschema:"pattern=^0x[0-9a-fA-F]{64}$"` //nolint:lll

	DB          DatabaseConfig     `yaml:"db" json:"db" toml:"db" jsonschema:"required"`
	Retry       *RetryConfig       `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
	RateLimit   *RateLimitConfig   `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" toml:"rate_limit,omitempty"`
	Stream      StreamConfig       `yaml:"stream" json:"stream" toml:"stream"`
	Subscribers []SubscriberConfig `yaml:"subscribers" json:"subscribers" toml:"subscribers"`
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`
	Cache       CacheConfig        `yaml:"cache" json:"cache" toml:"cache"`
}

// ApplyDefaults fills in every optional section. Retry and maintenance settings are
// always materialised; rate limiting stays off unless configured.
func (c *ChainConfig) ApplyDefaults() {
	c.DB.ApplyDefaults()
	c.Stream.ApplyDefaults()
	c.Cache.ApplyDefaults()

	c.Retry = withDefaults(c.Retry)
	c.Maintenance = withDefaults(c.Maintenance)
	if c.RateLimit != nil {
		c.RateLimit.ApplyDefaults()
	}
}

type defaulter[T any] interface {
	*T
	ApplyDefaults()
}

func withDefaults[T any, P defaulter[T]](section P) P {
	if section == nil {
		section = new(T)
	}
	section.ApplyDefaults()
	return section
}

// Validate checks the chain configuration and its nested sections.
func (c *ChainConfig) Validate() error {
	var p problems

	if c.Name == "" {
		p.addf("name is required")
	}
	if c.RPCURL == "" {
		p.addf("rpc_url is required")
	}
	if c.GenesisHash != "" {
		if b, err := hexutil.Decode(c.GenesisHash); err != nil || len(b) != ethcommon.HashLength {
			p.addf("genesis_hash must be a 0x prefixed 32 byte hex string")
		}
	}

	p.nest("db", c.DB.Validate())
	p.nest("stream", c.Stream.Validate())
	if c.Retry != nil {
		p.nest("retry", c.Retry.Validate())
	}
	if c.RateLimit != nil {
		p.nest("rate_limit", c.RateLimit.Validate())
	}
	if c.Maintenance != nil {
		p.nest("maintenance", c.Maintenance.Validate())
	}

	names := make(map[string]struct{}, len(c.Subscribers))
	for i := range c.Subscribers {
		sub := &c.Subscribers[i]
		p.nest(fmt.Sprintf("subscribers[%d]", i), sub.Validate())

		if _, dup := names[sub.Name]; dup {
			p.addf("subscribers[%d]: duplicate subscriber name '%s'", i, sub.Name)
		}
		names[sub.Name] = struct{}{}
	}

	return p.err()
}

// StreamConfig configures the polling block stream.
type StreamConfig struct {
	// ChunkSize is the number of blocks scanned per provider round trip
	ChunkSize uint32 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size" jsonschema:"maximum=10000,default=100"`

	// PollInterval is how long the stream waits for new blocks once it reached the chain head
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`
}

func (s *StreamConfig) ApplyDefaults() {
	if s.ChunkSize == 0 {
		s.ChunkSize = defaultChunkSize
	}
	if s.PollInterval.Duration == 0 {
		s.PollInterval = common.NewDuration(defaultPollInterval)
	}
}

func (s *StreamConfig) Validate() error {
	var p problems
	if s.ChunkSize > maxChunkSize {
		p.addf("chunk_size must not exceed %d", maxChunkSize)
	}
	if s.PollInterval.Duration < 0 {
		p.addf("poll_interval must not be negative")
	}
	return p.err()
}

// SubscriberConfig represents one consumer of a block stream.
type SubscriberConfig struct {
	// Name is the checkpoint key of the subscriber, unique within its chain
	Name string `yaml:"name" json:"name" toml:"name" jsonschema:"required,minLength=1"`

	// StartBlock is the first block the subscriber is interested in
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block" jsonschema:"maximum=2147483647"`

	Contracts []ContractConfig `yaml:"contracts" json:"contracts" toml:"contracts"`
}

func (s *SubscriberConfig) Validate() error {
	var p problems

	if s.Name == "" {
		p.addf("name is required")
	}
	// block numbers are stored as int32
	if s.StartBlock > uint64(^uint32(0)>>1) {
		p.addf("start_block %d out of range", s.StartBlock)
	}
	for j, contract := range s.Contracts {
		if !ethcommon.IsHexAddress(contract.Address) {
			p.addf("contracts[%d]: invalid address '%s'", j, contract.Address)
		}
		for k, event := range contract.Events {
			if event == "" {
				p.addf("contracts[%d].events[%d]: empty event signature", j, k)
			}
		}
	}

	return p.err()
}

// ContractConfig represents a contract and its events to watch.
type ContractConfig struct {
	Address string `yaml:"address" json:"address" toml:"address" jsonschema:"required,pattern=^0x[0-9a-fA-F]{40}$"`

	// Events is the list of event signatures to match, e.g. "Transfer(address,address,uint256)".
	// Empty matches every event of the contract.
	Events []string `yaml:"events" json:"events" toml:"events"`
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts counts the initial request
	MaxAttempts       int             `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts" jsonschema:"minimum=1,default=5"`
	InitialBackoff    common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff        common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`
	BackoffMultiplier float64         `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier" jsonschema:"minimum=1,default=2"` //nolint:lll
}

func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = defaultMaxAttempts
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(defaultInitialBackoff)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(defaultMaxBackoff)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = defaultBackoffFactor
	}
}

func (r *RetryConfig) Validate() error {
	var p problems
	if r.MaxAttempts < 0 {
		p.addf("max_attempts must not be negative")
	}
	if r.BackoffMultiplier != 0 && r.BackoffMultiplier < 1 {
		p.addf("backoff_multiplier must be at least 1")
	}
	if r.MaxBackoff.Duration != 0 && r.MaxBackoff.Duration < r.InitialBackoff.Duration {
		p.addf("max_backoff %s is shorter than initial_backoff %s", r.MaxBackoff, r.InitialBackoff)
	}
	return p.err()
}

// RateLimitConfig limits the request rate sent to a provider.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" toml:"requests_per_second" jsonschema:"minimum=0,default=25"` //nolint:lll

	// Burst defaults to one second worth of requests
	Burst int `yaml:"burst" json:"burst" toml:"burst" jsonschema:"minimum=0"`
}

func (r *RateLimitConfig) ApplyDefaults() {
	if r.RequestsPerSecond == 0 {
		r.RequestsPerSecond = defaultRequestsPerSecond
	}
	if r.Burst == 0 {
		r.Burst = max(int(r.RequestsPerSecond), 1)
	}
}

func (r *RateLimitConfig) Validate() error {
	var p problems
	if r.RequestsPerSecond < 0 {
		p.addf("requests_per_second must not be negative")
	}
	if r.Burst < 0 {
		p.addf("burst must not be negative")
	}
	return p.err()
}

// CacheConfig configures in-memory caches.
type CacheConfig struct {
	// BlockCacheSize is the number of block bodies kept in memory in front of the chain store
	BlockCacheSize int `yaml:"block_cache_size" json:"block_cache_size" toml:"block_cache_size" jsonschema:"minimum=0,default=1024"` //nolint:lll
}

func (c *CacheConfig) ApplyDefaults() {
	if c.BlockCacheSize == 0 {
		c.BlockCacheSize = defaultBlockCacheSize
	}
}
