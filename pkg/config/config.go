package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Config represents the complete configuration for ChainStream.
type Config struct {
	// Chains contains one entry per chain whose blocks are streamed and cached
	Chains []ChainConfig `yaml:"chains" json:"chains" toml:"chains" jsonschema:"required,minItems=1"`

	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	for i := range c.Chains {
		c.Chains[i].ApplyDefaults()
	}
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks the whole configuration and reports every problem it finds.
func (c *Config) Validate() error {
	var p problems

	if len(c.Chains) == 0 {
		p.addf("at least one chain must be configured")
	}

	seen := make(map[string]int, len(c.Chains))
	owners := make(map[string]string, len(c.Chains))
	for i := range c.Chains {
		chain := &c.Chains[i]
		field := fmt.Sprintf("chains[%d]", i)
		p.nest(field, chain.Validate())

		if first, dup := seen[chain.Name]; dup && chain.Name != "" {
			p.addf("%s: duplicate chain name '%s' (first used by chains[%d])", field, chain.Name, first)
		} else {
			seen[chain.Name] = i
		}

		if chain.DB.Path == "" {
			continue
		}
		if owner, taken := owners[chain.DB.Path]; taken {
			p.addf("%s (%s): db.path already used by chain '%s'", field, chain.Name, owner)
		} else {
			owners[chain.DB.Path] = chain.Name
		}
	}

	if c.Logging != nil {
		p.nest("logging", c.Logging.Validate())
	}
	if c.Metrics != nil {
		p.nest("metrics", c.Metrics.Validate())
	}

	return p.err()
}

// Chain returns the configuration of the named chain.
// An empty name selects the only configured chain.
func (c *Config) Chain(name string) (*ChainConfig, error) {
	if name == "" {
		if len(c.Chains) == 1 {
			return &c.Chains[0], nil
		}
		return nil, fmt.Errorf("%d chains configured, select one by name", len(c.Chains))
	}

	i := slices.IndexFunc(c.Chains, func(chain ChainConfig) bool { return chain.Name == name })
	if i < 0 {
		return nil, fmt.Errorf("chain '%s' is not configured", name)
	}
	return &c.Chains[i], nil
}

// problems collects validation failures so a config is reported in one pass.
type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

// nest records err under the given field path. Joined errors are split so every
// problem keeps its own line and full path.
func (p *problems) nest(field string, err error) {
	if err == nil {
		return
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			p.nest(field, e)
		}
		return
	}
	*p = append(*p, fmt.Errorf("%s: %w", field, err))
}

func (p problems) err() error {
	return errors.Join(p...)
}

// oneOf checks that value is one of allowed, comparing case-insensitively.
func (p *problems) oneOf(field, value string, allowed []string) {
	if value == "" || slices.Contains(allowed, strings.ToUpper(value)) {
		return
	}
	p.addf("%s must be one of: %s", field, strings.Join(allowed, ", "))
}
