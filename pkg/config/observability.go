package config

import (
	"slices"
	"strings"

	"github.com/goran-ethernal/ChainStream/internal/common"
	"github.com/goran-ethernal/ChainStream/internal/logger"
)

// LoggingConfig configures zap with a default level and per-component overrides.
type LoggingConfig struct {
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"` //nolint:lll

	// Development switches to the console encoder with stack traces on warnings
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels overrides DefaultLevel per component, keyed by the names in
	// common.AllComponents (chain-store, block-stream, rpc, ...)
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults normalises level and component names so lookups are case-insensitive.
func (l *LoggingConfig) ApplyDefaults() {
	l.DefaultLevel = common.Normalize(l.DefaultLevel)
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}

	levels := make(map[string]string, len(l.ComponentLevels))
	for component, level := range l.ComponentLevels {
		levels[common.Normalize(component)] = common.Normalize(level)
	}
	l.ComponentLevels = levels
}

func (l *LoggingConfig) Validate() error {
	var p problems

	if !validLevel(l.DefaultLevel) {
		p.addf("default_level '%s' must be one of: %s", l.DefaultLevel, strings.Join(levelNames(), ", "))
	}

	// sorted so the report is stable
	components := make([]string, 0, len(l.ComponentLevels))
	for component := range l.ComponentLevels {
		components = append(components, component)
	}
	slices.Sort(components)

	for _, component := range components {
		if _, known := common.AllComponents[common.Normalize(component)]; !known {
			p.addf("component_levels: unknown component '%s'", component)
			continue
		}
		if level := l.ComponentLevels[component]; !validLevel(level) {
			p.addf("component_levels[%s]: level '%s' must be one of: %s", component, level, strings.Join(levelNames(), ", "))
		}
	}

	return p.err()
}

func validLevel(level string) bool {
	if level == "" {
		return true
	}
	_, ok := logger.ValidLogLevels[common.Normalize(level)]
	return ok
}

func levelNames() []string {
	names := make([]string, 0, len(logger.ValidLogLevels))
	for name := range logger.ValidLogLevels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetComponentLevel returns the level of component, falling back to DefaultLevel.
// The getters accept a nil config, which leaves every level to the logger's default.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if l == nil {
		return ""
	}
	if level, ok := l.ComponentLevels[common.Normalize(component)]; ok {
		return common.Normalize(level)
	}
	return l.GetDefaultLevel()
}

func (l *LoggingConfig) GetDefaultLevel() string {
	if l == nil {
		return ""
	}
	return common.Normalize(l.DefaultLevel)
}

func (l *LoggingConfig) IsDevelopment() bool {
	return l != nil && l.Development
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address" jsonschema:"default=:9090"`

	Path string `yaml:"path" json:"path" toml:"path" jsonschema:"pattern=^/,default=/metrics"`
}

func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	var p problems
	if m.ListenAddress == "" {
		p.addf("listen_address is required when metrics are enabled")
	}
	switch {
	case m.Path == "":
		p.addf("path is required when metrics are enabled")
	case !strings.HasPrefix(m.Path, "/"):
		p.addf("path must start with '/'")
	case m.Path == "/health":
		p.addf("path '/health' is reserved for the health endpoint")
	}
	return p.err()
}
