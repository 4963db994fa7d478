package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// root logger
var log atomic.Pointer[Logger]

const defaultLevel = "info"

// ValidLogLevels lists the accepted level names.
var ValidLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// LoggingConfig is the subset of the logging configuration the loggers need.
type LoggingConfig interface {
	GetComponentLevel(component string) string
	GetDefaultLevel() string
	IsDevelopment() bool
}

// Logger wraps zap.SugaredLogger to provide a consistent logging interface across the project.
// It provides both structured logging (with fields) and printf-style logging methods.
//
// Every logger derived from a root shares its sink. Levels are applied per logger, so a
// component child can be more or less verbose than its parent.
type Logger struct {
	*zap.SugaredLogger

	raw         *zap.Logger // accepts every level; carries the accumulated fields
	atomicLevel zap.AtomicLevel
	component   string
	levels      LoggingConfig
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error"
// development mode enables stack traces and uses console encoder
func NewLogger(level string, development bool) (*Logger, error) {
	return build(level, development, nil)
}

// NewFromConfig creates a root logger at the configured default level. Children created
// with WithComponent take the level configured for their component. A nil config yields
// an info level production logger.
func NewFromConfig(cfg LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return build(defaultLevel, false, nil)
	}

	level := cfg.GetDefaultLevel()
	if level == "" {
		level = defaultLevel
	}
	return build(level, cfg.IsDevelopment(), cfg)
}

func build(level string, development bool, levels LoggingConfig) (*Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)

	raw, err := config.Build()
	if err != nil {
		return nil, err
	}

	return wrap(raw, atomicLevel, "", levels), nil
}

func wrap(raw *zap.Logger, level zap.AtomicLevel, component string, levels LoggingConfig) *Logger {
	filtered := raw.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return levelCore{Core: core, level: level}
	}))

	return &Logger{
		SugaredLogger: filtered.Sugar(),
		raw:           raw,
		atomicLevel:   level,
		component:     component,
		levels:        levels,
	}
}

// NewComponentLogger creates a logger bound to a component. It panics on an invalid level.
func NewComponentLogger(component, level string, development bool) *Logger {
	l, err := NewLogger(level, development)
	if err != nil {
		panic(err)
	}
	return l.WithComponent(component)
}

// NewComponentLoggerFromConfig creates a component logger using the level configured for it.
// It panics on an invalid level.
func NewComponentLoggerFromConfig(component string, cfg LoggingConfig) *Logger {
	l, err := NewFromConfig(cfg)
	if err != nil {
		panic(err)
	}
	return l.WithComponent(component)
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() *Logger {
	return wrap(zap.NewNop(), zap.NewAtomicLevel(), "", nil)
}

// WithComponent creates a child logger with a component name field. The child shares
// the level of its parent unless the config sets a different level for the component.
func (l *Logger) WithComponent(component string) *Logger {
	level := l.atomicLevel
	if l.levels != nil {
		if name := l.levels.GetComponentLevel(component); name != "" && name != l.levels.GetDefaultLevel() {
			if own, err := zap.ParseAtomicLevel(name); err == nil {
				level = own
			}
		}
	}

	return wrap(l.raw.With(zap.String("component", component)), level, component, l.levels)
}

// WithFields creates a child logger carrying the given key-value pairs.
func (l *Logger) WithFields(keysAndValues ...any) *Logger {
	return wrap(l.raw.Sugar().With(keysAndValues...).Desugar(), l.atomicLevel, l.component, l.levels)
}

// GetComponent returns the component the logger is bound to.
func (l *Logger) GetComponent() string {
	return l.component
}

// GetLevel returns the current level name.
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// SetLevel changes the level of this logger and every logger sharing its level.
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.atomicLevel.SetLevel(zapLevel)
	return nil
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}

// SetDefaultLogger replaces the root logger.
func SetDefaultLogger(l *Logger) {
	log.Store(l)
}

func GetDefaultLogger() *Logger {
	l := log.Load()
	if l != nil {
		return l
	}
	// default level: debug
	zapLogger, err := NewLogger("debug", true)
	if err != nil {
		panic(err)
	}
	log.Store(zapLogger)
	return log.Load()
}

// levelCore filters entries by a level of its own in front of a core that accepts all.
type levelCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c levelCore) Enabled(lvl zapcore.Level) bool {
	return c.level.Enabled(lvl)
}

func (c levelCore) Level() zapcore.Level {
	return c.level.Level()
}

func (c levelCore) With(fields []zapcore.Field) zapcore.Core {
	return levelCore{Core: c.Core.With(fields), level: c.level}
}

func (c levelCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(entry.Level) {
		return checked
	}
	return c.Core.Check(entry, checked)
}
