package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the logger settings
type Config struct {
	Level  string // Log level: "debug", "info", "warn", "error"
	Format string // Output format: "json" (structured) or "console" (human-readable)
}

// Field is a structured logging field
type Field = zap.Field

// Logger wraps zap to keep call sites free of zap-specific types
type Logger struct {
	zl *zap.Logger
}

// New creates a logger from the given configuration
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zcfg zap.Config
	switch cfg.Format {
	case "console":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	case "json":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q (expected \"json\" or \"console\")", cfg.Format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.DisableStacktrace = true

	zl, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{zl: zl}, nil
}

// NewNop returns a logger that discards all output. Used in tests.
func NewNop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// Named returns a child logger with the given name segment appended
func (l *Logger) Named(name string) *Logger {
	return &Logger{zl: l.zl.Named(name)}
}

// With returns a child logger with the given fields attached to every entry
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{zl: l.zl.With(fields...)}
}

// Debug logs a message at debug level
func (l *Logger) Debug(msg string, fields ...Field) {
	l.zl.Debug(msg, fields...)
}

// Info logs a message at info level
func (l *Logger) Info(msg string, fields ...Field) {
	l.zl.Info(msg, fields...)
}

// Warn logs a message at warn level
func (l *Logger) Warn(msg string, fields ...Field) {
	l.zl.Warn(msg, fields...)
}

// Error logs a message at error level
func (l *Logger) Error(msg string, fields ...Field) {
	l.zl.Error(msg, fields...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// String creates a string field
func String(key, value string) Field {
	return zap.String(key, value)
}

// Int creates an int field
func Int(key string, value int) Field {
	return zap.Int(key, value)
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return zap.Int64(key, value)
}

// Float64 creates a float64 field
func Float64(key string, value float64) Field {
	return zap.Float64(key, value)
}

// Bool creates a bool field
func Bool(key string, value bool) Field {
	return zap.Bool(key, value)
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return zap.Time(key, value)
}

// Any creates a field with an arbitrary value
func Any(key string, value interface{}) Field {
	return zap.Any(key, value)
}

// Error creates an error field
func Error(err error) Field {
	return zap.Error(err)
}
