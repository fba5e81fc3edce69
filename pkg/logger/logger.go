// Package logger provides structured logging for trellis
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
)

type contextKey string

const (
	displayKey contextKey = "display"
	buildIDKey contextKey = "build_id"
)

// Config represents logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

// Init initializes the global logger. Only the first call has an effect.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		globalLogger, err = newLogger(cfg)
	})
	return err
}

func newLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Development {
		return zapCfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zapCfg.Build()
}

// Get returns the global logger, initializing it with JSON output at info
// level when Init was never called
func Get() *zap.Logger {
	if err := Init(Config{Level: "info", Encoding: "json"}); err != nil || globalLogger == nil {
		globalLogger = zap.NewNop()
	}
	return globalLogger
}

// WithDisplay returns a context naming the display being built or viewed
func WithDisplay(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, displayKey, name)
}

// WithBuildID returns a context carrying the ID of one build run
func WithBuildID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, buildIDKey, id)
}

// ContextFields returns the display and build ID stored in ctx as log fields
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if name, ok := ctx.Value(displayKey).(string); ok {
		fields = append(fields, zap.String("display", name))
	}
	if id, ok := ctx.Value(buildIDKey).(string); ok {
		fields = append(fields, zap.String("build_id", id))
	}
	return fields
}

// Sync flushes any buffered log entries
func Sync() error {
	if globalLogger == nil {
		return nil
	}
	return globalLogger.Sync()
}
