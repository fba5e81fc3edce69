package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/trellis/pkg/logger"
)

// TraceFields returns the trace and span ids of ctx as log fields
func TraceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// OperationLogger logs the phases of one operation with its elapsed time
type OperationLogger struct {
	logger    *zap.Logger
	operation string
	startTime time.Time
}

// NewOperationLogger starts timing an operation. The display, build ID and
// trace ids found in ctx are attached to every entry.
func NewOperationLogger(ctx context.Context, log *zap.Logger, operation string) *OperationLogger {
	if log == nil {
		log = zap.NewNop()
	}
	fields := append([]zap.Field{zap.String("operation", operation)}, logger.ContextFields(ctx)...)
	fields = append(fields, TraceFields(ctx)...)
	return &OperationLogger{
		logger:    log.With(fields...),
		operation: operation,
		startTime: time.Now(),
	}
}

// Logger returns the underlying logger
func (ol *OperationLogger) Logger() *zap.Logger { return ol.logger }

// Warn logs a warning for the operation
func (ol *OperationLogger) Warn(msg string, fields ...zap.Field) {
	ol.logger.Warn(msg, fields...)
}

// LogStart logs the start of an operation
func (ol *OperationLogger) LogStart(msg string, fields ...zap.Field) {
	allFields := append(fields, zap.String("phase", "start"))
	ol.logger.Info(msg, allFields...)
}

// LogComplete logs the completion of an operation
func (ol *OperationLogger) LogComplete(msg string, fields ...zap.Field) {
	allFields := append(fields,
		zap.String("phase", "complete"),
		zap.Duration("total_duration", time.Since(ol.startTime)),
	)
	ol.logger.Info(msg, allFields...)
}

// LogError logs an operation error
func (ol *OperationLogger) LogError(msg string, err error, fields ...zap.Field) {
	allFields := append(fields,
		zap.String("phase", "error"),
		zap.Duration("duration_before_error", time.Since(ol.startTime)),
		zap.Error(err),
	)
	ol.logger.Error(msg, allFields...)
}
