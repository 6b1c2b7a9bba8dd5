package log

import (
	"context"
	"time"

	"github.com/cvbuilder/cvbuilder-api/pkg/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StructuredLogger is a named logger. It is safe to share: every operation
// starts a fresh builder.
type StructuredLogger struct {
	name string
}

// LoggerBuilder collects the fields shared by every entry of one operation.
type LoggerBuilder struct {
	name      string
	operation string
	fields    []zap.Field
}

// OperationLogger logs the steps, the outcome and the failures of one operation.
type OperationLogger struct {
	logger    *zap.Logger
	operation string
	started   time.Time
}

// LogEntry is a single step, success or error record. Nothing is written until Log is called.
type LogEntry struct {
	logger  *zap.Logger
	level   zapcore.Level
	message string
	fields  []zap.Field
}

func NewDebugLogger(name string) *StructuredLogger {
	return &StructuredLogger{name: name}
}

func (l *StructuredLogger) WithContext(ctx context.Context) *LoggerBuilder {
	return (&LoggerBuilder{name: l.name}).WithContext(ctx)
}

func (l *StructuredLogger) Operation(op string) *LoggerBuilder {
	return &LoggerBuilder{name: l.name, operation: op}
}

func (b *LoggerBuilder) with(fields ...zap.Field) *LoggerBuilder {
	next := &LoggerBuilder{name: b.name, operation: b.operation}
	next.fields = append(append(make([]zap.Field, 0, len(b.fields)+len(fields)), b.fields...), fields...)
	return next
}

// WithContext attaches the request id carried by ctx, if any.
func (b *LoggerBuilder) WithContext(ctx context.Context) *LoggerBuilder {
	if id := requestid.FromContext(ctx); id != "" {
		return b.with(zap.String("request_id", id))
	}
	return b
}

func (b *LoggerBuilder) Operation(op string) *LoggerBuilder {
	next := b.with()
	next.operation = op
	return next
}

func (b *LoggerBuilder) WithParam(key string, value any) *LoggerBuilder {
	return b.with(zap.Any(key, value))
}

func (b *LoggerBuilder) WithString(key, value string) *LoggerBuilder {
	return b.with(zap.String(key, value))
}

func (b *LoggerBuilder) WithInt(key string, value int) *LoggerBuilder {
	return b.with(zap.Int(key, value))
}

func (b *LoggerBuilder) WithUUID(key string, value uuid.UUID) *LoggerBuilder {
	return b.with(zap.String(key, value.String()))
}

func (b *LoggerBuilder) Build() *OperationLogger {
	fields := append([]zap.Field{zap.String("operation", b.operation)}, b.fields...)
	return &OperationLogger{
		logger:    zap.L().Named(b.name).WithOptions(zap.AddCallerSkip(1)).With(fields...),
		operation: b.operation,
		started:   time.Now(),
	}
}

func (l *OperationLogger) Step(name string) *LogEntry {
	return &LogEntry{
		logger:  l.logger,
		level:   zapcore.DebugLevel,
		message: l.operation + ": " + name,
		fields:  []zap.Field{zap.String("step", name)},
	}
}

func (l *OperationLogger) Success() *LogEntry {
	return &LogEntry{
		logger:  l.logger,
		level:   zapcore.DebugLevel,
		message: l.operation + " succeeded",
		fields:  []zap.Field{zap.Duration("duration", time.Since(l.started))},
	}
}

func (l *OperationLogger) Error(err error) *LogEntry {
	return &LogEntry{
		logger:  l.logger,
		level:   zapcore.ErrorLevel,
		message: l.operation + " failed",
		fields:  []zap.Field{zap.Error(err), zap.Duration("duration", time.Since(l.started))},
	}
}

// Warn is used for expected failures such as not found or conflicts.
func (l *OperationLogger) Warn(err error) *LogEntry {
	entry := l.Error(err)
	entry.level = zapcore.WarnLevel
	return entry
}

func (e *LogEntry) WithString(key, value string) *LogEntry {
	e.fields = append(e.fields, zap.String(key, value))
	return e
}

func (e *LogEntry) WithInt(key string, value int) *LogEntry {
	e.fields = append(e.fields, zap.Int(key, value))
	return e
}

func (e *LogEntry) WithInt64(key string, value int64) *LogEntry {
	e.fields = append(e.fields, zap.Int64(key, value))
	return e
}

func (e *LogEntry) WithBool(key string, value bool) *LogEntry {
	e.fields = append(e.fields, zap.Bool(key, value))
	return e
}

func (e *LogEntry) WithUUID(key string, value uuid.UUID) *LogEntry {
	e.fields = append(e.fields, zap.String(key, value.String()))
	return e
}

func (e *LogEntry) WithParam(key string, value any) *LogEntry {
	e.fields = append(e.fields, zap.Any(key, value))
	return e
}

// WithRequestBody logs a request payload, truncated to keep log lines bounded.
func (e *LogEntry) WithRequestBody(body []byte) *LogEntry {
	const maxBody = 1024
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	e.fields = append(e.fields, zap.ByteString("request_body", body))
	return e
}

func (e *LogEntry) Log() {
	if ce := e.logger.Check(e.level, e.message); ce != nil {
		ce.Write(e.fields...)
	}
}
