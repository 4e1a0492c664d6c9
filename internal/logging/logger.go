package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity level of a log message
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ParseLevel maps a config string onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "warning":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is a structured logger with correlation ID support.
// The level is atomic so a config reload can change it without rebuilding the logger.
type Logger struct {
	z       *zap.Logger
	level   zap.AtomicLevel
	service string
}

type loggerOptions struct {
	output  io.Writer
	level   LogLevel
	service string
	format  string
}

// LoggerOption is a function that configures a Logger
type LoggerOption func(*loggerOptions)

// WithOutput sets the output writer for the logger
func WithOutput(w io.Writer) LoggerOption {
	return func(o *loggerOptions) {
		o.output = w
	}
}

// WithLevel sets the minimum log level
func WithLevel(level LogLevel) LoggerOption {
	return func(o *loggerOptions) {
		o.level = level
	}
}

// WithService sets the service name for logs
func WithService(service string) LoggerOption {
	return func(o *loggerOptions) {
		o.service = service
	}
}

// WithFormat selects "json" (default) or "console" encoding.
func WithFormat(format string) LoggerOption {
	return func(o *loggerOptions) {
		o.format = format
	}
}

// NewLogger creates a new Logger with the specified options
func NewLogger(opts ...LoggerOption) *Logger {
	o := loggerOptions{
		output:  os.Stdout,
		level:   LevelInfo,
		service: "crmhub",
		format:  "json",
	}
	for _, opt := range opts {
		opt(&o)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var enc zapcore.Encoder
	if o.format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	level := zap.NewAtomicLevelAt(o.level.zapLevel())
	core := zapcore.NewCore(enc, zapcore.AddSync(o.output), level)

	return &Logger{
		z:       zap.New(core).With(zap.String("service", o.service)),
		level:   level,
		service: o.service,
	}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop(), level: zap.NewAtomicLevel(), service: "nop"}
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Level returns the current minimum level.
func (l *Logger) Level() LogLevel {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields ...interface{}) *Logger {
	_, zf := parseFields(fields)
	return &Logger{z: l.z.With(zf...), level: l.level, service: l.service}
}

// Zap exposes the underlying logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

func (l *Logger) log(level zapcore.Level, message, correlationID string, fields []zap.Field) {
	if ce := l.z.Check(level, message); ce != nil {
		if correlationID != "" {
			fields = append(fields, zap.String("correlation_id", correlationID))
		}
		ce.Write(fields...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...interface{}) {
	cid, zf := parseFields(fields)
	l.log(zapcore.DebugLevel, message, cid, zf)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...interface{}) {
	cid, zf := parseFields(fields)
	l.log(zapcore.InfoLevel, message, cid, zf)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...interface{}) {
	cid, zf := parseFields(fields)
	l.log(zapcore.WarnLevel, message, cid, zf)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...interface{}) {
	cid, zf := parseFields(fields)
	l.log(zapcore.ErrorLevel, message, cid, zf)
}

// DebugWithContext logs a debug message with correlation ID from context
func (l *Logger) DebugWithContext(ctx context.Context, message string, fields ...interface{}) {
	_, zf := parseFields(fields)
	l.log(zapcore.DebugLevel, message, GetCorrelationID(ctx), zf)
}

// InfoWithContext logs an info message with correlation ID from context
func (l *Logger) InfoWithContext(ctx context.Context, message string, fields ...interface{}) {
	_, zf := parseFields(fields)
	l.log(zapcore.InfoLevel, message, GetCorrelationID(ctx), zf)
}

// WarnWithContext logs a warning message with correlation ID from context
func (l *Logger) WarnWithContext(ctx context.Context, message string, fields ...interface{}) {
	_, zf := parseFields(fields)
	l.log(zapcore.WarnLevel, message, GetCorrelationID(ctx), zf)
}

// ErrorWithContext logs an error message with correlation ID from context
func (l *Logger) ErrorWithContext(ctx context.Context, message string, fields ...interface{}) {
	_, zf := parseFields(fields)
	l.log(zapcore.ErrorLevel, message, GetCorrelationID(ctx), zf)
}

// parseFields turns key1, value1, key2, value2, ... into zap fields.
// A "correlation_id" pair is pulled out separately; non-string keys are skipped.
func parseFields(fields []interface{}) (string, []zap.Field) {
	correlationID := ""
	out := make([]zap.Field, 0, len(fields)/2)

	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok || i+1 >= len(fields) {
			continue
		}
		value := fields[i+1]

		if key == "correlation_id" {
			if id, ok := value.(string); ok {
				correlationID = id
			}
			continue
		}

		switch v := value.(type) {
		case error:
			out = append(out, zap.String(key, v.Error()))
		case fmt.Stringer:
			out = append(out, zap.Stringer(key, v))
		default:
			out = append(out, zap.Any(key, v))
		}
	}

	return correlationID, out
}
