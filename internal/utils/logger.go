// Package utils provides utility functions used throughout the application.
package utils

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger that provides structured logging functionality.
type Logger struct {
	*zap.Logger
}

// LoggerOptions configures the logger instance.
type LoggerOptions struct {
	// Development switches to the colored console encoder
	Development bool
	// Level sets the minimum enabled logging level
	Level zapcore.Level
	// OutputPaths defines where logs are written (e.g., stdout, file)
	OutputPaths []string
	// ErrorOutputPaths defines where errors are written
	ErrorOutputPaths []string
}

// DefaultLoggerOptions returns the default logger configuration.
func DefaultLoggerOptions() LoggerOptions {
	return LoggerOptions{
		Development:      false,
		Level:            zapcore.InfoLevel,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// ParseLevel converts a level name to a zap level, falling back to info.
func ParseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// NewLogger creates a new structured logger with the provided options.
// If no options are provided, default options are used.
func NewLogger(opts ...LoggerOptions) *Logger {
	options := DefaultLoggerOptions()
	if len(opts) > 0 {
		options = opts[0]
	}
	if len(options.OutputPaths) == 0 {
		options.OutputPaths = []string{"stdout"}
	}
	if len(options.ErrorOutputPaths) == 0 {
		options.ErrorOutputPaths = []string{"stderr"}
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(options.Level),
		Development: options.Development,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      options.OutputPaths,
		ErrorOutputPaths: options.ErrorOutputPaths,
	}

	if options.Development {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		fallback := zap.NewExample()
		fallback.Error("Failed to create logger", zap.Error(err))
		return &Logger{fallback}
	}

	return &Logger{logger}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// FromZap wraps an existing zap logger, e.g. one built with zaptest/observer.
func FromZap(l *zap.Logger) *Logger {
	return &Logger{l}
}

// Zap returns the underlying zap logger without the caller skip, for
// packages that take a *zap.Logger directly.
func (l *Logger) Zap() *zap.Logger {
	return l.Logger.WithOptions(zap.AddCallerSkip(-1))
}

// Info logs a message at info level with structured context.
func (l *Logger) Info(msg string, fields ...any) {
	l.Logger.Info(msg, toZapFields(fields)...)
}

// Error logs a message at error level with structured context.
func (l *Logger) Error(msg string, err error, fields ...any) {
	zapFields := toZapFields(fields)
	if err != nil {
		zapFields = append(zapFields, zap.Error(err))
	}
	l.Logger.Error(msg, zapFields...)
}

// Warn logs a message at warn level with structured context.
func (l *Logger) Warn(msg string, fields ...any) {
	l.Logger.Warn(msg, toZapFields(fields)...)
}

// Debug logs a message at debug level with structured context.
func (l *Logger) Debug(msg string, fields ...any) {
	l.Logger.Debug(msg, toZapFields(fields)...)
}

// Fatal logs at fatal level and exits the process.
func (l *Logger) Fatal(msg string, err error, fields ...any) {
	zapFields := toZapFields(fields)
	if err != nil {
		zapFields = append(zapFields, zap.Error(err))
	}
	l.Logger.Fatal(msg, zapFields...)
}

// With creates a new Logger with additional structured context.
func (l *Logger) With(fields ...any) *Logger {
	return &Logger{l.Logger.With(toZapFields(fields)...)}
}

// Named adds a sub-scope to the logger's name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// toZapFields converts alternating key/value pairs to zap fields.
func toZapFields(fields []any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	if len(fields)%2 != 0 {
		fields = append(fields, "MISSING_VALUE")
	}

	result := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = "INVALID_KEY"
		}

		switch v := fields[i+1].(type) {
		case string:
			result = append(result, zap.String(key, v))
		case int:
			result = append(result, zap.Int(key, v))
		case int64:
			result = append(result, zap.Int64(key, v))
		case float64:
			result = append(result, zap.Float64(key, v))
		case bool:
			result = append(result, zap.Bool(key, v))
		case time.Duration:
			result = append(result, zap.Duration(key, v))
		case error:
			result = append(result, zap.NamedError(key, v))
		case fmt.Stringer:
			result = append(result, zap.Stringer(key, v))
		default:
			result = append(result, zap.Any(key, v))
		}
	}
	return result
}

// GlobalLogger is used by helpers that have no injected logger.
var GlobalLogger = NewLogger(LoggerOptions{
	Development: os.Getenv("BRAGI_ENVIRONMENT") != "production",
	Level:       zapcore.InfoLevel,
})

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	return GlobalLogger
}

// SetGlobalLogger replaces the logger returned by GetLogger.
func SetGlobalLogger(l *Logger) {
	GlobalLogger = l
}
