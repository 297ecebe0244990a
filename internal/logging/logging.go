// Package logging provides structured logging using Go's slog package.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// FileIDKey is the context key for the correlation ID of an open file handle.
	FileIDKey ContextKey = "file_id"
)

var (
	// defaultLogger is the global logger instance.
	defaultLogger *slog.Logger
)

func init() {
	// Initialize with a default logger (JSON format, Info level)
	InitLogger(LevelInfo, FormatJSON)
}

// Level represents a log level.
type Level int

const (
	// LevelDebug is for debug messages.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// Format represents a log output format.
type Format int

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON Format = iota
	// FormatText outputs logs in human-readable text format.
	FormatText
)

// InitLogger initializes the global logger with the specified level and format.
func InitLogger(level Level, format Format) {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	return defaultLogger
}

// WithFileID attaches a file handle's correlation ID to the context.
func WithFileID(ctx context.Context, fileID string) context.Context {
	return context.WithValue(ctx, FileIDKey, fileID)
}

// GetFileID retrieves the file handle correlation ID from the context.
func GetFileID(ctx context.Context) string {
	if fileID, ok := ctx.Value(FileIDKey).(string); ok {
		return fileID
	}
	return ""
}

// LoggerFromContext returns a logger with context values attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger := defaultLogger
	if fileID := GetFileID(ctx); fileID != "" {
		logger = logger.With("file_id", fileID)
	}
	return logger
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// DebugContext logs a debug message with context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Debug(msg, args...)
}

// InfoContext logs an info message with context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Info(msg, args...)
}

// WarnContext logs a warning message with context.
func WarnContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Warn(msg, args...)
}

// ErrorContext logs an error message with context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Error(msg, args...)
}

// TickCommitted logs a successfully committed writer tick.
func TickCommitted(fileID string, tickNum uint64, numEntries int, bytesWritten int64, args ...any) {
	allArgs := []any{
		"file_id", fileID,
		"tick_num", tickNum,
		"num_entries", numEntries,
		"bytes_written", bytesWritten,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("tick_committed", allArgs...)
}

// TornRead logs a reader-side torn-read detection and retry.
func TornRead(fileID string, attempt, maxAttempts int, reason string) {
	defaultLogger.Warn("torn_read",
		"file_id", fileID,
		"attempt", attempt,
		"max_attempts", maxAttempts,
		"reason", reason,
	)
}

// LedgerPruned logs delayed-write ledger pruning at tick commit.
func LedgerPruned(fileID string, tickNum uint64, pruned int, remaining int) {
	defaultLogger.Debug("ledger_pruned",
		"file_id", fileID,
		"tick_num", tickNum,
		"pruned", pruned,
		"remaining", remaining,
	)
}

// SchedulerFired logs the scheduler invoking a due tick controller.
func SchedulerFired(fileID string, role string, tickNum uint64) {
	defaultLogger.Debug("scheduler_fired",
		"file_id", fileID,
		"role", role,
		"tick_num", tickNum,
	)
}
