package manager

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// LogLevelDebug represents debug level logging (most verbose)
	LogLevelDebug LogLevel = iota
	// LogLevelInfo represents info level logging (normal operations)
	LogLevelInfo
	// LogLevelWarn represents warning level logging
	LogLevelWarn
	// LogLevelError represents error level logging
	LogLevelError
	// LogLevelQuiet represents minimal logging (only errors and important messages)
	LogLevelQuiet
)

// Logger is a wrapper around slog to provide consistent logging across the application
type Logger struct {
	slogger *slog.Logger
	level   LogLevel
}

// DefaultLogger is the package-level logger
var DefaultLogger = NewLogger(os.Stdout, LogLevelInfo)

// NewLogger creates a new Logger instance
func NewLogger(w io.Writer, level LogLevel) *Logger {
	var slogLevel slog.Level

	switch level {
	case LogLevelDebug:
		slogLevel = slog.LevelDebug
	case LogLevelInfo:
		slogLevel = slog.LevelInfo
	case LogLevelWarn:
		slogLevel = slog.LevelWarn
	case LogLevelError, LogLevelQuiet:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel})

	return &Logger{
		slogger: slog.New(handler),
		level:   level,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= LogLevelDebug {
		l.slogger.Debug(msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= LogLevelInfo {
		l.slogger.Info(msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= LogLevelWarn {
		l.slogger.Warn(msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.level <= LogLevelError {
		l.slogger.Error(msg, args...)
	}
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level <= LogLevelDebug {
		l.slogger.Debug(fmt.Sprintf(format, args...))
	}
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level <= LogLevelInfo {
		l.slogger.Info(fmt.Sprintf(format, args...))
	}
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.level <= LogLevelWarn {
		l.slogger.Warn(fmt.Sprintf(format, args...))
	}
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.level <= LogLevelError {
		l.slogger.Error(fmt.Sprintf(format, args...))
	}
}

// Importantf logs a formatted message that is always shown regardless of log level
func (l *Logger) Importantf(format string, args ...interface{}) {
	l.slogger.Error(fmt.Sprintf(format, args...))
}

// SetupDefaultLogger initializes the default logger with the specified level
func SetupDefaultLogger(level LogLevel) {
	DefaultLogger = NewLogger(os.Stdout, level)
}

// GetDefaultLogger returns the default logger
func GetDefaultLogger() *Logger {
	return DefaultLogger
}

// ParseLogLevel maps a level name to a LogLevel, defaulting to info
func ParseLogLevel(name string) LogLevel {
	switch name {
	case "debug":
		return LogLevelDebug
	case "info", "":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	case "quiet":
		return LogLevelQuiet
	default:
		return LogLevelInfo
	}
}
