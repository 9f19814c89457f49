// Package logging provides structured logging functionality using Go's slog package.
// It supports both text and JSON output formats, configurable log levels,
// and context-aware logging for the sweepnet application.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// File permissions for directories and log files.
	logDirPerm  = 0750
	logFilePerm = 0600
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the available log formats.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Config holds logging configuration.
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level"`
	Format    LogFormat `yaml:"format" json:"format"`
	Output    string    `yaml:"output" json:"output"`
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Output:    "stderr",
		AddSource: false,
	}
}

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	config Config
}

// New creates a new structured logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	// Parse log level
	var level slog.Level
	switch strings.ToLower(string(cfg.Level)) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Determine output writer
	var writer io.Writer
	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		// Assume it's a file path
		if err := os.MkdirAll(filepath.Dir(cfg.Output), logDirPerm); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	// Create handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
	}, nil
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	logger, _ := New(DefaultConfig())
	return logger
}

// WithContext adds context to the logger for structured logging.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.With(),
		config: l.config,
	}
}

// WithFields adds structured fields to the logger.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.With(fields...),
		config: l.config,
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithJobID adds a scan job ID field to the logger.
func (l *Logger) WithJobID(jobID string) *Logger {
	return l.WithFields("job_id", jobID)
}

// WithTarget adds a target field to the logger.
func (l *Logger) WithTarget(target string) *Logger {
	return l.WithFields("target", target)
}

// WithError adds an error field to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

// InfoScan logs scan-related information.
func (l *Logger) InfoScan(msg, target string, fields ...any) {
	allFields := append([]any{"target", target}, fields...)
	l.Info(msg, allFields...)
}

// ErrorScan logs scan-related errors.
func (l *Logger) ErrorScan(msg, target string, err error, fields ...any) {
	allFields := append([]any{"target", target, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// DebugProbe logs per-probe details at debug level.
func (l *Logger) DebugProbe(msg, target string, port uint16, fields ...any) {
	allFields := append([]any{"target", target, "port", port}, fields...)
	l.Debug(msg, allFields...)
}

// InfoJob logs job-level information.
func (l *Logger) InfoJob(msg, jobID string, fields ...any) {
	allFields := append([]any{"job_id", jobID}, fields...)
	l.Info(msg, allFields...)
}

// ErrorJob logs job-level errors.
func (l *Logger) ErrorJob(msg, jobID string, err error, fields ...any) {
	allFields := append([]any{"job_id", jobID, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// Global logger instance - can be replaced for testing.
var defaultLogger = NewDefault()

// SetDefault sets the default logger instance.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the default logger instance.
func Default() *Logger {
	return defaultLogger
}

// Debug logs at debug level using the default logger.
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs at info level using the default logger.
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs at error level using the default logger.
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}

// InfoScan logs scan-related information using the default logger.
func InfoScan(msg, target string, fields ...any) {
	defaultLogger.InfoScan(msg, target, fields...)
}

// ErrorScan logs scan-related errors using the default logger.
func ErrorScan(msg, target string, err error, fields ...any) {
	defaultLogger.ErrorScan(msg, target, err, fields...)
}

// DebugProbe logs per-probe details using the default logger.
func DebugProbe(msg, target string, port uint16, fields ...any) {
	defaultLogger.DebugProbe(msg, target, port, fields...)
}

// InfoJob logs job-level information using the default logger.
func InfoJob(msg, jobID string, fields ...any) {
	defaultLogger.InfoJob(msg, jobID, fields...)
}

// ErrorJob logs job-level errors using the default logger.
func ErrorJob(msg, jobID string, err error, fields ...any) {
	defaultLogger.ErrorJob(msg, jobID, err, fields...)
}
