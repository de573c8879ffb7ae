// Package logging provides the structured logger shared by every audiolink
// component, plus an in-memory buffer of recent records for the control API.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level represents log severity levels.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Logger wraps slog with component scoping and a dynamic level.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Output io.Writer
	// JSON writes one JSON object per record instead of console lines.
	JSON bool
	// Recent receives a copy of every record; nil means the process-wide
	// buffer from RecentLogs.
	Recent *RingBuffer
}

// DefaultConfig returns info-level console logging to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// New creates a Logger. Records go to cfg.Output and to the recent-records
// buffer regardless of the output format.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Recent == nil {
		cfg.Recent = RecentLogs()
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: levelVar}

	var out slog.Handler
	if cfg.JSON {
		out = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		out = NewConsoleHandler(cfg.Output, opts)
	}

	return &Logger{
		Logger: slog.New(&recordingHandler{next: out, recent: cfg.Recent}),
		level:  levelVar,
	}
}

// OpenFile opens (creating parents) an append-only log file and returns a
// writer that tees into it and base. The returned closer closes the file.
func OpenFile(path string, base io.Writer) (io.Writer, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	if base == nil {
		return f, f, nil
	}
	return io.MultiWriter(base, f), f, nil
}

// ParseLevel maps "debug", "info", "warn"/"warning", "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Default returns the process logger, creating a console logger on first use.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(DefaultConfig())
	}
	return defaultLogger
}

// SetDefault replaces the process logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// SetLevel changes the log level dynamically.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() Level {
	return l.level.Level()
}

// WithComponent returns a logger tagging its records with component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With(componentKey, name),
		level:  l.level,
	}
}

// Debug logs at debug level on the process logger.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at info level on the process logger.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at warn level on the process logger.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at error level on the process logger.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// WithComponent returns a component-scoped process logger.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}
