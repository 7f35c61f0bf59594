// Package logging provides structured logging infrastructure for the pipeline.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level aliases for slog levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger wraps slog.Logger with pipeline-specific configuration.
type Logger struct {
	*slog.Logger
	rotator *lumberjack.Logger
}

// Config contains logger configuration options.
type Config struct {
	Level Level
	// WorkDir, when non-empty, enables a rotated file log at
	// <WorkDir>/encode.log alongside stderr output.
	WorkDir string
	Enabled bool
}

// DefaultConfig returns a default logger configuration: info level, stderr only.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Enabled: true}
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if !cfg.Enabled {
		return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	}

	var out io.Writer = os.Stderr
	var rotator *lumberjack.Logger
	if cfg.WorkDir != "" {
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.WorkDir, "encode.log"),
			MaxSize:    64, // MB
			MaxBackups: 3,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Level})
	return &Logger{Logger: slog.New(handler), rotator: rotator}
}

// Close releases the rotated log file, if any.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// WithChunk returns a logger scoped to a chunk id, used by the scheduler and worker.
func (l *Logger) WithChunk(chunkID int) *Logger {
	return &Logger{Logger: l.With("chunk_id", chunkID), rotator: l.rotator}
}

var (
	globalLogger     *Logger
	globalLoggerOnce sync.Once
	globalMu         sync.RWMutex
)

// Global returns the global logger instance, initializing it with defaults on first use.
func Global() *Logger {
	globalLoggerOnce.Do(func() {
		globalMu.Lock()
		globalLogger = New(DefaultConfig())
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal replaces the global logger instance.
func SetGlobal(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

func Debug(msg string, args ...any) { Global().Debug(msg, args...) }
func Info(msg string, args ...any)  { Global().Info(msg, args...) }
func Warn(msg string, args ...any)  { Global().Warn(msg, args...) }
func Error(msg string, args ...any) { Global().Error(msg, args...) }
