// Package logging provides logging interfaces and utilities for dirq.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents the severity of a log message.
type Level int

const (
	// LevelDebug for detailed debugging information
	LevelDebug Level = iota
	// LevelInfo for informational messages
	LevelInfo
	// LevelWarn for warning messages
	LevelWarn
	// LevelError for error messages
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name into a Level.
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
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is the interface for logging in dirq.
// Users can implement this interface to integrate with their logging system.
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, fields ...Field)

	// Info logs an informational message
	Info(msg string, fields ...Field)

	// Warn logs a warning message
	Warn(msg string, fields ...Field)

	// Error logs an error message
	Error(msg string, fields ...Field)
}

// Field represents a structured logging field.
type Field struct {
	Key   string
	Value any
}

// F is a convenience function to create a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// NoopLogger is a logger that does nothing.
type NoopLogger struct{}

// Debug implements Logger.
func (NoopLogger) Debug(string, ...Field) {}

// Info implements Logger.
func (NoopLogger) Info(string, ...Field) {}

// Warn implements Logger.
func (NoopLogger) Warn(string, ...Field) {}

// Error implements Logger.
func (NoopLogger) Error(string, ...Field) {}

// Format selects the slog handler used by New.
type Format string

const (
	// FormatJSON emits one JSON object per record.
	FormatJSON Format = "json"
	// FormatText emits logfmt-style key=value records.
	FormatText Format = "text"
)

// Option configures New.
type Option func(*config)

type config struct {
	level  Level
	format Format
	output io.Writer
	attrs  []slog.Attr
}

// WithLevel sets the minimum level.
func WithLevel(l Level) Option {
	return func(c *config) { c.level = l }
}

// WithFormat sets the output format. Unknown formats fall back to text.
func WithFormat(f Format) Option {
	return func(c *config) {
		switch f {
		case FormatJSON, FormatText:
			c.format = f
		default:
			c.format = FormatText
		}
	}
}

// WithOutput sets the destination writer, ignoring nil.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	l *slog.Logger
}

// New creates a Logger backed by log/slog. Defaults: text format, info
// level, stderr.
func New(opts ...Option) *SlogLogger {
	cfg := &config{
		level:  LevelInfo,
		format: FormatText,
		output: os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level.slog()}

	var handler slog.Handler
	if cfg.format == FormatJSON {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	}
	if len(cfg.attrs) > 0 {
		handler = handler.WithAttrs(cfg.attrs)
	}

	return &SlogLogger{l: slog.New(handler)}
}

// FromSlog wraps an existing *slog.Logger.
func FromSlog(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

// Slog returns the underlying *slog.Logger.
func (s *SlogLogger) Slog() *slog.Logger {
	return s.l
}

// Debug implements Logger.
func (s *SlogLogger) Debug(msg string, fields ...Field) {
	s.l.Debug(msg, toArgs(fields)...)
}

// Info implements Logger.
func (s *SlogLogger) Info(msg string, fields ...Field) {
	s.l.Info(msg, toArgs(fields)...)
}

// Warn implements Logger.
func (s *SlogLogger) Warn(msg string, fields ...Field) {
	s.l.Warn(msg, toArgs(fields)...)
}

// Error implements Logger.
func (s *SlogLogger) Error(msg string, fields ...Field) {
	s.l.Error(msg, toArgs(fields)...)
}

func toArgs(fields []Field) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}
