// Package logging provides leveled, component-scoped logging for the bot.
// Output is produced by hclog so key=value fields, levels and timestamps are
// formatted consistently across every component.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a config string into a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) hclog() hclog.Level {
	switch l {
	case LevelDebug:
		return hclog.Debug
	case LevelWarn:
		return hclog.Warn
	case LevelError:
		return hclog.Error
	default:
		return hclog.Info
	}
}

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
	hl        hclog.Logger
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	l := &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
	l.rebuild()
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := &Logger{
		output:   io.Discard,
		minLevel: LevelError,
	}
	l.rebuild()
	return l
}

// OrNop returns l when non-nil, otherwise a discarding logger.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

func (l *Logger) rebuild() {
	hl := hclog.New(&hclog.LoggerOptions{
		Name:       l.component,
		Level:      l.minLevel.hclog(),
		Output:     l.output,
		TimeFormat: "2006-01-02T15:04:05.000Z0700",
	})
	if l.traceID != "" {
		hl = hl.With("trace_id", l.traceID)
	}
	l.hl = hl
}

func (l *Logger) derive(component, traceID string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	child := &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   traceID,
	}
	child.rebuild()
	return child
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive(component, l.traceID)
}

// WithTraceID returns a new logger tagging every line with trace_id.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return l.derive(l.component, traceID)
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
	l.hl.SetLevel(level.hclog())
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.rebuild()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.current().Debug(msg, flatten(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.current().Info(msg, flatten(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.current().Warn(msg, flatten(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.current().Error(msg, flatten(fields)...)
}

// Hclog exposes the underlying hclog logger for libraries that accept one.
func (l *Logger) Hclog() hclog.Logger {
	return l.current()
}

func (l *Logger) current() hclog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hl
}

// flatten turns the first field map into sorted key/value pairs.
func flatten(fields []map[string]any) []any {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}
	m := fields[0]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, m[k])
	}
	return args
}

// --- Event helpers ---

// RateLimited logs a denied rate limit check.
func (l *Logger) RateLimited(actor string, useCount int, retryAfter time.Duration) {
	l.Info("rate_limited", map[string]any{
		"actor":       actor,
		"uses":        useCount,
		"retry_after": retryAfter.String(),
	})
}

// Reshuffled logs a rotation cycle restart.
func (l *Logger) Reshuffled(pool string, size int) {
	l.Debug("rotation_reshuffle", map[string]any{
		"pool": pool,
		"size": size,
	})
}

// CorruptState logs a persisted document that had to be reinitialized.
func (l *Logger) CorruptState(key string, err error) {
	l.Warn("corrupt_state_reset", map[string]any{
		"key":   key,
		"error": err.Error(),
	})
}

// CorrelationExpired logs an entry reclaimed by the sweeper.
func (l *Logger) CorrelationExpired(table, key string, age time.Duration) {
	l.Debug("correlation_expired", map[string]any{
		"table": table,
		"key":   key,
		"age":   age.Round(time.Millisecond).String(),
	})
}

// UpdateHandled logs the outcome of a dispatched update.
func (l *Logger) UpdateHandled(feature string, updateID int64, duration time.Duration, err error) {
	fields := map[string]any{
		"feature":  feature,
		"update":   updateID,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("update_error", fields)
		return
	}
	l.Debug("update_handled", fields)
}
