// Package logger is the process-wide structured logger.
//
// It wraps log/slog behind package-level functions so that any package can
// log without threading a logger through constructors. Level and format can
// be changed at runtime (the daemon does so after loading its config).
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	mu       sync.RWMutex
	level              = new(slog.LevelVar)
	format             = "text"
	output   io.Writer = os.Stdout
	useColor           = false
	closer   io.Closer
	slogger  *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	useColor = isTerminal(os.Stdout.Fd())
	rebuild()
}

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

func (l Level) toSlog() slog.Level {
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

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

// rebuild swaps the handler. Caller must not hold mu.
func rebuild() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// Init applies cfg. Empty fields keep their current value.
func Init(cfg Config) error {
	if cfg.Output != "" {
		if err := setOutput(cfg.Output); err != nil {
			return err
		}
	}
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	rebuild()
	return nil
}

func setOutput(dest string) error {
	var (
		w     io.Writer
		c     io.Closer
		color bool
	)
	switch strings.ToLower(dest) {
	case "stdout":
		w, color = os.Stdout, isTerminal(os.Stdout.Fd())
	case "stderr":
		w, color = os.Stderr, isTerminal(os.Stderr.Fd())
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", dest, err)
		}
		w, c = f, f
	}

	mu.Lock()
	prev := closer
	output, useColor, closer = w, color, c
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// InitWithWriter routes output to w. Used by tests and by the CLI when it
// wants log lines interleaved with command output.
func InitWithWriter(w io.Writer, lvl, fmtName string, enableColor bool) {
	mu.Lock()
	output = w
	useColor = enableColor
	mu.Unlock()

	if lvl != "" {
		SetLevel(lvl)
	}
	if fmtName != "" {
		SetFormat(fmtName)
	}
	rebuild()
}

// SetLevel sets the minimum log level. Unknown names are ignored.
func SetLevel(name string) {
	l, ok := ParseLevel(name)
	if !ok {
		return
	}
	level.Set(l.toSlog())
}

// SetFormat sets the output format (text or json). Unknown formats are ignored.
func SetFormat(name string) {
	name = strings.ToLower(name)
	if name != "text" && name != "json" {
		return
	}
	mu.Lock()
	changed := format != name
	format = name
	mu.Unlock()
	if changed {
		rebuild()
	}
}

// Enabled reports whether messages at l would be emitted.
func Enabled(l Level) bool {
	return l.toSlog() >= level.Level()
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level. Usage: Debug("msg", "key", value, ...)
func Debug(msg string, args ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	get().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if !Enabled(LevelInfo) {
		return
	}
	get().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	if !Enabled(LevelWarn) {
		return
	}
	get().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	get().Error(msg, args...)
}

// DebugCtx logs at debug level and prepends the fields carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	get().Debug(msg, withContextFields(ctx, args)...)
}

// InfoCtx logs at info level with context fields.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(LevelInfo) {
		return
	}
	get().Info(msg, withContextFields(ctx, args)...)
}

// WarnCtx logs at warn level with context fields.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(LevelWarn) {
		return
	}
	get().Warn(msg, withContextFields(ctx, args)...)
}

// ErrorCtx logs at error level with context fields.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	get().Error(msg, withContextFields(ctx, args)...)
}

func withContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 10+len(args))
	if lc.TraceID != "" {
		out = append(out, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		out = append(out, KeySpanID, lc.SpanID)
	}
	if lc.RunID != "" {
		out = append(out, KeyRunID, lc.RunID)
	}
	if lc.Phase != "" {
		out = append(out, KeyPhase, lc.Phase)
	}
	if lc.RequestID != "" {
		out = append(out, KeyRequestID, lc.RequestID)
	}
	return append(out, args...)
}

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// Duration returns the time elapsed since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// Debugf logs a printf-style message at debug level.
func Debugf(f string, v ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	get().Debug(fmt.Sprintf(f, v...))
}

// Infof logs a printf-style message at info level.
func Infof(f string, v ...any) {
	if !Enabled(LevelInfo) {
		return
	}
	get().Info(fmt.Sprintf(f, v...))
}

// Warnf logs a printf-style message at warn level.
func Warnf(f string, v ...any) {
	if !Enabled(LevelWarn) {
		return
	}
	get().Warn(fmt.Sprintf(f, v...))
}

// Errorf logs a printf-style message at error level.
func Errorf(f string, v ...any) {
	get().Error(fmt.Sprintf(f, v...))
}
