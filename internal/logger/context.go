package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries fields that every log line of an operation should
// include: maintenance run ids, API request ids and trace correlation.
type LogContext struct {
	TraceID   string
	SpanID    string
	RunID     string // maintenance or snapshot run
	Phase     string // maintenance phase currently executing
	RequestID string // HTTP request id
	StartTime time.Time
}

// WithContext returns a context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext stored in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// NewRun starts a LogContext for a maintenance or persistence run.
func NewRun(runID string) *LogContext {
	return &LogContext{RunID: runID, StartTime: time.Now()}
}

// Clone returns a copy of lc. A nil receiver yields nil.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithPhase returns a copy with Phase set.
func (lc *LogContext) WithPhase(phase string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Phase = phase
	}
	return c
}

// WithTrace returns a copy with the trace ids set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the time since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}

// WithPhaseContext is a shorthand that derives a phase-scoped context from ctx.
// Without a LogContext in ctx, ctx is returned as is.
func WithPhaseContext(ctx context.Context, phase string) context.Context {
	lc := FromContext(ctx)
	if lc == nil {
		return ctx
	}
	return WithContext(ctx, lc.WithPhase(phase))
}
