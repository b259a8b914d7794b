package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Use these instead of ad-hoc strings so that log lines
// stay queryable across components.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Runs and requests
	KeyRunID     = "run_id"
	KeyPhase     = "phase"
	KeyRequestID = "request_id"
	KeyMethod    = "method"
	KeyPath      = "path"
	KeyStatus    = "status"
	KeyClientIP  = "client_ip"

	// Blocks
	KeyBlockID    = "block_id"
	KeyTargetID   = "target_id"
	KeyState      = "state"
	KeyFromState  = "from_state"
	KeyToState    = "to_state"
	KeyEraseCount = "erase_count"
	KeyWriteCount = "write_count"
	KeyGeneration = "generation"
	KeyReason     = "reason"
	KeyScore      = "score"
	KeySize       = "size"

	// Device / table
	KeyDevice     = "device"
	KeyOperation  = "operation"
	KeyBlockCount = "block_count"
	KeyBadCount   = "bad_count"
	KeyBadRatio   = "bad_ratio"
	KeyCount      = "count"
	KeyAttempt    = "attempt"

	// Persistence
	KeyStoreType = "store_type"
	KeyBucket    = "bucket"
	KeyKey       = "key"
	KeyFile      = "file"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr  { return slog.String(KeySpanID, id) }
func RunID(id string) slog.Attr   { return slog.String(KeyRunID, id) }
func Phase(p string) slog.Attr    { return slog.String(KeyPhase, p) }

// BlockID returns the attribute for a physical erase block id.
func BlockID(id uint32) slog.Attr { return slog.Uint64(KeyBlockID, uint64(id)) }

// TargetID returns the attribute for the destination block of a relocation.
func TargetID(id uint32) slog.Attr { return slog.Uint64(KeyTargetID, uint64(id)) }

// State accepts anything with a String method so block states log by name.
func State(s interface{ String() string }) slog.Attr { return slog.String(KeyState, s.String()) }

func FromState(s interface{ String() string }) slog.Attr {
	return slog.String(KeyFromState, s.String())
}

func ToState(s interface{ String() string }) slog.Attr {
	return slog.String(KeyToState, s.String())
}

func EraseCount(n uint64) slog.Attr { return slog.Uint64(KeyEraseCount, n) }
func WriteCount(n uint64) slog.Attr { return slog.Uint64(KeyWriteCount, n) }
func Generation(g uint64) slog.Attr { return slog.Uint64(KeyGeneration, g) }
func Reason(r string) slog.Attr     { return slog.String(KeyReason, r) }
func Score(s uint64) slog.Attr      { return slog.Uint64(KeyScore, s) }
func Size(n int) slog.Attr          { return slog.Int(KeySize, n) }
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }
func Count(n int) slog.Attr         { return slog.Int(KeyCount, n) }
func BadCount(n int) slog.Attr      { return slog.Int(KeyBadCount, n) }
func BadRatio(r float64) slog.Attr  { return slog.Float64(KeyBadRatio, r) }
func BlockCount(n int) slog.Attr    { return slog.Int(KeyBlockCount, n) }
func Attempt(n int) slog.Attr       { return slog.Int(KeyAttempt, n) }
func StoreType(t string) slog.Attr  { return slog.String(KeyStoreType, t) }
func Bucket(b string) slog.Attr     { return slog.String(KeyBucket, b) }
func Key(k string) slog.Attr        { return slog.String(KeyKey, k) }
func File(p string) slog.Attr       { return slog.String(KeyFile, p) }

// DurationMs returns the elapsed time since start, in milliseconds.
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}

// Err returns the error attribute. A nil error yields an empty attribute,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
