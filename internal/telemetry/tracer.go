package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrPhase      = "flashwear.phase"
	AttrRunID      = "flashwear.run_id"
	AttrBlockID    = "flashwear.block_id"
	AttrTargetID   = "flashwear.target_id"
	AttrBlockCount = "flashwear.block_count"
	AttrBadCount   = "flashwear.bad_count"
	AttrDevice     = "flashwear.device"

	AttrStoreType = "store.type"
	AttrStoreOp   = "store.operation"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
	AttrBytes     = "storage.bytes"

	AttrHTTPRoute = "http.route"
	AttrClientIP  = "client.ip"
)

// Span names.
const (
	SpanMaintain = "engine.maintain"
	SpanRun      = "runtime.maintain"
	SpanPersist  = "runtime.persist"
	SpanRecover  = "runtime.recover"

	// Phase spans are "maintain.<phase>".
	spanPhasePrefix = "maintain."
	// Store spans are "snapshot.<operation>".
	spanStorePrefix = "snapshot."
)

func Phase(name string) attribute.KeyValue      { return attribute.String(AttrPhase, name) }
func RunID(id string) attribute.KeyValue        { return attribute.String(AttrRunID, id) }
func BlockID(id uint32) attribute.KeyValue      { return attribute.Int64(AttrBlockID, int64(id)) }
func TargetID(id uint32) attribute.KeyValue     { return attribute.Int64(AttrTargetID, int64(id)) }
func BlockCount(n int) attribute.KeyValue       { return attribute.Int(AttrBlockCount, n) }
func BadCount(n int) attribute.KeyValue         { return attribute.Int(AttrBadCount, n) }
func DeviceKind(kind string) attribute.KeyValue { return attribute.String(AttrDevice, kind) }
func StoreType(t string) attribute.KeyValue     { return attribute.String(AttrStoreType, t) }
func Bucket(name string) attribute.KeyValue     { return attribute.String(AttrBucket, name) }
func StorageKey(key string) attribute.KeyValue  { return attribute.String(AttrKey, key) }
func Bytes(n int) attribute.KeyValue            { return attribute.Int(AttrBytes, n) }
func HTTPRoute(r string) attribute.KeyValue     { return attribute.String(AttrHTTPRoute, r) }
func ClientIP(ip string) attribute.KeyValue     { return attribute.String(AttrClientIP, ip) }

// StartPhaseSpan starts the span of one maintenance phase.
func StartPhaseSpan(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Phase(phase)}, attrs...)
	return StartSpan(ctx, spanPhasePrefix+phase, trace.WithAttributes(all...))
}

// StartStoreSpan starts a span for a snapshot store operation such as
// "save" or "load".
func StartStoreSpan(ctx context.Context, storeType, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{StoreType(storeType), attribute.String(AttrStoreOp, op)}, attrs...)
	return StartSpan(ctx, spanStorePrefix+op, trace.WithAttributes(all...), trace.WithSpanKind(trace.SpanKindClient))
}
