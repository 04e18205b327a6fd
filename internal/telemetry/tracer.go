package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys attached to relay spans.
const (
	AttrRequestID = "relay.request_id"
	AttrUserID    = "relay.user_id"
	AttrChatID    = "relay.chat_id"
	AttrURL       = "relay.url"
	AttrQuality   = "relay.quality"
	AttrPath      = "relay.path" // "botapi" or "session"
	AttrSize      = "relay.size_bytes"
	AttrAttempt   = "relay.attempt"
	AttrOutcome   = "relay.outcome"

	AttrParts     = "upload.parts"
	AttrFileID    = "upload.file_id"
	AttrReconnect = "upload.reconnects"

	AttrDBOperation = "db.operation"
)

// Span names.
const (
	SpanRelay     = "relay.handle"
	SpanFetch     = "relay.fetch"
	SpanPrepare   = "relay.prepare"
	SpanUpload    = "relay.upload"
	SpanDBOp      = "store.op"
	SpanKeepAlive = "session.keepalive"
)

func RequestID(id string) attribute.KeyValue { return attribute.String(AttrRequestID, id) }
func UserID(id int64) attribute.KeyValue     { return attribute.Int64(AttrUserID, id) }
func ChatID(id int64) attribute.KeyValue     { return attribute.Int64(AttrChatID, id) }
func URL(u string) attribute.KeyValue        { return attribute.String(AttrURL, u) }
func Quality(q string) attribute.KeyValue    { return attribute.String(AttrQuality, q) }
func Path(p string) attribute.KeyValue       { return attribute.String(AttrPath, p) }
func Size(n int64) attribute.KeyValue        { return attribute.Int64(AttrSize, n) }
func Attempt(n int) attribute.KeyValue       { return attribute.Int(AttrAttempt, n) }
func Outcome(o string) attribute.KeyValue    { return attribute.String(AttrOutcome, o) }
func Parts(n int) attribute.KeyValue         { return attribute.Int(AttrParts, n) }
func DBOperation(op string) attribute.KeyValue {
	return attribute.String(AttrDBOperation, op)
}

// StartRelaySpan starts the root span for one relay request.
func StartRelaySpan(ctx context.Context, requestID string, userID, chatID int64, url string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanRelay,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(RequestID(requestID), UserID(userID), ChatID(chatID), URL(url)),
	)
}

// StartPhaseSpan starts a child span for one pipeline phase.
func StartPhaseSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}
