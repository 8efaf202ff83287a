// Package tracecontext encodes and decodes the W3C traceparent-shaped
// header arcnet propagates across every topic, using
// go.opentelemetry.io/otel/trace's span-context types so the header
// format matches what any OTel-instrumented consumer downstream
// already knows how to parse.
package tracecontext

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// FromContext renders the current span context of ctx as a
// traceparent header value ("00-<trace-id>-<span-id>-<flags>"). It
// returns ("", false) if ctx carries no valid span context.
func FromContext(ctx context.Context) (string, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", false
	}
	flags := "00"
	if sc.IsSampled() {
		flags = "01"
	}
	return fmt.Sprintf("00-%s-%s-%s", sc.TraceID(), sc.SpanID(), flags), true
}

// ContextWithParent returns ctx augmented with the span context parsed
// from a traceparent header value, for propagating an inbound trace
// parent into outbound operations. It returns ctx unchanged if value
// does not parse.
func ContextWithParent(ctx context.Context, value string) context.Context {
	sc, ok := parse(value)
	if !ok {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

func parse(value string) (trace.SpanContext, bool) {
	parts := strings.Split(value, "-")
	if len(parts) != 4 {
		return trace.SpanContext{}, false
	}

	traceIDBytes, err := hex.DecodeString(parts[1])
	if err != nil || len(traceIDBytes) != 16 {
		return trace.SpanContext{}, false
	}
	spanIDBytes, err := hex.DecodeString(parts[2])
	if err != nil || len(spanIDBytes) != 8 {
		return trace.SpanContext{}, false
	}

	var traceID trace.TraceID
	copy(traceID[:], traceIDBytes)
	var spanID trace.SpanID
	copy(spanID[:], spanIDBytes)

	flags := trace.TraceFlags(0)
	if parts[3] == "01" {
		flags = trace.FlagsSampled
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	if !sc.IsValid() {
		return trace.SpanContext{}, false
	}
	return sc, true
}
