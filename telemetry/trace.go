// Package telemetry provides OpenTelemetry span helpers and lightweight
// in-process counters. The StepExecutor's dispatch path records span events
// and errors; the StepExecutor and the Orchestrator each keep a Metrics
// registry. StartSpan has no caller in the engine. Grounded on gomind's
// telemetry.AddSpanEvent/RecordSpanError usage in orchestration/hitl_policy.go
// and orchestration/instrumentation.go.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AddSpanEvent records a named event with attributes on the span in ctx, if
// any span is actively recording. A no-op otherwise, so callers never need to
// check whether tracing is configured.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordSpanError marks the span in ctx as failed and attaches the error.
func RecordSpanError(ctx context.Context, err error) {
	if ctx == nil || err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// StartSpan starts a span named name under the package-level tracer and
// returns the derived context plus an end function.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	tracer := trace.NewNoopTracerProvider().Tracer("pilot")
	if p := tracerProvider(); p != nil {
		tracer = p.Tracer("pilot")
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

var globalTracerProvider trace.TracerProvider

// SetTracerProvider installs a process-wide TracerProvider (e.g. from an
// otlptrace exporter configured by the hosting application). Calling this is
// optional: without it, StartSpan uses a no-op tracer and AddSpanEvent is
// simply inert.
func SetTracerProvider(p trace.TracerProvider) { globalTracerProvider = p }

func tracerProvider() trace.TracerProvider { return globalTracerProvider }
