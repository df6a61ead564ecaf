package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danmuck/corelink"

// StartCall opens a client span for one request/response cycle. It uses the
// global tracer provider, which is a no-op until the host program installs
// one.
func StartCall(ctx context.Context, session, code string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "core."+code,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("core.session", session),
			attribute.String("core.code", code),
		),
	)
}

// EndCall records the request id and outcome and ends the span.
func EndCall(span trace.Span, requestID string, err error) {
	if requestID != "" {
		span.SetAttributes(attribute.String("core.request_id", requestID))
	}
	span.SetAttributes(attribute.String("core.outcome", Outcome(err)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartProcess opens a span covering spawn and handshake.
func StartProcess(ctx context.Context, session, executable string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "core.start",
		trace.WithAttributes(
			attribute.String("core.session", session),
			attribute.String("core.executable", executable),
		),
	)
}
