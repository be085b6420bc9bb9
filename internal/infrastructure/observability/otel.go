package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "mdn-conversation-api"

// Setup installs the global OTLP trace pipeline. It returns a shutdown
// function that flushes pending spans; when endpoint is empty, tracing is
// left on the default no-op provider and shutdown is a no-op.
func Setup(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartChatTurnSpan opens the span covering one streaming model request.
func StartChatTurnSpan(ctx context.Context, conversationID, model, provider string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("llm.model", model),
		attribute.String("llm.provider", provider),
	))
}

// StartToolSpan opens the span covering one tool execution.
func StartToolSpan(ctx context.Context, conversationID, name, callID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool.run", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", callID),
	))
}

// RecordError marks the span failed and attaches the error event.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
