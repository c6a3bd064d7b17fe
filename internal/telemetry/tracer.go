package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

// StartOperation 为引擎操作开启一个 span，使用全局 TracerProvider
func StartOperation(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "economy."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(attrs, OperationKey.String(op))...),
	)
}

// EndOperation 记录错误并结束 span
func EndOperation(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind := ports.KindOf(err); kind != "" {
			span.SetAttributes(ErrorKindKey.String(string(kind)))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
