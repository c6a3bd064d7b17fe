package telemetry

import (
	"context"
	"math/big"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestEconomyMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewEconomyMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.GameRegistered(ctx, 1)
	fee, _ := new(big.Int).SetString("62500000000000", 10)
	net, _ := new(big.Int).SetString("2437500000000000", 10)
	m.GamePurchased(ctx, 1, fee, net)
	m.GamePurchased(ctx, 1, fee, net)
	m.OperationFailed(ctx, "purchase", ports.KindOracle)
	m.ObserveDuration(ctx, "purchase", 3*time.Millisecond)

	got := collect(t, reader)
	purchases, ok := got["economy.purchases.total"].Data.(metricdata.Sum[int64])
	if !ok || len(purchases.DataPoints) != 1 || purchases.DataPoints[0].Value != 2 {
		t.Fatalf("purchases = %+v", got["economy.purchases.total"].Data)
	}
	fees, ok := got["economy.fees.collected"].Data.(metricdata.Sum[float64])
	if !ok || len(fees.DataPoints) != 1 || fees.DataPoints[0].Value < 0.000124 || fees.DataPoints[0].Value > 0.000126 {
		t.Fatalf("fees = %+v", got["economy.fees.collected"].Data)
	}
	if _, ok := got["economy.operations.failed"]; !ok {
		t.Fatalf("missing error counter")
	}
	if _, ok := got["economy.operation.duration"]; !ok {
		t.Fatalf("missing duration histogram")
	}
}

func TestEndOperationRecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartOperation(context.Background(), "purchase", GameIDKey.Int64(1))
	EndOperation(span, ports.NewError(ports.KindInactiveGame, "Game not active"))
	_, span = StartOperation(context.Background(), "register")
	EndOperation(span, nil)

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	if ended[0].Name() != "economy.purchase" || ended[0].Status().Code != codes.Error {
		t.Fatalf("unexpected span %s %+v", ended[0].Name(), ended[0].Status())
	}
	if ended[1].Status().Code != codes.Ok {
		t.Fatalf("unexpected status %+v", ended[1].Status())
	}
}
