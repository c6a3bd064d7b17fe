package telemetry

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

const instrumentationName = "croupier.economy"

// 经济引擎 Semantic Conventions
const (
	GameIDKey      = attribute.Key("economy.game_id")
	OperationKey   = attribute.Key("economy.operation")
	ErrorKindKey   = attribute.Key("economy.error_kind")
	GameActiveKey  = attribute.Key("economy.game_active")
	TxIDKey        = attribute.Key("economy.tx_id")
	FeedIDKey      = attribute.Key("oracle.feed_id")
	PriceUSDKey    = attribute.Key("oracle.price_usd")
)

// EconomyMetrics 经济引擎指标
type EconomyMetrics struct {
	RegistrationCounter metric.Int64Counter   // 游戏注册
	PurchaseCounter     metric.Int64Counter   // 成交次数
	StatusChangeCounter metric.Int64Counter   // 上下架
	FeeCollected        metric.Float64Counter // 平台手续费（结算资产单位）
	NetPaid             metric.Float64Counter // 支付给开发者的净额
	ErrorCounter        metric.Int64Counter   // 按错误类型统计失败
	OperationDuration   metric.Float64Histogram

	decimals int32
}

// NewEconomyMetrics 创建经济指标实例
func NewEconomyMetrics(meter metric.Meter) (*EconomyMetrics, error) {
	var err error
	m := &EconomyMetrics{decimals: 18}

	m.RegistrationCounter, err = meter.Int64Counter("economy.games.registered",
		metric.WithDescription("Games registered"),
		metric.WithUnit("{games}"),
	)
	if err != nil {
		return nil, err
	}

	m.PurchaseCounter, err = meter.Int64Counter("economy.purchases.total",
		metric.WithDescription("Settled purchases"),
		metric.WithUnit("{purchases}"),
	)
	if err != nil {
		return nil, err
	}

	m.StatusChangeCounter, err = meter.Int64Counter("economy.games.status_changes",
		metric.WithDescription("Effective activate/deactivate toggles"),
		metric.WithUnit("{changes}"),
	)
	if err != nil {
		return nil, err
	}

	m.FeeCollected, err = meter.Float64Counter("economy.fees.collected",
		metric.WithDescription("Platform fees in settlement asset units"),
	)
	if err != nil {
		return nil, err
	}

	m.NetPaid, err = meter.Float64Counter("economy.proceeds.net",
		metric.WithDescription("Net proceeds paid to owners in settlement asset units"),
	)
	if err != nil {
		return nil, err
	}

	m.ErrorCounter, err = meter.Int64Counter("economy.operations.failed",
		metric.WithDescription("Failed engine operations by error kind"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	m.OperationDuration, err = meter.Float64Histogram("economy.operation.duration",
		metric.WithDescription("Engine operation latency"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// WithDecimals sets the settlement asset scale used to convert minor units for the amount counters.
func (m *EconomyMetrics) WithDecimals(decimals uint8) *EconomyMetrics {
	m.decimals = int32(decimals)
	return m
}

func (m *EconomyMetrics) GameRegistered(ctx context.Context, gameID uint64) {
	m.RegistrationCounter.Add(ctx, 1, metric.WithAttributes(GameIDKey.Int64(int64(gameID))))
}

func (m *EconomyMetrics) GamePurchased(ctx context.Context, gameID uint64, fee, net *big.Int) {
	attrs := metric.WithAttributes(GameIDKey.Int64(int64(gameID)))
	m.PurchaseCounter.Add(ctx, 1, attrs)
	m.FeeCollected.Add(ctx, m.units(fee), attrs)
	m.NetPaid.Add(ctx, m.units(net), attrs)
}

func (m *EconomyMetrics) StatusChanged(ctx context.Context, gameID uint64, active bool) {
	m.StatusChangeCounter.Add(ctx, 1, metric.WithAttributes(GameIDKey.Int64(int64(gameID)), GameActiveKey.Bool(active)))
}

func (m *EconomyMetrics) OperationFailed(ctx context.Context, op string, kind ports.ErrorKind) {
	if kind == "" {
		kind = "internal"
	}
	m.ErrorCounter.Add(ctx, 1, metric.WithAttributes(OperationKey.String(op), ErrorKindKey.String(string(kind))))
}

func (m *EconomyMetrics) ObserveDuration(ctx context.Context, op string, d time.Duration) {
	m.OperationDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(OperationKey.String(op)))
}

func (m *EconomyMetrics) units(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, -m.decimals).InexactFloat64()
}
