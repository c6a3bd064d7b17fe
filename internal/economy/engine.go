// Package economy is the marketplace engine: it composes the registry, the
// settlement flow, the fee policy and the oracle adapter behind one
// serialized API.
package economy

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cuihairu/croupier-economy/internal/auth/rbac"
	"github.com/cuihairu/croupier-economy/internal/fee"
	"github.com/cuihairu/croupier-economy/internal/oracle"
	"github.com/cuihairu/croupier-economy/internal/ports"
	"github.com/cuihairu/croupier-economy/internal/registry"
	"github.com/cuihairu/croupier-economy/internal/settlement"
	"github.com/cuihairu/croupier-economy/internal/telemetry"
)

// Metrics receives engine outcomes; *telemetry.EconomyMetrics implements it.
type Metrics interface {
	GameRegistered(ctx context.Context, gameID uint64)
	GamePurchased(ctx context.Context, gameID uint64, fee, net *big.Int)
	StatusChanged(ctx context.Context, gameID uint64, active bool)
	OperationFailed(ctx context.Context, op string, kind ports.ErrorKind)
	ObserveDuration(ctx context.Context, op string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) GameRegistered(context.Context, uint64)                     {}
func (noopMetrics) GamePurchased(context.Context, uint64, *big.Int, *big.Int) {}
func (noopMetrics) StatusChanged(context.Context, uint64, bool)               {}
func (noopMetrics) OperationFailed(context.Context, string, ports.ErrorKind)  {}
func (noopMetrics) ObserveDuration(context.Context, string, time.Duration)    {}

type options struct {
	publishers []ports.EventPublisher
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time
	authz      registry.Authorizer
	txID       func() string
}

type Option func(*options)

// WithPublishers forwards committed events to each publisher in order.
func WithPublishers(p ...ports.EventPublisher) Option {
	return func(o *options) { o.publishers = append(o.publishers, p...) }
}

func WithMetrics(m Metrics) Option          { return func(o *options) { o.metrics = m } }
func WithLogger(l *slog.Logger) Option      { return func(o *options) { o.logger = l } }
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithAuthorizer replaces the default owner-only Casbin policy.
func WithAuthorizer(a registry.Authorizer) Option { return func(o *options) { o.authz = a } }

func withTxIDs(f func() string) Option { return func(o *options) { o.txID = f } }

type Engine struct {
	mu sync.RWMutex

	cfg        Config
	store      ports.Store
	fees       fee.Policy
	oracle     *oracle.Adapter
	registry   *registry.Registry
	settlement *settlement.Settlement

	publishers []ports.EventPublisher
	metrics    Metrics
	log        *slog.Logger
	now        func() time.Time
	txID       func() string
}

// New validates cfg and wires the components over store and prices.
func New(cfg Config, store ports.Store, prices ports.PriceSource, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{metrics: noopMetrics{}, logger: slog.Default(), now: time.Now, txID: func() string { return uuid.NewString() }}
	for _, opt := range opts {
		opt(&o)
	}
	if o.authz == nil {
		pol, err := rbac.NewOwnerPolicy()
		if err != nil {
			return nil, err
		}
		o.authz = pol
	}
	fees, err := fee.New(cfg.PlatformFeeBps)
	if err != nil {
		return nil, err
	}
	adapter := oracle.NewAdapter(prices,
		oracle.WithMaxAge(cfg.MaxPriceAge),
		oracle.WithMaxConfBps(cfg.MaxConfBps),
		oracle.WithClock(o.now),
	)
	reg := registry.New(store.Games(), store.Events(), o.authz, o.now)
	st := settlement.New(settlement.Config{
		FeedID:         cfg.PriceFeedID,
		Escrow:         cfg.Address,
		PlatformWallet: cfg.PlatformWallet,
		Decimals:       cfg.Decimals,
	}, reg, adapter, fees, store.Ledger(), store.Events(), o.now)

	return &Engine{
		cfg:        cfg,
		store:      store,
		fees:       fees,
		oracle:     adapter,
		registry:   reg,
		settlement: st,
		publishers: o.publishers,
		metrics:    o.metrics,
		log:        o.logger.With("component", "economy"),
		now:        o.now,
		txID:       o.txID,
	}, nil
}

// Close closes every publisher.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for _, p := range e.publishers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// write runs fn as one serialized unit of work and publishes the events it
// produced once the work has committed.
func (e *Engine) write(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context, txID string) ([]*ports.Event, error)) (err error) {
	start := e.now()
	ctx, span := telemetry.StartOperation(ctx, op, attrs...)
	defer func() {
		telemetry.EndOperation(span, err)
		e.metrics.ObserveDuration(ctx, op, e.now().Sub(start))
		if err != nil {
			e.metrics.OperationFailed(ctx, op, ports.KindOf(err))
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	txID := e.txID()
	span.SetAttributes(telemetry.TxIDKey.String(txID))
	var events []*ports.Event
	err = e.store.Do(ctx, func(ctx context.Context) error {
		var ferr error
		events, ferr = fn(ctx, txID)
		return ferr
	})
	if err != nil {
		e.log.Debug("operation rejected", "op", op, "tx_id", txID, "error", err)
		return err
	}
	for _, ev := range events {
		if ev != nil {
			e.publish(ev)
		}
	}
	return nil
}

func (e *Engine) publish(ev *ports.Event) {
	for _, p := range e.publishers {
		if err := p.Publish(ev.Clone()); err != nil {
			e.log.Warn("publish event failed", "kind", ev.Kind, "seq", ev.Seq, "tx_id", ev.TxID, "error", err)
		}
	}
}

// RegisterGame lists a new game owned by owner.
func (e *Engine) RegisterGame(ctx context.Context, owner common.Address, metadataHash string, basePriceUSD uint64) (*ports.Game, error) {
	var g *ports.Game
	err := e.write(ctx, "register", nil, func(ctx context.Context, txID string) ([]*ports.Event, error) {
		var ev *ports.Event
		var err error
		g, ev, err = e.registry.Register(ctx, owner, metadataHash, basePriceUSD, txID)
		if err != nil {
			return nil, err
		}
		return []*ports.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.GameRegistered(ctx, g.ID)
	e.log.Info("game registered", "game_id", g.ID, "owner", owner.Hex(), "base_price_usd", basePriceUSD)
	return g, nil
}

// DeactivateGame hides a game from purchase. Only the owner may call it.
func (e *Engine) DeactivateGame(ctx context.Context, caller common.Address, id uint64) error {
	return e.toggle(ctx, "deactivate", caller, id, false)
}

// ReactivateGame makes a game purchasable again. Only the owner may call it.
func (e *Engine) ReactivateGame(ctx context.Context, caller common.Address, id uint64) error {
	return e.toggle(ctx, "reactivate", caller, id, true)
}

func (e *Engine) toggle(ctx context.Context, op string, caller common.Address, id uint64, active bool) error {
	var changed bool
	err := e.write(ctx, op, []attribute.KeyValue{telemetry.GameIDKey.Int64(int64(id))}, func(ctx context.Context, txID string) ([]*ports.Event, error) {
		var ev *ports.Event
		var err error
		if active {
			ev, err = e.registry.Reactivate(ctx, caller, id, txID)
		} else {
			ev, err = e.registry.Deactivate(ctx, caller, id, txID)
		}
		if err != nil {
			return nil, err
		}
		changed = ev != nil
		return []*ports.Event{ev}, nil
	})
	if err != nil {
		return err
	}
	if changed {
		e.metrics.StatusChanged(ctx, id, active)
		e.log.Info("game status changed", "game_id", id, "is_active", active)
	}
	return nil
}

// Purchase buys game id for buyer, who supplies paid minor units of the settlement asset.
func (e *Engine) Purchase(ctx context.Context, buyer common.Address, id uint64, paid *big.Int) (*settlement.Receipt, error) {
	var rc *settlement.Receipt
	err := e.write(ctx, "purchase", []attribute.KeyValue{telemetry.GameIDKey.Int64(int64(id))}, func(ctx context.Context, txID string) ([]*ports.Event, error) {
		var err error
		rc, err = e.settlement.Purchase(ctx, buyer, id, paid, txID)
		if err != nil {
			return nil, err
		}
		return []*ports.Event{rc.Event}, nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.GamePurchased(ctx, id, rc.Fee, rc.Net)
	e.log.Info("game purchased", "game_id", id, "buyer", buyer.Hex(), "paid", rc.Paid.String(), "fee", rc.Fee.String(), "net", rc.Net.String())
	return rc, nil
}

// Fund credits addr out of thin air. It backs genesis balances and dev tooling,
// and emits no event.
func (e *Engine) Fund(ctx context.Context, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ports.NewError(ports.KindValidation, "Amount must be positive")
	}
	return e.write(ctx, "fund", nil, func(ctx context.Context, _ string) ([]*ports.Event, error) {
		return nil, e.store.Ledger().Credit(ctx, addr, amount)
	})
}

// reads

func (e *Engine) GetGame(ctx context.Context, id uint64) (*ports.Game, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Get(ctx, id)
}

func (e *Engine) OwnerGames(ctx context.Context, owner common.Address) ([]uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.OwnerGames(ctx, owner)
}

func (e *Engine) GameCounter(ctx context.Context) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Counter(ctx)
}

func (e *Engine) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Ledger().Balance(ctx, addr)
}

// Events pages through the audit log after seq afterSeq.
func (e *Engine) Events(ctx context.Context, afterSeq uint64, limit int) ([]*ports.Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Events().List(ctx, afterSeq, limit)
}

// Quote prices a game at the current oracle reading without moving funds.
func (e *Engine) Quote(ctx context.Context, id uint64) (*settlement.Quote, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settlement.Quote(ctx, id)
}

func (e *Engine) PlatformFee() uint16            { return e.fees.Bps() }
func (e *Engine) PriceFeedID() common.Hash       { return e.cfg.PriceFeedID }
func (e *Engine) PlatformWallet() common.Address { return e.cfg.PlatformWallet }
func (e *Engine) OracleAddress() common.Address  { return e.cfg.OracleAddress }
func (e *Engine) Address() common.Address        { return e.cfg.Address }
func (e *Engine) Decimals() uint8                { return e.cfg.Decimals }
func (e *Engine) MaxPriceAge() time.Duration     { return e.oracle.MaxAge() }
