// Package settlement prices games in the settlement asset and moves funds on purchase.
package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuihairu/croupier-economy/internal/fee"
	"github.com/cuihairu/croupier-economy/internal/ports"
)

// PriceReader is satisfied by *oracle.Adapter.
type PriceReader interface {
	GetPrice(ctx context.Context, feedID common.Hash) (ports.Price, error)
}

// Catalog is the slice of the registry settlement needs.
type Catalog interface {
	Get(ctx context.Context, id uint64) (*ports.Game, error)
	RecordSale(ctx context.Context, id uint64) error
}

type Config struct {
	FeedID         common.Hash
	Escrow         common.Address
	PlatformWallet common.Address
	Decimals       uint8
}

type Settlement struct {
	cfg     Config
	catalog Catalog
	prices  PriceReader
	fees    fee.Policy
	ledger  ports.Ledger
	events  ports.EventLog
	now     func() time.Time
}

// Quote is the price of a game at the current oracle reading.
type Quote struct {
	GameID   uint64
	Price    ports.Price
	Required *big.Int
	Fee      *big.Int
	Net      *big.Int
}

// Receipt describes a completed purchase.
type Receipt struct {
	Quote
	TxID   string
	Buyer  common.Address
	Owner  common.Address
	Paid   *big.Int
	Excess *big.Int
	Event  *ports.Event
}

func New(cfg Config, catalog Catalog, prices PriceReader, fees fee.Policy, ledger ports.Ledger, events ports.EventLog, now func() time.Time) *Settlement {
	if now == nil {
		now = time.Now
	}
	return &Settlement{cfg: cfg, catalog: catalog, prices: prices, fees: fees, ledger: ledger, events: events, now: now}
}

var (
	big10  = big.NewInt(10)
	big100 = big.NewInt(100)
)

// RequiredAmount converts cents into settlement-asset minor units at price p, rounding up.
//
//	required = ceil(cents * 10^decimals / (100 * p.Price * 10^p.Expo))
func RequiredAmount(cents uint64, p ports.Price, decimals uint8) (*big.Int, error) {
	if p.Price <= 0 {
		return nil, ports.NewError(ports.KindOracle, "invalid price %d", p.Price)
	}
	if !p.ExpoInRange() {
		return nil, ports.NewError(ports.KindOracle, "invalid exponent %d", p.Expo)
	}
	num := new(big.Int).SetUint64(cents)
	num.Mul(num, new(big.Int).Exp(big10, big.NewInt(int64(decimals)), nil))
	den := new(big.Int).Mul(big100, big.NewInt(p.Price))
	if p.Expo < 0 {
		num.Mul(num, new(big.Int).Exp(big10, big.NewInt(-int64(p.Expo)), nil))
	} else {
		den.Mul(den, new(big.Int).Exp(big10, big.NewInt(int64(p.Expo)), nil))
	}
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q, nil
}

// Quote prices gameID without moving funds. Inactive games can still be quoted.
func (s *Settlement) Quote(ctx context.Context, gameID uint64) (*Quote, error) {
	g, err := s.catalog.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, g)
}

func (s *Settlement) quote(ctx context.Context, g *ports.Game) (*Quote, error) {
	p, err := s.prices.GetPrice(ctx, s.cfg.FeedID)
	if err != nil {
		return nil, err
	}
	required, err := RequiredAmount(g.BasePriceUSD, p, s.cfg.Decimals)
	if err != nil {
		return nil, err
	}
	f, net := s.fees.Compute(required)
	return &Quote{GameID: g.ID, Price: p, Required: required, Fee: f, Net: net}, nil
}

// Purchase settles one sale. Callers must run it inside a unit of work so a
// failed transfer leaves balances and counters untouched.
func (s *Settlement) Purchase(ctx context.Context, buyer common.Address, gameID uint64, paid *big.Int, txID string) (*Receipt, error) {
	if paid == nil || paid.Sign() < 0 {
		return nil, ports.NewError(ports.KindValidation, "Amount must be non-negative")
	}
	g, err := s.catalog.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !g.IsActive {
		return nil, ports.NewError(ports.KindInactiveGame, "Game not active")
	}
	q, err := s.quote(ctx, g)
	if err != nil {
		return nil, err
	}
	if paid.Cmp(q.Required) < 0 {
		return nil, &ports.Error{Kind: ports.KindInsufficientPayment, Msg: "Insufficient payment"}
	}

	if err := s.ledger.Transfer(ctx, buyer, s.cfg.Escrow, paid); err != nil {
		return nil, ports.WrapError(ports.KindTransfer, "Payment failed", err)
	}
	if err := s.ledger.Transfer(ctx, s.cfg.Escrow, s.cfg.PlatformWallet, q.Fee); err != nil {
		return nil, ports.WrapError(ports.KindTransfer, "Fee transfer failed", err)
	}
	if err := s.ledger.Transfer(ctx, s.cfg.Escrow, g.Owner, q.Net); err != nil {
		return nil, ports.WrapError(ports.KindTransfer, "Payment to owner failed", err)
	}
	if err := s.catalog.RecordSale(ctx, gameID); err != nil {
		return nil, err
	}
	ev := &ports.Event{
		TxID: txID, Kind: ports.EventGamePurchased, GameID: gameID, Time: s.now().UTC(),
		Buyer: buyer, AmountPaid: new(big.Int).Set(paid), Fee: q.Fee, Net: q.Net,
	}
	if err := s.events.Append(ctx, ev); err != nil {
		return nil, err
	}
	return &Receipt{
		Quote:  *q,
		TxID:   txID,
		Buyer:  buyer,
		Owner:  g.Owner,
		Paid:   new(big.Int).Set(paid),
		Excess: new(big.Int).Sub(paid, q.Required),
		Event:  ev,
	}, nil
}
