// Package oracle wraps an external USD price feed and enforces freshness and
// confidence limits on every reading.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

// ETHUSDFeedID is the Pyth ETH/USD price feed identifier.
var ETHUSDFeedID = common.HexToHash("0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace")

// DefaultMaxAge is the staleness window applied when none is configured.
const DefaultMaxAge = 60 * time.Second

// Adapter queries the source on every call; there is no cache.
type Adapter struct {
	src        ports.PriceSource
	maxAge     time.Duration
	maxConfBps uint64
	now        func() time.Time
}

type Option func(*Adapter)

// WithMaxAge sets the staleness window. Non-positive values keep the default.
func WithMaxAge(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.maxAge = d
		}
	}
}

// WithMaxConfBps rejects readings whose confidence interval exceeds bps of the price. 0 disables.
func WithMaxConfBps(bps uint64) Option { return func(a *Adapter) { a.maxConfBps = bps } }

func WithClock(now func() time.Time) Option { return func(a *Adapter) { a.now = now } }

func NewAdapter(src ports.PriceSource, opts ...Option) *Adapter {
	a := &Adapter{src: src, maxAge: DefaultMaxAge, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) MaxAge() time.Duration { return a.maxAge }

// GetPrice returns a fresh, positive reading for feedID or an OracleError.
func (a *Adapter) GetPrice(ctx context.Context, feedID common.Hash) (ports.Price, error) {
	p, err := a.src.Latest(ctx, feedID)
	if err != nil {
		if errors.Is(err, ports.ErrOracle) {
			return ports.Price{}, err
		}
		return ports.Price{}, ports.WrapError(ports.KindOracle, "price feed unavailable", err)
	}
	if p.Price <= 0 {
		return ports.Price{}, ports.NewError(ports.KindOracle, "invalid price %d for feed %s", p.Price, feedID.Hex())
	}
	if !p.ExpoInRange() {
		return ports.Price{}, ports.NewError(ports.KindOracle, "invalid exponent %d for feed %s", p.Expo, feedID.Hex())
	}
	age := a.now().Sub(p.PublishTime)
	if age < 0 {
		age = -age
	}
	if age > a.maxAge {
		return ports.Price{}, ports.NewError(ports.KindOracle, "stale price for feed %s: published %s ago", feedID.Hex(), age.Truncate(time.Second))
	}
	if a.maxConfBps > 0 {
		// conf*10000 > price*maxConfBps
		lhs := new(big.Int).Mul(new(big.Int).SetUint64(p.Conf), big.NewInt(10000))
		rhs := new(big.Int).Mul(big.NewInt(p.Price), new(big.Int).SetUint64(a.maxConfBps))
		if lhs.Cmp(rhs) > 0 {
			return ports.Price{}, ports.NewError(ports.KindOracle, "price confidence too wide for feed %s", feedID.Hex())
		}
	}
	return p, nil
}

// FormatUSD renders a reading as a fixed two-decimal USD string.
func FormatUSD(p ports.Price) string {
	return decimal.New(p.Price, p.Expo).StringFixed(2)
}

func unknownFeed(feedID common.Hash) error {
	return ports.NewError(ports.KindOracle, "unknown price feed %s", feedID.Hex())
}
