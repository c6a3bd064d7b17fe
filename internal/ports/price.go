package ports

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Price is a raw feed reading: the value is Price * 10^Expo USD per settlement-asset unit.
type Price struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime time.Time
}

// MaxExpo bounds |Expo| of a usable reading. Pyth feeds publish exponents
// around -12..0.
const MaxExpo = 18

// ExpoInRange reports whether p's exponent is within MaxExpo.
func (p Price) ExpoInRange() bool { return p.Expo >= -MaxExpo && p.Expo <= MaxExpo }

// PriceSource is the external price feed the oracle adapter wraps.
type PriceSource interface {
	// Latest returns the most recent reading; implementations return ErrOracle
	// (possibly wrapped) for unknown feeds.
	Latest(ctx context.Context, feedID common.Hash) (Price, error)
}
