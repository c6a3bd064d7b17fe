package economy

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuihairu/croupier-economy/internal/fee"
	"github.com/cuihairu/croupier-economy/internal/oracle"
	"github.com/cuihairu/croupier-economy/internal/ports"
)

// Config is the platform configuration. It is fixed once the engine is built.
type Config struct {
	// Address is the engine's own ledger account; purchases escrow through it.
	Address        common.Address
	OracleAddress  common.Address
	PlatformWallet common.Address
	PriceFeedID    common.Hash
	PlatformFeeBps uint16
	// Decimals is the settlement asset scale (18 for ETH/wei).
	Decimals uint8
	// MaxPriceAge is the staleness window for oracle readings.
	MaxPriceAge time.Duration
	// MaxConfBps rejects readings whose confidence interval exceeds this share of the price. 0 disables.
	MaxConfBps uint64
}

// DefaultConfig returns the values the marketplace was deployed with; addresses are left for the caller.
func DefaultConfig() Config {
	return Config{
		PriceFeedID:    oracle.ETHUSDFeedID,
		PlatformFeeBps: fee.DefaultBps,
		Decimals:       18,
		MaxPriceAge:    oracle.DefaultMaxAge,
	}
}

func (c Config) Validate() error {
	if c.OracleAddress == (common.Address{}) {
		return ports.NewError(ports.KindValidation, "Invalid oracle address")
	}
	if c.PlatformWallet == (common.Address{}) {
		return ports.NewError(ports.KindValidation, "Invalid platform wallet")
	}
	if c.Address == (common.Address{}) {
		return ports.NewError(ports.KindValidation, "Invalid engine address")
	}
	if c.PriceFeedID == (common.Hash{}) {
		return ports.NewError(ports.KindValidation, "Price feed id required")
	}
	if c.PlatformFeeBps > fee.Denominator {
		return ports.NewError(ports.KindValidation, "Platform fee must be at most %d bps", fee.Denominator)
	}
	if c.Address == c.PlatformWallet {
		return ports.NewError(ports.KindValidation, "Engine address must differ from platform wallet")
	}
	if c.MaxPriceAge < 0 {
		return ports.NewError(ports.KindValidation, "Max price age must be non-negative")
	}
	if c.Decimals > 36 {
		return ports.NewError(ports.KindValidation, "Decimals must be at most 36")
	}
	return nil
}
