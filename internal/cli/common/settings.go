package common

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/cuihairu/croupier-economy/internal/economy"
	"github.com/cuihairu/croupier-economy/internal/eventbus"
	"github.com/cuihairu/croupier-economy/internal/fee"
	"github.com/cuihairu/croupier-economy/internal/oracle"
	"github.com/cuihairu/croupier-economy/internal/telemetry"
)

// Addresses of the deployed marketplace and the Pyth contract per network.
var networkAddresses = map[string]struct{ Marketplace, Oracle string }{
	"sepolia":   {"0xcEd6d7a86848a8E8199281E5a4e8A28B1d287146", "0x4305FB66699C3B2702D4d05CF36551390A4c69C6"},
	"localhost": {"0x5FbDB2315678afecb367f032d93F642f64180aa3", "0x4305FB66699C3B2702D4d05CF36551390A4c69C6"},
	"mainnet":   {"", "0x4305FB66699C3B2702D4d05CF36551390A4c69C6"},
}

// DefaultPlatformWallet is the fee recipient the marketplace was deployed with.
const DefaultPlatformWallet = "0x742626ce3c271b8d09e61a5ecf1f59c4b23b9f39"

// DevJWTSecret is the default token secret, fit for localhost only.
const DevJWTSecret = "dev-secret"

// SetDefaults fills keys a config file may omit.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("jwt_secret", DevJWTSecret)
	v.SetDefault("network", "localhost")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("engine.platform_wallet", DefaultPlatformWallet)
	v.SetDefault("engine.price_feed_id", oracle.ETHUSDFeedID.Hex())
	v.SetDefault("engine.platform_fee_bps", fee.DefaultBps)
	v.SetDefault("engine.decimals", 18)
	v.SetDefault("engine.max_price_age", oracle.DefaultMaxAge)
	v.SetDefault("oracle.source", "static")
	v.SetDefault("oracle.hermes_url", oracle.DefaultHermesURL)
	v.SetDefault("oracle.hermes_timeout", 5*time.Second)
	v.SetDefault("oracle.redis_prefix", oracle.DefaultRedisPrefix)
	v.SetDefault("eventbus.type", "noop")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// EngineConfig builds the engine configuration. Empty addresses fall back to
// the deployment of the configured network.
func EngineConfig(v *viper.Viper) (economy.Config, error) {
	cfg := economy.DefaultConfig()
	net := strings.ToLower(v.GetString("network"))
	known := networkAddresses[net]

	var err error
	if cfg.Address, err = addressOr(v.GetString("engine.address"), known.Marketplace, "engine.address"); err != nil {
		return cfg, err
	}
	if cfg.OracleAddress, err = addressOr(v.GetString("engine.oracle_address"), known.Oracle, "engine.oracle_address"); err != nil {
		return cfg, err
	}
	if cfg.PlatformWallet, err = addressOr(v.GetString("engine.platform_wallet"), "", "engine.platform_wallet"); err != nil {
		return cfg, err
	}
	if id := v.GetString("engine.price_feed_id"); id != "" {
		if !oracle.IsFeedID(id) {
			return cfg, fmt.Errorf("engine.price_feed_id: %q is not a 32-byte hex id", id)
		}
		cfg.PriceFeedID = common.HexToHash(id)
	}
	bps := v.GetInt("engine.platform_fee_bps")
	if bps < 0 || bps > fee.Denominator {
		return cfg, fmt.Errorf("engine.platform_fee_bps: %d out of range 0..%d", bps, fee.Denominator)
	}
	cfg.PlatformFeeBps = uint16(bps)
	dec := v.GetInt("engine.decimals")
	if dec < 0 || dec > 36 {
		return cfg, fmt.Errorf("engine.decimals: %d out of range 0..36", dec)
	}
	cfg.Decimals = uint8(dec)
	cfg.MaxPriceAge = v.GetDuration("engine.max_price_age")
	cfg.MaxConfBps = uint64(v.GetInt64("engine.max_conf_bps"))
	return cfg, cfg.Validate()
}

func addressOr(raw, fallback, key string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s: required", key)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address", key, raw)
	}
	return common.HexToAddress(raw), nil
}

// GenesisEntry is one initial ledger credit.
type GenesisEntry struct {
	Address common.Address
	Amount  *big.Int
}

// Genesis parses the optional genesis list: [{address, amount}].
func Genesis(v *viper.Viper) ([]GenesisEntry, error) {
	var raw []struct {
		Address string `mapstructure:"address"`
		Amount  string `mapstructure:"amount"`
	}
	if err := v.UnmarshalKey("genesis", &raw); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	out := make([]GenesisEntry, 0, len(raw))
	for i, g := range raw {
		if !common.IsHexAddress(g.Address) {
			return nil, fmt.Errorf("genesis[%d].address: %q is not an address", i, g.Address)
		}
		amt, ok := new(big.Int).SetString(strings.TrimSpace(g.Amount), 10)
		if !ok || amt.Sign() <= 0 {
			return nil, fmt.Errorf("genesis[%d].amount: %q is not a positive integer", i, g.Amount)
		}
		out = append(out, GenesisEntry{Address: common.HexToAddress(g.Address), Amount: amt})
	}
	return out, nil
}

// EventBusConfig decodes the eventbus section.
func EventBusConfig(v *viper.Viper) (eventbus.Config, error) {
	var c eventbus.Config
	if err := v.UnmarshalKey("eventbus", &c); err != nil {
		return c, fmt.Errorf("eventbus: %w", err)
	}
	return c, nil
}

// TelemetryConfig decodes the telemetry section.
func TelemetryConfig(v *viper.Viper) (telemetry.Config, error) {
	var c telemetry.Config
	if err := v.UnmarshalKey("telemetry", &c); err != nil {
		return c, fmt.Errorf("telemetry: %w", err)
	}
	return c, nil
}
