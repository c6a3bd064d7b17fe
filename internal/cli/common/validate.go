package common

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

func fileExists(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return nil
}

func ValidateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

// SecretWarning returns a message when the dev jwt secret is used outside a
// localhost network, "" otherwise.
func SecretWarning(v *viper.Viper) string {
	if v.GetString("jwt_secret") != DevJWTSecret || strings.EqualFold(v.GetString("network"), "localhost") {
		return ""
	}
	return fmt.Sprintf("jwt_secret is the built-in dev secret on network %q: anyone can mint tokens; set ECONOMY_JWT_SECRET", v.GetString("network"))
}

// ValidateEconomyConfig checks a loaded config. strict also requires the
// referenced files to exist and a non-default jwt secret.
func ValidateEconomyConfig(v *viper.Viper, strict bool) error {
	if err := ValidateAddr(v.GetString("http_addr")); err != nil {
		return fmt.Errorf("http_addr: %w", err)
	}
	if _, err := EngineConfig(v); err != nil {
		return err
	}
	secret := strings.TrimSpace(v.GetString("jwt_secret"))
	if secret == "" {
		return fmt.Errorf("jwt_secret: required")
	}
	if strict && secret == DevJWTSecret {
		return fmt.Errorf("jwt_secret: set a non-default secret")
	}
	if cert := v.GetString("tls.cert"); cert != "" {
		if v.GetString("tls.key") == "" {
			return fmt.Errorf("tls.key missing")
		}
		if strict {
			for _, k := range []string{"tls.cert", "tls.key", "tls.client_ca"} {
				if p := v.GetString(k); p != "" {
					if err := fileExists(p); err != nil {
						return fmt.Errorf("%s: %w", k, err)
					}
				}
			}
		}
	}
	switch d := strings.ToLower(v.GetString("store.driver")); d {
	case "memory":
	case "gorm", "sql":
		if strict && v.GetString("store.dsn") == "" {
			return fmt.Errorf("store.dsn missing")
		}
	default:
		return fmt.Errorf("store.driver: unsupported %q", d)
	}
	switch src := strings.ToLower(v.GetString("oracle.source")); src {
	case "static":
		if v.GetInt64("oracle.static.price") <= 0 {
			return fmt.Errorf("oracle.static.price must be positive")
		}
	case "file":
		p := v.GetString("oracle.file")
		if p == "" {
			return fmt.Errorf("oracle.file missing")
		}
		if strict {
			if err := fileExists(p); err != nil {
				return fmt.Errorf("oracle.file: %w", err)
			}
		}
	case "redis":
		if _, err := url.Parse(v.GetString("oracle.redis_url")); err != nil || v.GetString("oracle.redis_url") == "" {
			return fmt.Errorf("oracle.redis_url invalid")
		}
	case "hermes":
		u, err := url.Parse(v.GetString("oracle.hermes_url"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("oracle.hermes_url invalid")
		}
	default:
		return fmt.Errorf("oracle.source: unsupported %q", src)
	}
	bus, err := EventBusConfig(v)
	if err != nil {
		return err
	}
	switch strings.ToLower(bus.Type) {
	case "", "noop", "none", "redis":
	case "kafka":
		if len(bus.Brokers) == 0 {
			return fmt.Errorf("eventbus.brokers missing for kafka")
		}
	default:
		return fmt.Errorf("eventbus.type: unsupported %q", bus.Type)
	}
	if _, err := Genesis(v); err != nil {
		return err
	}
	return nil
}
