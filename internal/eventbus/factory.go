package eventbus

import (
    "fmt"
    "log"
    "strings"

    "github.com/cuihairu/croupier-economy/internal/ports"
)

// Config selects the queue backend. Type: kafka|redis|noop (default).
type Config struct {
    Type         string   `mapstructure:"type"`
    Brokers      []string `mapstructure:"brokers"`
    Topic        string   `mapstructure:"topic"`
    RedisURL     string   `mapstructure:"redis_url"`
    Stream       string   `mapstructure:"stream"`
    MaxLen       int64    `mapstructure:"max_len"`
    MaxLenApprox bool     `mapstructure:"max_len_approx"`
}

func New(cfg Config) (ports.EventPublisher, error) {
    switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
    case "kafka":
        if len(cfg.Brokers) == 0 { return nil, fmt.Errorf("eventbus: kafka requires brokers") }
        log.Printf("[eventbus] kafka publisher enabled: brokers=%s topic=%s", strings.Join(cfg.Brokers, ","), cfg.Topic)
        return NewKafka(cfg.Brokers, cfg.Topic), nil
    case "redis":
        url := cfg.RedisURL
        if url == "" { url = "redis://localhost:6379/0" }
        p, err := NewRedis(url, cfg.Stream, cfg.MaxLen, cfg.MaxLenApprox)
        if err != nil { return nil, err }
        log.Printf("[eventbus] redis stream publisher enabled: stream=%s", cfg.Stream)
        return p, nil
    case "", "noop", "none":
        return NewNoop(), nil
    default:
        return nil, fmt.Errorf("eventbus: unsupported type %q", cfg.Type)
    }
}
