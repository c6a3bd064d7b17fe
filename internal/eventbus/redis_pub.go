package eventbus

import (
    "context"
    "fmt"
    "time"

    redis "github.com/redis/go-redis/v9"

    "github.com/cuihairu/croupier-economy/internal/ports"
)

const DefaultRedisStream = "economy:events"

type redisPublisher struct {
    cli          *redis.Client
    stream       string
    maxLen       int64
    maxLenApprox bool
}

func NewRedis(url, stream string, maxLen int64, approx bool) (ports.EventPublisher, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, fmt.Errorf("eventbus: redis url: %w", err) }
    if stream == "" { stream = DefaultRedisStream }
    return &redisPublisher{cli: redis.NewClient(opt), stream: stream, maxLen: maxLen, maxLenApprox: approx}, nil
}

func xaddArgs(stream string, maxLen int64, approx bool, m Message, seq uint64) *redis.XAddArgs {
    // Store the JSON body in 'data'; kind and topic are duplicated for consumer filtering
    args := &redis.XAddArgs{Stream: stream, Values: map[string]any{
        "data":    string(m.Payload),
        "kind":    m.Kind,
        "topic":   m.Topic,
        "game_id": m.Key,
        "seq":     seq,
    }}
    if maxLen > 0 {
        args.MaxLen = maxLen
        args.Approx = approx
    }
    return args
}

func (p *redisPublisher) Publish(ev *ports.Event) error {
    m, err := encode(ev)
    if err != nil { return err }
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second); defer cancel()
    return p.cli.XAdd(ctx, xaddArgs(p.stream, p.maxLen, p.maxLenApprox, m, ev.Seq)).Err()
}

func (p *redisPublisher) Close() error { return p.cli.Close() }
