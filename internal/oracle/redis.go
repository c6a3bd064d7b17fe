package oracle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	redis "github.com/redis/go-redis/v9"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

const DefaultRedisPrefix = "oracle:price:"

// RedisSource reads readings written by an external price pusher. Each feed is a
// hash at <prefix><feed id hex> with fields price, conf, expo and publish_time (unix seconds).
type RedisSource struct {
	cli    *redis.Client
	prefix string
}

func NewRedisSource(url, prefix string) (*RedisSource, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSource{cli: redis.NewClient(opt), prefix: prefix}, nil
}

func (s *RedisSource) Close() error { return s.cli.Close() }

func (s *RedisSource) Key(feedID common.Hash) string { return s.prefix + feedID.Hex() }

func (s *RedisSource) Latest(ctx context.Context, feedID common.Hash) (ports.Price, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	m, err := s.cli.HGetAll(ctx, s.Key(feedID)).Result()
	if err != nil {
		return ports.Price{}, err
	}
	if len(m) == 0 {
		return ports.Price{}, unknownFeed(feedID)
	}
	return parsePriceFields(m)
}

func parsePriceFields(m map[string]string) (ports.Price, error) {
	var p ports.Price
	var err error
	if p.Price, err = strconv.ParseInt(strings.TrimSpace(m["price"]), 10, 64); err != nil {
		return p, ports.WrapError(ports.KindOracle, "malformed price", err)
	}
	if v := strings.TrimSpace(m["conf"]); v != "" {
		if p.Conf, err = strconv.ParseUint(v, 10, 64); err != nil {
			return p, ports.WrapError(ports.KindOracle, "malformed conf", err)
		}
	}
	expo, err := strconv.ParseInt(strings.TrimSpace(m["expo"]), 10, 32)
	if err != nil {
		return p, ports.WrapError(ports.KindOracle, "malformed expo", err)
	}
	p.Expo = int32(expo)
	ts, err := strconv.ParseInt(strings.TrimSpace(m["publish_time"]), 10, 64)
	if err != nil {
		return p, ports.WrapError(ports.KindOracle, "malformed publish_time", err)
	}
	p.PublishTime = time.Unix(ts, 0).UTC()
	return p, nil
}
