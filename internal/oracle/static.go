package oracle

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

// StaticSource serves readings set in memory.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[common.Hash]ports.Price
}

func NewStaticSource() *StaticSource {
	return &StaticSource{prices: map[common.Hash]ports.Price{}}
}

func (s *StaticSource) Set(feedID common.Hash, p ports.Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[feedID] = p
}

func (s *StaticSource) Remove(feedID common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, feedID)
}

func (s *StaticSource) Latest(_ context.Context, feedID common.Hash) (ports.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[feedID]
	if !ok {
		return ports.Price{}, unknownFeed(feedID)
	}
	return p, nil
}
