package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

var (
	_ outbound.MarketDataRepository = (*MarketDataRepository)(nil)
	_ outbound.MarketDataCache      = (*MarketDataCache)(nil)
)

type marketDataStore struct {
	mu   sync.RWMutex
	data map[string]entity.MarketData
}

func (s *marketDataStore) get(symbol string) *entity.MarketData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.data[symbol]
	if !ok {
		return nil
	}
	return &md
}

func (s *marketDataStore) set(md *entity.MarketData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[md.Symbol] = *md
}

// MarketDataRepository stores one MarketData per symbol.
type MarketDataRepository struct {
	store marketDataStore
}

// NewMarketDataRepository creates an empty in-memory market data repository.
func NewMarketDataRepository() *MarketDataRepository {
	return &MarketDataRepository{store: marketDataStore{data: make(map[string]entity.MarketData)}}
}

func (r *MarketDataRepository) GetMarketData(ctx context.Context, _ pgx.Tx, symbol string) (*entity.MarketData, error) {
	return r.store.get(symbol), nil
}

func (r *MarketDataRepository) SaveMarketData(ctx context.Context, _ pgx.Tx, md *entity.MarketData) error {
	r.store.set(md)
	return nil
}

// MarketDataCache is an in-memory MarketDataCache without expiry.
type MarketDataCache struct {
	store marketDataStore
}

// NewMarketDataCache creates an empty cache.
func NewMarketDataCache() *MarketDataCache {
	return &MarketDataCache{store: marketDataStore{data: make(map[string]entity.MarketData)}}
}

func (c *MarketDataCache) GetMarketData(ctx context.Context, symbol string) (*entity.MarketData, error) {
	return c.store.get(symbol), nil
}

func (c *MarketDataCache) SetMarketData(ctx context.Context, md *entity.MarketData) error {
	c.store.set(md)
	return nil
}

func (c *MarketDataCache) Close() error { return nil }
