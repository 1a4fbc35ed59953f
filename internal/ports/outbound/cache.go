package outbound

import (
	"context"
	"time"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
)

// MarketDataCache is a read-through cache in front of MarketDataRepository.
type MarketDataCache interface {
	// GetMarketData returns (nil, nil) on a cache miss.
	GetMarketData(ctx context.Context, symbol string) (*entity.MarketData, error)

	SetMarketData(ctx context.Context, md *entity.MarketData) error

	// Close closes the cache connection.
	Close() error
}

// IdempotencyStore guards against the same client order being submitted twice.
type IdempotencyStore interface {
	// Reserve claims key for ttl. It returns false when the key is already held.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release frees a key so a failed submission can be retried.
	Release(ctx context.Context, key string) error

	Close() error
}
