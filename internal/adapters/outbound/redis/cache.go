// Package redis provides Redis implementations of the market data cache and
// the idempotency store.
//
// Keys are namespaced as prefix:kind:id. Market data entries expire after the
// configured TTL; idempotency keys expire after the TTL passed to Reserve.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

var (
	_ outbound.MarketDataCache  = (*MarketDataCache)(nil)
	_ outbound.IdempotencyStore = (*IdempotencyStore)(nil)
)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL is how long cached market data lives before expiring
	TTL time.Duration
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis cache configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		TTL:       5 * time.Minute,
		KeyPrefix: "carbon-dex",
	}
}

func newClient(cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// cachedMarketData is the JSON form stored in Redis.
type cachedMarketData struct {
	Symbol       string    `json:"symbol"`
	CurrentPrice int64     `json:"currentPrice"`
	PrevClose    int64     `json:"prevClose"`
	Volume24h    int64     `json:"volume24h"`
	OpenInterest int64     `json:"openInterest"`
	LastUpdate   time.Time `json:"lastUpdate"`
}

// MarketDataCache is a Redis implementation of the outbound.MarketDataCache port.
type MarketDataCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewMarketDataCache creates a new Redis market data cache.
func NewMarketDataCache(cfg Config, logger *slog.Logger) (*MarketDataCache, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketDataCache{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-market-cache"),
	}, nil
}

// Ping checks the Redis connection.
func (c *MarketDataCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *MarketDataCache) Close() error {
	return c.client.Close()
}

func (c *MarketDataCache) key(symbol string) string {
	return fmt.Sprintf("%s:market:%s", c.keyPrefix, symbol)
}

func (c *MarketDataCache) GetMarketData(ctx context.Context, symbol string) (*entity.MarketData, error) {
	data, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market data: %w", err)
	}
	var cached cachedMarketData
	if err := json.Unmarshal(data, &cached); err != nil {
		// A corrupt entry is treated as a miss; the next settlement overwrites it.
		c.logger.Warn("discarding undecodable market data entry", "symbol", symbol, "error", err)
		return nil, nil
	}
	return &entity.MarketData{
		Symbol:       cached.Symbol,
		CurrentPrice: cached.CurrentPrice,
		PrevClose:    cached.PrevClose,
		Volume24h:    cached.Volume24h,
		OpenInterest: cached.OpenInterest,
		LastUpdate:   cached.LastUpdate,
	}, nil
}

func (c *MarketDataCache) SetMarketData(ctx context.Context, md *entity.MarketData) error {
	data, err := json.Marshal(cachedMarketData{
		Symbol:       md.Symbol,
		CurrentPrice: md.CurrentPrice,
		PrevClose:    md.PrevClose,
		Volume24h:    md.Volume24h,
		OpenInterest: md.OpenInterest,
		LastUpdate:   md.LastUpdate,
	})
	if err != nil {
		return fmt.Errorf("failed to encode market data: %w", err)
	}
	if err := c.client.Set(ctx, c.key(md.Symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache market data: %w", err)
	}
	return nil
}

// IdempotencyStore reserves client order keys with SET NX.
type IdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// NewIdempotencyStore creates a new Redis idempotency store.
func NewIdempotencyStore(cfg Config, logger *slog.Logger) (*IdempotencyStore, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-idempotency"),
	}, nil
}

// Ping checks the Redis connection.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *IdempotencyStore) key(k string) string {
	return fmt.Sprintf("%s:idem:%s", s.keyPrefix, k)
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *IdempotencyStore) Close() error {
	return s.client.Close()
}
