// Package exchange implements the exchange's inbound use cases: sealed order
// intake, operator matches, cancels and the read views.
//
// Plaintext order values exist only inside this package and the matching
// engine. They are opened from their envelopes at intake, handed to the book
// and never stored, logged or published.
package exchange

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/sealing"
	"github.com/archon-research/carbon-dex/internal/ports/inbound"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
	"github.com/archon-research/carbon-dex/internal/services/matching"
	"github.com/archon-research/carbon-dex/internal/services/settlement"
)

const tracerName = "github.com/archon-research/carbon-dex/internal/services/exchange"

// Compile-time checks
var (
	_ inbound.ExchangeService = (*Service)(nil)
	_ inbound.HealthChecker   = (*Service)(nil)
)

// Config holds configuration for the exchange service.
type Config struct {
	// Catalog lists tradable contracts. Defaults to entity.DefaultCatalog().
	Catalog *entity.Catalog

	// Operator is the address whose proofs authorize explicit matches.
	// Zero disables MatchOrders.
	Operator common.Address

	// RateLimit and RateBurst bound order submissions per trader.
	RateLimit rate.Limit
	RateBurst int

	// IdempotencyTTL is how long a client order id stays reserved.
	IdempotencyTTL time.Duration

	// MaxDepthLevels caps the levels returned for public books.
	MaxDepthLevels int

	// Metrics is the metrics recorder (optional).
	Metrics outbound.MetricsRecorder

	Logger *slog.Logger
}

// ConfigDefaults returns sensible defaults for the service.
func ConfigDefaults() Config {
	return Config{
		RateLimit:      rate.Limit(20),
		RateBurst:      40,
		IdempotencyTTL: 24 * time.Hour,
		MaxDepthLevels: 10,
		Logger:         slog.Default(),
	}
}

// Dependencies are the collaborators of the service. Cache and Idempotency are optional.
type Dependencies struct {
	Engine     *matching.Engine
	Sealer     *sealing.Sealer
	Settler    *settlement.Settler
	Orders     outbound.OrderRepository
	Trades     outbound.TradeRepository
	Positions  outbound.PositionRepository
	MarketData outbound.MarketDataRepository

	Cache       outbound.MarketDataCache
	Idempotency outbound.IdempotencyStore
}

// Service is the exchange.
type Service struct {
	config   Config
	catalog  *entity.Catalog
	engine   *matching.Engine
	sealer   *sealing.Sealer
	settler  *settlement.Settler
	orders   outbound.OrderRepository
	trades   outbound.TradeRepository
	pos      outbound.PositionRepository
	md       outbound.MarketDataRepository
	cache    outbound.MarketDataCache
	idem     outbound.IdempotencyStore
	limiters *traderLimiters
	metrics  outbound.MetricsRecorder
	logger   *slog.Logger
	now      func() time.Time

	ready   atomic.Bool
	stopped atomic.Bool
}

// NewService creates the exchange service. Call Start before serving requests.
func NewService(config Config, deps Dependencies) (*Service, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("matching engine is required")
	}
	if deps.Sealer == nil {
		return nil, fmt.Errorf("sealer is required")
	}
	if deps.Settler == nil {
		return nil, fmt.Errorf("settler is required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("order repository is required")
	}
	if deps.Trades == nil {
		return nil, fmt.Errorf("trade repository is required")
	}
	if deps.Positions == nil {
		return nil, fmt.Errorf("position repository is required")
	}
	if deps.MarketData == nil {
		return nil, fmt.Errorf("market data repository is required")
	}

	defaults := ConfigDefaults()
	if config.Catalog == nil {
		config.Catalog = entity.DefaultCatalog()
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.RateBurst <= 0 {
		config.RateBurst = defaults.RateBurst
	}
	if config.IdempotencyTTL <= 0 {
		config.IdempotencyTTL = defaults.IdempotencyTTL
	}
	if config.MaxDepthLevels <= 0 {
		config.MaxDepthLevels = defaults.MaxDepthLevels
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	for _, symbol := range config.Catalog.Symbols() {
		if _, ok := deps.Engine.Mode(symbol); !ok {
			return nil, fmt.Errorf("contract %s has no market in the matching engine", symbol)
		}
	}

	return &Service{
		config:   config,
		catalog:  config.Catalog,
		engine:   deps.Engine,
		sealer:   deps.Sealer,
		settler:  deps.Settler,
		orders:   deps.Orders,
		trades:   deps.Trades,
		pos:      deps.Positions,
		md:       deps.MarketData,
		cache:    deps.Cache,
		idem:     deps.Idempotency,
		limiters: newTraderLimiters(config.RateLimit, config.RateBurst),
		metrics:  config.Metrics,
		logger:   config.Logger.With("component", "exchange"),
		now:      time.Now,
	}, nil
}

// Start starts the matching engine and restores every book from the order store.
func (s *Service) Start(ctx context.Context) error {
	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start matching engine: %w", err)
	}
	for _, symbol := range s.catalog.Symbols() {
		n, err := s.restore(ctx, symbol)
		if err != nil {
			_ = s.engine.Stop()
			return fmt.Errorf("failed to restore %s book: %w", symbol, err)
		}
		s.logger.Info("restored order book", "symbol", symbol, "orders", n)
	}
	s.ready.Store(true)
	return nil
}

// Stop stops the matching engine. Resting orders remain in the store.
func (s *Service) Stop() error {
	s.stopped.Store(true)
	s.ready.Store(false)
	return s.engine.Stop()
}

// IsReady returns true once every book has been restored.
func (s *Service) IsReady() bool {
	return s.ready.Load()
}

// IsHealthy returns true while the engine is running.
func (s *Service) IsHealthy() bool {
	return s.ready.Load() && !s.stopped.Load()
}

func (s *Service) restore(ctx context.Context, symbol string) (int, error) {
	stored, err := s.orders.ListOpenOrders(ctx, symbol)
	if err != nil {
		return 0, err
	}
	open := make([]entity.OpenOrder, 0, len(stored))
	for _, o := range stored {
		oo, err := s.openOrder(o)
		if err != nil {
			// An order sealed to a rotated key cannot rest; leave it for an operator.
			s.logger.Error("skipping unreadable order", "orderId", o.ID, "symbol", symbol, "error", err)
			continue
		}
		open = append(open, oo)
	}
	if len(open) == 0 {
		return 0, nil
	}
	return len(open), s.engine.Restore(ctx, symbol, open)
}

// openOrder decrypts a stored order into its book representation.
func (s *Service) openOrder(o *entity.Order) (entity.OpenOrder, error) {
	rev, err := s.reveal(o)
	if err != nil {
		return entity.OpenOrder{}, err
	}
	return entity.OpenOrder{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Trader:    o.Trader,
		Side:      rev.Side,
		Price:     rev.Price,
		Quantity:  rev.Quantity,
		Remaining: rev.Remaining,
		CreatedAt: o.CreatedAt,
	}, nil
}

func (s *Service) reveal(o *entity.Order) (*inbound.RevealedOrder, error) {
	qty, err := s.sealer.Open(o.Symbol, sealing.FieldQuantity, o.EncQuantity)
	if err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	price, err := s.sealer.Open(o.Symbol, sealing.FieldPrice, o.EncPrice)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	side, err := s.openSide(o.Symbol, o.EncSide)
	if err != nil {
		return nil, err
	}
	remaining := qty
	if len(o.EncRemaining) > 0 && !bytes.Equal(o.EncRemaining, o.EncQuantity) {
		if remaining, err = s.sealer.Open(o.Symbol, sealing.FieldRemaining, o.EncRemaining); err != nil {
			return nil, fmt.Errorf("remaining: %w", err)
		}
	}
	return &inbound.RevealedOrder{Side: side, Price: price, Quantity: qty, Remaining: remaining}, nil
}

func (s *Service) openSide(symbol string, env []byte) (entity.Side, error) {
	v, err := s.sealer.Open(symbol, sealing.FieldSide, env)
	if err != nil {
		return 0, fmt.Errorf("side: %w", err)
	}
	side := entity.Side(v)
	if v < 0 || v > 1 || !side.Valid() {
		return 0, fmt.Errorf("%w: order type must be 0 (buy) or 1 (sell), got %d", entity.ErrInvalidOrder, v)
	}
	return side, nil
}

func (s *Service) contract(symbol string) (*entity.Contract, error) {
	c, ok := s.catalog.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownContract, symbol)
	}
	return c, nil
}
