// Package settlement persists matched trades and keeps positions and market
// data consistent with them, and mirrors settled trades to the chain.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

const tracerName = "github.com/archon-research/carbon-dex/internal/services/settlement"

// volumeWindow is the trailing window for MarketData.Volume24h.
const volumeWindow = 24 * time.Hour

// Batch is everything one book mutation writes. It is committed in a single
// transaction, so a crash never leaves a trade without its position updates.
type Batch struct {
	Symbol string

	// NewOrder is inserted before anything else. Nil for explicit matches and cancels.
	NewOrder *entity.Order

	Updates []entity.OrderUpdate
	Trades  []*entity.Trade

	// Events are published after the commit, following the trade events.
	Events []outbound.Event
}

// Result is what a committed batch changed.
type Result struct {
	MarketData *entity.MarketData
	Positions  []*entity.Position
}

// SettlerConfig holds configuration for the settler.
type SettlerConfig struct {
	// Cache is refreshed after each commit that moved market data. Optional.
	Cache outbound.MarketDataCache

	// Metrics is the metrics recorder (optional).
	Metrics outbound.MetricsRecorder

	Logger *slog.Logger
}

// Settler commits batches and publishes their events.
type Settler struct {
	txm        outbound.TxManager
	orders     outbound.OrderRepository
	trades     outbound.TradeRepository
	positions  outbound.PositionRepository
	marketData outbound.MarketDataRepository
	events     outbound.EventSink
	cache      outbound.MarketDataCache
	metrics    outbound.MetricsRecorder
	logger     *slog.Logger
}

// NewSettler creates a settler.
func NewSettler(
	config SettlerConfig,
	txm outbound.TxManager,
	orders outbound.OrderRepository,
	trades outbound.TradeRepository,
	positions outbound.PositionRepository,
	marketData outbound.MarketDataRepository,
	events outbound.EventSink,
) (*Settler, error) {
	if txm == nil {
		return nil, fmt.Errorf("tx manager is required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order repository is required")
	}
	if trades == nil {
		return nil, fmt.Errorf("trade repository is required")
	}
	if positions == nil {
		return nil, fmt.Errorf("position repository is required")
	}
	if marketData == nil {
		return nil, fmt.Errorf("market data repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Settler{
		txm:        txm,
		orders:     orders,
		trades:     trades,
		positions:  positions,
		marketData: marketData,
		events:     events,
		cache:      config.Cache,
		metrics:    config.Metrics,
		logger:     config.Logger.With("component", "settler"),
	}, nil
}

// Commit writes b in one transaction.
func (s *Settler) Commit(ctx context.Context, b Batch) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "settlement.commit",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("market.symbol", b.Symbol),
			attribute.Int("settlement.trades", len(b.Trades)),
			attribute.Int("settlement.updates", len(b.Updates)),
		),
	)
	defer span.End()

	start := time.Now()
	var result *Result
	err := s.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		r, err := s.commit(ctx, tx, b)
		result = r
		return err
	})
	if len(b.Trades) > 0 && s.metrics != nil {
		s.metrics.RecordSettlement(ctx, b.Symbol, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
		return nil, err
	}
	return result, nil
}

func (s *Settler) commit(ctx context.Context, tx pgx.Tx, b Batch) (*Result, error) {
	if b.NewOrder != nil {
		if err := s.orders.SaveOrder(ctx, tx, b.NewOrder); err != nil {
			return nil, fmt.Errorf("failed to save order %d: %w", b.NewOrder.ID, err)
		}
	}
	// Trades go first: a replayed match digest fails here before any order
	// row changes, which matters for stores without rollback.
	if len(b.Trades) > 0 {
		if err := s.trades.SaveTrades(ctx, tx, b.Trades); err != nil {
			return nil, fmt.Errorf("failed to save trades: %w", err)
		}
	}
	if len(b.Updates) > 0 {
		if err := s.orders.UpdateOrders(ctx, tx, b.Updates); err != nil {
			return nil, fmt.Errorf("failed to update orders: %w", err)
		}
	}
	result := &Result{}
	if len(b.Trades) == 0 {
		return result, nil
	}

	positions, err := s.applyPositions(ctx, tx, b.Symbol, b.Trades)
	if err != nil {
		return nil, err
	}
	result.Positions = positions

	md, err := s.applyMarketData(ctx, tx, b.Symbol, b.Trades)
	if err != nil {
		return nil, err
	}
	result.MarketData = md
	return result, nil
}

func (s *Settler) applyPositions(ctx context.Context, tx pgx.Tx, symbol string, trades []*entity.Trade) ([]*entity.Position, error) {
	touched := make(map[common.Address]*entity.Position)
	var order []common.Address

	load := func(trader common.Address) (*entity.Position, error) {
		if p, ok := touched[trader]; ok {
			return p, nil
		}
		p, err := s.positions.GetPosition(ctx, tx, trader, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to load position %s/%s: %w", trader.Hex(), symbol, err)
		}
		if p == nil {
			if p, err = entity.NewPosition(trader, symbol); err != nil {
				return nil, err
			}
		}
		touched[trader] = p
		order = append(order, trader)
		return p, nil
	}

	for _, t := range trades {
		buyer, err := load(t.Buyer)
		if err != nil {
			return nil, err
		}
		buyer.Apply(entity.SideBuy, t.Quantity, t.Price, t.ExecutedAt)

		seller, err := load(t.Seller)
		if err != nil {
			return nil, err
		}
		seller.Apply(entity.SideSell, t.Quantity, t.Price, t.ExecutedAt)
	}

	out := make([]*entity.Position, 0, len(order))
	for _, trader := range order {
		p := touched[trader]
		if err := s.positions.SavePosition(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("failed to save position %s/%s: %w", trader.Hex(), symbol, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Settler) applyMarketData(ctx context.Context, tx pgx.Tx, symbol string, trades []*entity.Trade) (*entity.MarketData, error) {
	md, err := s.marketData.GetMarketData(ctx, tx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load market data for %s: %w", symbol, err)
	}
	if md == nil {
		md = entity.NewMarketData(symbol)
	}
	last := trades[0].ExecutedAt
	for _, t := range trades {
		md.RecordTrade(t.Price, t.ExecutedAt)
		if t.ExecutedAt.After(last) {
			last = t.ExecutedAt
		}
	}

	if md.Volume24h, err = s.trades.VolumeSince(ctx, tx, symbol, last.Add(-volumeWindow)); err != nil {
		return nil, fmt.Errorf("failed to compute volume for %s: %w", symbol, err)
	}
	if md.OpenInterest, err = s.positions.OpenInterest(ctx, tx, symbol); err != nil {
		return nil, fmt.Errorf("failed to compute open interest for %s: %w", symbol, err)
	}
	if err := s.marketData.SaveMarketData(ctx, tx, md); err != nil {
		return nil, fmt.Errorf("failed to save market data for %s: %w", symbol, err)
	}
	return md, nil
}

// Publish emits events for a committed batch and refreshes the cache.
// Failures are logged; the batch is already durable and the settlement worker
// reconciles trades that never reached the chain.
func (s *Settler) Publish(ctx context.Context, b Batch, r *Result) {
	for _, t := range b.Trades {
		if s.metrics != nil {
			s.metrics.RecordTrade(ctx, t.Symbol, t.Quantity)
		}
		if err := s.events.Publish(ctx, TradeEvent(t)); err != nil {
			s.logger.Error("failed to publish trade event", "tradeId", t.ID, "symbol", t.Symbol, "error", err)
		}
	}
	for _, ev := range b.Events {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Warn("failed to publish event", "type", ev.EventType(), "key", ev.GetKey(), "error", err)
		}
	}
	if s.cache != nil && r != nil && r.MarketData != nil {
		if err := s.cache.SetMarketData(ctx, r.MarketData); err != nil {
			s.logger.Warn("failed to refresh market data cache", "symbol", r.MarketData.Symbol, "error", err)
		}
	}
}

// TradeEvent converts a trade into its settled event.
func TradeEvent(t *entity.Trade) outbound.TradeSettledEvent {
	return outbound.TradeSettledEvent{
		TradeID:     t.ID,
		Symbol:      t.Symbol,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Buyer:       t.Buyer.Hex(),
		Seller:      t.Seller.Hex(),
		Quantity:    t.Quantity,
		Price:       t.Price,
		Aggressor:   t.Aggressor.String(),
		EncQuantity: t.EncQuantity,
		Proof:       t.Proof,
		ExecutedAt:  t.ExecutedAt,
	}
}
