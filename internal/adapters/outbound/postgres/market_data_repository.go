package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that MarketDataRepository implements outbound.MarketDataRepository.
var _ outbound.MarketDataRepository = (*MarketDataRepository)(nil)

// MarketDataRepository is a PostgreSQL implementation of the outbound.MarketDataRepository port.
type MarketDataRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewMarketDataRepository creates a new PostgreSQL market data repository.
func NewMarketDataRepository(pool *pgxpool.Pool, logger *slog.Logger) (*MarketDataRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketDataRepository{
		pool:   pool,
		logger: logger.With("component", "market-data-repository"),
	}, nil
}

// GetMarketData reads the row for symbol, locking it when tx is set so
// concurrent settlements of the same market serialize.
func (r *MarketDataRepository) GetMarketData(ctx context.Context, tx pgx.Tx, symbol string) (*entity.MarketData, error) {
	query := `
		SELECT symbol, current_price, prev_close, volume_24h, open_interest, last_update
		FROM market_data
		WHERE symbol = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	var md entity.MarketData
	err := pick(r.pool, tx).QueryRow(ctx, query, symbol).Scan(
		&md.Symbol, &md.CurrentPrice, &md.PrevClose, &md.Volume24h, &md.OpenInterest, &md.LastUpdate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying market data for %s: %w", symbol, err)
	}
	return &md, nil
}

func (r *MarketDataRepository) SaveMarketData(ctx context.Context, tx pgx.Tx, md *entity.MarketData) error {
	_, err := pick(r.pool, tx).Exec(ctx, `
		INSERT INTO market_data (symbol, current_price, prev_close, volume_24h, open_interest, last_update)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			prev_close = EXCLUDED.prev_close,
			volume_24h = EXCLUDED.volume_24h,
			open_interest = EXCLUDED.open_interest,
			last_update = EXCLUDED.last_update
	`, md.Symbol, md.CurrentPrice, md.PrevClose, md.Volume24h, md.OpenInterest, md.LastUpdate)
	if err != nil {
		return fmt.Errorf("upserting market data for %s: %w", md.Symbol, err)
	}
	return nil
}
