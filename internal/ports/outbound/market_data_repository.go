package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
)

// MarketDataRepository persists derived market data, one row per symbol.
type MarketDataRepository interface {
	// GetMarketData returns (nil, nil) when symbol has never traded.
	GetMarketData(ctx context.Context, tx pgx.Tx, symbol string) (*entity.MarketData, error)

	SaveMarketData(ctx context.Context, tx pgx.Tx, md *entity.MarketData) error
}
