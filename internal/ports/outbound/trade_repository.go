package outbound

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
)

// TradeRepository persists settled trades.
// Methods that accept a tx use it when non-nil so reads observe uncommitted settlement writes.
type TradeRepository interface {
	SaveTrades(ctx context.Context, tx pgx.Tx, trades []*entity.Trade) error

	// GetTrade returns (nil, nil) when the trade does not exist.
	GetTrade(ctx context.Context, id uuid.UUID) (*entity.Trade, error)

	// RecentTrades returns the newest trades for symbol, newest first.
	RecentTrades(ctx context.Context, symbol string, limit int) ([]*entity.Trade, error)

	// VolumeSince sums traded quantity for symbol executed at or after since.
	VolumeSince(ctx context.Context, tx pgx.Tx, symbol string, since time.Time) (int64, error)

	// MarkMirrored records the on-chain transaction for a trade and moves it to MATCHED.
	MarkMirrored(ctx context.Context, id uuid.UUID, txHash common.Hash) error
}
