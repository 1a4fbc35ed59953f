package outbound

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
)

// PositionRepository persists trader positions.
type PositionRepository interface {
	// GetPosition returns (nil, nil) when the trader has never traded symbol.
	// With a non-nil tx the row is locked for update.
	GetPosition(ctx context.Context, tx pgx.Tx, trader common.Address, symbol string) (*entity.Position, error)

	// SavePosition upserts on (trader, symbol).
	SavePosition(ctx context.Context, tx pgx.Tx, position *entity.Position) error

	// OpenInterest returns the sum of long quantities for symbol.
	OpenInterest(ctx context.Context, tx pgx.Tx, symbol string) (int64, error)

	ListPositions(ctx context.Context, trader common.Address) ([]*entity.Position, error)
}
