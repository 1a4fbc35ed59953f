package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that PositionRepository implements outbound.PositionRepository.
var _ outbound.PositionRepository = (*PositionRepository)(nil)

// PositionRepository is a PostgreSQL implementation of the outbound.PositionRepository port.
// NUMERIC columns travel as text to keep decimal precision.
type PositionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPositionRepository creates a new PostgreSQL position repository.
func NewPositionRepository(pool *pgxpool.Pool, logger *slog.Logger) (*PositionRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PositionRepository{
		pool:   pool,
		logger: logger.With("component", "position-repository"),
	}, nil
}

func (r *PositionRepository) GetPosition(ctx context.Context, tx pgx.Tx, trader common.Address, symbol string) (*entity.Position, error) {
	query := `
		SELECT trader, symbol, quantity, avg_price::TEXT, realized_pnl::TEXT, updated_at
		FROM positions
		WHERE trader = $1 AND symbol = $2`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	p, err := scanPosition(pick(r.pool, tx).QueryRow(ctx, query, trader.Bytes(), symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying position: %w", err)
	}
	return p, nil
}

func (r *PositionRepository) SavePosition(ctx context.Context, tx pgx.Tx, p *entity.Position) error {
	_, err := pick(r.pool, tx).Exec(ctx, `
		INSERT INTO positions (trader, symbol, quantity, avg_price, realized_pnl, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)
		ON CONFLICT (trader, symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avg_price = EXCLUDED.avg_price,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at = EXCLUDED.updated_at
	`, p.Trader.Bytes(), p.Symbol, p.Quantity, p.AvgPrice.String(), p.RealizedPnL.String(), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting position: %w", err)
	}
	return nil
}

func (r *PositionRepository) OpenInterest(ctx context.Context, tx pgx.Tx, symbol string) (int64, error) {
	var oi int64
	err := pick(r.pool, tx).QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::BIGINT
		FROM positions
		WHERE symbol = $1 AND quantity > 0
	`, symbol).Scan(&oi)
	if err != nil {
		return 0, fmt.Errorf("querying open interest: %w", err)
	}
	return oi, nil
}

func (r *PositionRepository) ListPositions(ctx context.Context, trader common.Address) ([]*entity.Position, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT trader, symbol, quantity, avg_price::TEXT, realized_pnl::TEXT, updated_at
		FROM positions
		WHERE trader = $1
		ORDER BY symbol
	`, trader.Bytes())
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer rows.Close()

	var positions []*entity.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating positions: %w", err)
	}
	return positions, nil
}

func scanPosition(row pgx.Row) (*entity.Position, error) {
	var (
		p             entity.Position
		trader        []byte
		avgPrice, pnl string
	)
	if err := row.Scan(&trader, &p.Symbol, &p.Quantity, &avgPrice, &pnl, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Trader = common.BytesToAddress(trader)

	var err error
	if p.AvgPrice, err = parseNumeric(avgPrice, "avg_price"); err != nil {
		return nil, err
	}
	if p.RealizedPnL, err = parseNumeric(pnl, "realized_pnl"); err != nil {
		return nil, err
	}
	return &p, nil
}
