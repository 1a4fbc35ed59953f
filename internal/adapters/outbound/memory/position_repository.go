package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that PositionRepository implements outbound.PositionRepository
var _ outbound.PositionRepository = (*PositionRepository)(nil)

type positionKey struct {
	trader common.Address
	symbol string
}

// PositionRepository stores positions keyed by trader and symbol.
type PositionRepository struct {
	mu        sync.RWMutex
	positions map[positionKey]entity.Position
}

// NewPositionRepository creates an empty in-memory position repository.
func NewPositionRepository() *PositionRepository {
	return &PositionRepository{positions: make(map[positionKey]entity.Position)}
}

func (r *PositionRepository) GetPosition(ctx context.Context, _ pgx.Tx, trader common.Address, symbol string) (*entity.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[positionKey{trader, symbol}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *PositionRepository) SavePosition(ctx context.Context, _ pgx.Tx, p *entity.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[positionKey{p.Trader, p.Symbol}] = *p
	return nil
}

func (r *PositionRepository) OpenInterest(ctx context.Context, _ pgx.Tx, symbol string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var oi int64
	for k, p := range r.positions {
		if k.symbol == symbol && p.Quantity > 0 {
			oi += p.Quantity
		}
	}
	return oi, nil
}

func (r *PositionRepository) ListPositions(ctx context.Context, trader common.Address) ([]*entity.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Position
	for k, p := range r.positions {
		if k.trader == trader {
			out = append(out, &p)
		}
	}
	slices.SortFunc(out, func(a, b *entity.Position) int { return strings.Compare(a.Symbol, b.Symbol) })
	return out, nil
}
