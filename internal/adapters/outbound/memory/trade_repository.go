package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that TradeRepository implements outbound.TradeRepository
var _ outbound.TradeRepository = (*TradeRepository)(nil)

// TradeRepository keeps trades in insertion order.
type TradeRepository struct {
	mu       sync.RWMutex
	trades   []*entity.Trade
	byID     map[uuid.UUID]*entity.Trade
	byDigest map[common.Hash]uuid.UUID
	seq      int64
}

// NewTradeRepository creates an empty in-memory trade repository.
func NewTradeRepository() *TradeRepository {
	return &TradeRepository{
		byID:     make(map[uuid.UUID]*entity.Trade),
		byDigest: make(map[common.Hash]uuid.UUID),
	}
}

func (r *TradeRepository) SaveTrades(ctx context.Context, _ pgx.Tx, trades []*entity.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	digests := make(map[common.Hash]struct{})
	for _, t := range trades {
		if _, exists := r.byID[t.ID]; exists {
			return fmt.Errorf("trade %s already exists", t.ID)
		}
		if t.MatchDigest == (common.Hash{}) {
			continue
		}
		if _, seen := digests[t.MatchDigest]; seen {
			return fmt.Errorf("match %s repeated in batch: %w", t.MatchDigest.Hex(), entity.ErrDuplicateOrder)
		}
		if id, exists := r.byDigest[t.MatchDigest]; exists {
			return fmt.Errorf("match %s already settled as trade %s: %w", t.MatchDigest.Hex(), id, entity.ErrDuplicateOrder)
		}
		digests[t.MatchDigest] = struct{}{}
	}
	for _, t := range trades {
		r.seq++
		t.Seq = r.seq
		c := cloneTrade(t)
		r.trades = append(r.trades, c)
		r.byID[c.ID] = c
		if c.MatchDigest != (common.Hash{}) {
			r.byDigest[c.MatchDigest] = c.ID
		}
	}
	return nil
}

func (r *TradeRepository) GetTrade(ctx context.Context, id uuid.UUID) (*entity.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneTrade(t), nil
}

func (r *TradeRepository) RecentTrades(ctx context.Context, symbol string, limit int) ([]*entity.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Trade
	for i := len(r.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if r.trades[i].Symbol == symbol {
			out = append(out, cloneTrade(r.trades[i]))
		}
	}
	slices.SortFunc(out, func(a, b *entity.Trade) int {
		if c := b.ExecutedAt.Compare(a.ExecutedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.Seq, a.Seq)
	})
	return out, nil
}

func (r *TradeRepository) VolumeSince(ctx context.Context, _ pgx.Tx, symbol string, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var vol int64
	for _, t := range r.trades {
		if t.Symbol == symbol && !t.ExecutedAt.Before(since) {
			vol += t.Quantity
		}
	}
	return vol, nil
}

func (r *TradeRepository) MarkMirrored(ctx context.Context, id uuid.UUID, txHash common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("trade %s: %w", id, entity.ErrNotFound)
	}
	h := txHash
	t.TxHash = &h
	t.Status = entity.TradeStatusMatched
	return nil
}

func cloneTrade(t *entity.Trade) *entity.Trade {
	c := *t
	c.EncQuantity = slices.Clone(t.EncQuantity)
	c.Proof = slices.Clone(t.Proof)
	if t.TxHash != nil {
		h := *t.TxHash
		c.TxHash = &h
	}
	return &c
}
