package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that OrderRepository implements outbound.OrderRepository
var _ outbound.OrderRepository = (*OrderRepository)(nil)

type clientKey struct {
	trader   common.Address
	clientID string
}

// OrderRepository stores orders in maps. Returned orders are copies.
type OrderRepository struct {
	mu       sync.RWMutex
	nextID   uint64
	orders   map[uint64]*entity.Order
	byClient map[clientKey]uint64
}

// NewOrderRepository creates an empty in-memory order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:   make(map[uint64]*entity.Order),
		byClient: make(map[clientKey]uint64),
	}
}

func (r *OrderRepository) NextOrderID(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID, nil
}

func (r *OrderRepository) SaveOrder(ctx context.Context, _ pgx.Tx, o *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return fmt.Errorf("order %d already exists", o.ID)
	}
	if o.ClientOrderID != "" {
		k := clientKey{o.Trader, o.ClientOrderID}
		if _, exists := r.byClient[k]; exists {
			return fmt.Errorf("order %d: %w", o.ID, entity.ErrDuplicateOrder)
		}
		r.byClient[k] = o.ID
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *OrderRepository) UpdateOrders(ctx context.Context, _ pgx.Tx, updates []entity.OrderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range updates {
		if _, ok := r.orders[u.ID]; !ok {
			return fmt.Errorf("updating order %d: %w", u.ID, entity.ErrNotFound)
		}
	}
	for _, u := range updates {
		o := r.orders[u.ID]
		o.EncRemaining = slices.Clone(u.EncRemaining)
		o.Status = u.Status
		o.UpdatedAt = u.UpdatedAt
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id uint64) (*entity.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) FindByClientOrderID(ctx context.Context, trader common.Address, clientOrderID string) (*entity.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byClient[clientKey{trader, clientOrderID}]
	if !ok {
		return nil, nil
	}
	return cloneOrder(r.orders[id]), nil
}

func (r *OrderRepository) ListOpenOrders(ctx context.Context, symbol string) ([]*entity.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []*entity.Order
	for _, o := range r.orders {
		if o.Symbol == symbol && o.Status.Open() {
			open = append(open, cloneOrder(o))
		}
	}
	slices.SortFunc(open, func(a, b *entity.Order) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return open, nil
}

func cloneOrder(o *entity.Order) *entity.Order {
	c := *o
	c.EncQuantity = slices.Clone(o.EncQuantity)
	c.EncPrice = slices.Clone(o.EncPrice)
	c.EncSide = slices.Clone(o.EncSide)
	c.EncRemaining = slices.Clone(o.EncRemaining)
	c.Proof = slices.Clone(o.Proof)
	return &c
}
