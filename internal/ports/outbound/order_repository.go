package outbound

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
)

// OrderRepository persists sealed orders. Plaintext values are never stored.
//
// Read methods return (nil, nil) when the order does not exist.
type OrderRepository interface {
	// NextOrderID allocates a new, never reused order id.
	NextOrderID(ctx context.Context) (uint64, error)

	// SaveOrder inserts a new order within tx.
	// Conflict on (trader, client_order_id) returns entity.ErrDuplicateOrder.
	SaveOrder(ctx context.Context, tx pgx.Tx, order *entity.Order) error

	// UpdateOrders applies remaining/status changes within tx.
	UpdateOrders(ctx context.Context, tx pgx.Tx, updates []entity.OrderUpdate) error

	GetOrder(ctx context.Context, id uint64) (*entity.Order, error)

	FindByClientOrderID(ctx context.Context, trader common.Address, clientOrderID string) (*entity.Order, error)

	// ListOpenOrders returns ENCRYPTED and PARTIAL orders for symbol, oldest first.
	ListOpenOrders(ctx context.Context, symbol string) ([]*entity.Order, error)
}
