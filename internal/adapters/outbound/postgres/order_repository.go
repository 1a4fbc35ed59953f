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

// Compile-time check that OrderRepository implements outbound.OrderRepository.
var _ outbound.OrderRepository = (*OrderRepository)(nil)

const orderColumns = `
	id, symbol, trader, COALESCE(client_order_id, ''), enc_quantity, enc_price,
	enc_side, enc_remaining, proof, status, created_at, updated_at`

// OrderRepository is a PostgreSQL implementation of the outbound.OrderRepository port.
type OrderRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger *slog.Logger) (*OrderRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderRepository{
		pool:   pool,
		logger: logger.With("component", "order-repository"),
	}, nil
}

// NextOrderID allocates an id from order_id_seq. Ids consumed by rejected
// submissions are not reused.
func (r *OrderRepository) NextOrderID(ctx context.Context) (uint64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('order_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocating order id: %w", err)
	}
	return uint64(id), nil
}

func (r *OrderRepository) SaveOrder(ctx context.Context, tx pgx.Tx, o *entity.Order) error {
	_, err := pick(r.pool, tx).Exec(ctx, `
		INSERT INTO orders (
			id, symbol, trader, client_order_id, enc_quantity, enc_price,
			enc_side, enc_remaining, proof, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		int64(o.ID), o.Symbol, o.Trader.Bytes(), nullIfEmpty(o.ClientOrderID),
		o.EncQuantity, o.EncPrice, o.EncSide, o.EncRemaining, o.Proof,
		string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("order %d: %w", o.ID, entity.ErrDuplicateOrder)
	}
	if err != nil {
		return fmt.Errorf("inserting order %d: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) UpdateOrders(ctx context.Context, tx pgx.Tx, updates []entity.OrderUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`
			UPDATE orders
			SET enc_remaining = $2, status = $3, updated_at = $4
			WHERE id = $1
		`, int64(u.ID), u.EncRemaining, string(u.Status), u.UpdatedAt)
	}

	br := pick(r.pool, tx).SendBatch(ctx, batch)
	var errs []error
	for _, u := range updates {
		tag, err := br.Exec()
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("updating order %d: %w", u.ID, err))
		case tag.RowsAffected() == 0:
			errs = append(errs, fmt.Errorf("updating order %d: %w", u.ID, entity.ErrNotFound))
		}
	}
	if err := br.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing order update batch: %w", err))
	}
	return errors.Join(errs...)
}

func (r *OrderRepository) GetOrder(ctx context.Context, id uint64) (*entity.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, int64(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying order %d: %w", id, err)
	}
	return o, nil
}

func (r *OrderRepository) FindByClientOrderID(ctx context.Context, trader common.Address, clientOrderID string) (*entity.Order, error) {
	if clientOrderID == "" {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE trader = $1 AND client_order_id = $2
	`, trader.Bytes(), clientOrderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying order by client id: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) ListOpenOrders(ctx context.Context, symbol string) ([]*entity.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE symbol = $1 AND status IN ('ENCRYPTED', 'PARTIAL')
		ORDER BY id ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("querying open orders: %w", err)
	}
	defer rows.Close()

	var orders []*entity.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating open orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*entity.Order, error) {
	var (
		o      entity.Order
		id     int64
		trader []byte
		status string
	)
	err := row.Scan(
		&id, &o.Symbol, &trader, &o.ClientOrderID, &o.EncQuantity, &o.EncPrice,
		&o.EncSide, &o.EncRemaining, &o.Proof, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.ID = uint64(id)
	o.Trader = common.BytesToAddress(trader)
	o.Status = entity.OrderStatus(status)
	return &o, nil
}
