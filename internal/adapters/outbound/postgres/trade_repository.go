package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that TradeRepository implements outbound.TradeRepository.
var _ outbound.TradeRepository = (*TradeRepository)(nil)

const tradeColumns = `
	id, symbol, buy_order_id, sell_order_id, buyer, seller, quantity, price,
	aggressor, enc_quantity, proof, match_digest, status, tx_hash, executed_at`

// matchDigestIndex enforces that an operator match settles at most once.
const matchDigestIndex = "trades_match_digest_idx"

// TradeRepository is a PostgreSQL implementation of the outbound.TradeRepository port.
type TradeRepository struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	batchSize int
}

// NewTradeRepository creates a new PostgreSQL trade repository.
// If batchSize is <= 0, a default batch size of 500 is used.
func NewTradeRepository(pool *pgxpool.Pool, logger *slog.Logger, batchSize int) (*TradeRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &TradeRepository{
		pool:      pool,
		logger:    logger.With("component", "trade-repository"),
		batchSize: batchSize,
	}, nil
}

// SaveTrades inserts trades in batches of batchSize and sets each trade's Seq.
// A match digest that already settled fails with entity.ErrDuplicateOrder.
func (r *TradeRepository) SaveTrades(ctx context.Context, tx pgx.Tx, trades []*entity.Trade) error {
	q := pick(r.pool, tx)
	for start := 0; start < len(trades); start += r.batchSize {
		end := min(start+r.batchSize, len(trades))
		chunk := trades[start:end]

		batch := &pgx.Batch{}
		for _, t := range chunk {
			var txHash []byte
			if t.TxHash != nil {
				txHash = t.TxHash.Bytes()
			}
			var matchDigest []byte
			if t.MatchDigest != (common.Hash{}) {
				matchDigest = t.MatchDigest.Bytes()
			}
			batch.Queue(`
				INSERT INTO trades (`+tradeColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
				RETURNING seq
			`,
				t.ID, t.Symbol, int64(t.BuyOrderID), int64(t.SellOrderID),
				t.Buyer.Bytes(), t.Seller.Bytes(), t.Quantity, t.Price,
				int16(t.Aggressor), t.EncQuantity, t.Proof, matchDigest, string(t.Status),
				txHash, t.ExecutedAt,
			)
		}
		if err := r.execBatch(ctx, q, batch, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (r *TradeRepository) execBatch(ctx context.Context, q querier, batch *pgx.Batch, chunk []*entity.Trade) error {
	br := q.SendBatch(ctx, batch)
	var errs []error
	for _, t := range chunk {
		if err := br.QueryRow().Scan(&t.Seq); err != nil {
			if isConstraintViolation(err, matchDigestIndex) {
				err = fmt.Errorf("match %s already settled: %w", t.MatchDigest.Hex(), entity.ErrDuplicateOrder)
			}
			errs = append(errs, fmt.Errorf("inserting trade %s: %w", t.ID, err))
		}
	}
	if err := br.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing trade batch: %w", err))
	}
	return errors.Join(errs...)
}

func (r *TradeRepository) GetTrade(ctx context.Context, id uuid.UUID) (*entity.Trade, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tradeColumns+`, seq FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying trade %s: %w", id, err)
	}
	return t, nil
}

func (r *TradeRepository) RecentTrades(ctx context.Context, symbol string, limit int) ([]*entity.Trade, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+tradeColumns+`, seq
		FROM trades
		WHERE symbol = $1
		ORDER BY executed_at DESC, seq DESC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent trades: %w", err)
	}
	defer rows.Close()

	var trades []*entity.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trades: %w", err)
	}
	return trades, nil
}

func (r *TradeRepository) VolumeSince(ctx context.Context, tx pgx.Tx, symbol string, since time.Time) (int64, error) {
	var volume int64
	err := pick(r.pool, tx).QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::BIGINT
		FROM trades
		WHERE symbol = $1 AND executed_at >= $2
	`, symbol, since).Scan(&volume)
	if err != nil {
		return 0, fmt.Errorf("querying volume: %w", err)
	}
	return volume, nil
}

func (r *TradeRepository) MarkMirrored(ctx context.Context, id uuid.UUID, txHash common.Hash) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE trades SET status = $2, tx_hash = $3 WHERE id = $1
	`, id, string(entity.TradeStatusMatched), txHash.Bytes())
	if err != nil {
		return fmt.Errorf("marking trade %s mirrored: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s: %w", id, entity.ErrNotFound)
	}
	return nil
}

func scanTrade(row pgx.Row) (*entity.Trade, error) {
	var (
		t             entity.Trade
		buyID, sellID int64
		buyer, seller []byte
		aggressor     int16
		status        string
		txHash        []byte
		matchDigest   []byte
	)
	err := row.Scan(
		&t.ID, &t.Symbol, &buyID, &sellID, &buyer, &seller, &t.Quantity, &t.Price,
		&aggressor, &t.EncQuantity, &t.Proof, &matchDigest, &status, &txHash, &t.ExecutedAt, &t.Seq,
	)
	if err != nil {
		return nil, err
	}
	t.BuyOrderID = uint64(buyID)
	t.SellOrderID = uint64(sellID)
	t.Buyer = common.BytesToAddress(buyer)
	t.Seller = common.BytesToAddress(seller)
	t.Aggressor = entity.Side(aggressor)
	t.Status = entity.TradeStatus(status)
	if len(txHash) > 0 {
		h := common.BytesToHash(txHash)
		t.TxHash = &h
	}
	if len(matchDigest) > 0 {
		t.MatchDigest = common.BytesToHash(matchDigest)
	}
	return &t, nil
}
