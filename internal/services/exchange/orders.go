package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/sealing"
	"github.com/archon-research/carbon-dex/internal/ports/inbound"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
	"github.com/archon-research/carbon-dex/internal/services/settlement"
)

// MaxClientOrderIDLen bounds the client order id a trader signs into each order.
const MaxClientOrderIDLen = 64

// CreateOrder validates a sealed order, rests or matches it, and settles any fills.
func (s *Service) CreateOrder(ctx context.Context, req inbound.CreateOrderRequest) (res *inbound.CreateOrderResult, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "exchange.createOrder",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("market.symbol", req.Symbol)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "order rejected")
			if s.metrics != nil {
				s.metrics.RecordOrderRejected(ctx, req.Symbol, rejectReason(err))
			}
		}
		span.End()
	}()

	if req.Trader == (common.Address{}) {
		return nil, entity.ErrWalletNotConnected
	}
	contract, err := s.contract(req.Symbol)
	if err != nil {
		return nil, err
	}
	if req.ClientOrderID == "" || len(req.ClientOrderID) > MaxClientOrderIDLen {
		return nil, fmt.Errorf("%w: client order id must be 1 to %d bytes", entity.ErrInvalidOrder, MaxClientOrderIDLen)
	}
	for _, f := range []struct {
		name string
		env  []byte
	}{
		{"amount", req.EncQuantity},
		{"price", req.EncPrice},
		{"order type", req.EncSide},
	} {
		if err := sealing.CheckEnvelope(f.env); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", entity.ErrInvalidOrder, f.name, err)
		}
	}
	digest := sealing.OrderDigest(req.Symbol, req.ClientOrderID, req.EncQuantity, req.EncPrice, req.EncSide)
	if err := sealing.Verify(digest, req.Proof, req.Trader); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidProof, err)
	}
	if !s.limiters.allow(req.Trader, s.now()) {
		return nil, fmt.Errorf("%w: trader %s", entity.ErrRateLimited, req.Trader.Hex())
	}

	release, err := s.reserveClientOrderID(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && !errors.Is(err, entity.ErrDuplicateOrder) {
			release()
		}
	}()

	qty, err := s.sealer.Open(req.Symbol, sealing.FieldQuantity, req.EncQuantity)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", entity.ErrInvalidOrder, err)
	}
	price, err := s.sealer.Open(req.Symbol, sealing.FieldPrice, req.EncPrice)
	if err != nil {
		return nil, fmt.Errorf("%w: price: %v", entity.ErrInvalidOrder, err)
	}
	side, err := s.openSide(req.Symbol, req.EncSide)
	if err != nil {
		if !errors.Is(err, entity.ErrInvalidOrder) {
			err = fmt.Errorf("%w: %v", entity.ErrInvalidOrder, err)
		}
		return nil, err
	}
	if err := contract.ValidateQuantity(qty); err != nil {
		return nil, err
	}
	if err := contract.ValidatePrice(price); err != nil {
		return nil, err
	}

	id, err := s.orders.NextOrderID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate order id: %w", err)
	}
	now := s.now().UTC()
	order, err := entity.NewOrder(id, req.Symbol, req.Trader, req.EncQuantity, req.EncPrice, req.EncSide, req.Proof, now)
	if err != nil {
		return nil, err
	}
	order.ClientOrderID = req.ClientOrderID
	span.SetAttributes(attribute.Int64("order.id", int64(id)))

	open := entity.OpenOrder{
		ID:        id,
		Symbol:    req.Symbol,
		Trader:    req.Trader,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Remaining: qty,
		CreatedAt: now,
	}

	var (
		batch  settlement.Batch
		result *settlement.Result
	)
	match, err := s.engine.Submit(ctx, open, func(ctx context.Context, fills []entity.Fill, remaining int64) error {
		b, err := s.submissionBatch(order, qty, fills, remaining, now)
		if err != nil {
			return err
		}
		r, err := s.settler.Commit(ctx, b)
		if err != nil {
			return err
		}
		batch, result = b, r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.settler.Publish(ctx, batch, result)
	if s.metrics != nil {
		s.metrics.RecordOrderAccepted(ctx, req.Symbol)
	}
	s.logger.Info("order accepted",
		"orderId", id,
		"symbol", req.Symbol,
		"trader", req.Trader.Hex(),
		"status", batch.NewOrder.Status,
		"fills", len(match.Fills),
	)

	return &inbound.CreateOrderResult{
		OrderID: id,
		Status:  batch.NewOrder.Status,
		Trades:  batch.Trades,
	}, nil
}

// reserveClientOrderID claims the trader's client order id. The returned
// release func frees the reservation after a failed submission.
func (s *Service) reserveClientOrderID(ctx context.Context, req inbound.CreateOrderRequest) (func(), error) {
	noop := func() {}
	if existing, err := s.orders.FindByClientOrderID(ctx, req.Trader, req.ClientOrderID); err != nil {
		return nil, fmt.Errorf("failed to look up client order id: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %q is order %d", entity.ErrDuplicateOrder, req.ClientOrderID, existing.ID)
	}
	if s.idem == nil {
		return noop, nil
	}

	key := req.Trader.Hex() + ":" + req.ClientOrderID
	ok, err := s.idem.Reserve(ctx, key, s.config.IdempotencyTTL)
	if err != nil {
		// The unique index on (trader, client_order_id) still rejects duplicates.
		s.logger.Warn("idempotency store unavailable", "error", err)
		return noop, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q is already being submitted", entity.ErrDuplicateOrder, req.ClientOrderID)
	}
	return func() {
		if err := s.idem.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("failed to release idempotency key", "key", key, "error", err)
		}
	}, nil
}

// submissionBatch builds the writes for a new order and the fills it produced.
func (s *Service) submissionBatch(order *entity.Order, qty int64, fills []entity.Fill, remaining int64, now time.Time) (settlement.Batch, error) {
	b := settlement.Batch{Symbol: order.Symbol}

	order.Status = entity.StatusFor(remaining, qty)
	if remaining != qty {
		enc, err := s.sealer.Seal(order.Symbol, sealing.FieldRemaining, remaining)
		if err != nil {
			return b, err
		}
		order.EncRemaining = enc
	}
	b.NewOrder = order

	for _, f := range fills {
		makerID, makerRemaining := f.SellOrderID, f.SellRemaining
		if f.Aggressor == entity.SideSell {
			makerID, makerRemaining = f.BuyOrderID, f.BuyRemaining
		}
		upd, err := s.orderUpdate(order.Symbol, makerID, makerRemaining, now)
		if err != nil {
			return b, err
		}
		b.Updates = append(b.Updates, upd)

		t, err := s.newTrade(order.Symbol, f, nil, now)
		if err != nil {
			return b, err
		}
		b.Trades = append(b.Trades, t)
	}

	b.Events = append(b.Events, outbound.OrderAcceptedEvent{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Trader:     order.Trader.Hex(),
		Status:     string(order.Status),
		AcceptedAt: now,
	})
	return b, nil
}

// orderUpdate seals the new remaining quantity of a filled resting order.
func (s *Service) orderUpdate(symbol string, id uint64, remaining int64, now time.Time) (entity.OrderUpdate, error) {
	enc, err := s.sealer.Seal(symbol, sealing.FieldRemaining, remaining)
	if err != nil {
		return entity.OrderUpdate{}, err
	}
	status := entity.OrderStatusPartial
	if remaining == 0 {
		status = entity.OrderStatusMatched
	}
	return entity.OrderUpdate{ID: id, EncRemaining: enc, Status: status, UpdatedAt: now}, nil
}

// newTrade builds a trade from a fill. encQty is sealed here when the caller has none.
func (s *Service) newTrade(symbol string, f entity.Fill, encQty []byte, now time.Time) (*entity.Trade, error) {
	t, err := entity.NewTrade(symbol, f, now)
	if err != nil {
		return nil, err
	}
	if encQty == nil {
		if encQty, err = s.sealer.Seal(symbol, sealing.FieldMatchQuantity, f.Quantity); err != nil {
			return nil, err
		}
	}
	t.EncQuantity = encQty
	return t, nil
}

// MatchOrders executes an operator-signed match between two resting orders.
func (s *Service) MatchOrders(ctx context.Context, req inbound.MatchOrdersRequest) (*entity.Trade, error) {
	if s.config.Operator == (common.Address{}) {
		return nil, fmt.Errorf("%w: no operator configured", entity.ErrForbidden)
	}
	digest := sealing.MatchDigest(req.BuyOrderID, req.SellOrderID, req.EncQuantity)
	if err := sealing.Verify(digest, req.Proof, s.config.Operator); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidProof, err)
	}

	buy, err := s.loadOrder(ctx, req.BuyOrderID)
	if err != nil {
		return nil, err
	}
	sell, err := s.loadOrder(ctx, req.SellOrderID)
	if err != nil {
		return nil, err
	}
	if buy.Symbol != sell.Symbol {
		return nil, fmt.Errorf("%w: orders %d and %d are in different markets", entity.ErrInvalidOrder, buy.ID, sell.ID)
	}
	if !buy.Status.Open() || !sell.Status.Open() {
		return nil, entity.ErrOrderClosed
	}
	if err := sealing.CheckEnvelope(req.EncQuantity); err != nil {
		return nil, fmt.Errorf("%w: amount: %v", entity.ErrInvalidOrder, err)
	}
	qty, err := s.sealer.Open(buy.Symbol, sealing.FieldMatchQuantity, req.EncQuantity)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", entity.ErrInvalidOrder, err)
	}

	now := s.now().UTC()
	var (
		batch  settlement.Batch
		result *settlement.Result
	)
	_, err = s.engine.Match(ctx, buy.Symbol, buy.ID, sell.ID, qty, func(ctx context.Context, f entity.Fill) error {
		b := settlement.Batch{Symbol: buy.Symbol}
		for _, side := range []struct {
			id        uint64
			remaining int64
		}{{f.BuyOrderID, f.BuyRemaining}, {f.SellOrderID, f.SellRemaining}} {
			upd, err := s.orderUpdate(buy.Symbol, side.id, side.remaining, now)
			if err != nil {
				return err
			}
			b.Updates = append(b.Updates, upd)
		}
		t, err := s.newTrade(buy.Symbol, f, req.EncQuantity, now)
		if err != nil {
			return err
		}
		t.Proof = req.Proof
		t.MatchDigest = digest
		b.Trades = []*entity.Trade{t}

		r, err := s.settler.Commit(ctx, b)
		if err != nil {
			return err
		}
		batch, result = b, r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.settler.Publish(ctx, batch, result)
	trade := batch.Trades[0]
	s.logger.Info("operator match settled",
		"tradeId", trade.ID,
		"symbol", trade.Symbol,
		"buyOrderId", trade.BuyOrderID,
		"sellOrderId", trade.SellOrderID,
	)
	return trade, nil
}

// CancelOrder removes a resting order at its owner's request.
func (s *Service) CancelOrder(ctx context.Context, req inbound.CancelOrderRequest) error {
	if req.Trader == (common.Address{}) {
		return entity.ErrWalletNotConnected
	}
	if err := sealing.Verify(sealing.CancelDigest(req.OrderID), req.Proof, req.Trader); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrInvalidProof, err)
	}
	order, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return err
	}
	if order.Trader != req.Trader {
		return fmt.Errorf("order %d: %w", req.OrderID, entity.ErrForbidden)
	}
	if !order.Status.Open() {
		return fmt.Errorf("order %d is %s: %w", req.OrderID, order.Status, entity.ErrOrderClosed)
	}

	now := s.now().UTC()
	var batch settlement.Batch
	_, err = s.engine.Cancel(ctx, order.Symbol, order.ID, req.Trader, func(ctx context.Context, o entity.OpenOrder) error {
		b := settlement.Batch{
			Symbol: order.Symbol,
			Updates: []entity.OrderUpdate{{
				ID:           o.ID,
				EncRemaining: order.EncRemaining,
				Status:       entity.OrderStatusCancelled,
				UpdatedAt:    now,
			}},
			Events: []outbound.Event{outbound.OrderCancelledEvent{
				OrderID:     o.ID,
				Symbol:      o.Symbol,
				Trader:      o.Trader.Hex(),
				CancelledAt: now,
			}},
		}
		if _, err := s.settler.Commit(ctx, b); err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return err
	}
	s.settler.Publish(ctx, batch, nil)
	s.logger.Info("order cancelled", "orderId", order.ID, "symbol", order.Symbol)
	return nil
}

func (s *Service) loadOrder(ctx context.Context, id uint64) (*entity.Order, error) {
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	if o == nil {
		return nil, fmt.Errorf("order %d: %w", id, entity.ErrNotFound)
	}
	return o, nil
}

// rejectReason maps an intake error to a low-cardinality metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, entity.ErrWalletNotConnected):
		return "wallet_not_connected"
	case errors.Is(err, entity.ErrUnknownContract):
		return "unknown_contract"
	case errors.Is(err, entity.ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, entity.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, entity.ErrDuplicateOrder):
		return "duplicate"
	case errors.Is(err, entity.ErrSelfTrade):
		return "self_trade"
	case errors.Is(err, entity.ErrInvalidOrder):
		return "invalid_order"
	default:
		return "internal"
	}
}
