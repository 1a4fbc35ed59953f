package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

// Event type constants.
const (
	EventTypeTradeSettled   EventType = "trade_settled"
	EventTypeOrderAccepted  EventType = "order_accepted"
	EventTypeOrderCancelled EventType = "order_cancelled"
)

// Event is the interface that all event types implement.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType
	// GetSymbol returns the market the event belongs to.
	GetSymbol() string
	// GetKey returns a stable identifier used for deduplication.
	GetKey() string
}

// TradeSettledEvent is published after a trade has been committed.
// Quantity and price are revealed at settlement.
type TradeSettledEvent struct {
	TradeID     uuid.UUID `json:"tradeId"`
	Symbol      string    `json:"symbol"`
	BuyOrderID  uint64    `json:"buyOrderId"`
	SellOrderID uint64    `json:"sellOrderId"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	Quantity    int64     `json:"quantity"`
	Price       int64     `json:"price"`
	Aggressor   string    `json:"aggressor"`

	// EncQuantity is the sealed match quantity passed to the on-chain matchOrders call.
	EncQuantity []byte `json:"encQuantity"`

	// Proof is the operator proof for explicit matches; empty for engine matches.
	Proof []byte `json:"proof,omitempty"`

	ExecutedAt time.Time `json:"executedAt"`
}

func (e TradeSettledEvent) EventType() EventType { return EventTypeTradeSettled }
func (e TradeSettledEvent) GetSymbol() string    { return e.Symbol }
func (e TradeSettledEvent) GetKey() string       { return e.TradeID.String() }

// OrderAcceptedEvent is published when an order enters the book. It carries no plaintext.
type OrderAcceptedEvent struct {
	OrderID    uint64    `json:"orderId"`
	Symbol     string    `json:"symbol"`
	Trader     string    `json:"trader"`
	Status     string    `json:"status"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

func (e OrderAcceptedEvent) EventType() EventType { return EventTypeOrderAccepted }
func (e OrderAcceptedEvent) GetSymbol() string    { return e.Symbol }
func (e OrderAcceptedEvent) GetKey() string       { return orderKey(e.OrderID) }

// OrderCancelledEvent is published when a trader cancels a resting order.
type OrderCancelledEvent struct {
	OrderID     uint64    `json:"orderId"`
	Symbol      string    `json:"symbol"`
	Trader      string    `json:"trader"`
	CancelledAt time.Time `json:"cancelledAt"`
}

func (e OrderCancelledEvent) EventType() EventType { return EventTypeOrderCancelled }
func (e OrderCancelledEvent) GetSymbol() string    { return e.Symbol }
func (e OrderCancelledEvent) GetKey() string       { return orderKey(e.OrderID) + ":cancel" }

// EventSink defines the interface for publishing exchange events.
type EventSink interface {
	// Publish sends an event. Implementations must be safe for concurrent use.
	Publish(ctx context.Context, event Event) error

	// Close releases resources held by the sink.
	Close() error
}
