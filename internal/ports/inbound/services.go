// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
)

// CreateOrderRequest is a sealed order submission. All byte fields are envelopes
// or proofs produced by the trader's client.
type CreateOrderRequest struct {
	Trader        common.Address
	Symbol        string
	ClientOrderID string
	EncQuantity   []byte
	EncPrice      []byte
	EncSide       []byte
	Proof         []byte
}

// CreateOrderResult reports where a new order ended up.
type CreateOrderResult struct {
	OrderID uint64
	Status  entity.OrderStatus
	Trades  []*entity.Trade
}

// MatchOrdersRequest is an operator-signed explicit match.
type MatchOrdersRequest struct {
	BuyOrderID  uint64
	SellOrderID uint64
	EncQuantity []byte
	Proof       []byte
}

// CancelOrderRequest is a trader-signed cancel.
type CancelOrderRequest struct {
	Trader  common.Address
	OrderID uint64
	Proof   []byte
}

// RevealedOrder is the plaintext of an order, returned only to its owner.
type RevealedOrder struct {
	Side      entity.Side
	Price     int64
	Quantity  int64
	Remaining int64
}

// OrderInfo is the getOrderInfo view.
type OrderInfo struct {
	Order    *entity.Order
	Contract *entity.Contract
	// Revealed is nil unless the request carried a valid view proof from the owner.
	Revealed *RevealedOrder
}

// PositionInfo is the getPositionInfo view.
type PositionInfo struct {
	Position      *entity.Position
	Contract      *entity.Contract
	MarkPrice     int64
	UnrealizedPnL decimal.Decimal
	PnLPercent    decimal.Decimal
}

// MarketSummary is the getMarketData view.
type MarketSummary struct {
	Contract *entity.Contract
	Data     *entity.MarketData
	// Quote is nil for encrypted contracts.
	Quote      *entity.Quote
	OpenOrders int
}

// ExchangeService defines the primary use cases of the exchange.
// Inbound adapters (HTTP handlers, CLI) call these methods.
type ExchangeService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	MatchOrders(ctx context.Context, req MatchOrdersRequest) (*entity.Trade, error)
	CancelOrder(ctx context.Context, req CancelOrderRequest) error

	// GetOrderInfo returns the sealed order. viewProof is optional; a valid proof
	// from the owner reveals the plaintext.
	GetOrderInfo(ctx context.Context, orderID uint64, viewProof []byte) (*OrderInfo, error)

	// GetPositionInfo requires a view proof signed by trader.
	GetPositionInfo(ctx context.Context, trader common.Address, symbol string, viewProof []byte) (*PositionInfo, error)

	GetMarketData(ctx context.Context, symbol string) (*MarketSummary, error)
	GetOrderBook(ctx context.Context, symbol string) (*entity.BookDepth, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]*entity.Trade, error)
	ListMarkets(ctx context.Context) ([]*MarketSummary, error)
}

// HealthChecker defines the interface for services that can report readiness and liveness.
// This enables health checking during rolling deployments, ensuring new instances
// are serving before old ones are terminated.
//
// Implementations:
//   - exchange.Service: ready once every market's book has been restored
//   - settlement.Worker: ready after the first poll, healthy while polls keep succeeding
type HealthChecker interface {
	// IsReady returns true when the service is ready to handle traffic.
	IsReady() bool

	// IsHealthy returns true when the service is operating normally.
	IsHealthy() bool
}
