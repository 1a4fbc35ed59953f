package entity

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TradeStatus tracks whether a settled trade has been mirrored on-chain.
type TradeStatus string

const (
	TradeStatusPending TradeStatus = "PENDING"
	TradeStatusMatched TradeStatus = "MATCHED"
)

// Fill is a single execution produced by the matching engine. Price is the
// resting (maker) order's price.
type Fill struct {
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       common.Address
	Seller      common.Address
	Quantity    int64
	Price       int64
	// Aggressor is the side of the incoming order.
	Aggressor Side
	// BuyRemaining and SellRemaining are the remaining quantities after this fill.
	BuyRemaining  int64
	SellRemaining int64
}

// Notional returns quantity × price in ticks.
func (f Fill) Notional() int64 {
	return f.Quantity * f.Price
}

// Trade is a settled fill.
type Trade struct {
	ID          uuid.UUID
	Symbol      string
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       common.Address
	Seller      common.Address
	Quantity    int64
	Price       int64
	Aggressor   Side
	// EncQuantity is the matched quantity sealed for the on-chain matchOrders call.
	EncQuantity []byte
	Proof       []byte
	// MatchDigest is the operator-signed digest an explicit match settled.
	// Zero for engine fills. A digest settles at most one trade.
	MatchDigest common.Hash
	Status      TradeStatus
	TxHash      *common.Hash
	ExecutedAt  time.Time
	// Seq is assigned by the repository on save and orders trades that share ExecutedAt.
	Seq int64
}

// NewTrade creates a pending Trade from a fill.
func NewTrade(symbol string, f Fill, executedAt time.Time) (*Trade, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol must not be empty")
	}
	if f.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", f.Quantity)
	}
	if f.Price <= 0 {
		return nil, fmt.Errorf("price must be positive, got %d", f.Price)
	}
	if f.BuyOrderID == 0 || f.SellOrderID == 0 {
		return nil, fmt.Errorf("order ids must be positive")
	}
	return &Trade{
		ID:          uuid.New(),
		Symbol:      symbol,
		BuyOrderID:  f.BuyOrderID,
		SellOrderID: f.SellOrderID,
		Buyer:       f.Buyer,
		Seller:      f.Seller,
		Quantity:    f.Quantity,
		Price:       f.Price,
		Aggressor:   f.Aggressor,
		Status:      TradeStatusPending,
		ExecutedAt:  executedAt,
	}, nil
}

// Notional returns quantity × price in ticks.
func (t *Trade) Notional() int64 {
	return t.Quantity * t.Price
}
