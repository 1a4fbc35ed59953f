package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the order direction. The numeric values match the on-chain orderType encoding.
type Side uint8

const (
	SideBuy  Side = 0
	SideSell Side = 1
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide parses "buy"/"sell" case-insensitively.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "0":
		return SideBuy, nil
	case "sell", "1":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
	}
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusEncrypted is a resting order with no fills yet.
	OrderStatusEncrypted OrderStatus = "ENCRYPTED"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusMatched   OrderStatus = "MATCHED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Open reports whether an order with this status can still trade.
func (s OrderStatus) Open() bool {
	return s == OrderStatusEncrypted || s == OrderStatusPartial
}

// Order is a sealed order as stored by the exchange. Quantity, price, side and
// remaining are ciphertexts; the plaintext values exist only inside the matching engine.
type Order struct {
	ID            uint64
	Symbol        string
	Trader        common.Address
	ClientOrderID string
	EncQuantity   []byte
	EncPrice      []byte
	EncSide       []byte
	EncRemaining  []byte
	Proof         []byte
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder creates a new Order entity with validation.
func NewOrder(id uint64, symbol string, trader common.Address, encQty, encPrice, encSide, proof []byte, createdAt time.Time) (*Order, error) {
	o := &Order{
		ID:           id,
		Symbol:       symbol,
		Trader:       trader,
		EncQuantity:  encQty,
		EncPrice:     encPrice,
		EncSide:      encSide,
		EncRemaining: encQty,
		Proof:        proof,
		Status:       OrderStatusEncrypted,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Order) validate() error {
	if o.ID == 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidOrder)
	}
	if o.Symbol == "" {
		return fmt.Errorf("%w: symbol must not be empty", ErrInvalidOrder)
	}
	if o.Trader == (common.Address{}) {
		return ErrWalletNotConnected
	}
	if len(o.EncQuantity) == 0 || len(o.EncPrice) == 0 || len(o.EncSide) == 0 {
		return fmt.Errorf("%w: sealed fields must not be empty", ErrInvalidOrder)
	}
	if o.CreatedAt.IsZero() {
		return fmt.Errorf("%w: createdAt must not be zero", ErrInvalidOrder)
	}
	return nil
}

// OpenOrder is the plaintext view of an order held by the matching engine.
type OpenOrder struct {
	ID        uint64
	Symbol    string
	Trader    common.Address
	Side      Side
	Price     int64
	Quantity  int64
	Remaining int64
	CreatedAt time.Time
}

// OrderUpdate is a change to a stored order's remaining quantity and status.
type OrderUpdate struct {
	ID           uint64
	EncRemaining []byte
	Status       OrderStatus
	UpdatedAt    time.Time
}

// StatusFor returns the status for an order with the given remaining and original quantities.
func StatusFor(remaining, quantity int64) OrderStatus {
	switch {
	case remaining <= 0:
		return OrderStatusMatched
	case remaining < quantity:
		return OrderStatusPartial
	default:
		return OrderStatusEncrypted
	}
}
