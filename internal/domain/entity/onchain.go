package entity

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OnchainOrder is the contract's view of an order. The uint8 fields are
// encrypted handles as returned by the contract, not plaintext values.
type OnchainOrder struct {
	ID        uint64
	Quantity  uint8
	Price     uint8
	OrderType uint8
	IsActive  bool
	Trader    common.Address
	Timestamp time.Time
	Symbol    string
}

// OnchainPosition is the contract's view of a position.
type OnchainPosition struct {
	Trader        common.Address
	Symbol        string
	Quantity      uint8
	AveragePrice  uint8
	UnrealizedPnL uint8
	LastUpdated   time.Time
}

// OnchainMarketData is the contract's view of a market.
type OnchainMarketData struct {
	Symbol       string
	CurrentPrice uint8
	Volume24h    uint8
	OpenInterest uint8
	LastUpdate   time.Time
}
