package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketData is the derived market summary for one contract.
// Prices are in ticks; zero means no trade yet.
type MarketData struct {
	Symbol       string
	CurrentPrice int64
	// PrevClose is the last price of the previous UTC day, the base for ChangePct.
	PrevClose    int64
	Volume24h    int64
	OpenInterest int64
	LastUpdate   time.Time
}

// NewMarketData creates empty market data for symbol.
func NewMarketData(symbol string) *MarketData {
	return &MarketData{Symbol: symbol}
}

// ChangePct returns the percentage change of CurrentPrice over PrevClose, rounded to two places.
func (m *MarketData) ChangePct() decimal.Decimal {
	if m.PrevClose <= 0 || m.CurrentPrice <= 0 {
		return decimal.Zero
	}
	cur := decimal.NewFromInt(m.CurrentPrice)
	prev := decimal.NewFromInt(m.PrevClose)
	return cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
}

// RecordTrade rolls PrevClose on a UTC day boundary and sets the last price.
// Volume and open interest are recomputed by the caller from the stores.
func (m *MarketData) RecordTrade(price int64, at time.Time) {
	if !m.LastUpdate.IsZero() && dayOf(at).After(dayOf(m.LastUpdate)) && m.CurrentPrice > 0 {
		m.PrevClose = m.CurrentPrice
	}
	if m.PrevClose == 0 {
		m.PrevClose = price
	}
	m.CurrentPrice = price
	m.LastUpdate = at
}

func dayOf(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// Quote is the top of book. Bid/Ask are zero when the side is empty.
type Quote struct {
	Bid int64
	Ask int64
}

// Spread returns Ask-Bid, or false when either side is empty.
func (q Quote) Spread() (int64, bool) {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0, false
	}
	return q.Ask - q.Bid, true
}

// BookLevel is an aggregated price level.
type BookLevel struct {
	Price    int64
	Quantity int64
	Orders   int
}

// BookDepth is a snapshot of a market's resting orders.
// For encrypted contracts Bids and Asks are nil and only the counts are set.
type BookDepth struct {
	Symbol    string
	Encrypted bool
	Bids      []BookLevel
	Asks      []BookLevel
	BidOrders int
	AskOrders int
}
