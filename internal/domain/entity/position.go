package entity

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// avgPricePlaces bounds the precision stored for average prices.
const avgPricePlaces = 8

// Position is a trader's net exposure in one contract.
// Quantity is signed: positive is long, negative is short.
// AvgPrice and RealizedPnL are in ticks.
type Position struct {
	Trader      common.Address
	Symbol      string
	Quantity    int64
	AvgPrice    decimal.Decimal
	RealizedPnL decimal.Decimal
	UpdatedAt   time.Time
}

// NewPosition creates an empty position.
func NewPosition(trader common.Address, symbol string) (*Position, error) {
	if trader == (common.Address{}) {
		return nil, ErrWalletNotConnected
	}
	if symbol == "" {
		return nil, fmt.Errorf("symbol must not be empty")
	}
	return &Position{
		Trader:      trader,
		Symbol:      symbol,
		AvgPrice:    decimal.Zero,
		RealizedPnL: decimal.Zero,
	}, nil
}

// Apply books a fill of qty at price on the given side.
//
// Adding to a position moves the average price to the quantity-weighted mean.
// Reducing realizes PnL against the average price. Crossing through zero
// realizes the closed part and opens the remainder at the fill price.
func (p *Position) Apply(side Side, qty, price int64, at time.Time) {
	if qty <= 0 {
		return
	}
	delta := qty
	if side == SideSell {
		delta = -qty
	}
	px := decimal.NewFromInt(price)

	switch {
	case p.Quantity == 0 || sameSign(p.Quantity, delta):
		held := decimal.NewFromInt(abs(p.Quantity))
		add := decimal.NewFromInt(qty)
		p.AvgPrice = p.AvgPrice.Mul(held).Add(px.Mul(add)).Div(held.Add(add)).Round(avgPricePlaces)
		p.Quantity += delta
	default:
		closed := min(qty, abs(p.Quantity))
		dir := decimal.NewFromInt(sign(p.Quantity))
		p.RealizedPnL = p.RealizedPnL.Add(px.Sub(p.AvgPrice).Mul(decimal.NewFromInt(closed)).Mul(dir))
		p.Quantity += delta
		switch {
		case p.Quantity == 0:
			p.AvgPrice = decimal.Zero
		case qty > closed:
			p.AvgPrice = px
		}
	}
	p.UpdatedAt = at
}

// UnrealizedPnL returns the mark-to-market PnL in ticks.
func (p *Position) UnrealizedPnL(mark int64) decimal.Decimal {
	if p.Quantity == 0 || mark <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(mark).Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity))
}

// PnLPercent returns unrealized PnL as a percentage of cost basis.
func (p *Position) PnLPercent(mark int64) decimal.Decimal {
	cost := p.AvgPrice.Mul(decimal.NewFromInt(abs(p.Quantity)))
	if cost.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL(mark).Div(cost).Mul(decimal.NewFromInt(100)).Round(2)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
