// Package matching holds the per-market order books and the engine that
// serializes all book mutations for a market on a single goroutine.
//
// Books hold opened (plaintext) prices and quantities. Nothing in this package
// logs order values.
package matching

import (
	"fmt"
	"slices"
	"sort"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
)

type priceLevel struct {
	price int64
	queue []*entity.OpenOrder
}

func (l *priceLevel) quantity() int64 {
	var total int64
	for _, o := range l.queue {
		total += o.Remaining
	}
	return total
}

// OrderBook is a price-time priority book for one market.
// Bids are ordered by price descending, asks ascending, FIFO within a level.
// OrderBook is not safe for concurrent use; Engine owns each book from one goroutine.
type OrderBook struct {
	symbol string
	bids   []*priceLevel
	asks   []*priceLevel
	orders map[uint64]*entity.OpenOrder
}

// NewOrderBook creates an empty book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		orders: make(map[uint64]*entity.OpenOrder),
	}
}

// Symbol returns the market symbol.
func (b *OrderBook) Symbol() string { return b.symbol }

// Len returns the number of resting orders.
func (b *OrderBook) Len() int { return len(b.orders) }

// Get returns a copy of the resting order with id.
func (b *OrderBook) Get(id uint64) (entity.OpenOrder, bool) {
	o, ok := b.orders[id]
	if !ok {
		return entity.OpenOrder{}, false
	}
	return *o, true
}

// Plan computes the fills taker would produce against the book without mutating it.
// It returns the fills in execution order and the taker's remaining quantity.
func (b *OrderBook) Plan(taker entity.OpenOrder) ([]entity.Fill, int64) {
	remaining := taker.Remaining
	var fills []entity.Fill

	for _, lvl := range b.opposite(taker.Side) {
		if remaining == 0 || !crosses(taker.Side, taker.Price, lvl.price) {
			break
		}
		for _, maker := range lvl.queue {
			if remaining == 0 {
				break
			}
			qty := min(remaining, maker.Remaining)
			remaining -= qty
			fills = append(fills, newFill(taker, *maker, qty, lvl.price, remaining, maker.Remaining-qty))
		}
	}
	return fills, remaining
}

// SelfTrade reports the first resting order from taker's own wallet that taker
// would cross, in execution order.
func (b *OrderBook) SelfTrade(taker entity.OpenOrder) (uint64, bool) {
	for _, lvl := range b.opposite(taker.Side) {
		if !crosses(taker.Side, taker.Price, lvl.price) {
			break
		}
		for _, o := range lvl.queue {
			if o.Trader == taker.Trader {
				return o.ID, true
			}
		}
	}
	return 0, false
}

// Apply commits a plan produced by Plan for the same taker and book state.
func (b *OrderBook) Apply(taker entity.OpenOrder, fills []entity.Fill, remaining int64) error {
	for _, f := range fills {
		makerID := f.BuyOrderID
		if taker.Side == entity.SideBuy {
			makerID = f.SellOrderID
		}
		if err := b.reduce(makerID, f.Quantity); err != nil {
			return err
		}
	}
	if remaining > 0 {
		taker.Remaining = remaining
		return b.Add(taker)
	}
	return nil
}

// PlanMatch validates an explicit match between two resting orders.
// The trade prices at the earlier order's price; the later order is the aggressor.
func (b *OrderBook) PlanMatch(buyID, sellID uint64, qty int64) (entity.Fill, error) {
	buy, ok := b.orders[buyID]
	if !ok {
		return entity.Fill{}, fmt.Errorf("buy order %d: %w", buyID, entity.ErrNotFound)
	}
	sell, ok := b.orders[sellID]
	if !ok {
		return entity.Fill{}, fmt.Errorf("sell order %d: %w", sellID, entity.ErrNotFound)
	}
	if buy.Side != entity.SideBuy || sell.Side != entity.SideSell {
		return entity.Fill{}, fmt.Errorf("%w: order sides do not match buy/sell", entity.ErrInvalidOrder)
	}
	if buy.Trader == sell.Trader {
		return entity.Fill{}, fmt.Errorf("%w: orders %d and %d share a wallet", entity.ErrSelfTrade, buyID, sellID)
	}
	if buy.Price < sell.Price {
		return entity.Fill{}, entity.ErrNotCrossing
	}
	if qty <= 0 || qty > buy.Remaining || qty > sell.Remaining {
		return entity.Fill{}, fmt.Errorf("%w: match quantity exceeds remaining", entity.ErrInvalidOrder)
	}

	maker, taker := sell, buy
	if buy.ID < sell.ID {
		maker, taker = buy, sell
	}
	f := newFill(*taker, *maker, qty, maker.Price, taker.Remaining-qty, maker.Remaining-qty)
	return f, nil
}

// ApplyMatch reduces both sides of an explicit match.
func (b *OrderBook) ApplyMatch(f entity.Fill) error {
	if err := b.reduce(f.BuyOrderID, f.Quantity); err != nil {
		return err
	}
	return b.reduce(f.SellOrderID, f.Quantity)
}

// Add rests o without matching. Used for unmatched remainders and restores.
func (b *OrderBook) Add(o entity.OpenOrder) error {
	if _, exists := b.orders[o.ID]; exists {
		return fmt.Errorf("order %d already in book", o.ID)
	}
	if o.Remaining <= 0 {
		return fmt.Errorf("order %d has no remaining quantity", o.ID)
	}
	order := &o
	b.orders[o.ID] = order

	if o.Side == entity.SideBuy {
		idx := sort.Search(len(b.bids), func(i int) bool { return b.bids[i].price <= o.Price })
		b.bids = insertAt(b.bids, idx, order)
	} else {
		idx := sort.Search(len(b.asks), func(i int) bool { return b.asks[i].price >= o.Price })
		b.asks = insertAt(b.asks, idx, order)
	}
	return nil
}

// Remove deletes a resting order and returns it.
func (b *OrderBook) Remove(id uint64) (entity.OpenOrder, bool) {
	o, ok := b.orders[id]
	if !ok {
		return entity.OpenOrder{}, false
	}
	b.unlink(o)
	return *o, true
}

// Quote returns the best bid and ask.
func (b *OrderBook) Quote() entity.Quote {
	var q entity.Quote
	if len(b.bids) > 0 {
		q.Bid = b.bids[0].price
	}
	if len(b.asks) > 0 {
		q.Ask = b.asks[0].price
	}
	return q
}

// Depth returns up to maxLevels aggregated levels per side. maxLevels <= 0 returns all.
func (b *OrderBook) Depth(maxLevels int) (bids, asks []entity.BookLevel) {
	return aggregate(b.bids, maxLevels), aggregate(b.asks, maxLevels)
}

// Counts returns the number of resting orders per side.
func (b *OrderBook) Counts() (bids, asks int) {
	for _, o := range b.orders {
		if o.Side == entity.SideBuy {
			bids++
		} else {
			asks++
		}
	}
	return bids, asks
}

func (b *OrderBook) reduce(id uint64, qty int64) error {
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, entity.ErrNotFound)
	}
	if qty > o.Remaining {
		return fmt.Errorf("order %d: fill %d exceeds remaining", id, qty)
	}
	o.Remaining -= qty
	if o.Remaining == 0 {
		b.unlink(o)
	}
	return nil
}

func (b *OrderBook) unlink(o *entity.OpenOrder) {
	delete(b.orders, o.ID)
	levels := &b.asks
	if o.Side == entity.SideBuy {
		levels = &b.bids
	}
	for i, lvl := range *levels {
		if lvl.price != o.Price {
			continue
		}
		lvl.queue = slices.DeleteFunc(lvl.queue, func(q *entity.OpenOrder) bool { return q.ID == o.ID })
		if len(lvl.queue) == 0 {
			*levels = slices.Delete(*levels, i, i+1)
		}
		return
	}
}

func (b *OrderBook) opposite(side entity.Side) []*priceLevel {
	if side == entity.SideBuy {
		return b.asks
	}
	return b.bids
}

func crosses(side entity.Side, limit, levelPrice int64) bool {
	if side == entity.SideBuy {
		return levelPrice <= limit
	}
	return levelPrice >= limit
}

func insertAt(levels []*priceLevel, idx int, o *entity.OpenOrder) []*priceLevel {
	if idx < len(levels) && levels[idx].price == o.Price {
		levels[idx].queue = append(levels[idx].queue, o)
		return levels
	}
	return slices.Insert(levels, idx, &priceLevel{price: o.Price, queue: []*entity.OpenOrder{o}})
}

func aggregate(levels []*priceLevel, maxLevels int) []entity.BookLevel {
	n := len(levels)
	if maxLevels > 0 && maxLevels < n {
		n = maxLevels
	}
	out := make([]entity.BookLevel, 0, n)
	for _, lvl := range levels[:n] {
		out = append(out, entity.BookLevel{Price: lvl.price, Quantity: lvl.quantity(), Orders: len(lvl.queue)})
	}
	return out
}

func newFill(taker, maker entity.OpenOrder, qty, price, takerRemaining, makerRemaining int64) entity.Fill {
	f := entity.Fill{Quantity: qty, Price: price, Aggressor: taker.Side}
	if taker.Side == entity.SideBuy {
		f.BuyOrderID, f.Buyer, f.BuyRemaining = taker.ID, taker.Trader, takerRemaining
		f.SellOrderID, f.Seller, f.SellRemaining = maker.ID, maker.Trader, makerRemaining
	} else {
		f.SellOrderID, f.Seller, f.SellRemaining = taker.ID, taker.Trader, takerRemaining
		f.BuyOrderID, f.Buyer, f.BuyRemaining = maker.ID, maker.Trader, makerRemaining
	}
	return f
}
