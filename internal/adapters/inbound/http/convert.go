package http

import (
	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/hexutil"
	"github.com/archon-research/carbon-dex/internal/ports/inbound"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
	"github.com/archon-research/carbon-dex/pkg/carbonsdk"
)

func toOrder(info *inbound.OrderInfo) carbonsdk.Order {
	o := info.Order
	out := carbonsdk.Order{
		ID:            o.ID,
		Symbol:        o.Symbol,
		Trader:        o.Trader.Hex(),
		ClientOrderID: o.ClientOrderID,
		EncQuantity:   hexutil.EncodeBytes(o.EncQuantity),
		EncPrice:      hexutil.EncodeBytes(o.EncPrice),
		EncOrderType:  hexutil.EncodeBytes(o.EncSide),
		EncRemaining:  hexutil.EncodeBytes(o.EncRemaining),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if r := info.Revealed; r != nil {
		out.Revealed = &carbonsdk.RevealedOrder{
			Side:      r.Side.String(),
			Price:     r.Price,
			Quantity:  r.Quantity,
			Remaining: r.Remaining,
		}
		if info.Contract != nil {
			out.Revealed.DisplayPrice = info.Contract.FormatPrice(r.Price)
		}
	}
	return out
}

func toTrade(t *entity.Trade, c *entity.Contract) carbonsdk.Trade {
	out := carbonsdk.Trade{
		ID:          t.ID.String(),
		Symbol:      t.Symbol,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Buyer:       t.Buyer.Hex(),
		Seller:      t.Seller.Hex(),
		Quantity:    t.Quantity,
		Price:       t.Price,
		Aggressor:   t.Aggressor.String(),
		Status:      string(t.Status),
		ExecutedAt:  t.ExecutedAt,
	}
	if c != nil {
		out.DisplayPrice = c.FormatPrice(t.Price)
	}
	if t.TxHash != nil {
		out.TxHash = t.TxHash.Hex()
	}
	return out
}

func toTrades(trades []*entity.Trade, c *entity.Contract) []carbonsdk.Trade {
	out := make([]carbonsdk.Trade, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTrade(t, c))
	}
	return out
}

func toPosition(info *inbound.PositionInfo) carbonsdk.Position {
	p := info.Position
	out := carbonsdk.Position{
		Trader:        p.Trader.Hex(),
		Symbol:        p.Symbol,
		Quantity:      p.Quantity,
		AvgPrice:      p.AvgPrice.StringFixed(4),
		MarkPrice:     info.MarkPrice,
		RealizedPnL:   p.RealizedPnL.String(),
		UnrealizedPnL: info.UnrealizedPnL.String(),
		PnLPercent:    info.PnLPercent.StringFixed(2),
		UpdatedAt:     p.UpdatedAt,
	}
	if c := info.Contract; c != nil {
		out.DisplayMark = c.FormatPrice(info.MarkPrice)
		out.DisplayPnL = entity.FormatPnL(c.Currency, info.UnrealizedPnL)
	}
	return out
}

func toMarket(m *inbound.MarketSummary) carbonsdk.Market {
	c, d := m.Contract, m.Data
	out := carbonsdk.Market{
		Symbol:        c.Symbol,
		Name:          c.DisplayName,
		Currency:      string(c.Currency),
		Encrypted:     c.Encrypted,
		TickSize:      c.TickSize,
		LotSize:       c.LotSize,
		CurrentPrice:  d.CurrentPrice,
		DisplayPrice:  c.FormatPrice(d.CurrentPrice),
		Change:        entity.FormatChange(d.ChangePct()),
		Volume24h:     d.Volume24h,
		DisplayVolume: entity.FormatVolume(d.Volume24h),
		OpenInterest:  d.OpenInterest,
		OpenOrders:    m.OpenOrders,
		LastUpdate:    d.LastUpdate,
	}
	if q := m.Quote; q != nil {
		if q.Bid > 0 {
			bid := q.Bid
			out.BestBid = &bid
		}
		if q.Ask > 0 {
			ask := q.Ask
			out.BestAsk = &ask
		}
		if spread, ok := q.Spread(); ok {
			out.Spread = c.FormatPrice(spread)
		}
	}
	return out
}

func toBook(d *entity.BookDepth, c *entity.Contract) carbonsdk.OrderBook {
	out := carbonsdk.OrderBook{
		Symbol:    d.Symbol,
		Encrypted: d.Encrypted,
		Bids:      toLevels(d.Bids, c),
		Asks:      toLevels(d.Asks, c),
		BidOrders: d.BidOrders,
		AskOrders: d.AskOrders,
	}
	if len(d.Bids) > 0 && len(d.Asks) > 0 {
		q := entity.Quote{Bid: d.Bids[0].Price, Ask: d.Asks[0].Price}
		if spread, ok := q.Spread(); ok && c != nil {
			out.Spread = c.FormatPrice(spread)
		}
	}
	return out
}

func toLevels(levels []entity.BookLevel, c *entity.Contract) []carbonsdk.BookLevel {
	if levels == nil {
		return nil
	}
	out := make([]carbonsdk.BookLevel, 0, len(levels))
	for _, l := range levels {
		bl := carbonsdk.BookLevel{Price: l.Price, Quantity: l.Quantity, Orders: l.Orders}
		if c != nil {
			bl.DisplayPrice = c.FormatPrice(l.Price)
		}
		out = append(out, bl)
	}
	return out
}

// toStreamMessage converts an event to its websocket frame.
// Proofs and sealed quantities are not streamed.
func toStreamMessage(event outbound.Event) (carbonsdk.StreamMessage, bool) {
	switch e := event.(type) {
	case outbound.TradeSettledEvent:
		return carbonsdk.StreamMessage{
			Type:   string(e.EventType()),
			Symbol: e.Symbol,
			Trade: &carbonsdk.Trade{
				ID:          e.TradeID.String(),
				Symbol:      e.Symbol,
				BuyOrderID:  e.BuyOrderID,
				SellOrderID: e.SellOrderID,
				Buyer:       e.Buyer,
				Seller:      e.Seller,
				Quantity:    e.Quantity,
				Price:       e.Price,
				Aggressor:   e.Aggressor,
				Status:      string(entity.TradeStatusPending),
				ExecutedAt:  e.ExecutedAt,
			},
		}, true
	case outbound.OrderAcceptedEvent:
		return carbonsdk.StreamMessage{
			Type:    string(e.EventType()),
			Symbol:  e.Symbol,
			OrderID: e.OrderID,
			Status:  e.Status,
		}, true
	case outbound.OrderCancelledEvent:
		return carbonsdk.StreamMessage{
			Type:    string(e.EventType()),
			Symbol:  e.Symbol,
			OrderID: e.OrderID,
			Status:  string(entity.OrderStatusCancelled),
		}, true
	default:
		return carbonsdk.StreamMessage{}, false
	}
}
