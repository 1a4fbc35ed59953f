package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/sealing"
	"github.com/archon-research/carbon-dex/internal/ports/inbound"
)

const (
	defaultTradeLimit = 20
	maxTradeLimit     = 200
)

// GetOrderInfo returns a sealed order. A view proof signed by the owner reveals its plaintext.
func (s *Service) GetOrderInfo(ctx context.Context, orderID uint64, viewProof []byte) (*inbound.OrderInfo, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	contract, err := s.contract(order.Symbol)
	if err != nil {
		return nil, err
	}
	info := &inbound.OrderInfo{Order: order, Contract: contract}
	if len(viewProof) == 0 {
		return info, nil
	}

	if err := sealing.Verify(sealing.ViewOrderDigest(orderID), viewProof, order.Trader); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidProof, err)
	}
	rev, err := s.reveal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to open order %d: %w", orderID, err)
	}
	info.Revealed = rev
	return info, nil
}

// GetPositionInfo returns a trader's position marked to the last trade price.
// Positions are private, so the request must carry the trader's view proof.
func (s *Service) GetPositionInfo(ctx context.Context, trader common.Address, symbol string, viewProof []byte) (*inbound.PositionInfo, error) {
	if trader == (common.Address{}) {
		return nil, entity.ErrWalletNotConnected
	}
	contract, err := s.contract(symbol)
	if err != nil {
		return nil, err
	}
	if len(viewProof) == 0 {
		return nil, fmt.Errorf("%w: position views require a proof", entity.ErrForbidden)
	}
	if err := sealing.Verify(sealing.ViewPositionDigest(trader, symbol), viewProof, trader); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidProof, err)
	}

	p, err := s.pos.GetPosition(ctx, nil, trader, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	if p == nil {
		if p, err = entity.NewPosition(trader, symbol); err != nil {
			return nil, err
		}
	}
	md, err := s.marketData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &inbound.PositionInfo{
		Position:      p,
		Contract:      contract,
		MarkPrice:     md.CurrentPrice,
		UnrealizedPnL: p.UnrealizedPnL(md.CurrentPrice),
		PnLPercent:    p.PnLPercent(md.CurrentPrice),
	}, nil
}

// GetMarketData returns the market summary of symbol. The quote is only
// included for public books.
func (s *Service) GetMarketData(ctx context.Context, symbol string) (*inbound.MarketSummary, error) {
	contract, err := s.contract(symbol)
	if err != nil {
		return nil, err
	}
	md, err := s.marketData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	depth, err := s.engine.Depth(ctx, symbol, false, 0)
	if err != nil {
		return nil, err
	}
	summary := &inbound.MarketSummary{
		Contract:   contract,
		Data:       md,
		OpenOrders: depth.BidOrders + depth.AskOrders,
	}
	if !contract.Encrypted {
		q, err := s.engine.Quote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		summary.Quote = &q
	}
	return summary, nil
}

// marketData reads through the cache. Symbols that never traded get an empty record.
func (s *Service) marketData(ctx context.Context, symbol string) (*entity.MarketData, error) {
	if s.cache != nil {
		md, err := s.cache.GetMarketData(ctx, symbol)
		if err != nil {
			s.logger.Warn("market data cache read failed", "symbol", symbol, "error", err)
		} else if md != nil {
			return md, nil
		}
	}

	md, err := s.md.GetMarketData(ctx, nil, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load market data for %s: %w", symbol, err)
	}
	if md == nil {
		return entity.NewMarketData(symbol), nil
	}
	if s.cache != nil {
		if err := s.cache.SetMarketData(ctx, md); err != nil {
			s.logger.Warn("market data cache write failed", "symbol", symbol, "error", err)
		}
	}
	return md, nil
}

// GetOrderBook returns the book snapshot of symbol: aggregated levels for
// public books, order counts only for encrypted ones.
func (s *Service) GetOrderBook(ctx context.Context, symbol string) (*entity.BookDepth, error) {
	contract, err := s.contract(symbol)
	if err != nil {
		return nil, err
	}
	return s.engine.Depth(ctx, symbol, !contract.Encrypted, s.config.MaxDepthLevels)
}

// RecentTrades returns settled trades of symbol, newest first.
func (s *Service) RecentTrades(ctx context.Context, symbol string, limit int) ([]*entity.Trade, error) {
	if _, err := s.contract(symbol); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultTradeLimit
	case limit > maxTradeLimit:
		limit = maxTradeLimit
	}
	return s.trades.RecentTrades(ctx, symbol, limit)
}

// ListMarkets returns a summary of every catalogued contract.
func (s *Service) ListMarkets(ctx context.Context) ([]*inbound.MarketSummary, error) {
	contracts := s.catalog.Contracts()
	out := make([]*inbound.MarketSummary, 0, len(contracts))
	var errs []error
	for _, c := range contracts {
		m, err := s.GetMarketData(ctx, c.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Symbol, err))
			continue
		}
		out = append(out, m)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
