package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that ContractGateway implements outbound.ContractGateway
var _ outbound.ContractGateway = (*ContractGateway)(nil)

// MatchCall records one MatchOrders call.
type MatchCall struct {
	BuyOrderID  uint64
	SellOrderID uint64
	EncQuantity []byte
	Proof       []byte
	TxHash      common.Hash
}

// ContractGateway stands in for the on-chain contract. Writes are recorded and
// answered with deterministic transaction hashes.
type ContractGateway struct {
	mu      sync.Mutex
	nonce   uint64
	orders  map[uint64]*entity.OnchainOrder
	matches []MatchCall
	now     func() time.Time

	// FailMatches makes the next n MatchOrders calls fail.
	FailMatches int
}

// NewContractGateway creates an empty recording gateway.
func NewContractGateway() *ContractGateway {
	return &ContractGateway{
		orders: make(map[uint64]*entity.OnchainOrder),
		now:    time.Now,
	}
}

func (g *ContractGateway) nextHash() common.Hash {
	g.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], g.nonce)
	return crypto.Keccak256Hash([]byte("memory-gateway"), buf[:])
}

func (g *ContractGateway) CreateOrder(ctx context.Context, symbol string, encQty, encPrice, encSide, proof []byte) (common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uint64(len(g.orders) + 1)
	g.orders[id] = &entity.OnchainOrder{
		ID:        id,
		Symbol:    symbol,
		IsActive:  true,
		Timestamp: g.now(),
	}
	return g.nextHash(), nil
}

func (g *ContractGateway) MatchOrders(ctx context.Context, buyOrderID, sellOrderID uint64, encQty, proof []byte) (common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailMatches > 0 {
		g.FailMatches--
		return common.Hash{}, fmt.Errorf("%w: simulated matchOrders failure", entity.ErrUpstream)
	}
	h := g.nextHash()
	g.matches = append(g.matches, MatchCall{
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		EncQuantity: encQty,
		Proof:       proof,
		TxHash:      h,
	})
	return h, nil
}

// Matches returns the recorded MatchOrders calls.
func (g *ContractGateway) Matches() []MatchCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]MatchCall, len(g.matches))
	copy(out, g.matches)
	return out
}

func (g *ContractGateway) GetOrderInfo(ctx context.Context, orderID uint64) (*entity.OnchainOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, entity.ErrNotFound)
	}
	c := *o
	return &c, nil
}

func (g *ContractGateway) GetPositionInfo(ctx context.Context, trader common.Address, symbol string) (*entity.OnchainPosition, error) {
	return &entity.OnchainPosition{Trader: trader, Symbol: symbol}, nil
}

func (g *ContractGateway) GetMarketData(ctx context.Context, symbol string) (*entity.OnchainMarketData, error) {
	return &entity.OnchainMarketData{Symbol: symbol}, nil
}
