package outbound

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
)

// ContractGateway reaches the on-chain carbon trading contract.
// Write methods return the hash of the submitted transaction.
type ContractGateway interface {
	CreateOrder(ctx context.Context, symbol string, encQty, encPrice, encSide, proof []byte) (common.Hash, error)
	MatchOrders(ctx context.Context, buyOrderID, sellOrderID uint64, encQty, proof []byte) (common.Hash, error)

	GetOrderInfo(ctx context.Context, orderID uint64) (*entity.OnchainOrder, error)
	GetPositionInfo(ctx context.Context, trader common.Address, symbol string) (*entity.OnchainPosition, error)
	GetMarketData(ctx context.Context, symbol string) (*entity.OnchainMarketData, error)
}
