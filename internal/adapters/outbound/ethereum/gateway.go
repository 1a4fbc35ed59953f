// Package ethereum implements the ContractGateway against the confidential
// carbon trading contract over JSON-RPC.
//
// Writes are signed locally with the operator key as EIP-1559 transactions.
// Sends are serialized so nonces stay in order.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/blockchain/abis"
	"github.com/archon-research/carbon-dex/internal/pkg/retry"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that Gateway implements outbound.ContractGateway
var _ outbound.ContractGateway = (*Gateway)(nil)

// Backend is the subset of *ethclient.Client the gateway uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Config holds configuration for the gateway.
type Config struct {
	Contract common.Address
	ChainID  *big.Int

	// OperatorKey signs createOrder and matchOrders transactions.
	OperatorKey *ecdsa.PrivateKey

	// GasMultiplier scales the node's gas estimate (default 1.2).
	GasMultiplier float64

	Retry  retry.Config
	Logger *slog.Logger
}

func configDefaults() Config {
	return Config{
		GasMultiplier: 1.2,
		Retry:         retry.UpstreamConfig(),
		Logger:        slog.Default(),
	}
}

// Gateway talks to the carbon trading contract.
type Gateway struct {
	backend  Backend
	abi      *abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   types.Signer
	gasMult  float64
	retry    retry.Config
	logger   *slog.Logger

	sendMu sync.Mutex
}

// NewGateway creates a new contract gateway.
func NewGateway(backend Backend, config Config) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if config.Contract == (common.Address{}) {
		return nil, fmt.Errorf("contract address is required")
	}
	if config.ChainID == nil || config.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain ID is required")
	}
	if config.OperatorKey == nil {
		return nil, fmt.Errorf("operator key is required")
	}

	defaults := configDefaults()
	if config.GasMultiplier <= 0 {
		config.GasMultiplier = defaults.GasMultiplier
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	parsed, err := abis.GetCarbonTradingABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load carbon trading ABI: %w", err)
	}

	return &Gateway{
		backend:  backend,
		abi:      parsed,
		contract: config.Contract,
		chainID:  new(big.Int).Set(config.ChainID),
		key:      config.OperatorKey,
		from:     crypto.PubkeyToAddress(config.OperatorKey.PublicKey),
		signer:   types.LatestSignerForChainID(config.ChainID),
		gasMult:  config.GasMultiplier,
		retry:    config.Retry,
		logger:   config.Logger.With("component", "contract-gateway"),
	}, nil
}

// Operator returns the address transactions are sent from.
func (g *Gateway) Operator() common.Address {
	return g.from
}

func (g *Gateway) CreateOrder(ctx context.Context, symbol string, encQty, encPrice, encSide, proof []byte) (common.Hash, error) {
	data, err := g.abi.Pack(abis.MethodCreateOrder, symbol, encQty, encPrice, encSide, proof)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack createOrder: %w", err)
	}
	return g.transact(ctx, abis.MethodCreateOrder, data)
}

func (g *Gateway) MatchOrders(ctx context.Context, buyOrderID, sellOrderID uint64, encQty, proof []byte) (common.Hash, error) {
	data, err := g.abi.Pack(abis.MethodMatchOrders,
		new(big.Int).SetUint64(buyOrderID), new(big.Int).SetUint64(sellOrderID), encQty, proof)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack matchOrders: %w", err)
	}
	return g.transact(ctx, abis.MethodMatchOrders, data)
}

func (g *Gateway) GetOrderInfo(ctx context.Context, orderID uint64) (*entity.OnchainOrder, error) {
	var out struct {
		Quantity  uint8
		Price     uint8
		OrderType uint8
		IsActive  bool
		Trader    common.Address
		Timestamp *big.Int
		Symbol    string
	}
	if err := g.call(ctx, abis.MethodGetOrderInfo, &out, new(big.Int).SetUint64(orderID)); err != nil {
		return nil, err
	}
	if out.Trader == (common.Address{}) {
		return nil, fmt.Errorf("order %d: %w", orderID, entity.ErrNotFound)
	}
	return &entity.OnchainOrder{
		ID:        orderID,
		Quantity:  out.Quantity,
		Price:     out.Price,
		OrderType: out.OrderType,
		IsActive:  out.IsActive,
		Trader:    out.Trader,
		Timestamp: unixTime(out.Timestamp),
		Symbol:    out.Symbol,
	}, nil
}

func (g *Gateway) GetPositionInfo(ctx context.Context, trader common.Address, symbol string) (*entity.OnchainPosition, error) {
	var out struct {
		Quantity      uint8
		AveragePrice  uint8
		UnrealizedPnL uint8
		LastUpdated   *big.Int
	}
	if err := g.call(ctx, abis.MethodGetPositionInfo, &out, trader, symbol); err != nil {
		return nil, err
	}
	return &entity.OnchainPosition{
		Trader:        trader,
		Symbol:        symbol,
		Quantity:      out.Quantity,
		AveragePrice:  out.AveragePrice,
		UnrealizedPnL: out.UnrealizedPnL,
		LastUpdated:   unixTime(out.LastUpdated),
	}, nil
}

func (g *Gateway) GetMarketData(ctx context.Context, symbol string) (*entity.OnchainMarketData, error) {
	var out struct {
		CurrentPrice uint8
		Volume24h    uint8
		OpenInterest uint8
		LastUpdate   *big.Int
	}
	if err := g.call(ctx, abis.MethodGetMarketData, &out, symbol); err != nil {
		return nil, err
	}
	return &entity.OnchainMarketData{
		Symbol:       symbol,
		CurrentPrice: out.CurrentPrice,
		Volume24h:    out.Volume24h,
		OpenInterest: out.OpenInterest,
		LastUpdate:   unixTime(out.LastUpdate),
	}, nil
}

func (g *Gateway) call(ctx context.Context, method string, out any, args ...any) error {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{From: g.from, To: &g.contract, Data: data}

	result, err := retry.Do(ctx, g.retry, isTransient, g.onRetry(method), func() ([]byte, error) {
		return g.backend.CallContract(ctx, msg, nil)
	})
	if err != nil {
		return fmt.Errorf("%w: %s call failed: %w", entity.ErrUpstream, method, err)
	}
	if err := g.abi.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("%w: failed to unpack %s: %w", entity.ErrUpstream, method, err)
	}
	return nil
}

// transact signs and sends a dynamic fee transaction calling the contract with data.
func (g *Gateway) transact(ctx context.Context, method string, data []byte) (common.Hash, error) {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	start := time.Now()
	hash, err := retry.Do(ctx, g.retry, isTransient, g.onRetry(method), func() (common.Hash, error) {
		tx, err := g.buildTx(ctx, data)
		if err != nil {
			return common.Hash{}, err
		}
		if err := g.backend.SendTransaction(ctx, tx); err != nil {
			return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
		}
		return tx.Hash(), nil
	})
	if err != nil {
		g.logger.Error("contract transaction failed", "method", method, "error", err)
		return common.Hash{}, fmt.Errorf("%w: %s: %w", entity.ErrUpstream, method, err)
	}

	g.logger.Info("contract transaction sent", "method", method, "txHash", hash.Hex(), "duration", time.Since(start))
	return hash, nil
}

func (g *Gateway) buildTx(ctx context.Context, data []byte) (*types.Transaction, error) {
	nonce, err := g.backend.PendingNonceAt(ctx, g.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	tip, err := g.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip: %w", err)
	}
	head, err := g.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{From: g.from, To: &g.contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	// maxFee = 2*baseFee + tip leaves room for base fee growth over a few blocks.
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       uint64(float64(gas) * g.gasMult),
		To:        &g.contract,
		Data:      data,
	})
	signed, err := types.SignTx(tx, g.signer, g.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

func (g *Gateway) onRetry(method string) retry.OnRetryFunc {
	return func(attempt int, err error, backoff time.Duration) {
		g.logger.Warn("contract call failed, retrying", "method", method, "attempt", attempt, "backoff", backoff, "error", err)
	}
}

// isTransient reports whether err is worth retrying. Reverts fail the same way every time.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{"execution reverted", "insufficient funds", "invalid sender", "intrinsic gas too low"} {
		if strings.Contains(msg, permanent) {
			return false
		}
	}
	return true
}

func unixTime(v *big.Int) time.Time {
	if v == nil || !v.IsInt64() || v.Sign() <= 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
