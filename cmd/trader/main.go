// Package main is a command-line client for the exchange.
//
//	trader markets
//	trader book -symbol ASIA-CTO-24Q4
//	trader submit -symbol EU-CER-24Q4 -side buy -price 85.46 -qty 10
//	trader submit -onchain ...        (also calls createOrder on the contract)
//	trader cancel -id 42
//	trader order -id 42               (reveals the plaintext to its owner)
//	trader position -symbol EU-CER-24Q4
//	trader match -symbol GLOBAL-VER -buy 2 -sell 1 -qty 4   (operator key)
//
// The signing key comes from TRADER_PRIVATE_KEY; the exchange from EXCHANGE_URL.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/archon-research/carbon-dex/internal/adapters/outbound/ethereum"
	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/env"
	"github.com/archon-research/carbon-dex/internal/pkg/hexutil"
	"github.com/archon-research/carbon-dex/pkg/carbonsdk"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load(".env")

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

const usage = "usage: trader <markets|market|book|trades|submit|cancel|order|position|match> [flags]"

type app struct {
	client  *carbonsdk.Client
	catalog *entity.Catalog
	out     io.Writer
	signer  *carbonsdk.Signer
}

func (a *app) requireSigner() (*carbonsdk.Signer, error) {
	if a.signer == nil {
		return nil, errors.New("TRADER_PRIVATE_KEY environment variable is required")
	}
	return a.signer, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	logger := env.NewLogger("carbon-trader", slog.LevelWarn)
	client, err := carbonsdk.NewClient(carbonsdk.Config{
		BaseURL: env.Get("EXCHANGE_URL", "http://localhost:8080"),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	a := &app{client: client, catalog: entity.DefaultCatalog(), out: out}
	if key := env.Get("TRADER_PRIVATE_KEY", ""); key != "" {
		if a.signer, err = carbonsdk.NewSignerFromHex(key); err != nil {
			return fmt.Errorf("TRADER_PRIVATE_KEY: %w", err)
		}
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "markets":
		markets, err := a.client.ListMarkets(ctx)
		if err != nil {
			return err
		}
		return a.print(markets)
	case "market":
		return a.withSymbol(rest, func(symbol string) error {
			m, err := a.client.GetMarket(ctx, symbol)
			if err != nil {
				return err
			}
			return a.print(m)
		})
	case "book":
		return a.withSymbol(rest, func(symbol string) error {
			b, err := a.client.GetOrderBook(ctx, symbol)
			if err != nil {
				return err
			}
			return a.print(b)
		})
	case "trades":
		return a.trades(ctx, rest)
	case "submit":
		return a.submit(ctx, rest)
	case "cancel":
		return a.cancel(ctx, rest)
	case "order":
		return a.order(ctx, rest)
	case "position":
		return a.position(ctx, rest)
	case "match":
		return a.match(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) withSymbol(args []string, fn func(symbol string) error) error {
	fs := flag.NewFlagSet("symbol", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "Market symbol")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" {
		return errors.New("-symbol is required")
	}
	return fn(*symbol)
}

func (a *app) trades(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("trades", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "Market symbol")
	limit := fs.Int("limit", 20, "Number of trades")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" {
		return errors.New("-symbol is required")
	}
	trades, err := a.client.RecentTrades(ctx, *symbol, *limit)
	if err != nil {
		return err
	}
	return a.print(trades)
}

// parsePrice converts a display price such as "85.46" or "12450" to ticks.
func parsePrice(c *entity.Contract, s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	ticks := d.Shift(c.Currency.Decimals())
	if !ticks.Equal(ticks.Truncate(0)) {
		return 0, fmt.Errorf("price %s has more than %d decimals for %s", s, c.Currency.Decimals(), c.Currency)
	}
	if !ticks.IsPositive() {
		return 0, fmt.Errorf("price must be positive")
	}
	return ticks.IntPart(), nil
}

func (a *app) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "Market symbol")
	side := fs.String("side", "", "buy or sell")
	price := fs.String("price", "", "Limit price in currency units, e.g. 85.46")
	qty := fs.Int64("qty", 0, "Quantity in contracts")
	clientID := fs.String("client-id", "", "Client order id signed into the order; generated when empty")
	onchain := fs.Bool("onchain", false, "Also submit the sealed order to the trading contract")
	if err := fs.Parse(args); err != nil {
		return err
	}
	signer, err := a.requireSigner()
	if err != nil {
		return err
	}

	c, ok := a.catalog.Get(*symbol)
	if !ok {
		return fmt.Errorf("%w: %q", entity.ErrUnknownContract, *symbol)
	}
	s, err := entity.ParseSide(*side)
	if err != nil {
		return err
	}
	ticks, err := parsePrice(c, *price)
	if err != nil {
		return err
	}
	if *qty <= 0 {
		return errors.New("-qty must be positive")
	}

	key, err := a.client.SealingKey(ctx)
	if err != nil {
		return err
	}
	req, err := signer.SealOrder(key, carbonsdk.OrderParams{
		Symbol:        c.Symbol,
		Side:          int64(s),
		Price:         ticks,
		Quantity:      *qty,
		ClientOrderID: *clientID,
	})
	if err != nil {
		return err
	}

	resp, err := a.client.CreateOrder(ctx, req)
	if err != nil {
		return err
	}
	if err := a.print(resp); err != nil {
		return err
	}

	if *onchain {
		hash, err := submitOnchain(ctx, signer, req)
		if err != nil {
			return fmt.Errorf("on-chain createOrder: %w", err)
		}
		return a.print(map[string]string{"txHash": hash.Hex()})
	}
	return nil
}

// submitOnchain sends the same sealed order to the trading contract's createOrder.
func submitOnchain(ctx context.Context, signer *carbonsdk.Signer, req carbonsdk.CreateOrderRequest) (common.Hash, error) {
	rpcURL := env.Get("ETH_RPC_URL", "")
	if rpcURL == "" {
		return common.Hash{}, errors.New("ETH_RPC_URL environment variable is required")
	}
	contract := env.Get("CONTRACT_ADDRESS", "")
	if !common.IsHexAddress(contract) {
		return common.Hash{}, fmt.Errorf("CONTRACT_ADDRESS must be a hex address, got %q", contract)
	}
	chainID, ok := new(big.Int).SetString(env.Get("CHAIN_ID", ""), 10)
	if !ok {
		return common.Hash{}, errors.New("CHAIN_ID must be an integer")
	}

	fields := make([][]byte, 0, 4)
	for _, h := range []string{req.EncQuantity, req.EncPrice, req.EncOrderType, req.Proof} {
		b, err := hexutil.DecodeBytes(h)
		if err != nil {
			return common.Hash{}, err
		}
		fields = append(fields, b)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return common.Hash{}, fmt.Errorf("connecting to Ethereum node: %w", err)
	}
	defer client.Close()

	gateway, err := ethereum.NewGateway(client, ethereum.Config{
		Contract:    common.HexToAddress(contract),
		ChainID:     chainID,
		OperatorKey: signer.PrivateKey(),
	})
	if err != nil {
		return common.Hash{}, err
	}
	return gateway.CreateOrder(ctx, req.Symbol, fields[0], fields[1], fields[2], fields[3])
}

func parseID(fs *flag.FlagSet, args []string) (uint64, error) {
	id := fs.String("id", "", "Order id")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if *id == "" {
		return 0, errors.New("-id is required")
	}
	return hexutil.ParseUint64(*id)
}

func (a *app) cancel(ctx context.Context, args []string) error {
	id, err := parseID(flag.NewFlagSet("cancel", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	signer, err := a.requireSigner()
	if err != nil {
		return err
	}
	req, err := signer.Cancel(id)
	if err != nil {
		return err
	}
	if err := a.client.CancelOrder(ctx, id, req); err != nil {
		return err
	}
	return a.print(map[string]any{"orderId": id, "status": string(entity.OrderStatusCancelled)})
}

func (a *app) order(ctx context.Context, args []string) error {
	id, err := parseID(flag.NewFlagSet("order", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	var proof []byte
	if a.signer != nil {
		if proof, err = a.signer.ViewOrderProof(id); err != nil {
			return err
		}
	}
	o, err := a.client.GetOrder(ctx, id, proof)
	if err != nil {
		return err
	}
	return a.print(o)
}

func (a *app) position(ctx context.Context, args []string) error {
	signer, err := a.requireSigner()
	if err != nil {
		return err
	}
	return a.withSymbol(args, func(symbol string) error {
		proof, err := signer.ViewPositionProof(symbol)
		if err != nil {
			return err
		}
		p, err := a.client.GetPosition(ctx, signer.Address(), symbol, proof)
		if err != nil {
			return err
		}
		return a.print(p)
	})
}

func (a *app) match(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "Market symbol")
	buyID := fs.Uint64("buy", 0, "Buy order id")
	sellID := fs.Uint64("sell", 0, "Sell order id")
	qty := fs.Int64("qty", 0, "Quantity to match")
	if err := fs.Parse(args); err != nil {
		return err
	}
	signer, err := a.requireSigner()
	if err != nil {
		return err
	}
	if *symbol == "" || *buyID == 0 || *sellID == 0 || *qty <= 0 {
		return errors.New("-symbol, -buy, -sell and -qty are required")
	}
	key, err := a.client.SealingKey(ctx)
	if err != nil {
		return err
	}
	req, err := signer.Match(key, *symbol, *buyID, *sellID, *qty)
	if err != nil {
		return err
	}
	trade, err := a.client.MatchOrders(ctx, req)
	if err != nil {
		return err
	}
	return a.print(trade)
}
