// Package carbonsdk is the Go client for the exchange REST API.
//
// Orders are sealed client side: the SDK fetches the exchange's sealing key
// from /v1/info, seals quantity, price and side to it, and signs the order
// digest with the trader's key. Plaintext never leaves the process.
package carbonsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/carbon-dex/internal/pkg/hexutil"
	"github.com/archon-research/carbon-dex/internal/pkg/httpclient"
	"github.com/archon-research/carbon-dex/internal/pkg/sealing"
)

// ViewProofHeader carries view proofs on read endpoints.
const ViewProofHeader = "X-View-Proof"

// APIError is a non-2xx response from the exchange.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func parseError(status int, body []byte) error {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code == "" {
		return nil
	}
	return &APIError{StatusCode: status, Code: resp.Code, Message: resp.Error}
}

// Config holds configuration for the client.
type Config struct {
	// BaseURL is the exchange API root, e.g. "http://localhost:8080".
	BaseURL string
	HTTP    httpclient.Config
	Logger  *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		HTTP:    httpclient.DefaultConfig(),
		Logger:  slog.Default(),
	}
}

// Client talks to one exchange.
type Client struct {
	baseURL string
	http    *httpclient.Client

	mu   sync.Mutex
	info *ExchangeInfo
}

// NewClient creates a new client.
func NewClient(config Config) (*Client, error) {
	defaults := ConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.HTTP == (httpclient.Config{}) {
		config.HTTP = defaults.HTTP
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	u, err := url.Parse(config.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", config.BaseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    httpclient.NewClient(config.HTTP, config.Logger.With("component", "carbonsdk"), parseError),
	}, nil
}

func (c *Client) url(format string, args ...any) string {
	return c.baseURL + fmt.Sprintf(format, args...)
}

// Info returns the exchange's sealing key and operator. The result is cached.
func (c *Client) Info(ctx context.Context) (*ExchangeInfo, error) {
	c.mu.Lock()
	cached := c.info
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var info ExchangeInfo
	if err := c.http.Get(ctx, c.url("/v1/info"), &info); err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info: %w", err)
	}
	c.mu.Lock()
	c.info = &info
	c.mu.Unlock()
	return &info, nil
}

// SealingKey returns the exchange's X25519 public key.
func (c *Client) SealingKey(ctx context.Context) (sealing.PublicKey, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return sealing.PublicKey{}, err
	}
	return sealing.ParsePublicKey(info.SealingKey)
}

// CreateOrder submits a sealed order. Requests without a client order id are
// not retried, since a retry could place the order twice.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	var resp CreateOrderResponse
	err := c.http.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     c.url("/v1/orders"),
		Body:    req,
		NoRetry: req.ClientOrderID == "",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID uint64, req CancelOrderRequest) error {
	return c.http.Do(ctx, httpclient.Request{
		Method: http.MethodDelete,
		URL:    c.url("/v1/orders/%d", orderID),
		Body:   req,
	}, nil)
}

// MatchOrders submits an operator-signed match.
func (c *Client) MatchOrders(ctx context.Context, req MatchOrdersRequest) (*Trade, error) {
	var trade Trade
	err := c.http.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     c.url("/v1/matches"),
		Body:    req,
		NoRetry: true,
	}, &trade)
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// GetOrder returns an order. viewProof is optional; the owner's proof reveals the plaintext.
func (c *Client) GetOrder(ctx context.Context, orderID uint64, viewProof []byte) (*Order, error) {
	var o Order
	if err := c.http.Do(ctx, c.viewRequest(c.url("/v1/orders/%d", orderID), viewProof), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetPosition returns a trader's position. It requires the trader's view proof.
func (c *Client) GetPosition(ctx context.Context, trader common.Address, symbol string, viewProof []byte) (*Position, error) {
	var p Position
	u := c.url("/v1/positions/%s/%s", trader.Hex(), url.PathEscape(symbol))
	if err := c.http.Do(ctx, c.viewRequest(u, viewProof), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) viewRequest(u string, viewProof []byte) httpclient.Request {
	req := httpclient.Request{Method: http.MethodGet, URL: u}
	if len(viewProof) > 0 {
		req.Headers = map[string]string{ViewProofHeader: hexutil.EncodeBytes(viewProof)}
	}
	return req
}

// ListMarkets returns a summary of every listed market.
func (c *Client) ListMarkets(ctx context.Context) ([]Market, error) {
	var markets []Market
	if err := c.http.Get(ctx, c.url("/v1/markets"), &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// GetMarket returns one market summary.
func (c *Client) GetMarket(ctx context.Context, symbol string) (*Market, error) {
	var m Market
	if err := c.http.Get(ctx, c.url("/v1/markets/%s", url.PathEscape(symbol)), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetOrderBook returns the book snapshot. Encrypted markets return counts only.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	var b OrderBook
	if err := c.http.Get(ctx, c.url("/v1/markets/%s/book", url.PathEscape(symbol)), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// RecentTrades returns the latest trades, newest first. A zero limit uses the server default.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	u := c.url("/v1/markets/%s/trades", url.PathEscape(symbol))
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var trades []Trade
	if err := c.http.Get(ctx, u, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}
