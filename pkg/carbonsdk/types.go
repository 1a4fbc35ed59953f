package carbonsdk

import "time"

// Byte fields (envelopes, proofs, addresses, hashes) are 0x-prefixed hex strings.

// CreateOrderRequest is the body of POST /v1/orders.
type CreateOrderRequest struct {
	Trader        string `json:"trader"`
	Symbol        string `json:"symbol"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
	EncQuantity   string `json:"encQuantity"`
	EncPrice      string `json:"encPrice"`
	EncOrderType  string `json:"encOrderType"`
	Proof         string `json:"proof"`
}

// CreateOrderResponse reports where a new order ended up.
type CreateOrderResponse struct {
	OrderID uint64  `json:"orderId"`
	Status  string  `json:"status"`
	Trades  []Trade `json:"trades"`
}

// MatchOrdersRequest is the body of POST /v1/matches.
type MatchOrdersRequest struct {
	BuyOrderID  uint64 `json:"buyOrderId"`
	SellOrderID uint64 `json:"sellOrderId"`
	EncQuantity string `json:"encQuantity"`
	Proof       string `json:"proof"`
}

// CancelOrderRequest is the body of DELETE /v1/orders/{id}.
type CancelOrderRequest struct {
	Trader string `json:"trader"`
	Proof  string `json:"proof"`
}

// Order is a sealed order. Revealed is only set for its owner.
type Order struct {
	ID            uint64         `json:"id"`
	Symbol        string         `json:"symbol"`
	Trader        string         `json:"trader"`
	ClientOrderID string         `json:"clientOrderId,omitempty"`
	EncQuantity   string         `json:"encQuantity"`
	EncPrice      string         `json:"encPrice"`
	EncOrderType  string         `json:"encOrderType"`
	EncRemaining  string         `json:"encRemaining"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Revealed      *RevealedOrder `json:"revealed,omitempty"`
}

// RevealedOrder is the plaintext of an order.
type RevealedOrder struct {
	Side         string `json:"side"`
	Price        int64  `json:"price"`
	DisplayPrice string `json:"displayPrice"`
	Quantity     int64  `json:"quantity"`
	Remaining    int64  `json:"remaining"`
}

// Trade is a settled trade. Status is PENDING until mirrored on-chain, then MATCHED.
type Trade struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	BuyOrderID   uint64    `json:"buyOrderId"`
	SellOrderID  uint64    `json:"sellOrderId"`
	Buyer        string    `json:"buyer"`
	Seller       string    `json:"seller"`
	Quantity     int64     `json:"quantity"`
	Price        int64     `json:"price"`
	DisplayPrice string    `json:"displayPrice,omitempty"`
	Aggressor    string    `json:"aggressor"`
	Status       string    `json:"status,omitempty"`
	TxHash       string    `json:"txHash,omitempty"`
	ExecutedAt   time.Time `json:"executedAt"`
}

// Position is a trader's position marked to the last trade price.
type Position struct {
	Trader        string    `json:"trader"`
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	AvgPrice      string    `json:"avgPrice"`
	MarkPrice     int64     `json:"markPrice"`
	DisplayMark   string    `json:"displayMark"`
	RealizedPnL   string    `json:"realizedPnl"`
	UnrealizedPnL string    `json:"unrealizedPnl"`
	DisplayPnL    string    `json:"displayPnl"`
	PnLPercent    string    `json:"pnlPercent"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Market is a market summary. BestBid, BestAsk and Spread are only set for public books.
type Market struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Currency      string    `json:"currency"`
	Encrypted     bool      `json:"encrypted"`
	TickSize      int64     `json:"tickSize"`
	LotSize       int64     `json:"lotSize"`
	CurrentPrice  int64     `json:"currentPrice"`
	DisplayPrice  string    `json:"displayPrice"`
	Change        string    `json:"change"`
	Volume24h     int64     `json:"volume24h"`
	DisplayVolume string    `json:"displayVolume"`
	OpenInterest  int64     `json:"openInterest"`
	OpenOrders    int       `json:"openOrders"`
	BestBid       *int64    `json:"bestBid,omitempty"`
	BestAsk       *int64    `json:"bestAsk,omitempty"`
	Spread        string    `json:"spread,omitempty"`
	LastUpdate    time.Time `json:"lastUpdate"`
}

// BookLevel is one aggregated price level.
type BookLevel struct {
	Price        int64  `json:"price"`
	DisplayPrice string `json:"displayPrice"`
	Quantity     int64  `json:"quantity"`
	Orders       int    `json:"orders"`
}

// OrderBook is a book snapshot. Encrypted books carry order counts only.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Encrypted bool        `json:"encrypted"`
	Bids      []BookLevel `json:"bids,omitempty"`
	Asks      []BookLevel `json:"asks,omitempty"`
	BidOrders int         `json:"bidOrders"`
	AskOrders int         `json:"askOrders"`
	Spread    string      `json:"spread,omitempty"`
}

// StreamMessage is one websocket frame from /v1/stream.
type StreamMessage struct {
	Type    string `json:"type"`
	Symbol  string `json:"symbol"`
	Trade   *Trade `json:"trade,omitempty"`
	OrderID uint64 `json:"orderId,omitempty"`
	Status  string `json:"status,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ExchangeInfo is returned by GET /v1/info. SealingKey is the X25519 key order
// fields must be sealed to; Operator is the address that signs explicit matches.
type ExchangeInfo struct {
	SealingKey string   `json:"sealingKey"`
	Operator   string   `json:"operator,omitempty"`
	Markets    []string `json:"markets"`
}
