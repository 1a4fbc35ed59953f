package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/inbound"
	"github.com/archon-research/carbon-dex/pkg/carbonsdk"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// mockExchangeService lets each test stub only the calls it makes.
type mockExchangeService struct {
	createOrder  func(context.Context, inbound.CreateOrderRequest) (*inbound.CreateOrderResult, error)
	matchOrders  func(context.Context, inbound.MatchOrdersRequest) (*entity.Trade, error)
	cancelOrder  func(context.Context, inbound.CancelOrderRequest) error
	orderInfo    func(context.Context, uint64, []byte) (*inbound.OrderInfo, error)
	positionInfo func(context.Context, common.Address, string, []byte) (*inbound.PositionInfo, error)
	marketData   func(context.Context, string) (*inbound.MarketSummary, error)
	orderBook    func(context.Context, string) (*entity.BookDepth, error)
	recentTrades func(context.Context, string, int) ([]*entity.Trade, error)
	listMarkets  func(context.Context) ([]*inbound.MarketSummary, error)
}

var errNotStubbed = errors.New("not stubbed")

func (m *mockExchangeService) CreateOrder(ctx context.Context, req inbound.CreateOrderRequest) (*inbound.CreateOrderResult, error) {
	if m.createOrder == nil {
		return nil, errNotStubbed
	}
	return m.createOrder(ctx, req)
}

func (m *mockExchangeService) MatchOrders(ctx context.Context, req inbound.MatchOrdersRequest) (*entity.Trade, error) {
	if m.matchOrders == nil {
		return nil, errNotStubbed
	}
	return m.matchOrders(ctx, req)
}

func (m *mockExchangeService) CancelOrder(ctx context.Context, req inbound.CancelOrderRequest) error {
	if m.cancelOrder == nil {
		return errNotStubbed
	}
	return m.cancelOrder(ctx, req)
}

func (m *mockExchangeService) GetOrderInfo(ctx context.Context, id uint64, proof []byte) (*inbound.OrderInfo, error) {
	if m.orderInfo == nil {
		return nil, errNotStubbed
	}
	return m.orderInfo(ctx, id, proof)
}

func (m *mockExchangeService) GetPositionInfo(ctx context.Context, trader common.Address, symbol string, proof []byte) (*inbound.PositionInfo, error) {
	if m.positionInfo == nil {
		return nil, errNotStubbed
	}
	return m.positionInfo(ctx, trader, symbol, proof)
}

func (m *mockExchangeService) GetMarketData(ctx context.Context, symbol string) (*inbound.MarketSummary, error) {
	if m.marketData == nil {
		return nil, errNotStubbed
	}
	return m.marketData(ctx, symbol)
}

func (m *mockExchangeService) GetOrderBook(ctx context.Context, symbol string) (*entity.BookDepth, error) {
	if m.orderBook == nil {
		return nil, errNotStubbed
	}
	return m.orderBook(ctx, symbol)
}

func (m *mockExchangeService) RecentTrades(ctx context.Context, symbol string, limit int) ([]*entity.Trade, error) {
	if m.recentTrades == nil {
		return nil, errNotStubbed
	}
	return m.recentTrades(ctx, symbol, limit)
}

func (m *mockExchangeService) ListMarkets(ctx context.Context) ([]*inbound.MarketSummary, error) {
	if m.listMarkets == nil {
		return nil, errNotStubbed
	}
	return m.listMarkets(ctx)
}

var _ inbound.ExchangeService = (*mockExchangeService)(nil)

func newTestMux(svc inbound.ExchangeService) *http.ServeMux {
	return newTestMuxWith(HandlerConfig{Service: svc})
}

func newTestMuxWith(config HandlerConfig) *http.ServeMux {
	h, err := NewHandler(config)
	if err != nil {
		panic(err)
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func euContract() *entity.Contract {
	c, _ := entity.DefaultCatalog().Get("EU-CER-24Q4")
	return c
}

func sampleTrade() *entity.Trade {
	return &entity.Trade{
		ID:          uuid.MustParse("6f1c1d44-8b8e-4a3c-9d0e-4a4b0a5f2c11"),
		Symbol:      "EU-CER-24Q4",
		BuyOrderID:  2,
		SellOrderID: 1,
		Buyer:       bob,
		Seller:      alice,
		Quantity:    10,
		Price:       8546,
		Aggressor:   entity.SideBuy,
		Status:      entity.TradeStatusPending,
		ExecutedAt:  time.Date(2024, 11, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHandler_CreateOrder(t *testing.T) {
	var got inbound.CreateOrderRequest
	svc := &mockExchangeService{
		createOrder: func(_ context.Context, req inbound.CreateOrderRequest) (*inbound.CreateOrderResult, error) {
			got = req
			return &inbound.CreateOrderResult{
				OrderID: 2,
				Status:  entity.OrderStatusPartial,
				Trades:  []*entity.Trade{sampleTrade()},
			}, nil
		},
	}

	w := do(t, newTestMux(svc), http.MethodPost, "/v1/orders", carbonsdk.CreateOrderRequest{
		Trader:        bob.Hex(),
		Symbol:        " EU-CER-24Q4 ",
		ClientOrderID: "c-1",
		EncQuantity:   "0x0102",
		EncPrice:      "0304",
		EncOrderType:  "0x05",
		Proof:         "0x0607",
	}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got.Trader != bob || got.Symbol != "EU-CER-24Q4" || got.ClientOrderID != "c-1" {
		t.Errorf("request = %+v", got)
	}
	if !bytes.Equal(got.EncQuantity, []byte{1, 2}) || !bytes.Equal(got.EncPrice, []byte{3, 4}) ||
		!bytes.Equal(got.EncSide, []byte{5}) || !bytes.Equal(got.Proof, []byte{6, 7}) {
		t.Errorf("decoded byte fields = %x %x %x %x", got.EncQuantity, got.EncPrice, got.EncSide, got.Proof)
	}

	resp := decode[carbonsdk.CreateOrderResponse](t, w)
	if resp.OrderID != 2 || resp.Status != "PARTIAL" || len(resp.Trades) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	tr := resp.Trades[0]
	if tr.DisplayPrice != "€85.46" || tr.Aggressor != "BUY" || tr.Buyer != bob.Hex() {
		t.Errorf("trade = %+v", tr)
	}
}

func TestHandler_CreateOrderBadRequests(t *testing.T) {
	called := false
	svc := &mockExchangeService{
		createOrder: func(context.Context, inbound.CreateOrderRequest) (*inbound.CreateOrderResult, error) {
			called = true
			return nil, nil
		},
	}
	mux := newTestMux(svc)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed json", body: "{"},
		{name: "unknown field", body: `{"trader":"","symbol":"X","price":1}`},
		{name: "bad hex", body: `{"symbol":"EU-CER-24Q4","encQuantity":"0xzz"}`},
		{name: "bad address", body: `{"trader":"0x1234","symbol":"EU-CER-24Q4"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, mux, http.MethodPost, "/v1/orders", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if resp := decode[carbonsdk.ErrorResponse](t, w); resp.Code != "bad_request" {
				t.Errorf("code = %q", resp.Code)
			}
		})
	}
	if called {
		t.Error("service called for a malformed request")
	}
}

func TestHandler_ServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{entity.ErrWalletNotConnected, http.StatusBadRequest, "wallet_not_connected"},
		{fmt.Errorf("%w: zero amount", entity.ErrInvalidOrder), http.StatusBadRequest, "invalid_order"},
		{fmt.Errorf("%w: order 3 would trade against resting order 1", entity.ErrSelfTrade), http.StatusBadRequest, "self_trade"},
		{entity.ErrInvalidProof, http.StatusForbidden, "invalid_proof"},
		{entity.ErrForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: NOPE", entity.ErrUnknownContract), http.StatusNotFound, "unknown_contract"},
		{entity.ErrDuplicateOrder, http.StatusConflict, "duplicate_order"},
		{entity.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{entity.ErrUpstream, http.StatusBadGateway, "upstream"},
		{errors.New("pool exhausted"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			svc := &mockExchangeService{
				createOrder: func(context.Context, inbound.CreateOrderRequest) (*inbound.CreateOrderResult, error) {
					return nil, tt.err
				},
			}
			w := do(t, newTestMux(svc), http.MethodPost, "/v1/orders", carbonsdk.CreateOrderRequest{Symbol: "EU-CER-24Q4"}, nil)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			resp := decode[carbonsdk.ErrorResponse](t, w)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if tt.wantStatus == http.StatusInternalServerError && strings.Contains(resp.Error, "pool") {
				t.Errorf("internal error leaked: %q", resp.Error)
			}
		})
	}
}

func TestHandler_GetOrderWithViewProof(t *testing.T) {
	var gotProof []byte
	svc := &mockExchangeService{
		orderInfo: func(_ context.Context, id uint64, proof []byte) (*inbound.OrderInfo, error) {
			if id != 7 {
				return nil, entity.ErrNotFound
			}
			gotProof = proof
			return &inbound.OrderInfo{
				Order: &entity.Order{
					ID: 7, Symbol: "EU-CER-24Q4", Trader: alice,
					EncQuantity: []byte{0xaa}, EncPrice: []byte{0xbb}, EncSide: []byte{0xcc}, EncRemaining: []byte{0xdd},
					Status: entity.OrderStatusPartial,
				},
				Contract: euContract(),
				Revealed: &inbound.RevealedOrder{Side: entity.SideSell, Price: 8546, Quantity: 10, Remaining: 4},
			}, nil
		},
	}
	mux := newTestMux(svc)

	w := do(t, mux, http.MethodGet, "/v1/orders/7", nil, http.Header{ViewProofHeader: {"0xabcd"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(gotProof, []byte{0xab, 0xcd}) {
		t.Errorf("proof = %x", gotProof)
	}
	o := decode[carbonsdk.Order](t, w)
	if o.EncOrderType != "0xcc" || o.EncRemaining != "0xdd" || o.Status != "PARTIAL" {
		t.Errorf("order = %+v", o)
	}
	if o.Revealed == nil || o.Revealed.Side != "SELL" || o.Revealed.DisplayPrice != "€85.46" || o.Revealed.Remaining != 4 {
		t.Errorf("revealed = %+v", o.Revealed)
	}

	if w := do(t, mux, http.MethodGet, "/v1/orders/8", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing order status = %d, want 404", w.Code)
	}
	if w := do(t, mux, http.MethodGet, "/v1/orders/abc", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
}

func TestHandler_CancelOrder(t *testing.T) {
	var got inbound.CancelOrderRequest
	svc := &mockExchangeService{
		cancelOrder: func(_ context.Context, req inbound.CancelOrderRequest) error {
			got = req
			if req.OrderID == 9 {
				return fmt.Errorf("order 9: %w", entity.ErrOrderClosed)
			}
			return nil
		},
	}
	mux := newTestMux(svc)

	body := carbonsdk.CancelOrderRequest{Trader: alice.Hex(), Proof: "0x01"}
	if w := do(t, mux, http.MethodDelete, "/v1/orders/3", body, nil); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got.OrderID != 3 || got.Trader != alice || !bytes.Equal(got.Proof, []byte{1}) {
		t.Errorf("request = %+v", got)
	}

	if w := do(t, mux, http.MethodDelete, "/v1/orders/9", body, nil); w.Code != http.StatusConflict {
		t.Errorf("closed order status = %d, want 409", w.Code)
	}
}

func TestHandler_MatchOrders(t *testing.T) {
	svc := &mockExchangeService{
		matchOrders: func(_ context.Context, req inbound.MatchOrdersRequest) (*entity.Trade, error) {
			if req.BuyOrderID != 2 || req.SellOrderID != 1 || len(req.EncQuantity) != 2 {
				return nil, entity.ErrInvalidOrder
			}
			tr := sampleTrade()
			tr.Proof = req.Proof
			return tr, nil
		},
	}
	w := do(t, newTestMux(svc), http.MethodPost, "/v1/matches", carbonsdk.MatchOrdersRequest{
		BuyOrderID: 2, SellOrderID: 1, EncQuantity: "0xbeef", Proof: "0x01",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if tr := decode[carbonsdk.Trade](t, w); tr.Quantity != 10 || tr.Status != "PENDING" {
		t.Errorf("trade = %+v", tr)
	}
}

func TestHandler_GetPosition(t *testing.T) {
	svc := &mockExchangeService{
		positionInfo: func(_ context.Context, trader common.Address, symbol string, proof []byte) (*inbound.PositionInfo, error) {
			if len(proof) == 0 {
				return nil, entity.ErrForbidden
			}
			return &inbound.PositionInfo{
				Position: &entity.Position{
					Trader: trader, Symbol: symbol, Quantity: 15,
					AvgPrice: decimal.RequireFromString("8547.333333"), RealizedPnL: decimal.Zero,
				},
				Contract:      euContract(),
				MarkPrice:     8550,
				UnrealizedPnL: decimal.RequireFromString("40"),
				PnLPercent:    decimal.RequireFromString("0.03"),
			}, nil
		},
	}
	mux := newTestMux(svc)

	w := do(t, mux, http.MethodGet, "/v1/positions/"+bob.Hex()+"/EU-CER-24Q4", nil, http.Header{ViewProofHeader: {"0x01"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	p := decode[carbonsdk.Position](t, w)
	if p.Quantity != 15 || p.AvgPrice != "8547.3333" || p.DisplayMark != "€85.50" || p.DisplayPnL != "+€0.40" {
		t.Errorf("position = %+v", p)
	}

	if w := do(t, mux, http.MethodGet, "/v1/positions/"+bob.Hex()+"/EU-CER-24Q4", nil, nil); w.Code != http.StatusForbidden {
		t.Errorf("no proof status = %d, want 403", w.Code)
	}
	if w := do(t, mux, http.MethodGet, "/v1/positions/nope/EU-CER-24Q4", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad trader status = %d, want 400", w.Code)
	}
}

func TestHandler_Markets(t *testing.T) {
	cat := entity.DefaultCatalog()
	asia, _ := cat.Get("ASIA-CTO-24Q4")
	eu, _ := cat.Get("EU-CER-24Q4")
	summaries := []*inbound.MarketSummary{
		{
			Contract: eu,
			Data: &entity.MarketData{
				Symbol: eu.Symbol, CurrentPrice: 8550, PrevClose: 8356,
				Volume24h: 1_200_000, OpenInterest: 15,
			},
			OpenOrders: 3,
		},
		{
			Contract:   asia,
			Data:       &entity.MarketData{Symbol: asia.Symbol, CurrentPrice: 12450},
			Quote:      &entity.Quote{Bid: 12440, Ask: 12450},
			OpenOrders: 2,
		},
	}
	svc := &mockExchangeService{
		listMarkets: func(context.Context) ([]*inbound.MarketSummary, error) { return summaries, nil },
		marketData: func(_ context.Context, symbol string) (*inbound.MarketSummary, error) {
			for _, s := range summaries {
				if s.Contract.Symbol == symbol {
					return s, nil
				}
			}
			return nil, entity.ErrUnknownContract
		},
	}
	mux := newTestMux(svc)

	w := do(t, mux, http.MethodGet, "/v1/markets", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	markets := decode[[]carbonsdk.Market](t, w)
	if len(markets) != 2 {
		t.Fatalf("markets = %+v", markets)
	}
	if m := markets[0]; m.DisplayPrice != "€85.50" || m.Change != "+2.32%" || m.DisplayVolume != "1.2M" || m.BestBid != nil || m.Spread != "" {
		t.Errorf("encrypted market = %+v", m)
	}
	if m := markets[1]; m.BestBid == nil || *m.BestBid != 12440 || m.Spread != "¥10" || m.DisplayPrice != "¥12,450" {
		t.Errorf("public market = %+v", m)
	}

	if w := do(t, mux, http.MethodGet, "/v1/markets/NOPE", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown market status = %d, want 404", w.Code)
	}
}

func TestHandler_OrderBook(t *testing.T) {
	svc := &mockExchangeService{
		orderBook: func(_ context.Context, symbol string) (*entity.BookDepth, error) {
			if symbol == "ASIA-CTO-24Q4" {
				return &entity.BookDepth{
					Symbol:    symbol,
					Bids:      []entity.BookLevel{{Price: 12440, Quantity: 20, Orders: 2}},
					Asks:      []entity.BookLevel{{Price: 12450, Quantity: 5, Orders: 1}},
					BidOrders: 2, AskOrders: 1,
				}, nil
			}
			return &entity.BookDepth{Symbol: symbol, Encrypted: true, BidOrders: 4, AskOrders: 1}, nil
		},
	}
	mux := newTestMux(svc)

	public := decode[carbonsdk.OrderBook](t, do(t, mux, http.MethodGet, "/v1/markets/ASIA-CTO-24Q4/book", nil, nil))
	if len(public.Bids) != 1 || public.Bids[0].DisplayPrice != "¥12,440" || public.Spread != "¥10" {
		t.Errorf("public book = %+v", public)
	}

	w := do(t, mux, http.MethodGet, "/v1/markets/EU-CER-24Q4/book", nil, nil)
	if strings.Contains(w.Body.String(), `"bids"`) {
		t.Errorf("encrypted book exposed levels: %s", w.Body.String())
	}
	if hidden := decode[carbonsdk.OrderBook](t, w); !hidden.Encrypted || hidden.BidOrders != 4 {
		t.Errorf("encrypted book = %+v", hidden)
	}
}

func TestHandler_RecentTrades(t *testing.T) {
	var gotLimit int
	svc := &mockExchangeService{
		recentTrades: func(_ context.Context, _ string, limit int) ([]*entity.Trade, error) {
			gotLimit = limit
			return []*entity.Trade{sampleTrade()}, nil
		},
	}
	mux := newTestMux(svc)

	w := do(t, mux, http.MethodGet, "/v1/markets/EU-CER-24Q4/trades?limit=5", nil, nil)
	if w.Code != http.StatusOK || gotLimit != 5 {
		t.Fatalf("status = %d, limit = %d", w.Code, gotLimit)
	}
	if trades := decode[[]carbonsdk.Trade](t, w); len(trades) != 1 || trades[0].DisplayPrice != "€85.46" {
		t.Errorf("trades = %+v", trades)
	}

	for _, q := range []string{"abc", "-1"} {
		if w := do(t, mux, http.MethodGet, "/v1/markets/EU-CER-24Q4/trades?limit="+q, nil, nil); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", q, w.Code)
		}
	}
}

func TestHandler_Info(t *testing.T) {
	if _, err := NewHandler(HandlerConfig{}); err == nil {
		t.Error("NewHandler() without service should fail")
	}

	mux := newTestMuxWith(HandlerConfig{
		Service:    &mockExchangeService{},
		SealingKey: "ab12",
		Operator:   alice,
	})
	w := do(t, mux, http.MethodGet, "/v1/info", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	info := decode[carbonsdk.ExchangeInfo](t, w)
	if info.SealingKey != "ab12" || info.Operator != alice.Hex() || len(info.Markets) != 4 {
		t.Errorf("info = %+v", info)
	}
}
