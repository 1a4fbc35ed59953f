package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/archon-research/carbon-dex/internal/pkg/testutil"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
	"github.com/archon-research/carbon-dex/pkg/carbonsdk"
)

func newTestHub(t *testing.T, config StreamHubConfig) *StreamHub {
	t.Helper()
	hub, err := NewStreamHub(config)
	if err != nil {
		t.Fatalf("NewStreamHub() error = %v", err)
	}
	t.Cleanup(func() { _ = hub.Close() })
	return hub
}

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func tradeEvent(symbol string) outbound.TradeSettledEvent {
	return outbound.TradeSettledEvent{
		TradeID:     uuid.New(),
		Symbol:      symbol,
		BuyOrderID:  2,
		SellOrderID: 1,
		Buyer:       bob.Hex(),
		Seller:      alice.Hex(),
		Quantity:    10,
		Price:       8546,
		Aggressor:   "BUY",
		EncQuantity: []byte{0xde, 0xad},
		Proof:       []byte{0x01},
		ExecutedAt:  time.Now().UTC(),
	}
}

func TestNewStreamHub_Validation(t *testing.T) {
	_, err := NewStreamHub(StreamHubConfig{PingInterval: time.Minute, PongWait: 30 * time.Second})
	if err == nil {
		t.Error("expected error when pong wait does not exceed ping interval")
	}
}

func TestStreamHub_FiltersBySymbol(t *testing.T) {
	hub := newTestHub(t, StreamHubConfig{})
	srv := httptest.NewServer(newTestMuxWith(HandlerConfig{Service: &mockExchangeService{}, Stream: hub}))
	defer srv.Close()

	conn := dialStream(t, srv, "?symbols=EU-CER-24Q4")
	testutil.Eventually(t, time.Second, func() bool { return hub.Clients() == 1 }, "client registered")

	ctx := context.Background()
	if err := hub.Publish(ctx, tradeEvent("GLOBAL-VER")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	want := tradeEvent("EU-CER-24Q4")
	if err := hub.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg carbonsdk.StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Symbol != "EU-CER-24Q4" || msg.Type != "trade_settled" || msg.Trade == nil {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Trade.ID != want.TradeID.String() || msg.Trade.Price != 8546 {
		t.Errorf("trade = %+v", msg.Trade)
	}
}

func TestStreamHub_OmitsSealedFields(t *testing.T) {
	hub := newTestHub(t, StreamHubConfig{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r)
	}))
	defer srv.Close()

	conn := dialStream(t, srv, "")
	testutil.Eventually(t, time.Second, func() bool { return hub.Clients() == 1 }, "client registered")

	if err := hub.Publish(context.Background(), outbound.OrderAcceptedEvent{OrderID: 5, Symbol: "US-CCO-25Q1", Status: "ENCRYPTED"}); err != nil {
		t.Fatal(err)
	}
	if err := hub.Publish(context.Background(), tradeEvent("US-CCO-25Q1")); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(first), `"orderId":5`) {
		t.Errorf("first frame = %s", first)
	}
	_, second, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	for _, leaked := range []string{"encQuantity", "proof", "0xdead"} {
		if strings.Contains(string(second), leaked) {
			t.Errorf("trade frame leaked %q: %s", leaked, second)
		}
	}
}

func TestStreamHub_DropsSlowClient(t *testing.T) {
	hub := newTestHub(t, StreamHubConfig{BufferSize: 1})
	c := &streamClient{send: make(chan []byte, 1)}
	if !hub.register(c) {
		t.Fatal("register() = false")
	}

	ctx := context.Background()
	_ = hub.Publish(ctx, tradeEvent("EU-CER-24Q4"))
	if hub.Clients() != 1 {
		t.Fatalf("client dropped after first frame")
	}
	_ = hub.Publish(ctx, tradeEvent("EU-CER-24Q4"))
	if hub.Clients() != 0 {
		t.Fatalf("slow client still registered")
	}

	<-c.send
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed after drop")
	}
}

func TestStreamHub_CloseDisconnects(t *testing.T) {
	hub, err := NewStreamHub(StreamHubConfig{})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	testutil.Eventually(t, time.Second, func() bool { return hub.Clients() == 1 }, "client registered")

	if err := hub.Close(); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage() error = %v, want normal closure", err)
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after Close = %d, want 503", resp.StatusCode)
	}
}

func TestServer_StreamThroughMiddleware(t *testing.T) {
	hub := newTestHub(t, StreamHubConfig{})
	handler, err := NewHandler(HandlerConfig{Service: &mockExchangeService{}, Stream: hub})
	if err != nil {
		t.Fatal(err)
	}
	health := NewHealthServer(HealthServerConfig{}, &mockHealthChecker{ready: true, healthy: true}, nil)
	srv := httptest.NewServer(NewServer(ServerConfig{}, handler, health).Handler())
	defer srv.Close()

	dialStream(t, srv, "")
	testutil.Eventually(t, time.Second, func() bool { return hub.Clients() == 1 }, "client registered through middleware")

	resp, err := http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}
