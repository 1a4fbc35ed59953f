package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func mustOrder(t *testing.T, r *OrderRepository, trader common.Address, clientID string) *entity.Order {
	t.Helper()
	id, _ := r.NextOrderID(context.Background())
	o, err := entity.NewOrder(id, "EU-CER-24Q4", trader, []byte{1}, []byte{2}, []byte{3}, []byte{4}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	o.ClientOrderID = clientID
	return o
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	r := NewOrderRepository()

	a := mustOrder(t, r, alice, "x")
	if err := r.SaveOrder(ctx, nil, a); err != nil {
		t.Fatal(err)
	}
	if err := r.SaveOrder(ctx, nil, mustOrder(t, r, alice, "x")); !errors.Is(err, entity.ErrDuplicateOrder) {
		t.Errorf("duplicate client id error = %v", err)
	}
	if err := r.SaveOrder(ctx, nil, mustOrder(t, r, bob, "x")); err != nil {
		t.Errorf("same client id for another trader error = %v", err)
	}

	a.EncQuantity[0] = 99
	got, _ := r.GetOrder(ctx, a.ID)
	if got.EncQuantity[0] != 1 {
		t.Error("stored order aliases caller's slice")
	}

	err := r.UpdateOrders(ctx, nil, []entity.OrderUpdate{{ID: a.ID, Status: entity.OrderStatusMatched, EncRemaining: []byte{0}}})
	if err != nil {
		t.Fatal(err)
	}
	open, _ := r.ListOpenOrders(ctx, "EU-CER-24Q4")
	if len(open) != 1 || open[0].Trader != bob {
		t.Errorf("ListOpenOrders() = %+v", open)
	}
	if err := r.UpdateOrders(ctx, nil, []entity.OrderUpdate{{ID: 777}}); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("UpdateOrders(missing) error = %v", err)
	}
}

func TestTradeRepository(t *testing.T) {
	ctx := context.Background()
	r := NewTradeRepository()
	base := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

	var trades []*entity.Trade
	for i := 0; i < 3; i++ {
		tr, err := entity.NewTrade("EU-CER-24Q4", entity.Fill{BuyOrderID: 1, SellOrderID: 2, Quantity: int64(i + 1), Price: 100}, base.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		trades = append(trades, tr)
	}
	if err := r.SaveTrades(ctx, nil, trades); err != nil {
		t.Fatal(err)
	}

	recent, _ := r.RecentTrades(ctx, "EU-CER-24Q4", 2)
	if len(recent) != 2 || recent[0].Quantity != 3 || recent[1].Quantity != 2 {
		t.Errorf("RecentTrades() = %+v", recent)
	}
	vol, _ := r.VolumeSince(ctx, nil, "EU-CER-24Q4", base.Add(time.Hour))
	if vol != 5 {
		t.Errorf("VolumeSince() = %d, want 5", vol)
	}

	h := common.HexToHash("0x01")
	if err := r.MarkMirrored(ctx, trades[0].ID, h); err != nil {
		t.Fatal(err)
	}
	got, _ := r.GetTrade(ctx, trades[0].ID)
	if got.Status != entity.TradeStatusMatched || *got.TxHash != h {
		t.Errorf("GetTrade() = %+v", got)
	}
}

func TestTradeRepository_MatchDigestAndSequence(t *testing.T) {
	ctx := context.Background()
	r := NewTradeRepository()
	at := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	digest := common.HexToHash("0x5eed")

	newTrade := func(qty int64, d common.Hash) *entity.Trade {
		tr, err := entity.NewTrade("EU-CER-24Q4", entity.Fill{BuyOrderID: 1, SellOrderID: 2, Quantity: qty, Price: 100}, at)
		if err != nil {
			t.Fatal(err)
		}
		tr.MatchDigest = d
		return tr
	}

	if err := r.SaveTrades(ctx, nil, []*entity.Trade{newTrade(1, digest), newTrade(2, common.Hash{}), newTrade(3, common.Hash{})}); err != nil {
		t.Fatal(err)
	}
	if err := r.SaveTrades(ctx, nil, []*entity.Trade{newTrade(4, common.Hash{}), newTrade(5, digest)}); !errors.Is(err, entity.ErrDuplicateOrder) {
		t.Fatalf("replayed digest error = %v, want ErrDuplicateOrder", err)
	}
	twice := common.HexToHash("0x7717")
	if err := r.SaveTrades(ctx, nil, []*entity.Trade{newTrade(6, twice), newTrade(7, twice)}); !errors.Is(err, entity.ErrDuplicateOrder) {
		t.Fatalf("digest repeated in one batch error = %v, want ErrDuplicateOrder", err)
	}

	recent, _ := r.RecentTrades(ctx, "EU-CER-24Q4", 10)
	var got []int64
	for _, tr := range recent {
		got = append(got, tr.Quantity)
	}
	if len(got) != 3 || got[0] != 3 || got[1] != 2 || got[2] != 1 {
		t.Errorf("RecentTrades() quantities = %v, want [3 2 1] with rejected batches absent", got)
	}
	if recent[0].Seq <= recent[1].Seq {
		t.Errorf("Seq = %d, %d, want newest highest", recent[0].Seq, recent[1].Seq)
	}
}

func TestPositionRepository_OpenInterest(t *testing.T) {
	ctx := context.Background()
	r := NewPositionRepository()
	for _, p := range []*entity.Position{
		{Trader: alice, Symbol: "A", Quantity: 10},
		{Trader: bob, Symbol: "A", Quantity: -10},
		{Trader: bob, Symbol: "B", Quantity: 4},
	} {
		if err := r.SavePosition(ctx, nil, p); err != nil {
			t.Fatal(err)
		}
	}
	if oi, _ := r.OpenInterest(ctx, nil, "A"); oi != 10 {
		t.Errorf("OpenInterest(A) = %d, want 10", oi)
	}
	list, _ := r.ListPositions(ctx, bob)
	if len(list) != 2 || list[0].Symbol != "A" || list[1].Symbol != "B" {
		t.Errorf("ListPositions() = %+v", list)
	}
}

func TestIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	s := NewIdempotencyStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	if ok, _ := s.Reserve(ctx, "k", time.Minute); !ok {
		t.Fatal("first Reserve() = false")
	}
	if ok, _ := s.Reserve(ctx, "k", time.Minute); ok {
		t.Error("second Reserve() = true")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := s.Reserve(ctx, "k", time.Minute); !ok {
		t.Error("Reserve() after expiry = false")
	}
	_ = s.Release(ctx, "k")
	if ok, _ := s.Reserve(ctx, "k", time.Minute); !ok {
		t.Error("Reserve() after Release = false")
	}
}

func TestTxManager_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewTxManager().WithTransaction(ctx, func(pgx.Tx) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("WithTransaction() = %v, called = %v", err, called)
	}
}

func TestEventSink(t *testing.T) {
	ctx := context.Background()
	s := NewEventSink()
	var seen int
	s.OnPublish(func(outbound.Event) { seen++ })

	_ = s.Publish(ctx, outbound.TradeSettledEvent{Symbol: "A"})
	_ = s.Publish(ctx, outbound.OrderAcceptedEvent{Symbol: "B"})
	if len(s.GetTradeEvents()) != 1 || len(s.GetEventsForSymbol("B")) != 1 || seen != 2 {
		t.Errorf("events = %+v, seen = %d", s.GetEvents(), seen)
	}
	_ = s.Close()
	_ = s.Publish(ctx, outbound.TradeSettledEvent{Symbol: "A"})
	if len(s.GetEvents()) != 2 {
		t.Error("event stored after Close")
	}
}

func TestContractGateway_FailMatches(t *testing.T) {
	ctx := context.Background()
	g := NewContractGateway()
	g.FailMatches = 1
	if _, err := g.MatchOrders(ctx, 1, 2, nil, nil); !errors.Is(err, entity.ErrUpstream) {
		t.Fatalf("first MatchOrders() error = %v", err)
	}
	h1, err := g.MatchOrders(ctx, 1, 2, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := g.MatchOrders(ctx, 3, 4, nil, nil)
	if h1 == h2 || len(g.Matches()) != 2 {
		t.Errorf("hashes %s %s, matches %d", h1, h2, len(g.Matches()))
	}
}
