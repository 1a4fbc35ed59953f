package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/archon-research/carbon-dex/internal/adapters/outbound/memory"
	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/sealing"
	"github.com/archon-research/carbon-dex/internal/pkg/testutil"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

type mockWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockWriter() *mockWriter {
	return &mockWriter{objects: make(map[string][]byte)}
}

func (w *mockWriter) WriteFileIfNotExists(_ context.Context, bucket, key string, content io.Reader, _ bool) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.objects[bucket+"/"+key]; ok {
		return false, nil
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return false, err
	}
	w.objects[bucket+"/"+key] = data
	return true, nil
}

func (w *mockWriter) FileExists(_ context.Context, bucket, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.objects[bucket+"/"+key]
	return ok, nil
}

func (w *mockWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.objects)
}

type mockConsumer struct {
	mu       sync.Mutex
	pending  []outbound.SQSMessage
	deleted  []string
	recvErrs int
}

func (c *mockConsumer) ReceiveMessages(ctx context.Context, maxMessages int) ([]outbound.SQSMessage, error) {
	c.mu.Lock()
	if c.recvErrs > 0 {
		c.recvErrs--
		c.mu.Unlock()
		return nil, errors.New("sqs unavailable")
	}
	n := min(maxMessages, len(c.pending))
	out := c.pending[:n]
	c.pending = c.pending[n:]
	c.mu.Unlock()
	if n == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
	}
	return out, nil
}

func (c *mockConsumer) DeleteMessage(_ context.Context, receiptHandle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, receiptHandle)
	return nil
}

func (c *mockConsumer) Close() error { return nil }

func (c *mockConsumer) deletedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deleted)
}

type workerDeps struct {
	trades   *memory.TradeRepository
	gateway  *memory.ContractGateway
	writer   *mockWriter
	consumer *mockConsumer
}

func newTestWorker(t *testing.T, cfg WorkerConfig) (*Worker, workerDeps) {
	t.Helper()
	d := workerDeps{
		trades:   memory.NewTradeRepository(),
		gateway:  memory.NewContractGateway(),
		writer:   newMockWriter(),
		consumer: &mockConsumer{},
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "carbon-trades"
	}
	w, err := NewWorker(cfg, d.consumer, d.trades, d.gateway, d.writer)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	return w, d
}

func storedTrade(t *testing.T, repo *memory.TradeRepository) *entity.Trade {
	t.Helper()
	tr := newTrade(t, 2, 1, 10, 8546, time.Date(2024, 11, 1, 10, 0, 0, 0, time.UTC))
	tr.EncQuantity = []byte("sealed-qty")
	if err := repo.SaveTrades(context.Background(), nil, []*entity.Trade{tr}); err != nil {
		t.Fatal(err)
	}
	return tr
}

func messageFor(t *testing.T, tr *entity.Trade, viaSNS bool) outbound.SQSMessage {
	t.Helper()
	body, err := json.Marshal(TradeEvent(tr))
	if err != nil {
		t.Fatal(err)
	}
	if viaSNS {
		body, err = json.Marshal(map[string]string{"Type": "Notification", "Message": string(body)})
		if err != nil {
			t.Fatal(err)
		}
	}
	return outbound.SQSMessage{MessageID: tr.ID.String(), ReceiptHandle: "rh-" + tr.ID.String(), Body: string(body), ReceiveCount: 1}
}

func TestNewWorker_Validation(t *testing.T) {
	trades := memory.NewTradeRepository()
	gw := memory.NewContractGateway()
	writer := newMockWriter()
	consumer := &mockConsumer{}

	if _, err := NewWorker(WorkerConfig{Bucket: "b"}, nil, trades, gw, writer); err == nil {
		t.Error("expected error for nil consumer")
	}
	if _, err := NewWorker(WorkerConfig{Bucket: "b"}, consumer, nil, gw, writer); err == nil {
		t.Error("expected error for nil trades")
	}
	if _, err := NewWorker(WorkerConfig{Bucket: "b"}, consumer, trades, nil, writer); err == nil {
		t.Error("expected error for nil gateway")
	}
	if _, err := NewWorker(WorkerConfig{Bucket: "b"}, consumer, trades, gw, nil); err == nil {
		t.Error("expected error for nil writer")
	}
	if _, err := NewWorker(WorkerConfig{}, consumer, trades, gw, writer); err == nil {
		t.Error("expected error for missing bucket")
	}

	w, err := NewWorker(WorkerConfig{Bucket: "b", BatchSize: 50}, consumer, trades, gw, writer)
	if err != nil {
		t.Fatal(err)
	}
	if w.config.BatchSize != 10 || w.config.Workers != 2 {
		t.Errorf("defaults not applied: %+v", w.config)
	}
}

func TestParseTradeEvent(t *testing.T) {
	id := uuid.New()
	raw := `{"tradeId":"` + id.String() + `","symbol":"GLOBAL-VER"}`
	wrapped, _ := json.Marshal(map[string]string{"Message": raw})

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "raw", body: raw},
		{name: "sns envelope", body: string(wrapped)},
		{name: "not json", body: "nope", wantErr: true},
		{name: "missing trade id", body: `{"symbol":"GLOBAL-VER"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := parseTradeEvent(tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTradeEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && ev.TradeID != id {
				t.Errorf("TradeID = %s, want %s", ev.TradeID, id)
			}
		})
	}
}

func TestWorker_MirrorsAndArchivesOnce(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	w, d := newTestWorker(t, WorkerConfig{OperatorKey: key})
	ctx := context.Background()
	tr := storedTrade(t, d.trades)
	msg := messageFor(t, tr, true)

	if err := w.processMessage(ctx, msg); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	matches := d.gateway.Matches()
	if len(matches) != 1 {
		t.Fatalf("gateway matches = %d, want 1", len(matches))
	}
	digest := sealing.MatchDigest(tr.BuyOrderID, tr.SellOrderID, tr.EncQuantity)
	if err := sealing.Verify(digest, matches[0].Proof, crypto.PubkeyToAddress(key.PublicKey)); err != nil {
		t.Errorf("engine match proof not signed by operator: %v", err)
	}

	got, _ := d.trades.GetTrade(ctx, tr.ID)
	if got.Status != entity.TradeStatusMatched || got.TxHash == nil || *got.TxHash != matches[0].TxHash {
		t.Errorf("trade after mirror = %+v", got)
	}

	wantKey := "carbon-trades/trades/EU-CER-24Q4/2024-11-01/" + tr.ID.String() + ".json"
	archived, ok := d.writer.objects[wantKey]
	if !ok {
		t.Fatalf("archive object %s missing; have %d objects", wantKey, d.writer.count())
	}
	if !strings.Contains(string(archived), matches[0].TxHash.Hex()) {
		t.Errorf("archive does not carry tx hash: %s", archived)
	}

	// Redelivery must not mirror twice.
	if err := w.processMessage(ctx, msg); err != nil {
		t.Fatalf("second processMessage() error = %v", err)
	}
	if n := len(d.gateway.Matches()); n != 1 {
		t.Errorf("gateway matches after redelivery = %d, want 1", n)
	}
}

func TestWorker_UsesOperatorProofFromTrade(t *testing.T) {
	w, d := newTestWorker(t, WorkerConfig{})
	tr := newTrade(t, 4, 3, 1, 100, time.Now())
	tr.Proof = []byte("operator-proof")
	if err := d.trades.SaveTrades(context.Background(), nil, []*entity.Trade{tr}); err != nil {
		t.Fatal(err)
	}

	if err := w.processMessage(context.Background(), messageFor(t, tr, false)); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if m := d.gateway.Matches(); len(m) != 1 || string(m[0].Proof) != "operator-proof" {
		t.Errorf("matches = %+v", m)
	}
}

func TestWorker_ProcessMessageErrors(t *testing.T) {
	t.Run("no proof and no operator key", func(t *testing.T) {
		w, d := newTestWorker(t, WorkerConfig{})
		tr := storedTrade(t, d.trades)
		if err := w.processMessage(context.Background(), messageFor(t, tr, false)); err == nil {
			t.Fatal("expected error")
		}
		if d.writer.count() != 0 {
			t.Error("unmirrored trade was archived")
		}
	})

	t.Run("gateway failure leaves trade pending", func(t *testing.T) {
		key, _ := crypto.GenerateKey()
		w, d := newTestWorker(t, WorkerConfig{OperatorKey: key})
		d.gateway.FailMatches = 1
		tr := storedTrade(t, d.trades)

		err := w.processMessage(context.Background(), messageFor(t, tr, false))
		if !errors.Is(err, entity.ErrUpstream) {
			t.Fatalf("processMessage() error = %v, want ErrUpstream", err)
		}
		got, _ := d.trades.GetTrade(context.Background(), tr.ID)
		if got.Status != entity.TradeStatusPending {
			t.Errorf("status = %s, want PENDING", got.Status)
		}
	})

	t.Run("unknown trade", func(t *testing.T) {
		w, _ := newTestWorker(t, WorkerConfig{})
		tr := newTrade(t, 1, 2, 1, 1, time.Now())
		err := w.processMessage(context.Background(), messageFor(t, tr, false))
		if !errors.Is(err, entity.ErrNotFound) {
			t.Errorf("processMessage() error = %v, want ErrNotFound", err)
		}
	})
}

func TestWorker_RunDeletesOnlyProcessedMessages(t *testing.T) {
	key, _ := crypto.GenerateKey()
	w, d := newTestWorker(t, WorkerConfig{OperatorKey: key, ErrorBackoff: time.Millisecond})
	good := storedTrade(t, d.trades)
	d.consumer.recvErrs = 1
	d.consumer.pending = []outbound.SQSMessage{
		messageFor(t, good, true),
		{MessageID: "bad", ReceiptHandle: "rh-bad", Body: "garbage"},
	}

	if w.IsReady() {
		t.Error("worker ready before first poll")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	testutil.Eventually(t, 2*time.Second, func() bool {
		return d.consumer.deletedCount() == 1 && d.writer.count() == 1
	}, "good message processed and deleted")

	if !w.IsReady() || !w.IsHealthy() {
		t.Error("worker should be ready and healthy after polling")
	}

	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	d.consumer.mu.Lock()
	defer d.consumer.mu.Unlock()
	if len(d.consumer.deleted) != 1 || d.consumer.deleted[0] != "rh-"+good.ID.String() {
		t.Errorf("deleted = %v", d.consumer.deleted)
	}
}
