package settlement

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/partition"
	"github.com/archon-research/carbon-dex/internal/pkg/sealing"
	"github.com/archon-research/carbon-dex/internal/ports/inbound"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that Worker implements inbound.HealthChecker
var _ inbound.HealthChecker = (*Worker)(nil)

// WorkerConfig holds configuration for the settlement worker.
type WorkerConfig struct {
	// Bucket is the S3 bucket trades are archived to.
	Bucket string

	// Workers is the number of concurrent message processors.
	Workers int

	// BatchSize is how many messages to fetch at once (max 10).
	BatchSize int

	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration

	// HealthWindow is how long the worker stays healthy without a successful poll.
	HealthWindow time.Duration

	// OperatorKey signs engine matches, which carry no operator proof. Optional
	// when every trade arrives with a proof.
	OperatorKey *ecdsa.PrivateKey

	// Metrics is the metrics recorder (optional).
	Metrics outbound.MetricsRecorder

	Logger *slog.Logger
}

// WorkerConfigDefaults returns sensible defaults for the worker.
func WorkerConfigDefaults() WorkerConfig {
	return WorkerConfig{
		Workers:      2,
		BatchSize:    10,
		ErrorBackoff: 5 * time.Second,
		HealthWindow: 2 * time.Minute,
		Logger:       slog.Default(),
	}
}

// Worker consumes trade_settled events, mirrors each trade on-chain and
// archives it to S3. A message is deleted only after both steps succeed;
// anything else is redelivered after the visibility timeout and ends up in the
// queue's dead-letter queue once its receive count runs out.
type Worker struct {
	config   WorkerConfig
	consumer outbound.SQSConsumer
	trades   outbound.TradeRepository
	gateway  outbound.ContractGateway
	writer   outbound.S3Writer
	metrics  outbound.MetricsRecorder
	logger   *slog.Logger

	lastPoll atomic.Int64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a settlement worker.
func NewWorker(
	config WorkerConfig,
	consumer outbound.SQSConsumer,
	trades outbound.TradeRepository,
	gateway outbound.ContractGateway,
	writer outbound.S3Writer,
) (*Worker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if trades == nil {
		return nil, fmt.Errorf("trade repository is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("contract gateway is required")
	}
	if writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	defaults := WorkerConfigDefaults()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.BatchSize <= 0 || config.BatchSize > 10 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if config.HealthWindow <= 0 {
		config.HealthWindow = defaults.HealthWindow
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Worker{
		config:   config,
		consumer: consumer,
		trades:   trades,
		gateway:  gateway,
		writer:   writer,
		metrics:  config.Metrics,
		logger:   config.Logger.With("component", "settlement-worker"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Run processes messages until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting settlement worker",
		"bucket", w.config.Bucket,
		"workers", w.config.Workers,
		"signsEngineMatches", w.config.OperatorKey != nil,
	)

	msgCh := make(chan outbound.SQSMessage, w.config.Workers*2)
	for i := 0; i < w.config.Workers; i++ {
		w.wg.Add(1)
		go w.worker(ctx, i, msgCh)
	}
	defer func() {
		close(msgCh)
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		default:
		}

		messages, err := w.consumer.ReceiveMessages(ctx, w.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("failed to receive messages", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.stopCh:
				return nil
			case <-time.After(w.config.ErrorBackoff):
			}
			continue
		}
		w.lastPoll.Store(time.Now().UnixNano())

		for _, msg := range messages {
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Stop signals Run to return after in-flight messages finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// IsReady reports whether the worker has completed a poll.
func (w *Worker) IsReady() bool {
	return w.lastPoll.Load() != 0
}

// IsHealthy reports whether a poll succeeded within the health window.
func (w *Worker) IsHealthy() bool {
	last := w.lastPoll.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < w.config.HealthWindow
}

func (w *Worker) worker(ctx context.Context, id int, msgCh <-chan outbound.SQSMessage) {
	defer w.wg.Done()
	logger := w.logger.With("worker", id)

	for msg := range msgCh {
		if err := w.processMessage(ctx, msg); err != nil {
			logger.Error("failed to process message",
				"messageID", msg.MessageID,
				"receiveCount", msg.ReceiveCount,
				"error", err,
			)
			continue
		}
		if err := w.consumer.DeleteMessage(ctx, msg.ReceiptHandle); err != nil {
			logger.Error("failed to delete message", "messageID", msg.MessageID, "error", err)
		}
	}
}

// parseTradeEvent decodes a message body, unwrapping the SNS envelope when present.
func parseTradeEvent(body string) (outbound.TradeSettledEvent, error) {
	var snsWrapper struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &snsWrapper); err == nil && snsWrapper.Message != "" {
		body = snsWrapper.Message
	}

	var event outbound.TradeSettledEvent
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return event, fmt.Errorf("failed to parse trade event: %w", err)
	}
	if event.TradeID == uuid.Nil {
		return event, fmt.Errorf("trade event has no trade id")
	}
	return event, nil
}

func (w *Worker) processMessage(ctx context.Context, msg outbound.SQSMessage) error {
	event, err := parseTradeEvent(msg.Body)
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "settlement.mirrorTrade",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("trade.id", event.TradeID.String()),
			attribute.String("market.symbol", event.Symbol),
		),
	)
	defer span.End()

	if err := w.settle(ctx, event.TradeID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mirror failed")
		return err
	}
	return nil
}

func (w *Worker) settle(ctx context.Context, tradeID uuid.UUID) error {
	trade, err := w.trades.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("failed to load trade %s: %w", tradeID, err)
	}
	if trade == nil {
		return fmt.Errorf("trade %s: %w", tradeID, entity.ErrNotFound)
	}

	if trade.Status != entity.TradeStatusMatched || trade.TxHash == nil {
		hash, err := w.mirror(ctx, trade)
		if err != nil {
			return err
		}
		if err := w.trades.MarkMirrored(ctx, trade.ID, hash); err != nil {
			return fmt.Errorf("failed to mark trade %s mirrored: %w", trade.ID, err)
		}
		trade.Status = entity.TradeStatusMatched
		trade.TxHash = &hash
	} else {
		w.logger.Debug("trade already mirrored", "tradeId", trade.ID, "txHash", trade.TxHash.Hex())
	}

	return w.archive(ctx, trade)
}

func (w *Worker) mirror(ctx context.Context, trade *entity.Trade) (hash common.Hash, err error) {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.RecordMirror(ctx, trade.Symbol, time.Since(start), err)
		}
	}()

	proof := trade.Proof
	if len(proof) == 0 {
		if w.config.OperatorKey == nil {
			return common.Hash{}, fmt.Errorf("trade %s has no proof and no operator key is configured", trade.ID)
		}
		proof, err = sealing.Sign(sealing.MatchDigest(trade.BuyOrderID, trade.SellOrderID, trade.EncQuantity), w.config.OperatorKey)
		if err != nil {
			return common.Hash{}, err
		}
	}

	hash, err = w.gateway.MatchOrders(ctx, trade.BuyOrderID, trade.SellOrderID, trade.EncQuantity, proof)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to mirror trade %s: %w", trade.ID, err)
	}
	w.logger.Info("mirrored trade on-chain",
		"tradeId", trade.ID,
		"symbol", trade.Symbol,
		"buyOrderId", trade.BuyOrderID,
		"sellOrderId", trade.SellOrderID,
		"txHash", hash.Hex(),
	)
	return hash, nil
}

// archivedTrade is the S3 archive record of a mirrored trade.
type archivedTrade struct {
	TradeID     uuid.UUID `json:"tradeId"`
	Symbol      string    `json:"symbol"`
	BuyOrderID  uint64    `json:"buyOrderId"`
	SellOrderID uint64    `json:"sellOrderId"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	Quantity    int64     `json:"quantity"`
	Price       int64     `json:"price"`
	Aggressor   string    `json:"aggressor"`
	Status      string    `json:"status"`
	TxHash      string    `json:"txHash"`
	ExecutedAt  time.Time `json:"executedAt"`
}

func (w *Worker) archive(ctx context.Context, trade *entity.Trade) error {
	rec := archivedTrade{
		TradeID:     trade.ID,
		Symbol:      trade.Symbol,
		BuyOrderID:  trade.BuyOrderID,
		SellOrderID: trade.SellOrderID,
		Buyer:       trade.Buyer.Hex(),
		Seller:      trade.Seller.Hex(),
		Quantity:    trade.Quantity,
		Price:       trade.Price,
		Aggressor:   trade.Aggressor.String(),
		Status:      string(trade.Status),
		ExecutedAt:  trade.ExecutedAt.UTC(),
	}
	if trade.TxHash != nil {
		rec.TxHash = trade.TxHash.Hex()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal trade %s: %w", trade.ID, err)
	}

	key := partition.TradeKey(trade.Symbol, trade.ExecutedAt, trade.ID.String())
	written, err := w.writer.WriteFileIfNotExists(ctx, w.config.Bucket, key, bytes.NewReader(data), false)
	if err != nil {
		return fmt.Errorf("failed to archive trade %s: %w", trade.ID, err)
	}
	if !written {
		w.logger.Debug("trade already archived", "tradeId", trade.ID, "key", key)
	}
	return nil
}
