package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*Metrics)(nil)

// Metrics implements the MetricsRecorder interface using OpenTelemetry.
// Only symbols and outcomes are recorded as attributes; traded quantity is
// aggregated per market, never per order.
type Metrics struct {
	ordersAccepted     metric.Int64Counter
	ordersRejected     metric.Int64Counter
	trades             metric.Int64Counter
	tradedQuantity     metric.Int64Counter
	settlementDuration metric.Float64Histogram
	mirrorDuration     metric.Float64Histogram
}

// NewMetrics creates a recorder on the global meter provider.
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider(), meterName)
}

// NewMetricsWithProvider creates a recorder on provider.
func NewMetricsWithProvider(provider metric.MeterProvider, meterName string) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.ordersAccepted, err = meter.Int64Counter("orders_accepted_total",
		metric.WithDescription("Orders accepted into a book")); err != nil {
		return nil, fmt.Errorf("failed to create orders_accepted_total counter: %w", err)
	}
	if m.ordersRejected, err = meter.Int64Counter("orders_rejected_total",
		metric.WithDescription("Order submissions rejected, by reason")); err != nil {
		return nil, fmt.Errorf("failed to create orders_rejected_total counter: %w", err)
	}
	if m.trades, err = meter.Int64Counter("trades_total",
		metric.WithDescription("Trades settled")); err != nil {
		return nil, fmt.Errorf("failed to create trades_total counter: %w", err)
	}
	if m.tradedQuantity, err = meter.Int64Counter("traded_quantity_total",
		metric.WithDescription("Contracts traded")); err != nil {
		return nil, fmt.Errorf("failed to create traded_quantity_total counter: %w", err)
	}
	if m.settlementDuration, err = meter.Float64Histogram("settlement_duration_seconds",
		metric.WithDescription("Time to persist a settlement"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create settlement_duration_seconds histogram: %w", err)
	}
	if m.mirrorDuration, err = meter.Float64Histogram("mirror_duration_seconds",
		metric.WithDescription("Time to mirror a trade on-chain"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create mirror_duration_seconds histogram: %w", err)
	}
	return m, nil
}

func (m *Metrics) RecordOrderAccepted(ctx context.Context, symbol string) {
	m.ordersAccepted.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *Metrics) RecordOrderRejected(ctx context.Context, symbol, reason string) {
	m.ordersRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) RecordTrade(ctx context.Context, symbol string, quantity int64) {
	attrs := metric.WithAttributes(attribute.String("symbol", symbol))
	m.trades.Add(ctx, 1, attrs)
	m.tradedQuantity.Add(ctx, quantity, attrs)
}

func (m *Metrics) RecordSettlement(ctx context.Context, symbol string, duration time.Duration, err error) {
	m.settlementDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("status", status(err)),
	))
}

func (m *Metrics) RecordMirror(ctx context.Context, symbol string, duration time.Duration, err error) {
	m.mirrorDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("status", status(err)),
	))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
