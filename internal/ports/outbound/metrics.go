package outbound

import (
	"context"
	"time"
)

// MetricsRecorder lets services record metrics without depending on a telemetry implementation.
type MetricsRecorder interface {
	RecordOrderAccepted(ctx context.Context, symbol string)
	// RecordOrderRejected counts rejected submissions; reason is a short, low-cardinality label.
	RecordOrderRejected(ctx context.Context, symbol, reason string)
	RecordTrade(ctx context.Context, symbol string, quantity int64)
	RecordSettlement(ctx context.Context, symbol string, duration time.Duration, err error)
	RecordMirror(ctx context.Context, symbol string, duration time.Duration, err error)
}
