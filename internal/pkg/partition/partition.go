// Package partition provides utilities for S3 partition key generation.
package partition

import (
	"fmt"
	"time"
)

// DayLayout is the date format used for daily partitions.
const DayLayout = "2006-01-02"

// GetDay returns the UTC day partition for t, e.g. "2024-11-01".
func GetDay(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// TradeKey returns the archive object key for a settled trade:
// trades/<symbol>/<yyyy-mm-dd>/<tradeID>.json
func TradeKey(symbol string, executedAt time.Time, tradeID string) string {
	return fmt.Sprintf("trades/%s/%s/%s.json", symbol, GetDay(executedAt), tradeID)
}
