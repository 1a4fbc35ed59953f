package partition

import (
	"testing"
	"time"
)

func TestGetDay(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"utc midday", time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC), "2024-11-01"},
		{"last nanosecond of day", time.Date(2024, 11, 1, 23, 59, 59, 999999999, time.UTC), "2024-11-01"},
		{"midnight", time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC), "2024-11-02"},
		// 2024-11-02 01:00 in UTC+9 is still the 1st in UTC
		{"non-utc zone", time.Date(2024, 11, 2, 1, 0, 0, 0, time.FixedZone("JST", 9*3600)), "2024-11-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetDay(tt.in); got != tt.want {
				t.Errorf("GetDay(%v) = %s, expected %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestTradeKey(t *testing.T) {
	at := time.Date(2024, 11, 1, 9, 30, 0, 0, time.UTC)
	got := TradeKey("EU-CER-24Q4", at, "3f9b0c1e-0000-4000-8000-000000000001")
	want := "trades/EU-CER-24Q4/2024-11-01/3f9b0c1e-0000-4000-8000-000000000001.json"
	if got != want {
		t.Errorf("TradeKey() = %s, expected %s", got, want)
	}
}
