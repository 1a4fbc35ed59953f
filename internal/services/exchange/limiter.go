package exchange

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

// limiterIdle is how long an unused trader limiter is kept.
const limiterIdle = 10 * time.Minute

type traderLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// traderLimiters hands out one token bucket per trader address.
type traderLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	byTrader  map[common.Address]*traderLimiter
	lastSweep time.Time
}

func newTraderLimiters(limit rate.Limit, burst int) *traderLimiters {
	return &traderLimiters{
		limit:    limit,
		burst:    burst,
		byTrader: make(map[common.Address]*traderLimiter),
	}
}

// allow reports whether trader may submit at now.
func (l *traderLimiters) allow(trader common.Address, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdle {
		for addr, tl := range l.byTrader {
			if now.Sub(tl.lastSeen) > limiterIdle {
				delete(l.byTrader, addr)
			}
		}
		l.lastSweep = now
	}

	tl, ok := l.byTrader[trader]
	if !ok {
		tl = &traderLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byTrader[trader] = tl
	}
	tl.lastSeen = now
	return tl.limiter.AllowN(now, 1)
}
