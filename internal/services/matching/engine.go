package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
)

// Mode selects how a market matches.
type Mode string

const (
	// ModeContinuous matches every incoming order against the book.
	ModeContinuous Mode = "continuous"
	// ModeOperator rests every order; trades happen only through explicit Match calls.
	ModeOperator Mode = "operator"
)

// ErrEngineStopped is returned for commands sent after Stop.
var ErrEngineStopped = errors.New("matching engine stopped")

// CommitFunc persists the outcome of a submission before the book changes.
// Returning an error leaves the book untouched.
type CommitFunc func(ctx context.Context, fills []entity.Fill, remaining int64) error

// MatchCommitFunc persists an explicit match before the book changes.
type MatchCommitFunc func(ctx context.Context, fill entity.Fill) error

// CancelCommitFunc persists a cancel before the order leaves the book.
type CancelCommitFunc func(ctx context.Context, order entity.OpenOrder) error

// MatchResult is the outcome of a submission.
type MatchResult struct {
	Fills     []entity.Fill
	Remaining int64
	// Rested is true when the remainder was added to the book.
	Rested bool
}

// Config holds configuration for the engine.
type Config struct {
	// Modes overrides the matching mode per symbol. Unlisted symbols are continuous.
	Modes map[string]Mode
	// QueueSize is the command buffer per market.
	QueueSize int
	Logger    *slog.Logger
}

func configDefaults() Config {
	return Config{
		QueueSize: 256,
		Logger:    slog.Default(),
	}
}

type market struct {
	book *OrderBook
	mode Mode
	cmds chan func()
}

// Engine owns one order book per market and runs each on its own goroutine.
// All reads and writes of a book go through that goroutine, so there are no
// locks around book state and commands for a market apply in arrival order.
type Engine struct {
	markets map[string]*market
	logger  *slog.Logger

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine with a book for each symbol.
func NewEngine(config Config, symbols []string) (*Engine, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("at least one market symbol is required")
	}
	defaults := configDefaults()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	markets := make(map[string]*market, len(symbols))
	for _, s := range symbols {
		if _, dup := markets[s]; dup {
			return nil, fmt.Errorf("duplicate market %q", s)
		}
		mode := config.Modes[s]
		if mode == "" {
			mode = ModeContinuous
		}
		if mode != ModeContinuous && mode != ModeOperator {
			return nil, fmt.Errorf("market %s: unknown matching mode %q", s, mode)
		}
		markets[s] = &market{
			book: NewOrderBook(s),
			mode: mode,
			cmds: make(chan func(), config.QueueSize),
		}
	}
	for s := range config.Modes {
		if _, ok := markets[s]; !ok {
			return nil, fmt.Errorf("matching mode set for unknown market %q", s)
		}
	}

	return &Engine{
		markets: markets,
		logger:  config.Logger.With("component", "matching-engine"),
		done:    make(chan struct{}),
	}, nil
}

// Start launches one goroutine per market.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	for symbol, m := range e.markets {
		e.wg.Add(1)
		go e.run(ctx, symbol, m)
	}
	e.logger.Info("matching engine started", "markets", len(e.markets))
	return nil
}

// Stop halts all market goroutines and waits for them to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.started = false
	e.mu.Unlock()
	e.stopOnce.Do(func() { close(e.done) })
	e.wg.Wait()
	e.logger.Info("matching engine stopped")
	return nil
}

func (e *Engine) run(ctx context.Context, symbol string, m *market) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("market loop exiting", "symbol", symbol, "resting", m.book.Len())
			return
		case cmd := <-m.cmds:
			cmd()
		}
	}
}

// do runs fn on the market goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, symbol string, fn func(m *market) error) error {
	m, ok := e.markets[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", entity.ErrUnknownContract, symbol)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return ErrEngineStopped
	}

	errCh := make(chan error, 1)
	cmd := func() {
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- fn(m)
	}

	select {
	case m.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		// The command still runs; fn sees the cancelled context through its commit.
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}

// Mode returns the matching mode of symbol.
func (e *Engine) Mode(symbol string) (Mode, bool) {
	m, ok := e.markets[symbol]
	if !ok {
		return "", false
	}
	return m.mode, true
}

// Submit matches order against its market and rests any remainder.
// commit is called with the planned fills before the book changes.
func (e *Engine) Submit(ctx context.Context, order entity.OpenOrder, commit CommitFunc) (*MatchResult, error) {
	if order.Remaining <= 0 || order.Price <= 0 || !order.Side.Valid() {
		return nil, fmt.Errorf("%w: order %d has no executable quantity or price", entity.ErrInvalidOrder, order.ID)
	}
	var result *MatchResult
	err := e.do(ctx, order.Symbol, func(m *market) error {
		if _, exists := m.book.Get(order.ID); exists {
			return fmt.Errorf("order %d already in book", order.ID)
		}

		var fills []entity.Fill
		remaining := order.Remaining
		if m.mode == ModeContinuous {
			if restingID, ok := m.book.SelfTrade(order); ok {
				return fmt.Errorf("%w: order %d would trade against resting order %d", entity.ErrSelfTrade, order.ID, restingID)
			}
			fills, remaining = m.book.Plan(order)
		}
		if commit != nil {
			if err := commit(ctx, fills, remaining); err != nil {
				return err
			}
		}
		if err := m.book.Apply(order, fills, remaining); err != nil {
			// Plan and Apply run back to back on this goroutine; divergence is a bug.
			e.logger.Error("book apply failed after commit", "symbol", order.Symbol, "orderId", order.ID, "error", err)
			return err
		}
		result = &MatchResult{Fills: fills, Remaining: remaining, Rested: remaining > 0}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Match executes an explicit match between two resting orders.
func (e *Engine) Match(ctx context.Context, symbol string, buyID, sellID uint64, qty int64, commit MatchCommitFunc) (entity.Fill, error) {
	var fill entity.Fill
	err := e.do(ctx, symbol, func(m *market) error {
		f, err := m.book.PlanMatch(buyID, sellID, qty)
		if err != nil {
			return err
		}
		if commit != nil {
			if err := commit(ctx, f); err != nil {
				return err
			}
		}
		if err := m.book.ApplyMatch(f); err != nil {
			e.logger.Error("book apply failed after commit", "symbol", symbol, "buyOrderId", buyID, "sellOrderId", sellID, "error", err)
			return err
		}
		fill = f
		return nil
	})
	return fill, err
}

// Cancel removes a resting order owned by trader.
func (e *Engine) Cancel(ctx context.Context, symbol string, orderID uint64, trader common.Address, commit CancelCommitFunc) (entity.OpenOrder, error) {
	var cancelled entity.OpenOrder
	err := e.do(ctx, symbol, func(m *market) error {
		o, ok := m.book.Get(orderID)
		if !ok {
			return fmt.Errorf("order %d: %w", orderID, entity.ErrOrderClosed)
		}
		if o.Trader != trader {
			return fmt.Errorf("order %d: %w", orderID, entity.ErrForbidden)
		}
		if commit != nil {
			if err := commit(ctx, o); err != nil {
				return err
			}
		}
		cancelled, _ = m.book.Remove(orderID)
		return nil
	})
	return cancelled, err
}

// Restore rests previously accepted orders without matching them.
// Orders must be supplied oldest first to keep time priority.
func (e *Engine) Restore(ctx context.Context, symbol string, orders []entity.OpenOrder) error {
	return e.do(ctx, symbol, func(m *market) error {
		var errs []error
		for _, o := range orders {
			if err := m.book.Add(o); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Quote returns the best bid and ask of symbol.
func (e *Engine) Quote(ctx context.Context, symbol string) (entity.Quote, error) {
	var q entity.Quote
	err := e.do(ctx, symbol, func(m *market) error {
		q = m.book.Quote()
		return nil
	})
	return q, err
}

// Depth returns a book snapshot. Aggregated levels are only included when
// includeLevels is true; encrypted markets get counts only.
func (e *Engine) Depth(ctx context.Context, symbol string, includeLevels bool, maxLevels int) (*entity.BookDepth, error) {
	depth := &entity.BookDepth{Symbol: symbol, Encrypted: !includeLevels}
	err := e.do(ctx, symbol, func(m *market) error {
		depth.BidOrders, depth.AskOrders = m.book.Counts()
		if includeLevels {
			depth.Bids, depth.Asks = m.book.Depth(maxLevels)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return depth, nil
}

// Resting returns the remaining quantity of a resting order.
func (e *Engine) Resting(ctx context.Context, symbol string, orderID uint64) (int64, bool, error) {
	var remaining int64
	var found bool
	err := e.do(ctx, symbol, func(m *market) error {
		o, ok := m.book.Get(orderID)
		remaining, found = o.Remaining, ok
		return nil
	})
	return remaining, found, err
}
