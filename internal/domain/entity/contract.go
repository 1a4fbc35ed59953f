// Package entity contains the core domain entities for the carbon derivatives exchange.
// These entities represent the fundamental business objects and carry no adapter dependencies.
package entity

import (
	"fmt"
	"sort"
	"strings"
)

// Currency identifies the quote currency of a contract.
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyJPY Currency = "JPY"
	CurrencyGBP Currency = "GBP"
)

// Symbol returns the display sign for the currency.
func (c Currency) Symbol() string {
	switch c {
	case CurrencyEUR:
		return "€"
	case CurrencyUSD:
		return "$"
	case CurrencyJPY:
		return "¥"
	case CurrencyGBP:
		return "£"
	default:
		return string(c) + " "
	}
}

// Decimals returns the number of minor-unit digits quoted for the currency.
func (c Currency) Decimals() int32 {
	if c == CurrencyJPY {
		return 0
	}
	return 2
}

// Contract is a tradable carbon derivative.
//
// Prices are expressed in ticks: integer minor units of Currency
// (cents for EUR/USD, yen for JPY). Quantities are whole contracts.
type Contract struct {
	Symbol      string
	DisplayName string
	Currency    Currency
	// TickSize is the minimum price increment, in ticks.
	TickSize int64
	// LotSize is the minimum quantity increment, in contracts.
	LotSize int64
	// Encrypted contracts never expose resting prices or sizes before settlement.
	Encrypted bool
	// MaxQuantity and MaxPrice cap a single order. Zero means the package default.
	MaxQuantity int64
	MaxPrice    int64
}

// Per-order caps. Sealed values are 64-bit, so without a cap a single order
// could overflow level, volume or position sums.
const (
	DefaultMaxQuantity int64 = 1_000_000
	DefaultMaxPrice    int64 = 1_000_000_000
)

func (c *Contract) maxQuantity() int64 {
	if c.MaxQuantity > 0 {
		return c.MaxQuantity
	}
	return DefaultMaxQuantity
}

func (c *Contract) maxPrice() int64 {
	if c.MaxPrice > 0 {
		return c.MaxPrice
	}
	return DefaultMaxPrice
}

// NewContract creates a new Contract entity with validation.
func NewContract(symbol, displayName string, currency Currency, tickSize, lotSize int64, encrypted bool) (*Contract, error) {
	c := &Contract{
		Symbol:      strings.TrimSpace(symbol),
		DisplayName: displayName,
		Currency:    currency,
		TickSize:    tickSize,
		LotSize:     lotSize,
		Encrypted:   encrypted,
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Contract) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if c.Currency == "" {
		return fmt.Errorf("currency must not be empty")
	}
	if c.TickSize <= 0 {
		return fmt.Errorf("tickSize must be positive, got %d", c.TickSize)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("lotSize must be positive, got %d", c.LotSize)
	}
	if c.MaxQuantity < 0 || c.MaxPrice < 0 {
		return fmt.Errorf("maxQuantity and maxPrice must not be negative")
	}
	return nil
}

// ValidatePrice checks that price is positive and on the tick grid.
func (c *Contract) ValidatePrice(price int64) error {
	if price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if price > c.maxPrice() {
		return fmt.Errorf("%w: price %d exceeds maximum %d", ErrInvalidOrder, price, c.maxPrice())
	}
	if price%c.TickSize != 0 {
		return fmt.Errorf("%w: price %d is not a multiple of tick size %d", ErrInvalidOrder, price, c.TickSize)
	}
	return nil
}

// ValidateQuantity checks that quantity is positive and a whole number of lots.
func (c *Contract) ValidateQuantity(qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if qty > c.maxQuantity() {
		return fmt.Errorf("%w: amount %d exceeds maximum %d", ErrInvalidOrder, qty, c.maxQuantity())
	}
	if qty%c.LotSize != 0 {
		return fmt.Errorf("%w: amount %d is not a multiple of lot size %d", ErrInvalidOrder, qty, c.LotSize)
	}
	return nil
}

// FormatPrice renders a tick price in the contract currency, e.g. "€85.42".
func (c *Contract) FormatPrice(ticks int64) string {
	return FormatPrice(c.Currency, ticks)
}

// Catalog is a lookup of listed contracts by symbol.
type Catalog struct {
	bySymbol map[string]*Contract
}

// NewCatalog creates a catalog from the given contracts. Duplicate symbols are rejected.
func NewCatalog(contracts ...*Contract) (*Catalog, error) {
	cat := &Catalog{bySymbol: make(map[string]*Contract, len(contracts))}
	for _, c := range contracts {
		if c == nil {
			return nil, fmt.Errorf("contract must not be nil")
		}
		if _, dup := cat.bySymbol[c.Symbol]; dup {
			return nil, fmt.Errorf("duplicate contract symbol %q", c.Symbol)
		}
		cat.bySymbol[c.Symbol] = c
	}
	return cat, nil
}

// Get returns the contract for symbol.
func (c *Catalog) Get(symbol string) (*Contract, bool) {
	contract, ok := c.bySymbol[symbol]
	return contract, ok
}

// Symbols returns all listed symbols in lexical order.
func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.bySymbol))
	for s := range c.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Contracts returns all listed contracts ordered by symbol.
func (c *Catalog) Contracts() []*Contract {
	symbols := c.Symbols()
	out := make([]*Contract, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, c.bySymbol[s])
	}
	return out
}

// DefaultContracts returns the contracts listed at launch.
func DefaultContracts() []*Contract {
	return []*Contract{
		{Symbol: "EU-CER-24Q4", DisplayName: "EU Carbon Dec 2024", Currency: CurrencyEUR, TickSize: 1, LotSize: 1, Encrypted: true},
		{Symbol: "US-CCO-25Q1", DisplayName: "US Carbon Offsets Q1 2025", Currency: CurrencyUSD, TickSize: 1, LotSize: 1, Encrypted: true},
		{Symbol: "ASIA-CTO-24Q4", DisplayName: "Asia Carbon Trading Q4 2024", Currency: CurrencyJPY, TickSize: 10, LotSize: 1, Encrypted: false},
		{Symbol: "GLOBAL-VER", DisplayName: "Global Verified Emission Reductions", Currency: CurrencyUSD, TickSize: 1, LotSize: 1, Encrypted: true},
	}
}

// DefaultCatalog returns a catalog of DefaultContracts.
func DefaultCatalog() *Catalog {
	cat, err := NewCatalog(DefaultContracts()...)
	if err != nil {
		panic(err)
	}
	return cat
}
