package entity

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatPrice renders ticks as a currency amount with grouping, e.g. "€85.42" or "¥12,450".
func FormatPrice(c Currency, ticks int64) string {
	return formatAmount(c, decimal.New(ticks, -c.Decimals()), c.Decimals())
}

// FormatNotional renders a quantity × price amount in whole currency units, e.g. "€12,975".
func FormatNotional(c Currency, ticks int64) string {
	return formatAmount(c, decimal.New(ticks, -c.Decimals()).Round(0), 0)
}

// FormatPnL renders a signed tick amount with an explicit sign, e.g. "+€1,200.50".
func FormatPnL(c Currency, ticks decimal.Decimal) string {
	amount := ticks.Shift(-c.Decimals())
	if amount.IsPositive() {
		return "+" + formatAmount(c, amount, c.Decimals())
	}
	return formatAmount(c, amount, c.Decimals())
}

func formatAmount(c Currency, amount decimal.Decimal, places int32) string {
	neg := amount.IsNegative()
	s := amount.Abs().StringFixed(places)
	intPart, frac, _ := strings.Cut(s, ".")
	out := c.Symbol() + groupThousands(intPart)
	if frac != "" {
		out += "." + frac
	}
	if neg {
		return "-" + out
	}
	return out
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatChange renders a percentage with an explicit sign and two places, e.g. "+2.34%".
func FormatChange(pct decimal.Decimal) string {
	s := pct.StringFixed(2)
	if pct.Round(2).IsPositive() {
		return "+" + s + "%"
	}
	return s + "%"
}

var volumeUnits = []struct {
	suffix string
	size   int64
}{
	{"B", 1_000_000_000},
	{"M", 1_000_000},
	{"K", 1_000},
}

// FormatVolume abbreviates a contract count, e.g. 1_200_000 -> "1.2M", 890_000 -> "890K".
func FormatVolume(v int64) string {
	sign := ""
	d := decimal.NewFromInt(v)
	if v < 0 {
		// Negate in decimal space; -math.MinInt64 overflows int64.
		sign, d = "-", d.Neg()
	}
	for i, u := range volumeUnits {
		size := decimal.NewFromInt(u.size)
		if d.LessThan(size) {
			continue
		}
		scaled := d.Div(size).Round(1)
		if i > 0 && scaled.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
			up := volumeUnits[i-1]
			return sign + d.Div(decimal.NewFromInt(up.size)).Round(1).String() + up.suffix
		}
		return sign + scaled.String() + u.suffix
	}
	return sign + d.String()
}
