// Package money converts between integer minor units and display strings.
// Amounts are always carried as int64 cents; decimal is only used at the edges.
package money

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultSymbol is the currency prefix printed on receipts and confirm screens.
const DefaultSymbol = "R"

// FormatCents renders 7550 as "R 75.50".
func FormatCents(cents int64) string {
	return FormatCentsWithSymbol(DefaultSymbol, cents)
}

func FormatCentsWithSymbol(symbol string, cents int64) string {
	amount := decimal.NewFromInt(cents).Shift(-2).StringFixed(2)
	if symbol == "" {
		return amount
	}
	return symbol + " " + amount
}

// ParseCents accepts operator input such as "75.50", "R75.5" or "75" and
// returns the amount in cents. More than two decimal places is rejected
// rather than rounded, and so is anything that does not fit in int64 cents.
func ParseCents(raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, DefaultSymbol)
	value = strings.ReplaceAll(strings.TrimSpace(value), " ", "")
	value = strings.ReplaceAll(value, ",", ".")
	if value == "" {
		return 0, fmt.Errorf("amount is required")
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	cents := amount.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than two decimal places", raw)
	}
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, fmt.Errorf("amount %q is out of range", raw)
	}
	return cents.IntPart(), nil
}

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)
