package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxDecimals is the precision every stored amount is validated against.
const MaxDecimals = 2

func init() {
	// amounts are persisted as numbers, not strings
	decimal.MarshalJSONWithoutQuotes = true
}

var errAmountSyntax = errors.New("amount must be a number")

// ParseAmount reads user input such as "100", "12.5" or "12,50".
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if raw == "" {
		return decimal.Zero, errAmountSyntax
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errAmountSyntax
	}
	return d, nil
}

// HasValidPrecision reports whether d needs no more than MaxDecimals fraction digits.
func HasValidPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MaxDecimals))
}

// FormatMoney renders an amount with exactly two decimals.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MaxDecimals)
}
