// Package currency converts monetary amounts between a buy currency and a
// quote or reporting currency. All arithmetic is fixed-point.
package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var hundred = decimal.NewFromInt(100)

// Convert applies rate and margin: amount * rate * (1 + marginPercent/100).
// When source and target are the same currency the rate is treated as 1; the
// margin applies regardless because it models buy-to-sell markup.
func Convert(amount decimal.Decimal, source, target string, rate, marginPercent decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	effective := rate
	if SameCurrency(source, target) {
		effective = decimal.NewFromInt(1)
	} else if !rate.IsPositive() {
		return decimal.Zero, &InvalidRateError{Source: normalise(source), Target: normalise(target), Rate: rate}
	}
	return amount.Mul(effective).Mul(MarginFactor(marginPercent)), nil
}

// MarginFactor returns 1 + marginPercent/100.
func MarginFactor(marginPercent decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Add(marginPercent.Div(hundred))
}

// SameCurrency compares two codes case-insensitively. Empty codes never match.
func SameCurrency(a, b string) bool {
	na, nb := normalise(a), normalise(b)
	return na != "" && na == nb
}

// ValidateCode normalises and checks an ISO 4217 code.
func ValidateCode(code string) (string, error) {
	unit, err := currency.ParseISO(normalise(code))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return unit.String(), nil
}

// Converter binds a target currency so callers can convert many amounts to
// the same output currency.
type Converter struct {
	Target string
}

// NewConverter constructs a converter for the target currency.
func NewConverter(target string) *Converter {
	return &Converter{Target: normalise(target)}
}

// Convert converts amount from source into the converter's target.
func (c *Converter) Convert(amount decimal.Decimal, source string, rate, marginPercent decimal.Decimal) (decimal.Decimal, error) {
	return Convert(amount, source, c.Target, rate, marginPercent)
}

func normalise(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
