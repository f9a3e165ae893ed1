package currency

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateNotFound indicates no rate is recorded on or before the as-of date.
	ErrRateNotFound = errors.New("currency: exchange rate not found")
	// ErrNegativeAmount rejects conversion of negative monetary amounts.
	ErrNegativeAmount = errors.New("currency: amount must not be negative")
	// ErrInvalidCode indicates the currency code is not an ISO 4217 code.
	ErrInvalidCode = errors.New("currency: invalid currency code")
)

// InvalidRateError reports a non-positive exchange rate.
type InvalidRateError struct {
	Source string
	Target string
	Rate   decimal.Decimal
}

func (e *InvalidRateError) Error() string {
	return fmt.Sprintf("currency: invalid rate %s for %s->%s", e.Rate.String(), e.Source, e.Target)
}
