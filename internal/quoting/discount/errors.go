package discount

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quoting/internal/shared"
)

// ErrNotFound indicates a referenced discount does not exist.
var ErrNotFound = fmt.Errorf("discount: %w", shared.ErrNotFound)

// InvalidDiscountValueError reports a percentage outside [0,100].
type InvalidDiscountValueError struct {
	Type       Type
	DiscountID int64
	Value      decimal.Decimal
}

func (e *InvalidDiscountValueError) Error() string {
	if e.DiscountID != 0 {
		return fmt.Sprintf("discount: %s discount %d has invalid value %s (expected 0-100)", e.Type, e.DiscountID, e.Value.String())
	}
	return fmt.Sprintf("discount: %s discount has invalid value %s (expected 0-100)", e.Type, e.Value.String())
}
