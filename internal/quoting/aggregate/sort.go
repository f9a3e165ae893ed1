package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidSort is returned for unknown sort columns or directions.
var ErrInvalidSort = errors.New("aggregate: invalid sort")

// Column is a sortable line attribute.
type Column string

const (
	ColumnNone          Column = ""
	ColumnProductNumber Column = "product_number"
	ColumnDescription   Column = "description"
	ColumnPrice         Column = "price"
	ColumnOriginalPrice Column = "original_price"
	ColumnExpiryDate    Column = "expiry_date"
	ColumnVendorCode    Column = "vendor_code"
	ColumnSerialNumber  Column = "serial_number"
	ColumnQuantity      Column = "quantity"
	ColumnGroupName     Column = "group_name"
)

var columns = map[Column]struct{}{
	ColumnProductNumber: {},
	ColumnDescription:   {},
	ColumnPrice:         {},
	ColumnOriginalPrice: {},
	ColumnExpiryDate:    {},
	ColumnVendorCode:    {},
	ColumnSerialNumber:  {},
	ColumnQuantity:      {},
	ColumnGroupName:     {},
}

// Sort is a column plus direction.
type Sort struct {
	Column     Column `json:"column"`
	Descending bool   `json:"descending"`
}

// ParseSort validates caller supplied sort parameters.
func ParseSort(column, direction string) (Sort, error) {
	col := Column(strings.ToLower(strings.TrimSpace(column)))
	if col == ColumnNone {
		return Sort{}, nil
	}
	if _, ok := columns[col]; !ok {
		return Sort{}, fmt.Errorf("%w: column %q", ErrInvalidSort, column)
	}
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "", "asc":
		return Sort{Column: col}, nil
	case "desc":
		return Sort{Column: col, Descending: true}, nil
	default:
		return Sort{}, fmt.Errorf("%w: direction %q", ErrInvalidSort, direction)
	}
}

func sortLines(lines []PricedLine, s Sort) {
	if s.Column == ColumnNone {
		return
	}
	compare := func(a, b PricedLine) int {
		switch s.Column {
		case ColumnProductNumber:
			return strings.Compare(a.ProductNumber, b.ProductNumber)
		case ColumnDescription:
			return strings.Compare(a.Description, b.Description)
		case ColumnPrice:
			return a.Amount.Cmp(b.Amount)
		case ColumnOriginalPrice:
			return a.OriginalPrice.Cmp(b.OriginalPrice)
		case ColumnExpiryDate:
			return compareTime(a.ExpiryDate, b.ExpiryDate)
		case ColumnVendorCode:
			return strings.Compare(a.VendorCode, b.VendorCode)
		case ColumnSerialNumber:
			return strings.Compare(a.SerialNumber, b.SerialNumber)
		case ColumnQuantity:
			return a.Quantity.Cmp(b.Quantity)
		case ColumnGroupName:
			return strings.Compare(a.GroupName, b.GroupName)
		}
		return 0
	}
	sort.SliceStable(lines, func(i, j int) bool {
		c := compare(lines[i], lines[j])
		if s.Descending {
			return c > 0
		}
		return c < 0
	})
}

// Missing dates sort after present ones.
func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
