package aggregate

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineKind distinguishes rows from assets. Both aggregate the same way.
type LineKind string

const (
	KindRow   LineKind = "row"
	KindAsset LineKind = "asset"
)

// Line is a priced line item owned by one quote version. Price is the extended
// line price already converted to the quote currency.
type Line struct {
	ID                 int64               `json:"id"`
	Kind               LineKind            `json:"kind"`
	ProductNumber      string              `json:"product_number"`
	Description        string              `json:"description"`
	VendorCode         string              `json:"vendor_code"`
	SerialNumber       string              `json:"serial_number"`
	Quantity           decimal.Decimal     `json:"quantity"`
	ExpiryDate         *time.Time          `json:"expiry_date,omitempty"`
	Price              decimal.Decimal     `json:"price"`
	OriginalPrice      decimal.Decimal     `json:"original_price"`
	SourceCurrency     string              `json:"source_currency"`
	ExchangeRate       decimal.NullDecimal `json:"exchange_rate"`
	ExchangeRateMargin decimal.Decimal     `json:"exchange_rate_margin"`
	Selected           bool                `json:"is_selected"`
	GroupID            *int64              `json:"group_id,omitempty"`
	GroupName          string              `json:"group_name,omitempty"`
	AssetCategoryID    int64               `json:"asset_category_id,omitempty"`
}

// Group is a named partition of lines declared on a version. Declared groups
// are reported even when no line belongs to them.
type Group struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	SourceGroupID *int64 `json:"source_group_id,omitempty"`
}

// GroupBy selects the partitioning rule.
type GroupBy string

const (
	GroupByGroup    GroupBy = "group"
	GroupByVendor   GroupBy = "vendor"
	GroupByCategory GroupBy = "asset_category"
	GroupByNone     GroupBy = "none"
)

// Options configures an aggregation.
type Options struct {
	GroupBy      GroupBy
	SelectedOnly bool
	Sort         Sort
	// UseOriginalPrice sums original prices instead of converted ones.
	UseOriginalPrice bool
	// Currency is the quote currency used when converting lines that carry a rate.
	Currency string
	Groups   []Group
}

// PricedLine is a line with the amount the aggregation used for it.
type PricedLine struct {
	Line
	Amount decimal.Decimal `json:"amount"`
}

// GroupTotal is one partition of the result.
type GroupTotal struct {
	Key           string          `json:"key"`
	GroupID       *int64          `json:"group_id,omitempty"`
	Name          string          `json:"name"`
	SourceGroupID *int64          `json:"source_group_id,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Count         int             `json:"count"`
	TotalCount    int             `json:"total_count"`
}

// Result is the aggregation output. Subtotal and Count honour SelectedOnly;
// the Selected and Total fields are always populated.
type Result struct {
	Subtotal         decimal.Decimal `json:"subtotal"`
	Count            int             `json:"count"`
	SelectedSubtotal decimal.Decimal `json:"selected_subtotal"`
	SelectedCount    int             `json:"selected_count"`
	TotalSubtotal    decimal.Decimal `json:"total_subtotal"`
	TotalCount       int             `json:"total_count"`
	Groups           []GroupTotal    `json:"groups"`
	Lines            []PricedLine    `json:"lines"`
}
