package totals

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quoting/internal/quoting/aggregate"
	"github.com/odyssey-erp/quoting/internal/quoting/refs"
)

// Dimension names one denormalized totals table.
type Dimension string

const (
	DimensionQuote         Dimension = "quote"
	DimensionCustomer      Dimension = "customer"
	DimensionLocation      Dimension = "location"
	DimensionAssetCategory Dimension = "asset_category"
	DimensionOpportunity   Dimension = "opportunity"
)

// Dimensions lists every totals table in write order.
var Dimensions = []Dimension{
	DimensionQuote,
	DimensionCustomer,
	DimensionLocation,
	DimensionAssetCategory,
	DimensionOpportunity,
}

var dimensionTables = map[Dimension]struct {
	table string
	kind  refs.Kind
}{
	DimensionQuote:         {table: "quote_totals", kind: refs.KindQuote},
	DimensionCustomer:      {table: "customer_totals", kind: refs.KindCustomer},
	DimensionLocation:      {table: "location_totals", kind: refs.KindLocation},
	DimensionAssetCategory: {table: "asset_totals", kind: refs.KindAssetCategory},
	DimensionOpportunity:   {table: "opportunity_totals", kind: refs.KindOpportunity},
}

// ParseDimension validates a dimension name.
func ParseDimension(raw string) (Dimension, error) {
	d := Dimension(raw)
	if _, ok := dimensionTables[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDimension, raw)
	}
	return d, nil
}

// Table returns the backing table name.
func (d Dimension) Table() string {
	return dimensionTables[d].table
}

// Kind returns the entity kind keyed by the dimension.
func (d Dimension) Kind() refs.Kind {
	return dimensionTables[d].kind
}

// Source is the consistent snapshot a materialization reads.
type Source struct {
	QuoteID         int64
	OpportunityID   int64
	CustomerID      int64
	CompanyID       int64
	LocationID      int64
	CountryID       int64
	UserID          int64
	ActiveVersionID *int64
	QuoteDeleted    bool

	VersionID   int64
	Currency    string
	ActivatedAt *time.Time

	Lines  []aggregate.Line
	Groups []aggregate.Group
}

// IsActive reports whether the snapshot's version is the quote's active version.
func (s Source) IsActive() bool {
	return s.ActiveVersionID != nil && *s.ActiveVersionID == s.VersionID
}

// Row is one materialized roll-up. It carries no wall-clock data so that
// rebuilding from unchanged sources yields identical rows.
type Row struct {
	Dimension        Dimension       `json:"dimension"`
	Key              refs.EntityRef  `json:"key"`
	QuoteID          int64           `json:"quote_id"`
	VersionID        int64           `json:"version_id"`
	CustomerID       int64           `json:"customer_id"`
	CompanyID        int64           `json:"company_id"`
	CountryID        int64           `json:"country_id"`
	UserID           int64           `json:"user_id"`
	Currency         string          `json:"currency"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	LineCount        int             `json:"line_count"`
	SelectedSubtotal decimal.Decimal `json:"selected_subtotal"`
	SelectedCount    int             `json:"selected_count"`
	AsOf             time.Time       `json:"as_of"`
	Checksum         string          `json:"checksum"`
}

// Filter narrows a totals listing.
type Filter struct {
	CompanyID  int64
	CountryID  int64
	UserID     int64
	CustomerID int64
	Page       int
	PerPage    int
}

// KeyTotal sums the per-quote rows stored under one dimension key. Rows are
// kept per quote so a single quote can be replaced or retracted on its own;
// the roll-up is computed when read.
type KeyTotal struct {
	Dimension        Dimension       `json:"dimension"`
	Key              refs.EntityRef  `json:"key"`
	Currency         string          `json:"currency"`
	Quotes           int             `json:"quotes"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	LineCount        int             `json:"line_count"`
	SelectedSubtotal decimal.Decimal `json:"selected_subtotal"`
	SelectedCount    int             `json:"selected_count"`
	AsOf             time.Time       `json:"as_of"`
}
