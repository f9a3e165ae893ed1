package versions

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quoting/internal/quoting/discount"
)

// CreateQuoteRequest opens a quote with its first draft version.
type CreateQuoteRequest struct {
	Name          string       `json:"name" validate:"required,max=255"`
	OpportunityID int64        `json:"opportunity_id" validate:"required,gt=0"`
	CustomerID    int64        `json:"customer_id" validate:"required,gt=0"`
	CompanyID     int64        `json:"company_id" validate:"required,gt=0"`
	LocationID    int64        `json:"location_id" validate:"omitempty,gt=0"`
	CountryID     int64        `json:"country_id" validate:"omitempty,gt=0"`
	UserID        int64        `json:"user_id" validate:"required,gt=0"`
	Pricing       PricingPatch `json:"pricing"`
}

// CreateVersionRequest clones a new draft from BasedOnVersionID, or from the
// active version when it is nil.
type CreateVersionRequest struct {
	BasedOnVersionID *int64 `json:"based_on_version_id" validate:"omitempty,gt=0"`
	ActorID          int64  `json:"actor_id" validate:"omitempty,gt=0"`
}

// PricingPatch carries optional updates to a draft's priced fields.
type PricingPatch struct {
	TemplateID      *int64           `json:"template_id" validate:"omitempty,gt=0"`
	Currency        *string          `json:"currency" validate:"omitempty,len=3"`
	BuyCurrency     *string          `json:"buy_currency" validate:"omitempty,len=3"`
	VendorID        *int64           `json:"vendor_id" validate:"omitempty,gt=0"`
	CountryID       *int64           `json:"country_id" validate:"omitempty,gt=0"`
	CompanyID       *int64           `json:"company_id" validate:"omitempty,gt=0"`
	Discounts       *discount.Refs   `json:"discounts"`
	CustomDiscount  *decimal.Decimal `json:"custom_discount"`
	ClearCustom     bool             `json:"clear_custom_discount"`
	BuyPrice        *decimal.Decimal `json:"buy_price"`
	BuyExchangeRate *decimal.Decimal `json:"buy_exchange_rate"`
	MarginValue     *decimal.Decimal `json:"margin_value"`
	MarginMethod    *MarginMethod    `json:"margin_method" validate:"omitempty,oneof=markup margin"`
	SortColumn      *string          `json:"sort_column" validate:"omitempty,max=64"`
	SortDirection   *string          `json:"sort_direction" validate:"omitempty,oneof=asc desc"`
	GroupBy         *string          `json:"group_by" validate:"omitempty,oneof=group vendor asset_category none"`
}

// UpdateDraftRequest edits a draft version.
type UpdateDraftRequest struct {
	ActorID int64        `json:"actor_id" validate:"omitempty,gt=0"`
	Pricing PricingPatch `json:"pricing"`
}

// Apply writes the patch over p.
func (patch PricingPatch) Apply(p Pricing) Pricing {
	if patch.TemplateID != nil {
		p.TemplateID = patch.TemplateID
	}
	if patch.Currency != nil {
		p.Currency = *patch.Currency
	}
	if patch.BuyCurrency != nil {
		p.BuyCurrency = *patch.BuyCurrency
	}
	if patch.VendorID != nil {
		p.VendorID = *patch.VendorID
	}
	if patch.CountryID != nil {
		p.CountryID = *patch.CountryID
	}
	if patch.CompanyID != nil {
		p.CompanyID = *patch.CompanyID
	}
	if patch.Discounts != nil {
		p.Discounts = *patch.Discounts
	}
	if patch.ClearCustom {
		p.CustomDiscount = decimal.NullDecimal{}
	} else if patch.CustomDiscount != nil {
		p.CustomDiscount = decimal.NewNullDecimal(*patch.CustomDiscount)
	}
	if patch.BuyPrice != nil {
		p.BuyPrice = decimal.NewNullDecimal(*patch.BuyPrice)
	}
	if patch.BuyExchangeRate != nil {
		p.BuyExchangeRate = decimal.NewNullDecimal(*patch.BuyExchangeRate)
	}
	if patch.MarginValue != nil {
		p.MarginValue = *patch.MarginValue
	}
	if patch.MarginMethod != nil {
		p.MarginMethod = *patch.MarginMethod
	}
	if patch.SortColumn != nil {
		p.SortColumn = *patch.SortColumn
	}
	if patch.SortDirection != nil {
		p.SortDirection = *patch.SortDirection
	}
	if patch.GroupBy != nil {
		p.GroupBy = *patch.GroupBy
	}
	return p
}
