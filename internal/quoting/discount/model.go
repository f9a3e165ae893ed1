package discount

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Type enumerates the discount mechanisms a quote version can reference.
type Type string

const (
	TypeMultiYear   Type = "multi_year"
	TypePrePay      Type = "pre_pay"
	TypePromotional Type = "promotional"
	TypeSN          Type = "sn"
	TypeCustom      Type = "custom"
)

// Precedence is the fixed stacking order of the typed discounts. The custom
// discount is always applied after them.
var Precedence = []Type{TypeMultiYear, TypePrePay, TypePromotional, TypeSN}

// Scope restricts where a discount applies. Zero values match anything.
type Scope struct {
	VendorID  int64  `json:"vendor_id,omitempty"`
	CountryID int64  `json:"country_id,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// Matches reports whether a discount scoped by s applies to target.
func (s Scope) Matches(target Scope) bool {
	if s.VendorID != 0 && target.VendorID != 0 && s.VendorID != target.VendorID {
		return false
	}
	if s.CountryID != 0 && target.CountryID != 0 && s.CountryID != target.CountryID {
		return false
	}
	if s.Currency != "" && target.Currency != "" && !strings.EqualFold(s.Currency, target.Currency) {
		return false
	}
	return true
}

// Discount is a shared, read-only discount definition.
type Discount struct {
	ID             int64               `json:"id"`
	Type           Type                `json:"type"`
	Name           string              `json:"name"`
	Value          decimal.Decimal     `json:"value"`
	DurationMonths *int                `json:"duration_months,omitempty"`
	MinimumLimit   decimal.NullDecimal `json:"minimum_limit"`
	Scope          Scope               `json:"scope"`
}

// Refs holds at most one reference per discount type.
type Refs struct {
	MultiYear   *int64 `json:"multi_year_discount_id,omitempty"`
	PrePay      *int64 `json:"pre_pay_discount_id,omitempty"`
	Promotional *int64 `json:"promotional_discount_id,omitempty"`
	SN          *int64 `json:"sn_discount_id,omitempty"`
}

// Get returns the reference for a typed discount.
func (r Refs) Get(t Type) *int64 {
	switch t {
	case TypeMultiYear:
		return r.MultiYear
	case TypePrePay:
		return r.PrePay
	case TypePromotional:
		return r.Promotional
	case TypeSN:
		return r.SN
	}
	return nil
}

// Selection is the set of discounts resolved for one version.
type Selection struct {
	MultiYear   *Discount
	PrePay      *Discount
	Promotional *Discount
	SN          *Discount
	Custom      decimal.NullDecimal
	// UnitPrice is the pre-discount unit price checked against minimum limits.
	UnitPrice decimal.Decimal
	// BasePrice, when positive, is used to express contributions as amounts.
	BasePrice decimal.Decimal
	Scope     Scope
}

func (s Selection) typed(t Type) *Discount {
	switch t {
	case TypeMultiYear:
		return s.MultiYear
	case TypePrePay:
		return s.PrePay
	case TypePromotional:
		return s.Promotional
	case TypeSN:
		return s.SN
	}
	return nil
}

// SkipReason explains why a discount contributed nothing.
type SkipReason string

const (
	SkipNotSelected       SkipReason = "not_selected"
	SkipBelowMinimumLimit SkipReason = "below_minimum_limit"
	SkipOutOfScope        SkipReason = "out_of_scope"
)

// Entry is one line of the discount breakdown.
type Entry struct {
	Type            Type            `json:"type"`
	DiscountID      int64           `json:"discount_id,omitempty"`
	Name            string          `json:"name,omitempty"`
	Percent         decimal.Decimal `json:"percent"`
	DurationMonths  *int            `json:"duration_months,omitempty"`
	RemainderBefore decimal.Decimal `json:"remainder_before"`
	RemainderAfter  decimal.Decimal `json:"remainder_after"`
	Contribution    decimal.Decimal `json:"contribution"`
	AmountOff       decimal.Decimal `json:"amount_off"`
	Applied         bool            `json:"applied"`
	SkipReason      SkipReason      `json:"skip_reason,omitempty"`
}

// Result is the combined discount factor with its explanation.
type Result struct {
	CombinedFactor decimal.Decimal `json:"combined_factor"`
	Breakdown      []Entry         `json:"breakdown"`
}

// TotalPercent is the effective combined discount in percent.
func (r Result) TotalPercent() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(r.CombinedFactor).Mul(hundred)
}

// Apply multiplies amount by the combined factor.
func (r Result) Apply(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(r.CombinedFactor)
}
