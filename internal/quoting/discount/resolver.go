// Package discount stacks the typed discounts and the custom discount of a
// quote version into one factor with a per-discount breakdown.
package discount

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Resolve stacks the selection in the fixed precedence order: multi-year,
// pre-pay, promotional, SN, then custom. Each applied discount multiplies the
// running remainder by (1 - pct/100).
func Resolve(sel Selection) (Result, error) {
	if err := validate(sel); err != nil {
		return Result{}, err
	}
	one := decimal.NewFromInt(1)
	remainder := one
	breakdown := make([]Entry, 0, len(Precedence)+1)
	for _, t := range Precedence {
		d := sel.typed(t)
		entry := Entry{Type: t, RemainderBefore: remainder, RemainderAfter: remainder}
		switch {
		case d == nil:
			entry.SkipReason = SkipNotSelected
		case !d.Scope.Matches(sel.Scope):
			fill(&entry, d)
			entry.SkipReason = SkipOutOfScope
		case t == TypePromotional && d.MinimumLimit.Valid && sel.UnitPrice.LessThan(d.MinimumLimit.Decimal):
			fill(&entry, d)
			entry.SkipReason = SkipBelowMinimumLimit
		default:
			fill(&entry, d)
			remainder = step(&entry, remainder, d.Value, sel.BasePrice)
		}
		breakdown = append(breakdown, entry)
	}

	custom := Entry{Type: TypeCustom, RemainderBefore: remainder, RemainderAfter: remainder}
	if sel.Custom.Valid {
		custom.Percent = sel.Custom.Decimal
		remainder = step(&custom, remainder, sel.Custom.Decimal, sel.BasePrice)
	} else {
		custom.SkipReason = SkipNotSelected
	}
	breakdown = append(breakdown, custom)

	return Result{CombinedFactor: remainder, Breakdown: breakdown}, nil
}

func fill(entry *Entry, d *Discount) {
	entry.DiscountID = d.ID
	entry.Name = d.Name
	entry.Percent = d.Value
	entry.DurationMonths = d.DurationMonths
}

func step(entry *Entry, remainder, pct, base decimal.Decimal) decimal.Decimal {
	after := remainder.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred)))
	entry.Applied = true
	entry.RemainderAfter = after
	entry.Contribution = remainder.Sub(after)
	if base.IsPositive() {
		entry.AmountOff = base.Mul(entry.Contribution)
	}
	return after
}

func validate(sel Selection) error {
	for _, t := range Precedence {
		d := sel.typed(t)
		if d == nil {
			continue
		}
		if !validPercent(d.Value) {
			return &InvalidDiscountValueError{Type: t, DiscountID: d.ID, Value: d.Value}
		}
	}
	if sel.Custom.Valid && !validPercent(sel.Custom.Decimal) {
		return &InvalidDiscountValueError{Type: TypeCustom, Value: sel.Custom.Decimal}
	}
	return nil
}

func validPercent(v decimal.Decimal) bool {
	return !v.IsNegative() && v.LessThanOrEqual(hundred)
}

// Lookup returns discount definitions by type and id.
type Lookup interface {
	Discount(ctx context.Context, t Type, id int64) (Discount, error)
}

// Resolver loads referenced discounts through a Lookup and stacks them.
type Resolver struct {
	lookup Lookup
}

// NewResolver constructs a resolver.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Load turns references into a selection. Missing references stay nil.
func (r *Resolver) Load(ctx context.Context, refs Refs) (Selection, error) {
	var sel Selection
	for _, t := range Precedence {
		id := refs.Get(t)
		if id == nil {
			continue
		}
		if r == nil || r.lookup == nil {
			return Selection{}, fmt.Errorf("discount: lookup not configured")
		}
		d, err := r.lookup.Discount(ctx, t, *id)
		if err != nil {
			return Selection{}, fmt.Errorf("load %s discount %d: %w", t, *id, err)
		}
		d.Type = t
		switch t {
		case TypeMultiYear:
			sel.MultiYear = &d
		case TypePrePay:
			sel.PrePay = &d
		case TypePromotional:
			sel.Promotional = &d
		case TypeSN:
			sel.SN = &d
		}
	}
	return sel, nil
}

// Resolve loads refs and stacks them together with the custom discount.
func (r *Resolver) Resolve(ctx context.Context, refs Refs, custom decimal.NullDecimal, unitPrice, basePrice decimal.Decimal, scope Scope) (Result, error) {
	sel, err := r.Load(ctx, refs)
	if err != nil {
		return Result{}, err
	}
	sel.Custom = custom
	sel.UnitPrice = unitPrice
	sel.BasePrice = basePrice
	sel.Scope = scope
	return Resolve(sel)
}
