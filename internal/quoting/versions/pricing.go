package versions

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quoting/internal/quoting/aggregate"
	"github.com/odyssey-erp/quoting/internal/quoting/currency"
	"github.com/odyssey-erp/quoting/internal/quoting/discount"
)

var hundred = decimal.NewFromInt(100)

// PricingSummary is the quote level buy/sell summary. It is frozen on the
// version when the version is submitted.
type PricingSummary struct {
	Currency      string                 `json:"currency"`
	ListSubtotal  decimal.Decimal        `json:"list_subtotal"`
	LineCount     int                    `json:"line_count"`
	SelectedCount int                    `json:"selected_count"`
	Groups        []aggregate.GroupTotal `json:"groups"`
	Discount      discount.Result        `json:"discount"`
	NetSubtotal   decimal.Decimal        `json:"net_subtotal"`
	BuyTotal      decimal.NullDecimal    `json:"buy_total"`
	SellPrice     decimal.Decimal        `json:"sell_price"`
	GrossProfit   decimal.Decimal        `json:"gross_profit"`
	MarginValue   decimal.Decimal        `json:"margin_value"`
	MarginMethod  MarginMethod           `json:"margin_method"`
}

// ComputePricing prices a version: selected lines are aggregated in the quote
// currency, the discount stack is applied to the list subtotal, and the sell
// price is derived from the buy price (or the net subtotal) with the margin.
func ComputePricing(ctx context.Context, v Version, contents Contents, resolver *discount.Resolver) (PricingSummary, error) {
	p := v.Pricing
	sort, err := aggregate.ParseSort(p.SortColumn, p.SortDirection)
	if err != nil {
		return PricingSummary{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	agg, err := aggregate.Aggregate(contents.Lines, aggregate.Options{
		GroupBy:      aggregate.GroupBy(p.GroupBy),
		SelectedOnly: true,
		Sort:         sort,
		Currency:     p.Currency,
		Groups:       contents.AggregateGroups(),
	})
	if err != nil {
		return PricingSummary{}, err
	}

	disc, err := resolver.Resolve(ctx, p.Discounts, p.CustomDiscount, agg.Subtotal, agg.Subtotal, v.Scope())
	if err != nil {
		return PricingSummary{}, err
	}

	summary := PricingSummary{
		Currency:      p.Currency,
		ListSubtotal:  agg.Subtotal,
		LineCount:     agg.TotalCount,
		SelectedCount: agg.SelectedCount,
		Groups:        agg.Groups,
		Discount:      disc,
		NetSubtotal:   disc.Apply(agg.Subtotal),
		MarginValue:   p.MarginValue,
		MarginMethod:  p.MarginMethod,
	}

	cost := summary.NetSubtotal
	if p.BuyPrice.Valid {
		rate := decimal.Zero
		if p.BuyExchangeRate.Valid {
			rate = p.BuyExchangeRate.Decimal
		}
		buy, err := currency.Convert(p.BuyPrice.Decimal, p.BuyCurrency, p.Currency, rate, decimal.Zero)
		if err != nil {
			return PricingSummary{}, err
		}
		summary.BuyTotal = decimal.NewNullDecimal(buy)
		cost = buy
	}

	sell, err := applyMargin(cost, p.MarginValue, p.MarginMethod)
	if err != nil {
		return PricingSummary{}, err
	}
	summary.SellPrice = sell
	summary.GrossProfit = sell.Sub(cost)
	return summary, nil
}

func applyMargin(cost, value decimal.Decimal, method MarginMethod) (decimal.Decimal, error) {
	switch method {
	case MarginMargin:
		if value.GreaterThanOrEqual(hundred) {
			return decimal.Zero, fmt.Errorf("%w: margin %s%% must be below 100", ErrInvalidRequest, value.String())
		}
		return cost.Div(decimal.NewFromInt(1).Sub(value.Div(hundred))), nil
	case MarginMarkup, "":
		return cost.Mul(currency.MarginFactor(value)), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown margin method %q", ErrInvalidRequest, method)
	}
}
