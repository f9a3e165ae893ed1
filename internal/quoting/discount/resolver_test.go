package discount

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func pct(id int64, t Type, v string) *Discount {
	return &Discount{ID: id, Type: t, Name: string(t), Value: d(v)}
}

func TestResolveStacksInPrecedenceOrder(t *testing.T) {
	res, err := Resolve(Selection{
		MultiYear: pct(1, TypeMultiYear, "10"),
		PrePay:    pct(2, TypePrePay, "5"),
		SN:        pct(4, TypeSN, "20"),
		Custom:    decimal.NewNullDecimal(d("2")),
		BasePrice: d("1000"),
	})
	require.NoError(t, err)

	// 0.9 * 0.95 * 0.8 * 0.98
	assert.True(t, res.CombinedFactor.Equal(d("0.67032")), res.CombinedFactor.String())
	require.Len(t, res.Breakdown, 5)

	order := []Type{TypeMultiYear, TypePrePay, TypePromotional, TypeSN, TypeCustom}
	for i, entry := range res.Breakdown {
		assert.Equal(t, order[i], entry.Type)
	}
	assert.True(t, res.Breakdown[0].RemainderAfter.Equal(d("0.9")))
	assert.True(t, res.Breakdown[1].RemainderBefore.Equal(d("0.9")))
	assert.True(t, res.Breakdown[1].AmountOff.Equal(d("45")))
	assert.False(t, res.Breakdown[2].Applied)
	assert.Equal(t, SkipNotSelected, res.Breakdown[2].SkipReason)
	assert.True(t, res.TotalPercent().Equal(d("32.968")))
	assert.True(t, res.Apply(d("1000")).Equal(d("670.32")))
}

func TestResolveEmptySelectionIsIdentity(t *testing.T) {
	res, err := Resolve(Selection{})
	require.NoError(t, err)
	assert.True(t, res.CombinedFactor.Equal(decimal.NewFromInt(1)))
	for _, entry := range res.Breakdown {
		assert.False(t, entry.Applied)
		assert.Equal(t, SkipNotSelected, entry.SkipReason)
	}
}

func TestResolvePromotionalMinimumLimit(t *testing.T) {
	promo := pct(3, TypePromotional, "15")
	promo.MinimumLimit = decimal.NewNullDecimal(d("500"))

	cases := []struct {
		name      string
		unitPrice string
		factor    string
		applied   bool
	}{
		{name: "below limit", unitPrice: "499.99", factor: "1", applied: false},
		{name: "at limit", unitPrice: "500", factor: "0.85", applied: true},
		{name: "above limit", unitPrice: "800", factor: "0.85", applied: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Resolve(Selection{Promotional: promo, UnitPrice: d(tc.unitPrice)})
			require.NoError(t, err)
			assert.True(t, res.CombinedFactor.Equal(d(tc.factor)))
			entry := res.Breakdown[2]
			assert.Equal(t, tc.applied, entry.Applied)
			if !tc.applied {
				assert.Equal(t, SkipBelowMinimumLimit, entry.SkipReason)
				assert.True(t, entry.Contribution.IsZero())
			}
		})
	}
}

func TestResolveMinimumLimitUsesPreDiscountPrice(t *testing.T) {
	promo := pct(3, TypePromotional, "15")
	promo.MinimumLimit = decimal.NewNullDecimal(d("500"))

	// The multi-year discount would drop the price below the limit, but the
	// limit is checked against the undiscounted unit price.
	res, err := Resolve(Selection{
		MultiYear:   pct(1, TypeMultiYear, "50"),
		Promotional: promo,
		UnitPrice:   d("600"),
	})
	require.NoError(t, err)
	assert.True(t, res.Breakdown[2].Applied)
	assert.True(t, res.CombinedFactor.Equal(d("0.425")))
}

func TestResolveSkipsOutOfScopeDiscounts(t *testing.T) {
	sn := pct(4, TypeSN, "10")
	sn.Scope = Scope{VendorID: 7, Currency: "EUR"}

	res, err := Resolve(Selection{SN: sn, Scope: Scope{VendorID: 8, Currency: "EUR"}})
	require.NoError(t, err)
	assert.Equal(t, SkipOutOfScope, res.Breakdown[3].SkipReason)
	assert.True(t, res.CombinedFactor.Equal(decimal.NewFromInt(1)))

	res, err = Resolve(Selection{SN: sn, Scope: Scope{VendorID: 7, Currency: "eur"}})
	require.NoError(t, err)
	assert.True(t, res.Breakdown[3].Applied)
}

func TestResolveRejectsInvalidPercentages(t *testing.T) {
	cases := []Selection{
		{MultiYear: pct(1, TypeMultiYear, "-1")},
		{PrePay: pct(2, TypePrePay, "100.01")},
		{Custom: decimal.NewNullDecimal(d("120"))},
	}
	for _, sel := range cases {
		_, err := Resolve(sel)
		var invalid *InvalidDiscountValueError
		require.True(t, errors.As(err, &invalid), "expected InvalidDiscountValueError, got %v", err)
	}

	res, err := Resolve(Selection{MultiYear: pct(1, TypeMultiYear, "100"), Custom: decimal.NewNullDecimal(d("0"))})
	require.NoError(t, err)
	assert.True(t, res.CombinedFactor.IsZero())
}

func TestCombinedFactorIsMonotonic(t *testing.T) {
	steps := []string{"0", "5", "12.5", "40", "99", "100"}
	for _, base := range steps {
		prev := decimal.NewFromInt(2)
		for _, v := range steps {
			res, err := Resolve(Selection{
				MultiYear: pct(1, TypeMultiYear, base),
				PrePay:    pct(2, TypePrePay, v),
				Custom:    decimal.NewNullDecimal(d("3")),
			})
			require.NoError(t, err)
			assert.True(t, res.CombinedFactor.LessThanOrEqual(prev), "factor increased at base=%s pct=%s", base, v)
			prev = res.CombinedFactor
		}
	}
}

type stubLookup map[Type]map[int64]Discount

func (s stubLookup) Discount(_ context.Context, t Type, id int64) (Discount, error) {
	if d, ok := s[t][id]; ok {
		return d, nil
	}
	return Discount{}, ErrNotFound
}

func TestResolverLoadsReferences(t *testing.T) {
	lookup := stubLookup{
		TypeMultiYear: {11: {ID: 11, Value: d("10")}},
		TypeSN:        {44: {ID: 44, Value: d("50")}},
	}
	my, sn := int64(11), int64(44)
	resolver := NewResolver(lookup)

	res, err := resolver.Resolve(context.Background(), Refs{MultiYear: &my, SN: &sn}, decimal.NullDecimal{}, d("100"), d("100"), Scope{})
	require.NoError(t, err)
	assert.True(t, res.CombinedFactor.Equal(d("0.45")))
	assert.Equal(t, TypeMultiYear, res.Breakdown[0].Type)
	assert.Equal(t, int64(11), res.Breakdown[0].DiscountID)

	missing := int64(99)
	_, err = resolver.Resolve(context.Background(), Refs{PrePay: &missing}, decimal.NullDecimal{}, d("1"), d("1"), Scope{})
	require.ErrorIs(t, err, ErrNotFound)
}
