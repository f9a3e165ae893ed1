package aggregate

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quoting/internal/quoting/currency"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(v int64) *int64 { return &v }

func sampleLines() []Line {
	return []Line{
		{ID: 1, ProductNumber: "B-200", Price: d("200"), OriginalPrice: d("180"), Selected: true, GroupID: ptr(10), GroupName: "Servers", VendorCode: "HP"},
		{ID: 2, ProductNumber: "A-100", Price: d("100"), OriginalPrice: d("90"), Selected: false, GroupID: ptr(10), GroupName: "Servers", VendorCode: "DELL"},
		{ID: 3, ProductNumber: "C-300", Price: d("300"), OriginalPrice: d("250"), Selected: true, VendorCode: "HP"},
		{ID: 4, ProductNumber: "A-100", Price: d("50"), OriginalPrice: d("40"), Selected: false, GroupID: ptr(20), GroupName: "Storage"},
	}
}

func TestAggregateTotalsAndSelected(t *testing.T) {
	res, err := Aggregate(sampleLines(), Options{})
	require.NoError(t, err)

	assert.True(t, res.Subtotal.Equal(d("650")))
	assert.Equal(t, 4, res.Count)
	assert.True(t, res.SelectedSubtotal.Equal(d("500")))
	assert.Equal(t, 2, res.SelectedCount)
	assert.True(t, res.TotalSubtotal.Equal(res.Subtotal))

	sel, err := Aggregate(sampleLines(), Options{SelectedOnly: true})
	require.NoError(t, err)
	assert.True(t, sel.Subtotal.Equal(d("500")))
	assert.Equal(t, 2, sel.Count)
	assert.Len(t, sel.Lines, 4)
}

func TestAggregateKeepsUnselectedGroupsVisible(t *testing.T) {
	res, err := Aggregate(sampleLines(), Options{
		SelectedOnly: true,
		Groups:       []Group{{ID: 10, Name: "Servers"}, {ID: 20, Name: "Storage", SourceGroupID: ptr(2)}, {ID: 30, Name: "Empty"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Groups, 4)

	byKey := map[string]GroupTotal{}
	for _, g := range res.Groups {
		byKey[g.Key] = g
	}
	servers := byKey["group:10"]
	assert.True(t, servers.Subtotal.Equal(d("200")))
	assert.Equal(t, 1, servers.Count)
	assert.Equal(t, 2, servers.TotalCount)

	storage := byKey["group:20"]
	assert.True(t, storage.Subtotal.IsZero())
	assert.Equal(t, 0, storage.Count)
	require.NotNil(t, storage.SourceGroupID)
	assert.Equal(t, int64(2), *storage.SourceGroupID)

	assert.Equal(t, 0, byKey["group:30"].TotalCount)
	assert.True(t, byKey[ungroupedKey].Subtotal.Equal(d("300")))
}

func TestAggregateGroupByVendorAndNone(t *testing.T) {
	res, err := Aggregate(sampleLines(), Options{GroupBy: GroupByVendor})
	require.NoError(t, err)
	require.Len(t, res.Groups, 3)
	assert.Equal(t, "vendor:HP", res.Groups[0].Key)
	assert.True(t, res.Groups[0].Subtotal.Equal(d("500")))

	res, err = Aggregate(sampleLines(), Options{GroupBy: GroupByNone})
	require.NoError(t, err)
	assert.Empty(t, res.Groups)

	_, err = Aggregate(sampleLines(), Options{GroupBy: "colour"})
	require.Error(t, err)
}

func TestAggregateConvertsLinesWithRate(t *testing.T) {
	lines := []Line{
		{ID: 1, OriginalPrice: d("100"), SourceCurrency: "USD", ExchangeRate: decimal.NewNullDecimal(d("1.2")), ExchangeRateMargin: d("5"), Price: d("1"), Selected: true},
		{ID: 2, OriginalPrice: d("100"), Price: d("42"), Selected: true},
	}
	res, err := Aggregate(lines, Options{Currency: "EUR"})
	require.NoError(t, err)
	assert.True(t, res.Lines[0].Amount.Equal(d("126")))
	assert.True(t, res.Lines[1].Amount.Equal(d("42")))
	assert.True(t, res.Subtotal.Equal(d("168")))

	audit, err := Aggregate(lines, Options{Currency: "EUR", UseOriginalPrice: true})
	require.NoError(t, err)
	assert.True(t, audit.Subtotal.Equal(d("200")))
}

func TestAggregateSurfacesInvalidRate(t *testing.T) {
	lines := []Line{{ID: 7, OriginalPrice: d("10"), SourceCurrency: "USD", ExchangeRate: decimal.NewNullDecimal(d("0"))}}
	_, err := Aggregate(lines, Options{Currency: "EUR"})
	var invalid *currency.InvalidRateError
	require.True(t, errors.As(err, &invalid))
}

func TestAggregateSortIsStable(t *testing.T) {
	s, err := ParseSort("product_number", "asc")
	require.NoError(t, err)
	res, err := Aggregate(sampleLines(), Options{Sort: s})
	require.NoError(t, err)

	ids := make([]int64, 0, len(res.Lines))
	for _, l := range res.Lines {
		ids = append(ids, l.ID)
	}
	// Lines 2 and 4 share a product number and keep input order.
	assert.Equal(t, []int64{2, 4, 1, 3}, ids)

	s, err = ParseSort("price", "desc")
	require.NoError(t, err)
	res, err = Aggregate(sampleLines(), Options{Sort: s})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Lines[0].ID)
	assert.Equal(t, int64(4), res.Lines[3].ID)
}

func TestSortByExpiryPlacesMissingDatesLast(t *testing.T) {
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.AddDate(1, 0, 0)
	lines := []Line{{ID: 1}, {ID: 2, ExpiryDate: &late}, {ID: 3, ExpiryDate: &early}}

	res, err := Aggregate(lines, Options{Sort: Sort{Column: ColumnExpiryDate}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Lines[0].ID)
	assert.Equal(t, int64(2), res.Lines[1].ID)
	assert.Equal(t, int64(1), res.Lines[2].ID)
}

func TestParseSortRejectsUnknownColumns(t *testing.T) {
	_, err := ParseSort("colour", "asc")
	require.ErrorIs(t, err, ErrInvalidSort)
	_, err = ParseSort("price", "sideways")
	require.ErrorIs(t, err, ErrInvalidSort)

	s, err := ParseSort("", "")
	require.NoError(t, err)
	assert.Equal(t, ColumnNone, s.Column)
}
