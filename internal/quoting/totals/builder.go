package totals

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quoting/internal/quoting/aggregate"
	"github.com/odyssey-erp/quoting/internal/quoting/currency"
	"github.com/odyssey-erp/quoting/internal/quoting/refs"
)

// storedScale matches numeric(20,6) so that rows read back compare equal.
const storedScale = 6

// Build computes every totals row for a snapshot. Amounts are aggregated over
// all lines in the version currency and converted to the reporting currency
// with rate. The output order is deterministic.
func Build(src Source, reporting string, rate decimal.Decimal) ([]Row, error) {
	if src.ActivatedAt == nil {
		return nil, fmt.Errorf("%w: version %d", ErrNotActivated, src.VersionID)
	}
	agg, err := aggregate.Aggregate(src.Lines, aggregate.Options{
		GroupBy:      aggregate.GroupByCategory,
		SelectedOnly: false,
		Currency:     src.Currency,
	})
	if err != nil {
		return nil, err
	}

	base := Row{
		QuoteID:    src.QuoteID,
		VersionID:  src.VersionID,
		CustomerID: src.CustomerID,
		CompanyID:  src.CompanyID,
		CountryID:  src.CountryID,
		UserID:     src.UserID,
		Currency:   strings.ToUpper(reporting),
		AsOf:       src.ActivatedAt.UTC().Truncate(time.Microsecond),
	}
	convert := func(amount decimal.Decimal) (decimal.Decimal, error) {
		out, err := currency.Convert(amount, src.Currency, reporting, rate, decimal.Zero)
		if err != nil {
			return decimal.Zero, err
		}
		return out.Round(storedScale), nil
	}
	quoteRow := base
	if quoteRow.Subtotal, err = convert(agg.TotalSubtotal); err != nil {
		return nil, err
	}
	if quoteRow.SelectedSubtotal, err = convert(agg.SelectedSubtotal); err != nil {
		return nil, err
	}
	quoteRow.LineCount = agg.TotalCount
	quoteRow.SelectedCount = agg.SelectedCount

	rows := make([]Row, 0, 4+len(agg.Groups))
	add := func(dim Dimension, id int64, from Row) {
		if id == 0 {
			return
		}
		from.Dimension = dim
		from.Key = refs.New(dim.Kind(), id)
		rows = append(rows, from)
	}
	add(DimensionQuote, src.QuoteID, quoteRow)
	add(DimensionCustomer, src.CustomerID, quoteRow)
	add(DimensionLocation, src.LocationID, quoteRow)

	categories, err := categoryRows(src, agg, base, convert)
	if err != nil {
		return nil, err
	}
	rows = append(rows, categories...)
	add(DimensionOpportunity, src.OpportunityID, quoteRow)

	for i := range rows {
		rows[i].Checksum = Checksum(rows[i])
	}
	return rows, nil
}

func categoryRows(src Source, agg aggregate.Result, base Row, convert func(decimal.Decimal) (decimal.Decimal, error)) ([]Row, error) {
	type bucket struct {
		id                   int64
		total, selected      decimal.Decimal
		count, selectedCount int
	}
	buckets := make(map[int64]*bucket)
	for _, l := range agg.Lines {
		if l.AssetCategoryID == 0 {
			continue
		}
		b, ok := buckets[l.AssetCategoryID]
		if !ok {
			b = &bucket{id: l.AssetCategoryID, total: decimal.Zero, selected: decimal.Zero}
			buckets[l.AssetCategoryID] = b
		}
		b.total = b.total.Add(l.Amount)
		b.count++
		if l.Selected {
			b.selected = b.selected.Add(l.Amount)
			b.selectedCount++
		}
	}
	ids := make([]int64, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		b := buckets[id]
		row := base
		row.Dimension = DimensionAssetCategory
		row.Key = refs.New(refs.KindAssetCategory, id)
		var err error
		if row.Subtotal, err = convert(b.total); err != nil {
			return nil, err
		}
		if row.SelectedSubtotal, err = convert(b.selected); err != nil {
			return nil, err
		}
		row.LineCount = b.count
		row.SelectedCount = b.selectedCount
		rows = append(rows, row)
	}
	return rows, nil
}

// Checksum hashes the canonical content of a row.
func Checksum(r Row) string {
	canonical := strings.Join([]string{
		string(r.Dimension),
		r.Key.String(),
		fmt.Sprint(r.QuoteID),
		fmt.Sprint(r.VersionID),
		fmt.Sprint(r.CustomerID),
		fmt.Sprint(r.CompanyID),
		fmt.Sprint(r.CountryID),
		fmt.Sprint(r.UserID),
		r.Currency,
		r.Subtotal.StringFixed(storedScale),
		fmt.Sprint(r.LineCount),
		r.SelectedSubtotal.StringFixed(storedScale),
		fmt.Sprint(r.SelectedCount),
		r.AsOf.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// sameChecksums reports whether two row sets are identical regardless of order.
func sameChecksums(current []string, rows []Row) bool {
	if len(current) != len(rows) {
		return false
	}
	next := make([]string, 0, len(rows))
	for _, r := range rows {
		next = append(next, r.Checksum)
	}
	sort.Strings(next)
	sorted := append([]string(nil), current...)
	sort.Strings(sorted)
	for i := range next {
		if next[i] != sorted[i] {
			return false
		}
	}
	return true
}
