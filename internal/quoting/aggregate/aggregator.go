// Package aggregate sums priced rows and assets of a quote version into
// subtotals, counts and per-group partitions.
package aggregate

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quoting/internal/quoting/currency"
)

const ungroupedKey = "ungrouped"

// Aggregate prices every line, partitions the lines and sorts them. It never
// mutates its inputs.
func Aggregate(lines []Line, opts Options) (Result, error) {
	if opts.GroupBy == "" {
		opts.GroupBy = GroupByGroup
	}
	switch opts.GroupBy {
	case GroupByGroup, GroupByVendor, GroupByCategory, GroupByNone:
	default:
		return Result{}, fmt.Errorf("aggregate: unknown grouping %q", opts.GroupBy)
	}

	res := Result{
		Subtotal:         decimal.Zero,
		SelectedSubtotal: decimal.Zero,
		TotalSubtotal:    decimal.Zero,
		Lines:            make([]PricedLine, 0, len(lines)),
	}
	groups := newGroupSet(opts)

	for _, line := range lines {
		amount, err := LineAmount(line, opts)
		if err != nil {
			return Result{}, fmt.Errorf("aggregate: line %d: %w", line.ID, err)
		}
		res.Lines = append(res.Lines, PricedLine{Line: line, Amount: amount})

		res.TotalSubtotal = res.TotalSubtotal.Add(amount)
		res.TotalCount++
		if line.Selected {
			res.SelectedSubtotal = res.SelectedSubtotal.Add(amount)
			res.SelectedCount++
		}

		g := groups.get(line)
		if g == nil {
			continue
		}
		g.TotalCount++
		if opts.SelectedOnly && !line.Selected {
			continue
		}
		g.Subtotal = g.Subtotal.Add(amount)
		g.Count++
	}

	if opts.SelectedOnly {
		res.Subtotal, res.Count = res.SelectedSubtotal, res.SelectedCount
	} else {
		res.Subtotal, res.Count = res.TotalSubtotal, res.TotalCount
	}
	res.Groups = groups.list()
	sortLines(res.Lines, opts.Sort)
	return res, nil
}

// LineAmount returns the amount a line contributes. Lines carrying an exchange
// rate are converted from their original price; the rest use the stored price.
func LineAmount(line Line, opts Options) (decimal.Decimal, error) {
	if opts.UseOriginalPrice {
		return line.OriginalPrice, nil
	}
	if !line.ExchangeRate.Valid {
		return line.Price, nil
	}
	return currency.Convert(line.OriginalPrice, line.SourceCurrency, opts.Currency, line.ExchangeRate.Decimal, line.ExchangeRateMargin)
}

type groupSet struct {
	by    GroupBy
	order []string
	byKey map[string]*GroupTotal
}

func newGroupSet(opts Options) *groupSet {
	gs := &groupSet{by: opts.GroupBy, byKey: make(map[string]*GroupTotal)}
	if opts.GroupBy == GroupByGroup {
		for _, g := range opts.Groups {
			id := g.ID
			gs.add(groupKey(id), &GroupTotal{GroupID: &id, Name: g.Name, SourceGroupID: g.SourceGroupID})
		}
	}
	return gs
}

func (gs *groupSet) add(key string, g *GroupTotal) *GroupTotal {
	if existing, ok := gs.byKey[key]; ok {
		return existing
	}
	g.Key = key
	g.Subtotal = decimal.Zero
	gs.byKey[key] = g
	gs.order = append(gs.order, key)
	return g
}

func (gs *groupSet) get(line Line) *GroupTotal {
	switch gs.by {
	case GroupByGroup:
		if line.GroupID == nil {
			return gs.add(ungroupedKey, &GroupTotal{})
		}
		id := *line.GroupID
		return gs.add(groupKey(id), &GroupTotal{GroupID: &id, Name: line.GroupName})
	case GroupByVendor:
		if line.VendorCode == "" {
			return gs.add(ungroupedKey, &GroupTotal{})
		}
		return gs.add("vendor:"+line.VendorCode, &GroupTotal{Name: line.VendorCode})
	case GroupByCategory:
		if line.AssetCategoryID == 0 {
			return gs.add(ungroupedKey, &GroupTotal{})
		}
		key := "asset_category:" + strconv.FormatInt(line.AssetCategoryID, 10)
		return gs.add(key, &GroupTotal{Name: strconv.FormatInt(line.AssetCategoryID, 10)})
	}
	return nil
}

func (gs *groupSet) list() []GroupTotal {
	out := make([]GroupTotal, 0, len(gs.order))
	for _, key := range gs.order {
		out = append(out, *gs.byKey[key])
	}
	return out
}

func groupKey(id int64) string {
	return "group:" + strconv.FormatInt(id, 10)
}
