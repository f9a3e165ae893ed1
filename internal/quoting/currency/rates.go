package currency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Rate binds a currency (optionally scoped to a country) to a rate effective
// from a date. Value is the number of reporting units per unit of Currency.
type Rate struct {
	Currency  string
	CountryID int64
	AsOf      time.Time
	Value     decimal.Decimal
}

// RateSource resolves the rate applicable on a date: the most recent rate
// with AsOf <= asOf for the currency, preferring a country-scoped rate.
type RateSource interface {
	RateFor(ctx context.Context, code string, countryID int64, asOf time.Time) (decimal.Decimal, error)
}

type rateKey struct {
	currency string
	country  int64
}

// RateTable is an in-memory RateSource.
type RateTable struct {
	mu    sync.RWMutex
	rates map[rateKey][]Rate
}

// NewRateTable builds a table from the provided rates.
func NewRateTable(rates ...Rate) *RateTable {
	t := &RateTable{rates: make(map[rateKey][]Rate)}
	for _, r := range rates {
		t.Add(r)
	}
	return t
}

// Add inserts a rate keeping each series ordered by AsOf.
func (t *RateTable) Add(r Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := rateKey{currency: normalise(r.Currency), country: r.CountryID}
	series := append(t.rates[key], r)
	sort.SliceStable(series, func(i, j int) bool { return series[i].AsOf.Before(series[j].AsOf) })
	t.rates[key] = series
}

// RateFor implements RateSource. Country-scoped rates win over currency-wide
// ones (CountryID 0).
func (t *RateTable) RateFor(_ context.Context, code string, countryID int64, asOf time.Time) (decimal.Decimal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur := normalise(code)
	if countryID != 0 {
		if r, ok := latestOnOrBefore(t.rates[rateKey{currency: cur, country: countryID}], asOf); ok {
			return r.Value, nil
		}
	}
	if r, ok := latestOnOrBefore(t.rates[rateKey{currency: cur}], asOf); ok {
		return r.Value, nil
	}
	return decimal.Zero, ErrRateNotFound
}

func latestOnOrBefore(series []Rate, asOf time.Time) (Rate, bool) {
	idx := sort.Search(len(series), func(i int) bool { return series[i].AsOf.After(asOf) })
	if idx == 0 {
		return Rate{}, false
	}
	return series[idx-1], true
}
