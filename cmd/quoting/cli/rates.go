package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/quoting/internal/quoting/currency"
)

// UsageLister reports which currencies active versions are priced in.
type UsageLister interface {
	ActiveUsages(ctx context.Context) ([]currency.Usage, error)
}

// RatesCLI checks that every currency used by active versions converts into
// the reporting currency.
type RatesCLI struct {
	usages    UsageLister
	rates     currency.RateSource
	reporting string
}

// NewRatesCLI constructs the helper.
func NewRatesCLI(usages UsageLister, rates currency.RateSource, reporting string) (*RatesCLI, error) {
	if usages == nil || rates == nil {
		return nil, errors.New("rates cli: repository required")
	}
	code, err := currency.ValidateCode(reporting)
	if err != nil {
		return nil, err
	}
	return &RatesCLI{usages: usages, rates: rates, reporting: code}, nil
}

// RatesCheckOptions defines the flags of the rates check command.
type RatesCheckOptions struct {
	AsOf       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RateGap is a currency without a usable rate.
type RateGap struct {
	Currency  string `json:"currency"`
	CountryID int64  `json:"country_id"`
}

// RateAvailability is a resolved rate.
type RateAvailability struct {
	Currency  string `json:"currency"`
	CountryID int64  `json:"country_id"`
	Rate      string `json:"rate"`
}

// RatesCheckSummary is the JSON output of rates check.
type RatesCheckSummary struct {
	OK        bool               `json:"ok"`
	Reporting string             `json:"reporting_currency"`
	AsOf      string             `json:"as_of"`
	Gaps      []RateGap          `json:"gaps"`
	Available []RateAvailability `json:"available"`
}

// CheckCommand runs the check and prints the outcome. It returns the process
// exit code: 0 when complete, 10 when gaps exist, 1 on errors.
func (c *RatesCLI) CheckCommand(ctx context.Context, opts RatesCheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	asOf := time.Now().UTC()
	if raw := strings.TrimSpace(opts.AsOf); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rates check: invalid date %q (expected YYYY-MM-DD)\n", opts.AsOf)
			return 1
		}
		asOf = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	summary, err := c.Check(ctx, asOf)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rates check: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rates check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderRatesHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

// Check resolves a rate for every active usage.
func (c *RatesCLI) Check(ctx context.Context, asOf time.Time) (RatesCheckSummary, error) {
	usages, err := c.usages.ActiveUsages(ctx)
	if err != nil {
		return RatesCheckSummary{}, err
	}
	summary := RatesCheckSummary{
		Reporting: c.reporting,
		AsOf:      asOf.Format("2006-01-02"),
		Gaps:      []RateGap{},
		Available: []RateAvailability{},
	}
	for _, u := range usages {
		if currency.SameCurrency(u.Code, c.reporting) {
			continue
		}
		rate, err := c.rates.RateFor(ctx, u.Code, u.CountryID, asOf)
		if errors.Is(err, currency.ErrRateNotFound) {
			summary.Gaps = append(summary.Gaps, RateGap{Currency: u.Code, CountryID: u.CountryID})
			continue
		}
		if err != nil {
			return RatesCheckSummary{}, fmt.Errorf("rate %s: %w", u.Code, err)
		}
		summary.Available = append(summary.Available, RateAvailability{Currency: u.Code, CountryID: u.CountryID, Rate: rate.String()})
	}
	sort.Slice(summary.Gaps, func(i, j int) bool {
		if summary.Gaps[i].Currency == summary.Gaps[j].Currency {
			return summary.Gaps[i].CountryID < summary.Gaps[j].CountryID
		}
		return summary.Gaps[i].Currency < summary.Gaps[j].Currency
	})
	summary.OK = len(summary.Gaps) == 0
	return summary, nil
}

func renderRatesHuman(out io.Writer, s RatesCheckSummary) {
	_, _ = fmt.Fprintf(out, "Rate check into %s as of %s\n", s.Reporting, s.AsOf)
	if s.OK {
		_, _ = fmt.Fprintln(out, "All required exchange rates are present.")
	} else {
		_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(s.Gaps))
		for _, gap := range s.Gaps {
			_, _ = fmt.Fprintf(out, " - %s (country %d)\n", gap.Currency, gap.CountryID)
		}
	}
	for _, a := range s.Available {
		_, _ = fmt.Fprintf(out, " - %s (country %d) = %s\n", a.Currency, a.CountryID, a.Rate)
	}
}
