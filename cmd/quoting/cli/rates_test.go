package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quoting/internal/quoting/currency"
)

type stubUsages []currency.Usage

func (s stubUsages) ActiveUsages(context.Context) ([]currency.Usage, error) {
	return s, nil
}

func newRatesCLI(t *testing.T, usages stubUsages) *RatesCLI {
	t.Helper()
	table := currency.NewRateTable(currency.Rate{
		Currency: "EUR",
		AsOf:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Value:    decimal.RequireFromString("1.1"),
	})
	cli, err := NewRatesCLI(usages, table, "usd")
	require.NoError(t, err)
	return cli
}

func TestRatesCheckJSONSuccess(t *testing.T) {
	cli := newRatesCLI(t, stubUsages{{Code: "EUR"}, {Code: "USD"}})

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.CheckCommand(context.Background(), RatesCheckOptions{
		AsOf:       "2024-03-01",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())

	var summary RatesCheckSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Equal(t, "USD", summary.Reporting)
	require.Len(t, summary.Available, 1)
	require.Equal(t, "1.1", summary.Available[0].Rate)
}

func TestRatesCheckJSONGaps(t *testing.T) {
	cli := newRatesCLI(t, stubUsages{{Code: "GBP", CountryID: 4}, {Code: "EUR"}, {Code: "JPY"}})

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.CheckCommand(context.Background(), RatesCheckOptions{
		AsOf:       "2024-03-01",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, 10, exitCode)

	var summary RatesCheckSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Equal(t, []RateGap{{Currency: "GBP", CountryID: 4}, {Currency: "JPY"}}, summary.Gaps)
}

func TestRatesCheckBeforeFirstRate(t *testing.T) {
	cli := newRatesCLI(t, stubUsages{{Code: "EUR"}})
	stdout := new(bytes.Buffer)
	exitCode := cli.CheckCommand(context.Background(), RatesCheckOptions{AsOf: "2023-12-31", Stdout: stdout})
	require.Equal(t, 10, exitCode)
	require.Contains(t, stdout.String(), "1 gap(s) detected")
}

func TestRatesCheckInvalidDate(t *testing.T) {
	cli := newRatesCLI(t, nil)
	stderr := new(bytes.Buffer)
	exitCode := cli.CheckCommand(context.Background(), RatesCheckOptions{AsOf: "20240301", Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid date")
}
