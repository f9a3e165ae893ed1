package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("REPORTING_CURRENCY", "eur")
	t.Setenv("TOTALS_MODE", "async")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.ReportingCurrency)
	assert.Equal(t, TotalsModeAsync, cfg.TotalsMode)
	assert.Equal(t, 3, cfg.VersionMaxAttempts)
	assert.False(t, cfg.InlineTotals())
}

func TestLoadConfigRejectsUnknownTotalsMode(t *testing.T) {
	t.Setenv("TOTALS_MODE", "batch")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsInvalidCurrency(t *testing.T) {
	t.Setenv("REPORTING_CURRENCY", "DOLLAR")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigInlineMode(t *testing.T) {
	t.Setenv("TOTALS_MODE", " Inline ")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.InlineTotals())
}
