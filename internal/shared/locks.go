package shared

import "fmt"

// MaterializeLockKey builds the redis key serialising totals work per quote.
func MaterializeLockKey(quoteID int64) string {
	return fmt.Sprintf("quoting:quote:%d:materialize:lock", quoteID)
}

// TotalsStatusKey builds the redis key holding a quote's totals status.
func TotalsStatusKey(quoteID int64) string {
	return fmt.Sprintf("quoting:quote:%d:totals:status", quoteID)
}
