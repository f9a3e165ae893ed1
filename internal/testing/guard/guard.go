// Package guard switches the process into test mode when imported. Test
// packages blank-import it so that wiring code skips Redis and the job queue.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("QUOTING_TEST_MODE") == "" {
			_ = os.Setenv("QUOTING_TEST_MODE", "1")
		}
		if os.Getenv("TOTALS_MODE") == "" {
			_ = os.Setenv("TOTALS_MODE", "inline")
		}
	})
}
