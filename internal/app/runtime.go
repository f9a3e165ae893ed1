package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

const testModeEnv = "QUOTING_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

// InTestMode reports whether binaries should skip connecting to Postgres,
// Redis and the job queue. QUOTING_TEST_MODE accepts any strconv.ParseBool
// value; the variable is read once unless RefreshTestMode is called.
func InTestMode() bool {
	testModeInit.Do(RefreshTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads QUOTING_TEST_MODE.
func RefreshTestMode() {
	enabled, err := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(err == nil && enabled)
}
