package jobs

import (
	"time"

	"github.com/hibiken/asynq"
)

const (
	backoffBase = 2 * time.Second
	backoffMax  = 5 * time.Minute
)

// ExponentialBackoff doubles the retry delay per attempt, starting at two
// seconds and capped at five minutes.
func ExponentialBackoff(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := backoffBase
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= backoffMax {
			return backoffMax
		}
	}
	return delay
}
