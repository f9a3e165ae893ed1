package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueTotals carries materialization work so it never starves other jobs.
	QueueTotals = "totals"

	// TaskMaterializeTotals rebuilds the totals rows of one activated version.
	TaskMaterializeTotals = "quoting:totals:materialize"
	// TaskRetractTotals removes the totals rows of a deleted quote.
	TaskRetractTotals = "quoting:totals:retract"
	// TaskRebuildTotals re-materializes every active version.
	TaskRebuildTotals = "quoting:totals:rebuild"
)

// DefaultMaxRetry bounds materialization retries when not configured.
const DefaultMaxRetry = 8

// MaterializePayload identifies the version to materialize. QuoteID scopes
// the per-quote lock.
type MaterializePayload struct {
	QuoteID   int64 `json:"quote_id"`
	VersionID int64 `json:"version_id"`
}

// RetractPayload identifies the quote whose rows are removed.
type RetractPayload struct {
	QuoteID int64 `json:"quote_id"`
}

// RebuildPayload configures a full rebuild.
type RebuildPayload struct {
	Concurrency int `json:"concurrency"`
}

// NewMaterializeTask constructs the task for an activated version. The task id
// collapses duplicate enqueues of the same version while one is pending.
func NewMaterializeTask(quoteID, versionID int64, maxRetry int) (*asynq.Task, error) {
	if quoteID <= 0 || versionID <= 0 {
		return nil, fmt.Errorf("materialize task: invalid ids quote=%d version=%d", quoteID, versionID)
	}
	body, err := json.Marshal(MaterializePayload{QuoteID: quoteID, VersionID: versionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMaterializeTotals, body,
		asynq.Queue(QueueTotals),
		asynq.MaxRetry(retries(maxRetry)),
		asynq.TaskID(fmt.Sprintf("materialize:%d", versionID)),
	), nil
}

// NewRetractTask constructs the task for a deleted quote.
func NewRetractTask(quoteID int64, maxRetry int) (*asynq.Task, error) {
	if quoteID <= 0 {
		return nil, fmt.Errorf("retract task: invalid quote id %d", quoteID)
	}
	body, err := json.Marshal(RetractPayload{QuoteID: quoteID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRetractTotals, body,
		asynq.Queue(QueueTotals),
		asynq.MaxRetry(retries(maxRetry)),
	), nil
}

// NewRebuildTask constructs the nightly rebuild task.
func NewRebuildTask(concurrency int) (*asynq.Task, error) {
	body, err := json.Marshal(RebuildPayload{Concurrency: concurrency})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRebuildTotals, body,
		asynq.Queue(QueueTotals),
		asynq.MaxRetry(1),
		asynq.Timeout(time.Hour),
	), nil
}

func retries(n int) int {
	if n <= 0 {
		return DefaultMaxRetry
	}
	return n
}
