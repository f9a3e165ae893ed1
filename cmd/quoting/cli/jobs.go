package cli

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/quoting/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against Redis.
func NewJobsCLI(opts asynq.RedisClientOpt, maxRetry int) (*JobsCLI, error) {
	client, err := jobs.NewClient(opts, maxRetry)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Stats reports the totals and default queues.
func (c *JobsCLI) Stats(context.Context) ([]jobs.QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	return jobs.Stats(c.inspector)
}

// EnqueueMaterialize schedules one version for the worker.
func (c *JobsCLI) EnqueueMaterialize(ctx context.Context, quoteID, versionID int64) error {
	if c == nil || c.client == nil {
		return errors.New("jobs cli: client not configured")
	}
	return c.client.ScheduleMaterialize(ctx, quoteID, versionID)
}

// EnqueueRebuild schedules a full rebuild on the worker.
func (c *JobsCLI) EnqueueRebuild(ctx context.Context, concurrency int) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueRebuild(ctx, concurrency)
}
