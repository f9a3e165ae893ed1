package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/quoting/internal/jobs"
	"github.com/odyssey-erp/quoting/internal/platform/cache"
	"github.com/odyssey-erp/quoting/internal/quoting/totals"
	"github.com/odyssey-erp/quoting/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DefaultLockTTL bounds how long one materialization may hold a quote lock.
const DefaultLockTTL = 2 * time.Minute

// Materializer rebuilds totals rows.
type Materializer interface {
	Materialize(ctx context.Context, versionID int64) (totals.Outcome, error)
	Retract(ctx context.Context, quoteID int64) error
	RebuildAll(ctx context.Context, concurrency int) (totals.RebuildReport, error)
}

// Locker serialises work per key across worker processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// TotalsJob processes the totals tasks. Materializations of the same quote
// never overlap.
type TotalsJob struct {
	Materializer Materializer
	Locker       Locker
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	LockTTL      time.Duration
	Concurrency  int
}

// Handlers returns the task registrations of the job.
func (j *TotalsJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskMaterializeTotals, Handler: j.HandleMaterialize},
		{Type: TaskRetractTotals, Handler: j.HandleRetract},
		{Type: TaskRebuildTotals, Handler: j.HandleRebuild},
	}
}

// HandleMaterialize executes TaskMaterializeTotals.
func (j *TotalsJob) HandleMaterialize(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Materializer == nil {
		return errors.New("totals job: materializer not configured")
	}
	var payload MaterializePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.VersionID <= 0 || payload.QuoteID <= 0 {
		j.log(TaskMaterializeTotals).Warn("drop malformed task", slog.String("payload", string(task.Payload())))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskMaterializeTotals)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	err := j.withQuoteLock(ctx, TaskMaterializeTotals, payload.QuoteID, func(ctx context.Context) error {
		outcome, err := j.Materializer.Materialize(ctx, payload.VersionID)
		if err != nil {
			return err
		}
		j.metrics().AddMaterialization(string(outcome))
		return nil
	})
	if errors.Is(err, totals.ErrNotFound) {
		j.log(TaskMaterializeTotals).Warn("version vanished", slog.Int64("version_id", payload.VersionID))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err != nil {
		j.log(TaskMaterializeTotals).Error("materialize totals",
			slog.Int64("quote_id", payload.QuoteID),
			slog.Int64("version_id", payload.VersionID),
			slog.Any("error", err),
		)
	}
	return err
}

// HandleRetract executes TaskRetractTotals.
func (j *TotalsJob) HandleRetract(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Materializer == nil {
		return errors.New("totals job: materializer not configured")
	}
	var payload RetractPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.QuoteID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskRetractTotals)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	err := j.withQuoteLock(ctx, TaskRetractTotals, payload.QuoteID, func(ctx context.Context) error {
		return j.Materializer.Retract(ctx, payload.QuoteID)
	})
	if err != nil {
		j.log(TaskRetractTotals).Error("retract totals", slog.Int64("quote_id", payload.QuoteID), slog.Any("error", err))
		return err
	}
	j.metrics().AddMaterialization(string(totals.OutcomeRetracted))
	return nil
}

// HandleRebuild executes TaskRebuildTotals.
func (j *TotalsJob) HandleRebuild(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Materializer == nil {
		return errors.New("totals job: materializer not configured")
	}
	var payload RebuildPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	concurrency := payload.Concurrency
	if concurrency <= 0 {
		concurrency = j.Concurrency
	}

	tracker := j.metrics().Track(TaskRebuildTotals)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	report, err := j.Materializer.RebuildAll(ctx, concurrency)
	j.log(TaskRebuildTotals).Info("rebuilt totals",
		slog.Int("versions", report.Versions),
		slog.Int("written", report.Written),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return err
}

// withQuoteLock serialises work on one quote across workers. A busy lock
// fails the task so asynq retries it later.
func (j *TotalsJob) withQuoteLock(ctx context.Context, task string, quoteID int64, fn func(context.Context) error) error {
	if j.Locker == nil {
		return fn(ctx)
	}
	ttl := j.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	err := j.Locker.WithLock(ctx, shared.MaterializeLockKey(quoteID), ttl, fn)
	if errors.Is(err, cache.ErrLockNotObtained) {
		j.metrics().AddLockContention(task)
	}
	return err
}

func (j *TotalsJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *TotalsJob) log(task string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", task))
	}
	return slog.Default().With(slog.String("job", task))
}
