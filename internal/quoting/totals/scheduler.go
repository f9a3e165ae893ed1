package totals

import (
	"context"
	"errors"
)

// InlineScheduler runs materializations in the caller's goroutine. It is used
// when no job queue is configured and in tests.
type InlineScheduler struct {
	m *Materializer
}

// NewInlineScheduler wraps a materializer.
func NewInlineScheduler(m *Materializer) *InlineScheduler {
	return &InlineScheduler{m: m}
}

// ScheduleMaterialize materializes the version immediately.
func (s *InlineScheduler) ScheduleMaterialize(ctx context.Context, _ int64, versionID int64) error {
	if s == nil || s.m == nil {
		return errors.New("totals: scheduler not configured")
	}
	_, err := s.m.Materialize(ctx, versionID)
	return err
}

// ScheduleRetract removes the quote's rows immediately.
func (s *InlineScheduler) ScheduleRetract(ctx context.Context, quoteID int64) error {
	if s == nil || s.m == nil {
		return errors.New("totals: scheduler not configured")
	}
	return s.m.Retract(ctx, quoteID)
}
