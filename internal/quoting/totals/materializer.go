// Package totals materializes denormalized roll-ups of active quote versions
// into the per-dimension totals tables. It is the only writer of those tables.
package totals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/quoting/internal/quoting/currency"
	"github.com/odyssey-erp/quoting/internal/shared"
)

// Store persists totals rows and reads materialization sources.
type Store interface {
	// Snapshot reads the quote, version and lines in one consistent snapshot.
	// Soft-deleted quotes and versions are returned with their flags set.
	Snapshot(ctx context.Context, versionID int64) (Source, error)
	// Checksums returns the checksums of every row sourced from the quote.
	Checksums(ctx context.Context, quoteID int64) ([]string, error)
	// Replace swaps all rows of the quote for rows in one transaction.
	Replace(ctx context.Context, quoteID int64, rows []Row) error
	Retract(ctx context.Context, quoteID int64) error
	ActiveVersions(ctx context.Context) ([]int64, error)
	List(ctx context.Context, dim Dimension, filter Filter) ([]Row, int, error)
	// Rollup sums the listed rows per dimension key.
	Rollup(ctx context.Context, dim Dimension, filter Filter) ([]KeyTotal, int, error)
}

// StatusRecorder receives the outcome of each run.
type StatusRecorder interface {
	MarkFresh(ctx context.Context, quoteID, versionID int64) error
	MarkFailed(ctx context.Context, quoteID, versionID int64, cause error) error
	Clear(ctx context.Context, quoteID int64) error
}

// Outcome describes what a materialization did.
type Outcome string

const (
	OutcomeWritten   Outcome = "written"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeStale     Outcome = "stale"
	OutcomeRetracted Outcome = "retracted"
)

// Option configures a Materializer.
type Option func(*Materializer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Materializer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStatus sets the status recorder.
func WithStatus(status StatusRecorder) Option {
	return func(m *Materializer) {
		m.status = status
	}
}

// Materializer rebuilds totals rows from scratch for one version at a time.
type Materializer struct {
	store     Store
	rates     currency.RateSource
	reporting string
	status    StatusRecorder
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewMaterializer constructs a materializer converting into the reporting currency.
func NewMaterializer(store Store, rates currency.RateSource, reporting string, opts ...Option) *Materializer {
	m := &Materializer{
		store:     store,
		rates:     rates,
		reporting: reporting,
		logger:    slog.Default(),
		tracer:    otel.Tracer("quoting/totals"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize recomputes every totals row of the version's quote. It is safe
// to re-run: unchanged sources are detected by checksum and skipped, versions
// that are no longer active are ignored and deleted quotes are retracted.
// Failures leave the previous rows in place.
func (m *Materializer) Materialize(ctx context.Context, versionID int64) (outcome Outcome, err error) {
	ctx, span := m.tracer.Start(ctx, "totals.materialize", trace.WithAttributes(attribute.Int64("version_id", versionID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("outcome", string(outcome)))
		}
		span.End()
	}()

	src, err := m.store.Snapshot(ctx, versionID)
	if err != nil {
		return "", &MaterializationFailedError{VersionID: versionID, Err: err}
	}
	span.SetAttributes(attribute.Int64("quote_id", src.QuoteID))

	if src.QuoteDeleted {
		if err := m.Retract(ctx, src.QuoteID); err != nil {
			return "", &MaterializationFailedError{VersionID: versionID, Err: err}
		}
		return OutcomeRetracted, nil
	}
	if !src.IsActive() {
		m.logger.Info("skip totals for inactive version",
			slog.Int64("quote_id", src.QuoteID),
			slog.Int64("version_id", versionID),
			slog.String("reason", "version is no longer active"),
		)
		return OutcomeStale, nil
	}

	outcome, err = m.write(ctx, src)
	if err != nil {
		failure := &MaterializationFailedError{VersionID: versionID, Err: err}
		if m.status != nil {
			if serr := m.status.MarkFailed(ctx, src.QuoteID, versionID, err); serr != nil {
				m.logger.Warn("record totals failure", slog.Int64("quote_id", src.QuoteID), slog.Any("error", serr))
			}
		}
		return "", failure
	}
	if m.status != nil {
		if err := m.status.MarkFresh(ctx, src.QuoteID, versionID); err != nil {
			m.logger.Warn("record totals status", slog.Int64("quote_id", src.QuoteID), slog.Any("error", err))
		}
	}
	m.logger.Info("totals materialized",
		slog.Int64("quote_id", src.QuoteID),
		slog.Int64("version_id", versionID),
		slog.String("outcome", string(outcome)),
	)
	return outcome, nil
}

func (m *Materializer) write(ctx context.Context, src Source) (Outcome, error) {
	rate := decimal.NewFromInt(1)
	if !currency.SameCurrency(src.Currency, m.reporting) {
		if m.rates == nil {
			return "", fmt.Errorf("no rate source for %s to %s", src.Currency, m.reporting)
		}
		asOf := time.Now()
		if src.ActivatedAt != nil {
			asOf = *src.ActivatedAt
		}
		var err error
		rate, err = m.rates.RateFor(ctx, src.Currency, src.CountryID, asOf)
		if err != nil {
			return "", fmt.Errorf("rate %s on %s: %w", src.Currency, asOf.Format("2006-01-02"), err)
		}
	}

	rows, err := Build(src, m.reporting, rate)
	if err != nil {
		return "", err
	}
	current, err := m.store.Checksums(ctx, src.QuoteID)
	if err != nil {
		return "", fmt.Errorf("read checksums: %w", err)
	}
	if sameChecksums(current, rows) {
		return OutcomeUnchanged, nil
	}
	if err := m.store.Replace(ctx, src.QuoteID, rows); err != nil {
		return "", fmt.Errorf("replace rows: %w", err)
	}
	return OutcomeWritten, nil
}

// Retract removes every totals row sourced from the quote.
func (m *Materializer) Retract(ctx context.Context, quoteID int64) error {
	if err := m.store.Retract(ctx, quoteID); err != nil {
		return fmt.Errorf("retract totals for quote %d: %w", quoteID, err)
	}
	if m.status != nil {
		if err := m.status.Clear(ctx, quoteID); err != nil {
			m.logger.Warn("clear totals status", slog.Int64("quote_id", quoteID), slog.Any("error", err))
		}
	}
	m.logger.Info("totals retracted", slog.Int64("quote_id", quoteID))
	return nil
}

// RebuildReport summarises a full rebuild.
type RebuildReport struct {
	Versions  int `json:"versions"`
	Written   int `json:"written"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// RebuildAll re-materializes every active version with bounded concurrency.
// Individual failures do not stop the rebuild; they are joined into the error.
func (m *Materializer) RebuildAll(ctx context.Context, concurrency int) (RebuildReport, error) {
	ids, err := m.store.ActiveVersions(ctx)
	if err != nil {
		return RebuildReport{}, fmt.Errorf("list active versions: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		mu     sync.Mutex
		report = RebuildReport{Versions: len(ids)}
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			outcome, err := m.Materialize(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				errs = append(errs, err)
			case outcome == OutcomeWritten:
				report.Written++
			case outcome == OutcomeUnchanged:
				report.Unchanged++
			default:
				report.Skipped++
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

// Page is one page of totals rows.
type Page struct {
	Rows       []Row             `json:"rows"`
	Pagination shared.Pagination `json:"pagination"`
}

// List returns a page of rows for one dimension.
func (m *Materializer) List(ctx context.Context, dim Dimension, filter Filter) (Page, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return Page{}, err
	}
	filter.Page, filter.PerPage = shared.Normalize(filter.Page, filter.PerPage)
	rows, total, err := m.store.List(ctx, dim, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{Rows: rows, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// RollupPage is one page of per-key sums.
type RollupPage struct {
	Totals     []KeyTotal        `json:"totals"`
	Pagination shared.Pagination `json:"pagination"`
}

// Rollup returns a page of per-key sums for one dimension. A customer with
// three active quotes yields one entry carrying the sum of their rows.
func (m *Materializer) Rollup(ctx context.Context, dim Dimension, filter Filter) (RollupPage, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return RollupPage{}, err
	}
	filter.Page, filter.PerPage = shared.Normalize(filter.Page, filter.PerPage)
	totals, count, err := m.store.Rollup(ctx, dim, filter)
	if err != nil {
		return RollupPage{}, err
	}
	return RollupPage{Totals: totals, Pagination: shared.NewPagination(filter.Page, filter.PerPage, count)}, nil
}
