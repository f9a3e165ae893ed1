// Package versions owns the quote version lifecycle: numbering, cloning,
// submission with frozen pricing, and activation of exactly one version per quote.
package versions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/quoting/internal/quoting/aggregate"
	"github.com/odyssey-erp/quoting/internal/quoting/currency"
	"github.com/odyssey-erp/quoting/internal/quoting/discount"
	"github.com/odyssey-erp/quoting/internal/quoting/refs"
)

// DefaultMaxAttempts bounds internal retries of concurrent creation and activation.
const DefaultMaxAttempts = 3

// TotalsScheduler hands materialization work to the totals pipeline.
type TotalsScheduler interface {
	ScheduleMaterialize(ctx context.Context, quoteID, versionID int64) error
	ScheduleRetract(ctx context.Context, quoteID int64) error
}

// TotalsStatus flags a quote's totals as stale until they are rebuilt.
type TotalsStatus interface {
	MarkRecalculating(ctx context.Context, quoteID int64) error
}

// Metrics receives version operation outcomes.
type Metrics interface {
	VersionOperation(op, outcome string)
	VersionRetry(op string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxAttempts sets the retry bound for create and activate.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithTotals wires the scheduler and status store used after activation and deletion.
func WithTotals(scheduler TotalsScheduler, status TotalsStatus) Option {
	return func(m *Manager) {
		m.scheduler = scheduler
		m.status = status
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager implements the version lifecycle.
type Manager struct {
	repo        Repository
	logger      *slog.Logger
	maxAttempts int
	scheduler   TotalsScheduler
	status      TotalsStatus
	metrics     Metrics
	now         func() time.Time
}

// NewManager constructs a Manager.
func NewManager(repo Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:        repo,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		metrics:     noopMetrics{},
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateQuote opens a quote together with its first draft version.
func (m *Manager) CreateQuote(ctx context.Context, req CreateQuoteRequest) (quote Quote, version Version, err error) {
	defer m.observe("create_quote", &err)

	pricing := req.Pricing.Apply(Pricing{
		CompanyID:    req.CompanyID,
		CountryID:    req.CountryID,
		MarginMethod: MarginMarkup,
	})
	if pricing, err = normalisePricing(pricing); err != nil {
		return Quote{}, Version{}, err
	}

	now := m.now()
	quote = Quote{
		Name:          req.Name,
		OpportunityID: req.OpportunityID,
		CustomerID:    req.CustomerID,
		CompanyID:     req.CompanyID,
		LocationID:    req.LocationID,
		CountryID:     req.CountryID,
		UserID:        req.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	version = Version{VersionNumber: 1, State: StateDraft, Pricing: pricing, CreatedAt: now, UpdatedAt: now}

	err = m.repo.WithTx(ctx, pgx.ReadCommitted, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertQuote(ctx, quote)
		if err != nil {
			return fmt.Errorf("insert quote: %w", err)
		}
		quote.ID = id
		version.QuoteID = id
		if version.ID, err = tx.InsertVersion(ctx, version); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return tx.RecordAudit(ctx, AuditEntry{
			ActorID:       req.UserID,
			Action:        "quote.create",
			Entity:        quote.Ref(),
			CorrelationID: uuid.NewString(),
			NewState:      map[string]any{"version_id": version.ID, "version_number": 1},
			At:            now,
		})
	})
	if err != nil {
		return Quote{}, Version{}, err
	}
	m.logger.Info("quote created", slog.Int64("quote_id", quote.ID), slog.Int64("version_id", version.ID))
	return quote, version, nil
}

// CreateVersion clones a new draft from the requested version, the active
// version, or the latest version, in that order of preference.
func (m *Manager) CreateVersion(ctx context.Context, quoteID int64, req CreateVersionRequest) (created Version, err error) {
	defer m.observe("create_version", &err)

	err = m.withRetry(ctx, "create_version", ErrConcurrentVersionCreation, func() error {
		return m.repo.WithTx(ctx, pgx.ReadCommitted, func(ctx context.Context, tx TxRepository) error {
			quote, err := tx.LockQuote(ctx, quoteID)
			if err != nil {
				return err
			}
			source, err := sourceVersion(ctx, tx, quote, req.BasedOnVersionID)
			if err != nil {
				return err
			}
			latest, err := tx.MaxVersionNumber(ctx, quoteID)
			if err != nil {
				return fmt.Errorf("read max version number: %w", err)
			}

			now := m.now()
			sourceID := source.ID
			next := Version{
				QuoteID:          quoteID,
				VersionNumber:    latest + 1,
				State:            StateDraft,
				BasedOnVersionID: &sourceID,
				Pricing:          source.Pricing,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if next.ID, err = tx.InsertVersion(ctx, next); err != nil {
				return err
			}
			if err := tx.CloneContents(ctx, source.ID, next.ID); err != nil {
				return err
			}
			if err := tx.RecordAudit(ctx, AuditEntry{
				ActorID:       req.ActorID,
				Action:        "version.create",
				Entity:        next.Ref(),
				CorrelationID: uuid.NewString(),
				PreviousState: map[string]any{"source_version_id": source.ID, "source_version_number": source.VersionNumber},
				NewState:      map[string]any{"version_number": next.VersionNumber},
				At:            now,
			}); err != nil {
				return err
			}
			created = next
			return nil
		})
	})
	if err != nil {
		return Version{}, err
	}
	m.logger.Info("quote version created",
		slog.Int64("quote_id", quoteID),
		slog.Int64("version_id", created.ID),
		slog.Int("version_number", created.VersionNumber),
	)
	return created, nil
}

func sourceVersion(ctx context.Context, tx TxRepository, quote Quote, basedOn *int64) (Version, error) {
	switch {
	case basedOn != nil:
		v, err := tx.GetVersion(ctx, *basedOn)
		if err != nil {
			return Version{}, err
		}
		if v.QuoteID != quote.ID {
			return Version{}, fmt.Errorf("%w: version %d does not belong to quote %d", ErrInvalidRequest, v.ID, quote.ID)
		}
		return v, nil
	case quote.ActiveVersionID != nil:
		return tx.GetVersion(ctx, *quote.ActiveVersionID)
	default:
		return tx.LatestVersion(ctx, quote.ID)
	}
}

// UpdateDraft patches the priced fields of a draft version.
func (m *Manager) UpdateDraft(ctx context.Context, versionID int64, req UpdateDraftRequest) (updated Version, err error) {
	defer m.observe("update_draft", &err)

	err = m.repo.WithTx(ctx, pgx.ReadCommitted, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.LockVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if v.State != StateDraft {
			return fmt.Errorf("%w: version %d is %s", ErrVersionImmutable, v.ID, v.State)
		}
		pricing, err := normalisePricing(req.Pricing.Apply(v.Pricing))
		if err != nil {
			return err
		}
		now := m.now()
		if err := tx.UpdatePricing(ctx, v.ID, pricing, now); err != nil {
			return err
		}
		v.Pricing = pricing
		v.UpdatedAt = now
		updated = v
		return nil
	})
	return updated, err
}

// Submit freezes a complete draft together with its computed pricing summary.
// Discounts are read inside the same transaction as the version and its lines.
func (m *Manager) Submit(ctx context.Context, versionID, actorID int64) (submitted Version, err error) {
	defer m.observe("submit", &err)

	err = m.repo.WithTx(ctx, pgx.RepeatableRead, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.LockVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if !v.State.CanTransition(StateSubmitted) {
			return fmt.Errorf("%w: version %d is %s", ErrInvalidState, v.ID, v.State)
		}
		contents, err := tx.Contents(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("load contents: %w", err)
		}
		if missing := v.MissingFields(len(contents.Lines)); len(missing) > 0 {
			return &IncompleteQuoteError{VersionID: v.ID, Missing: missing}
		}
		summary, err := ComputePricing(ctx, v, contents, discount.NewResolver(tx.Discounts()))
		if err != nil {
			return err
		}

		now := m.now()
		if err := tx.MarkSubmitted(ctx, v.ID, summary, now); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, AuditEntry{
			ActorID:       actorID,
			Action:        "version.submit",
			Entity:        v.Ref(),
			CorrelationID: uuid.NewString(),
			PreviousState: map[string]any{"state": v.State},
			NewState:      map[string]any{"state": StateSubmitted, "net_subtotal": summary.NetSubtotal.String()},
			At:            now,
		}); err != nil {
			return err
		}
		v.State = StateSubmitted
		v.SubmittedAt = &now
		v.Summary = &summary
		v.UpdatedAt = now
		submitted = v
		return nil
	})
	if err != nil {
		return Version{}, err
	}
	m.logger.Info("quote version submitted", slog.Int64("version_id", versionID), slog.String("net_subtotal", submitted.Summary.NetSubtotal.String()))
	return submitted, nil
}

// Activate makes a submitted version the quote's active version. The pointer
// swap is a compare-and-set against the value read before the transaction;
// the previously active version becomes superseded with its activated_at kept.
// Totals scheduling happens after commit and never fails the activation.
func (m *Manager) Activate(ctx context.Context, versionID, actorID int64) (activated Version, err error) {
	defer m.observe("activate", &err)

	target, err := m.repo.GetVersion(ctx, versionID)
	if err != nil {
		return Version{}, err
	}

	err = m.withRetry(ctx, "activate", errStaleCompare, func() error {
		before, err := m.repo.GetQuote(ctx, target.QuoteID)
		if err != nil {
			return err
		}
		expected := before.ActiveVersionID

		return m.repo.WithTx(ctx, pgx.ReadCommitted, func(ctx context.Context, tx TxRepository) error {
			quote, err := tx.LockQuote(ctx, target.QuoteID)
			if err != nil {
				return err
			}
			v, err := tx.GetVersion(ctx, versionID)
			if err != nil {
				return err
			}
			if !v.State.CanTransition(StateActivated) {
				return fmt.Errorf("%w: version %d is %s", ErrInvalidState, v.ID, v.State)
			}

			now := m.now()
			ok, err := tx.CompareAndSetActive(ctx, quote.ID, expected, v.ID, now)
			if err != nil {
				return fmt.Errorf("swap active version: %w", err)
			}
			if !ok {
				return errStaleCompare
			}
			// the previous version leaves the activated state first
			previous := map[string]any{"active_version_id": expected}
			if expected != nil && *expected != v.ID {
				prev, err := tx.GetVersion(ctx, *expected)
				switch {
				case err == nil:
					previous["state"] = prev.State
					previous["activated_at"] = prev.ActivatedAt
					if err := tx.MarkSuperseded(ctx, prev.ID, now); err != nil {
						return err
					}
				case !errors.Is(err, ErrNotFound):
					return err
				}
			}
			if err := tx.MarkActivated(ctx, v.ID, now); err != nil {
				return err
			}
			if err := tx.RecordAudit(ctx, AuditEntry{
				ActorID:       actorID,
				Action:        "version.activate",
				Entity:        refs.New(refs.KindQuote, quote.ID),
				CorrelationID: uuid.NewString(),
				PreviousState: previous,
				NewState:      map[string]any{"active_version_id": v.ID},
				At:            now,
			}); err != nil {
				return err
			}

			v.State = StateActivated
			v.ActivatedAt = &now
			v.UpdatedAt = now
			activated = v
			return nil
		})
	})
	if errors.Is(err, errStaleCompare) {
		return Version{}, fmt.Errorf("%w: version %d", ErrStaleActivation, versionID)
	}
	if err != nil {
		return Version{}, err
	}

	m.logger.Info("quote version activated", slog.Int64("quote_id", activated.QuoteID), slog.Int64("version_id", activated.ID))
	m.markRecalculating(ctx, activated.QuoteID)
	if m.scheduler != nil {
		if err := m.scheduler.ScheduleMaterialize(ctx, activated.QuoteID, activated.ID); err != nil {
			m.logger.Error("schedule totals materialization", slog.Int64("version_id", activated.ID), slog.Any("error", err))
		}
	}
	return activated, nil
}

// Discard soft-deletes a draft that is not the active version.
func (m *Manager) Discard(ctx context.Context, versionID, actorID int64) (err error) {
	defer m.observe("discard", &err)

	target, err := m.repo.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	return m.repo.WithTx(ctx, pgx.ReadCommitted, func(ctx context.Context, tx TxRepository) error {
		quote, err := tx.LockQuote(ctx, target.QuoteID)
		if err != nil {
			return err
		}
		v, err := tx.LockVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if quote.IsActive(v.ID) {
			return fmt.Errorf("%w: version %d", ErrActiveVersion, v.ID)
		}
		if !v.State.CanTransition(StateDiscarded) {
			return fmt.Errorf("%w: version %d is %s", ErrInvalidState, v.ID, v.State)
		}
		now := m.now()
		if err := tx.SoftDeleteVersion(ctx, v.ID, now); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, AuditEntry{
			ActorID:       actorID,
			Action:        "version.discard",
			Entity:        v.Ref(),
			CorrelationID: uuid.NewString(),
			PreviousState: map[string]any{"state": v.State},
			NewState:      map[string]any{"state": StateDiscarded},
			At:            now,
		})
	})
}

// DeleteQuote soft-deletes a quote with all its versions and schedules the
// retraction of its totals.
func (m *Manager) DeleteQuote(ctx context.Context, quoteID, actorID int64) (err error) {
	defer m.observe("delete_quote", &err)

	err = m.repo.WithTx(ctx, pgx.ReadCommitted, func(ctx context.Context, tx TxRepository) error {
		quote, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		now := m.now()
		if err := tx.SoftDeleteQuote(ctx, quote.ID, now); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, AuditEntry{
			ActorID:       actorID,
			Action:        "quote.delete",
			Entity:        quote.Ref(),
			CorrelationID: uuid.NewString(),
			PreviousState: map[string]any{"active_version_id": quote.ActiveVersionID},
			At:            now,
		})
	})
	if err != nil {
		return err
	}
	m.markRecalculating(ctx, quoteID)
	if m.scheduler != nil {
		if err := m.scheduler.ScheduleRetract(ctx, quoteID); err != nil {
			m.logger.Error("schedule totals retraction", slog.Int64("quote_id", quoteID), slog.Any("error", err))
		}
	}
	return nil
}

// GetQuote returns a live quote.
func (m *Manager) GetQuote(ctx context.Context, quoteID int64) (Quote, error) {
	return m.repo.GetQuote(ctx, quoteID)
}

// Get returns a live version.
func (m *Manager) Get(ctx context.Context, versionID int64) (Version, error) {
	return m.repo.GetVersion(ctx, versionID)
}

// ListVersions returns the live versions of a quote ordered by number.
func (m *Manager) ListVersions(ctx context.Context, quoteID int64) ([]Version, error) {
	if _, err := m.repo.GetQuote(ctx, quoteID); err != nil {
		return nil, err
	}
	return m.repo.ListVersions(ctx, quoteID)
}

// Pricing returns the frozen summary of a submitted version, or a preview
// computed from current data for a draft.
func (m *Manager) Pricing(ctx context.Context, versionID int64) (PricingSummary, error) {
	v, err := m.repo.GetVersion(ctx, versionID)
	if err != nil {
		return PricingSummary{}, err
	}
	if v.State.Frozen() && v.Summary != nil {
		return *v.Summary, nil
	}
	contents, err := m.repo.Contents(ctx, v.ID)
	if err != nil {
		return PricingSummary{}, fmt.Errorf("load contents: %w", err)
	}
	return ComputePricing(ctx, v, contents, discount.NewResolver(m.repo.Discounts()))
}

func (m *Manager) withRetry(ctx context.Context, op string, retryable error, fn func() error) error {
	var err error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, retryable) {
			return err
		}
		if attempt < m.maxAttempts {
			m.metrics.VersionRetry(op)
			m.logger.Warn("retrying version operation", slog.String("op", op), slog.Int("attempt", attempt), slog.Any("error", err))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

func (m *Manager) markRecalculating(ctx context.Context, quoteID int64) {
	if m.status == nil {
		return
	}
	if err := m.status.MarkRecalculating(ctx, quoteID); err != nil {
		m.logger.Warn("mark totals recalculating", slog.Int64("quote_id", quoteID), slog.Any("error", err))
	}
}

func (m *Manager) observe(op string, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = "error"
	}
	m.metrics.VersionOperation(op, outcome)
}

func normalisePricing(p Pricing) (Pricing, error) {
	var err error
	if p.Currency != "" {
		if p.Currency, err = currency.ValidateCode(p.Currency); err != nil {
			return Pricing{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if p.BuyCurrency != "" {
		if p.BuyCurrency, err = currency.ValidateCode(p.BuyCurrency); err != nil {
			return Pricing{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if p.CustomDiscount.Valid {
		v := p.CustomDiscount.Decimal
		if v.IsNegative() || v.GreaterThan(hundred) {
			return Pricing{}, &discount.InvalidDiscountValueError{Type: discount.TypeCustom, Value: v}
		}
	}
	if p.BuyPrice.Valid && p.BuyPrice.Decimal.IsNegative() {
		return Pricing{}, fmt.Errorf("%w: buy price must not be negative", ErrInvalidRequest)
	}
	if p.BuyExchangeRate.Valid && !p.BuyExchangeRate.Decimal.IsPositive() {
		return Pricing{}, &currency.InvalidRateError{Source: p.BuyCurrency, Target: p.Currency, Rate: p.BuyExchangeRate.Decimal}
	}
	switch p.MarginMethod {
	case "", MarginMarkup:
	case MarginMargin:
		if p.MarginValue.GreaterThanOrEqual(hundred) {
			return Pricing{}, fmt.Errorf("%w: margin must be below 100", ErrInvalidRequest)
		}
	default:
		return Pricing{}, fmt.Errorf("%w: unknown margin method %q", ErrInvalidRequest, p.MarginMethod)
	}
	if _, err := aggregate.ParseSort(p.SortColumn, p.SortDirection); err != nil {
		return Pricing{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return p, nil
}

type noopMetrics struct{}

func (noopMetrics) VersionOperation(string, string) {}
func (noopMetrics) VersionRetry(string)             {}
