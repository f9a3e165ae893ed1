package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/quoting/internal/platform/db"
	"github.com/odyssey-erp/quoting/internal/quoting/discount"
	"github.com/odyssey-erp/quoting/internal/shared"
)

const (
	insertQuoteStmt = `INSERT INTO quotes (name, opportunity_id, customer_id, company_id, location_id,
	country_id, user_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, NULLIF($5, 0), NULLIF($6, 0), $7, $8, $8) RETURNING id`

	insertVersionStmt = `INSERT INTO quote_versions (quote_id, version_number, state, based_on_version_id,
	template_id, currency_code, buy_currency_code, vendor_id, country_id, company_id,
	multi_year_discount_id, pre_pay_discount_id, promotional_discount_id, sn_discount_id,
	custom_discount, buy_price, buy_exchange_rate, margin_value, margin_method,
	sort_column, sort_direction, group_by, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, 0), NULLIF($9, 0), NULLIF($10, 0),
	$11, $12, $13, $14, $15, $16, $17, $18, NULLIF($19, ''), NULLIF($20, ''), NULLIF($21, ''), NULLIF($22, ''), $23, $23)
	RETURNING id`

	cloneGroupsStmt = `INSERT INTO quote_line_groups (version_id, kind, name, replicated_from, created_at)
	SELECT $2, kind, name, id, NOW()
	FROM quote_line_groups WHERE version_id = $1 AND deleted_at IS NULL
	ORDER BY id`

	cloneLinesStmt = `INSERT INTO quote_lines (version_id, kind, group_id, position, product_number,
	description, vendor_code, serial_number, quantity, expiry_date, price, original_price, source_currency,
	exchange_rate, exchange_rate_margin, is_selected, asset_category_id, created_at)
	SELECT $2, l.kind, g.id, l.position, l.product_number,
	l.description, l.vendor_code, l.serial_number, l.quantity, l.expiry_date, l.price, l.original_price, l.source_currency,
	l.exchange_rate, l.exchange_rate_margin, l.is_selected, l.asset_category_id, NOW()
	FROM quote_lines l
	LEFT JOIN quote_line_groups g ON g.replicated_from = l.group_id AND g.version_id = $2
	WHERE l.version_id = $1 AND l.deleted_at IS NULL
	ORDER BY l.position, l.id`
)

// txRepository implements TxRepository.
type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) LockQuote(ctx context.Context, id int64) (Quote, error) {
	return getQuote(ctx, r.tx, id, true)
}

func (r *txRepository) LockVersion(ctx context.Context, id int64) (Version, error) {
	return getVersion(ctx, r.tx, id, true)
}

func (r *txRepository) GetVersion(ctx context.Context, id int64) (Version, error) {
	return getVersion(ctx, r.tx, id, false)
}

func (r *txRepository) LatestVersion(ctx context.Context, quoteID int64) (Version, error) {
	v, err := scanVersion(r.tx.QueryRow(ctx, `SELECT `+versionColumns+` FROM quote_versions
		WHERE quote_id = $1 AND deleted_at IS NULL ORDER BY version_number DESC LIMIT 1`, quoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Version{}, fmt.Errorf("%w: quote %d has no versions", ErrNotFound, quoteID)
		}
		return Version{}, err
	}
	return v, nil
}

// MaxVersionNumber includes discarded versions so numbers are never reused.
func (r *txRepository) MaxVersionNumber(ctx context.Context, quoteID int64) (int, error) {
	var latest int
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(version_number), 0) FROM quote_versions WHERE quote_id = $1`, quoteID).Scan(&latest)
	return latest, err
}

func (r *txRepository) Contents(ctx context.Context, versionID int64) (Contents, error) {
	return LoadContents(ctx, r.tx, versionID)
}

func (r *txRepository) Discounts() discount.Lookup {
	return discount.NewRepository(r.tx)
}

func (r *txRepository) InsertQuote(ctx context.Context, q Quote) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, insertQuoteStmt,
		q.Name, q.OpportunityID, q.CustomerID, q.CompanyID, q.LocationID, q.CountryID, q.UserID, q.CreatedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepository) InsertVersion(ctx context.Context, v Version) (int64, error) {
	p := v.Pricing
	var id int64
	err := r.tx.QueryRow(ctx, insertVersionStmt,
		v.QuoteID, v.VersionNumber, string(v.State), v.BasedOnVersionID,
		p.TemplateID, p.Currency, p.BuyCurrency, p.VendorID, p.CountryID, p.CompanyID,
		p.Discounts.MultiYear, p.Discounts.PrePay, p.Discounts.Promotional, p.Discounts.SN,
		p.CustomDiscount, p.BuyPrice, p.BuyExchangeRate, p.MarginValue, string(p.MarginMethod),
		p.SortColumn, p.SortDirection, p.GroupBy, v.CreatedAt,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err, uniqueVersionNumber) || db.IsSerializationFailure(err) {
			return 0, fmt.Errorf("%w: quote %d version %d", ErrConcurrentVersionCreation, v.QuoteID, v.VersionNumber)
		}
		return 0, err
	}
	return id, nil
}

// CloneContents copies groups and lines of one version into another. Cloned
// groups keep a replicated_from link to their source and cloned lines are
// re-pointed to the cloned groups.
func (r *txRepository) CloneContents(ctx context.Context, fromVersionID, toVersionID int64) error {
	if _, err := r.tx.Exec(ctx, cloneGroupsStmt, fromVersionID, toVersionID); err != nil {
		return fmt.Errorf("clone groups: %w", err)
	}
	if _, err := r.tx.Exec(ctx, cloneLinesStmt, fromVersionID, toVersionID); err != nil {
		return fmt.Errorf("clone lines: %w", err)
	}
	return nil
}

func (r *txRepository) UpdatePricing(ctx context.Context, versionID int64, p Pricing, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quote_versions SET template_id = $2, currency_code = NULLIF($3, ''),
		buy_currency_code = NULLIF($4, ''), vendor_id = NULLIF($5, 0), country_id = NULLIF($6, 0),
		company_id = NULLIF($7, 0), multi_year_discount_id = $8, pre_pay_discount_id = $9,
		promotional_discount_id = $10, sn_discount_id = $11, custom_discount = $12, buy_price = $13,
		buy_exchange_rate = $14, margin_value = $15, margin_method = NULLIF($16, ''),
		sort_column = NULLIF($17, ''), sort_direction = NULLIF($18, ''), group_by = NULLIF($19, ''), updated_at = $20
		WHERE id = $1 AND state = 'draft' AND deleted_at IS NULL`,
		versionID, p.TemplateID, p.Currency, p.BuyCurrency, p.VendorID, p.CountryID, p.CompanyID,
		p.Discounts.MultiYear, p.Discounts.PrePay, p.Discounts.Promotional, p.Discounts.SN,
		p.CustomDiscount, p.BuyPrice, p.BuyExchangeRate, p.MarginValue, string(p.MarginMethod),
		p.SortColumn, p.SortDirection, p.GroupBy, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionImmutable
	}
	return nil
}

func (r *txRepository) MarkSubmitted(ctx context.Context, versionID int64, summary PricingSummary, at time.Time) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode pricing summary: %w", err)
	}
	tag, err := r.tx.Exec(ctx, `UPDATE quote_versions SET state = 'submitted', pricing_summary = $2,
		submitted_at = $3, updated_at = $3
		WHERE id = $1 AND state = 'draft'`, versionID, payload, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// CompareAndSetActive moves the active pointer only when it still equals expected.
func (r *txRepository) CompareAndSetActive(ctx context.Context, quoteID int64, expected *int64, next int64, at time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE quotes SET active_version_id = $3, updated_at = $4
		WHERE id = $1 AND active_version_id IS NOT DISTINCT FROM $2 AND deleted_at IS NULL`,
		quoteID, expected, next, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) MarkActivated(ctx context.Context, versionID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quote_versions SET state = 'activated', activated_at = $2, updated_at = $2
		WHERE id = $1 AND state = 'submitted'`, versionID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkSuperseded leaves activated_at untouched.
func (r *txRepository) MarkSuperseded(ctx context.Context, versionID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE quote_versions SET state = 'superseded', updated_at = $2
		WHERE id = $1 AND state = 'activated'`, versionID, at)
	return err
}

func (r *txRepository) SoftDeleteVersion(ctx context.Context, versionID int64, at time.Time) error {
	if _, err := r.tx.Exec(ctx, `UPDATE quote_lines SET deleted_at = $2 WHERE version_id = $1 AND deleted_at IS NULL`, versionID, at); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `UPDATE quote_line_groups SET deleted_at = $2 WHERE version_id = $1 AND deleted_at IS NULL`, versionID, at); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `UPDATE quote_versions SET state = 'discarded', deleted_at = $2, updated_at = $2
		WHERE id = $1`, versionID, at)
	return err
}

// SoftDeleteQuote cascades the soft delete to versions, groups and lines.
func (r *txRepository) SoftDeleteQuote(ctx context.Context, quoteID int64, at time.Time) error {
	statements := []string{
		`UPDATE quote_lines SET deleted_at = $2 WHERE deleted_at IS NULL
			AND version_id IN (SELECT id FROM quote_versions WHERE quote_id = $1)`,
		`UPDATE quote_line_groups SET deleted_at = $2 WHERE deleted_at IS NULL
			AND version_id IN (SELECT id FROM quote_versions WHERE quote_id = $1)`,
		`UPDATE quote_versions SET deleted_at = $2, updated_at = $2 WHERE quote_id = $1 AND deleted_at IS NULL`,
		`UPDATE quotes SET deleted_at = $2, updated_at = $2 WHERE id = $1`,
	}
	for _, stmt := range statements {
		if _, err := r.tx.Exec(ctx, stmt, quoteID, at); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) RecordAudit(ctx context.Context, entry AuditEntry) error {
	return shared.NewAuditLogger(r.tx).Record(ctx, shared.AuditLog{
		ActorID:       entry.ActorID,
		Action:        entry.Action,
		Entity:        entry.Entity,
		CorrelationID: entry.CorrelationID,
		Meta: map[string]any{
			"previous_state": entry.PreviousState,
			"new_state":      entry.NewState,
		},
		At: entry.At,
	})
}
