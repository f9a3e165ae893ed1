package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quoting/internal/platform/db"
	"github.com/odyssey-erp/quoting/internal/quoting/aggregate"
	"github.com/odyssey-erp/quoting/internal/quoting/discount"
)

// Repository defines read access and transactional writes for quotes and versions.
type Repository interface {
	GetQuote(ctx context.Context, id int64) (Quote, error)
	GetVersion(ctx context.Context, id int64) (Version, error)
	ListVersions(ctx context.Context, quoteID int64) ([]Version, error)
	Contents(ctx context.Context, versionID int64) (Contents, error)
	Discounts() discount.Lookup

	WithTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available inside one transaction.
type TxRepository interface {
	LockQuote(ctx context.Context, id int64) (Quote, error)
	LockVersion(ctx context.Context, id int64) (Version, error)
	GetVersion(ctx context.Context, id int64) (Version, error)
	LatestVersion(ctx context.Context, quoteID int64) (Version, error)
	MaxVersionNumber(ctx context.Context, quoteID int64) (int, error)
	Contents(ctx context.Context, versionID int64) (Contents, error)
	Discounts() discount.Lookup

	InsertQuote(ctx context.Context, q Quote) (int64, error)
	InsertVersion(ctx context.Context, v Version) (int64, error)
	CloneContents(ctx context.Context, fromVersionID, toVersionID int64) error
	UpdatePricing(ctx context.Context, versionID int64, p Pricing, at time.Time) error
	MarkSubmitted(ctx context.Context, versionID int64, summary PricingSummary, at time.Time) error
	CompareAndSetActive(ctx context.Context, quoteID int64, expected *int64, next int64, at time.Time) (bool, error)
	MarkActivated(ctx context.Context, versionID int64, at time.Time) error
	MarkSuperseded(ctx context.Context, versionID int64, at time.Time) error
	SoftDeleteVersion(ctx context.Context, versionID int64, at time.Time) error
	SoftDeleteQuote(ctx context.Context, quoteID int64, at time.Time) error
	RecordAudit(ctx context.Context, entry AuditEntry) error
}

// Queryer is satisfied by both the pool and a transaction.
type Queryer interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const uniqueVersionNumber = "quote_versions_quote_id_version_number_key"

const quoteColumns = `id, name, opportunity_id, customer_id, company_id, COALESCE(location_id, 0),
	COALESCE(country_id, 0), user_id, active_version_id, created_at, updated_at, deleted_at`

const versionColumns = `id, quote_id, version_number, state, based_on_version_id, template_id,
	COALESCE(currency_code, ''), COALESCE(buy_currency_code, ''), COALESCE(vendor_id, 0),
	COALESCE(country_id, 0), COALESCE(company_id, 0), multi_year_discount_id, pre_pay_discount_id,
	promotional_discount_id, sn_discount_id, custom_discount, buy_price, buy_exchange_rate,
	COALESCE(margin_value, 0), COALESCE(margin_method, ''), COALESCE(sort_column, ''), COALESCE(sort_direction, ''),
	COALESCE(group_by, ''), pricing_summary, submitted_at, activated_at, created_at, updated_at, deleted_at`

const groupColumns = `id, version_id, kind, name, replicated_from`

const lineColumns = `id, kind, COALESCE(product_number, ''), COALESCE(description, ''),
	COALESCE(vendor_code, ''), COALESCE(serial_number, ''), quantity, expiry_date, price, COALESCE(original_price, price),
	COALESCE(source_currency, ''), exchange_rate, COALESCE(exchange_rate_margin, 0), is_selected, group_id,
	COALESCE(asset_category_id, 0)`

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx runs fn in a transaction at the requested isolation level.
func (r *repository) WithTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(context.Context, TxRepository) error) error {
	return db.WithTxIso(ctx, r.pool, iso, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) GetQuote(ctx context.Context, id int64) (Quote, error) {
	return getQuote(ctx, r.pool, id, false)
}

func (r *repository) GetVersion(ctx context.Context, id int64) (Version, error) {
	return getVersion(ctx, r.pool, id, false)
}

func (r *repository) ListVersions(ctx context.Context, quoteID int64) ([]Version, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+versionColumns+` FROM quote_versions
		WHERE quote_id = $1 AND deleted_at IS NULL ORDER BY version_number`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repository) Contents(ctx context.Context, versionID int64) (Contents, error) {
	return LoadContents(ctx, r.pool, versionID)
}

func (r *repository) Discounts() discount.Lookup {
	return discount.NewRepository(r.pool)
}

func getQuote(ctx context.Context, q Queryer, id int64, lock bool) (Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1 AND deleted_at IS NULL`
	if lock {
		query += ` FOR UPDATE`
	}
	var quote Quote
	err := q.QueryRow(ctx, query, id).Scan(
		&quote.ID, &quote.Name, &quote.OpportunityID, &quote.CustomerID, &quote.CompanyID, &quote.LocationID,
		&quote.CountryID, &quote.UserID, &quote.ActiveVersionID, &quote.CreatedAt, &quote.UpdatedAt, &quote.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, fmt.Errorf("%w: quote %d", ErrNotFound, id)
		}
		return Quote{}, err
	}
	return quote, nil
}

func getVersion(ctx context.Context, q Queryer, id int64, lock bool) (Version, error) {
	query := `SELECT ` + versionColumns + ` FROM quote_versions WHERE id = $1 AND deleted_at IS NULL`
	if lock {
		query += ` FOR UPDATE`
	}
	v, err := scanVersion(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Version{}, fmt.Errorf("%w: version %d", ErrNotFound, id)
		}
		return Version{}, err
	}
	return v, nil
}

func scanVersion(row pgx.Row) (Version, error) {
	var (
		v       Version
		state   string
		method  string
		summary []byte
	)
	p := &v.Pricing
	err := row.Scan(
		&v.ID, &v.QuoteID, &v.VersionNumber, &state, &v.BasedOnVersionID, &p.TemplateID,
		&p.Currency, &p.BuyCurrency, &p.VendorID,
		&p.CountryID, &p.CompanyID, &p.Discounts.MultiYear, &p.Discounts.PrePay,
		&p.Discounts.Promotional, &p.Discounts.SN, &p.CustomDiscount, &p.BuyPrice, &p.BuyExchangeRate,
		&p.MarginValue, &method, &p.SortColumn, &p.SortDirection,
		&p.GroupBy, &summary, &v.SubmittedAt, &v.ActivatedAt, &v.CreatedAt, &v.UpdatedAt, &v.DeletedAt,
	)
	if err != nil {
		return Version{}, err
	}
	v.State = State(state)
	p.MarginMethod = MarginMethod(method)
	if len(summary) > 0 {
		var s PricingSummary
		if err := json.Unmarshal(summary, &s); err != nil {
			return Version{}, fmt.Errorf("decode pricing summary for version %d: %w", v.ID, err)
		}
		v.Summary = &s
	}
	return v, nil
}

// LoadContents reads the live lines and groups of a version.
func LoadContents(ctx context.Context, q Queryer, versionID int64) (Contents, error) {
	var c Contents
	groupRows, err := q.Query(ctx, `SELECT `+groupColumns+`
		FROM quote_line_groups WHERE version_id = $1 AND deleted_at IS NULL ORDER BY id`, versionID)
	if err != nil {
		return Contents{}, err
	}
	names := make(map[int64]string)
	for groupRows.Next() {
		var (
			g    Group
			kind string
		)
		if err := groupRows.Scan(&g.ID, &g.VersionID, &kind, &g.Name, &g.ReplicatedFrom); err != nil {
			groupRows.Close()
			return Contents{}, err
		}
		g.Kind = aggregate.LineKind(kind)
		names[g.ID] = g.Name
		c.Groups = append(c.Groups, g)
	}
	groupRows.Close()
	if err := groupRows.Err(); err != nil {
		return Contents{}, err
	}

	lineRows, err := q.Query(ctx, `SELECT `+lineColumns+`
		FROM quote_lines WHERE version_id = $1 AND deleted_at IS NULL ORDER BY position, id`, versionID)
	if err != nil {
		return Contents{}, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var (
			l    aggregate.Line
			kind string
			qty  decimal.NullDecimal
		)
		if err := lineRows.Scan(&l.ID, &kind, &l.ProductNumber, &l.Description,
			&l.VendorCode, &l.SerialNumber, &qty, &l.ExpiryDate, &l.Price, &l.OriginalPrice,
			&l.SourceCurrency, &l.ExchangeRate, &l.ExchangeRateMargin, &l.Selected, &l.GroupID,
			&l.AssetCategoryID); err != nil {
			return Contents{}, err
		}
		l.Kind = aggregate.LineKind(kind)
		l.Quantity = qty.Decimal
		if l.GroupID != nil {
			l.GroupName = names[*l.GroupID]
		}
		c.Lines = append(c.Lines, l)
	}
	return c, lineRows.Err()
}
