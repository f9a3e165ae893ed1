package currency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository reads exchange rates from Postgres.
type Repository struct {
	db dbtx
}

// NewRepository constructs a rate repository over a pool or transaction.
func NewRepository(db dbtx) *Repository {
	return &Repository{db: db}
}

// Country-specific rates win over the global rate of the same currency.
const rateQuery = `
	SELECT er.rate
	FROM exchange_rates er
	JOIN currencies c ON c.id = er.currency_id
	WHERE c.code = $1
	  AND (er.country_id = $2 OR er.country_id IS NULL)
	  AND er.date <= $3
	ORDER BY (er.country_id IS NULL), er.date DESC
	LIMIT 1`

// RateFor implements RateSource against the exchange_rates table.
func (r *Repository) RateFor(ctx context.Context, code string, countryID int64, asOf time.Time) (decimal.Decimal, error) {
	var country *int64
	if countryID != 0 {
		country = &countryID
	}
	var rate decimal.Decimal
	if err := r.db.QueryRow(ctx, rateQuery, normalise(code), country, asOf).Scan(&rate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrRateNotFound
		}
		return decimal.Zero, err
	}
	return rate, nil
}

// Usage is a currency priced by at least one active quote version.
type Usage struct {
	Code      string `json:"code"`
	CountryID int64  `json:"country_id"`
}

const activeUsagesQuery = `
	SELECT DISTINCT upper(v.currency_code), COALESCE(q.country_id, 0)
	FROM quotes q
	JOIN quote_versions v ON v.id = q.active_version_id
	WHERE q.deleted_at IS NULL AND v.currency_code IS NOT NULL
	ORDER BY 1, 2`

// ActiveUsages lists the distinct currency and country pairs of active
// versions, which are the rates a totals rebuild needs.
func (r *Repository) ActiveUsages(ctx context.Context) ([]Usage, error) {
	rows, err := r.db.Query(ctx, activeUsagesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.Code, &u.CountryID); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
