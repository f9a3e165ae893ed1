package discount

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type dbtx interface {
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

var tables = map[Type]string{
	TypeMultiYear:   "multi_year_discounts",
	TypePrePay:      "pre_pay_discounts",
	TypePromotional: "promotional_discounts",
	TypeSN:          "sn_discounts",
}

const discountQuery = `
	SELECT d.id, d.name, d.value, d.duration_months, d.minimum_limit,
	       COALESCE(d.vendor_id, 0), COALESCE(d.country_id, 0), COALESCE(c.code, '')
	FROM %s d
	LEFT JOIN currencies c ON c.id = d.currency_id
	WHERE d.id = $1 AND d.deleted_at IS NULL`

// Repository reads discount definitions from Postgres. It accepts a pool or an
// open transaction so submit can price inside its own snapshot.
type Repository struct {
	db dbtx
}

// NewRepository constructs a discount repository.
func NewRepository(db dbtx) *Repository {
	return &Repository{db: db}
}

// Discount implements Lookup.
func (r *Repository) Discount(ctx context.Context, t Type, id int64) (Discount, error) {
	table, ok := tables[t]
	if !ok {
		return Discount{}, fmt.Errorf("discount: unknown type %q", t)
	}
	query := fmt.Sprintf(discountQuery, table)

	var (
		d        Discount
		duration *int32
		minLimit decimal.NullDecimal
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.Name, &d.Value, &duration, &minLimit,
		&d.Scope.VendorID, &d.Scope.CountryID, &d.Scope.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Discount{}, ErrNotFound
		}
		return Discount{}, err
	}
	if duration != nil {
		months := int(*duration)
		d.DurationMonths = &months
	}
	// Minimum limits only exist on promotions.
	if t == TypePromotional {
		d.MinimumLimit = minLimit
	}
	d.Type = t
	return d, nil
}
