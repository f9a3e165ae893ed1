package totals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/quoting/internal/platform/db"
	"github.com/odyssey-erp/quoting/internal/quoting/refs"
	"github.com/odyssey-erp/quoting/internal/quoting/versions"
	"github.com/odyssey-erp/quoting/internal/shared"
)

const rowColumns = `key_id, quote_id, version_id, customer_id, company_id, country_id, user_id,
	currency, subtotal, line_count, selected_subtotal, selected_count, as_of, checksum`

// Repository is the Postgres Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const snapshotQuery = `SELECT q.id, COALESCE(q.opportunity_id, 0), COALESCE(q.customer_id, 0),
	COALESCE(q.company_id, 0), COALESCE(q.location_id, 0), COALESCE(q.country_id, 0),
	COALESCE(q.user_id, 0), q.active_version_id, q.deleted_at IS NOT NULL,
	v.id, COALESCE(v.currency_code, ''), v.activated_at
	FROM quote_versions v JOIN quotes q ON q.id = v.quote_id
	WHERE v.id = $1`

// Snapshot implements Store. The quote, version and lines are read inside one
// repeatable-read transaction so a concurrent activation cannot tear them.
func (r *Repository) Snapshot(ctx context.Context, versionID int64) (Source, error) {
	var src Source
	err := db.WithTxIso(ctx, r.pool, pgx.RepeatableRead, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, snapshotQuery, versionID).Scan(
			&src.QuoteID, &src.OpportunityID, &src.CustomerID,
			&src.CompanyID, &src.LocationID, &src.CountryID,
			&src.UserID, &src.ActiveVersionID, &src.QuoteDeleted,
			&src.VersionID, &src.Currency, &src.ActivatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: version %d", ErrNotFound, versionID)
			}
			return err
		}
		if src.QuoteDeleted || !src.IsActive() {
			return nil
		}
		contents, err := versions.LoadContents(ctx, tx, versionID)
		if err != nil {
			return err
		}
		src.Lines = contents.Lines
		src.Groups = contents.AggregateGroups()
		return nil
	})
	return src, err
}

// Checksums implements Store.
func (r *Repository) Checksums(ctx context.Context, quoteID int64) ([]string, error) {
	parts := make([]string, 0, len(Dimensions))
	for _, dim := range Dimensions {
		parts = append(parts, `SELECT checksum FROM `+dim.Table()+` WHERE quote_id = $1`)
	}
	rows, err := r.pool.Query(ctx, strings.Join(parts, " UNION ALL "), quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sum string
		if err := rows.Scan(&sum); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Replace implements Store. Readers observe either the previous rows or the
// new rows, never a mix.
func (r *Repository) Replace(ctx context.Context, quoteID int64, rows []Row) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := deleteRows(ctx, tx, quoteID); err != nil {
			return err
		}
		for _, row := range rows {
			_, err := tx.Exec(ctx, `INSERT INTO `+row.Dimension.Table()+` (`+rowColumns+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
				row.Key.ID, row.QuoteID, row.VersionID, row.CustomerID, row.CompanyID, row.CountryID, row.UserID,
				row.Currency, row.Subtotal, row.LineCount, row.SelectedSubtotal, row.SelectedCount, row.AsOf, row.Checksum,
			)
			if err != nil {
				return fmt.Errorf("insert %s row: %w", row.Dimension, err)
			}
		}
		return nil
	})
}

// Retract implements Store.
func (r *Repository) Retract(ctx context.Context, quoteID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return deleteRows(ctx, tx, quoteID)
	})
}

func deleteRows(ctx context.Context, tx pgx.Tx, quoteID int64) error {
	for _, dim := range Dimensions {
		if _, err := tx.Exec(ctx, `DELETE FROM `+dim.Table()+` WHERE quote_id = $1`, quoteID); err != nil {
			return fmt.Errorf("delete %s rows: %w", dim, err)
		}
	}
	return nil
}

// ActiveVersions implements Store.
func (r *Repository) ActiveVersions(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT active_version_id FROM quotes
		WHERE active_version_id IS NOT NULL AND deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List implements Store.
func (r *Repository) List(ctx context.Context, dim Dimension, filter Filter) ([]Row, int, error) {
	where, args := filterClause(filter)
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := `SELECT ` + rowColumns + `, COUNT(*) OVER() FROM ` + dim.Table() + where +
		fmt.Sprintf(` ORDER BY key_id, quote_id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var (
		out   []Row
		total int
	)
	for rows.Next() {
		row := Row{Dimension: dim}
		var keyID int64
		if err := rows.Scan(&keyID, &row.QuoteID, &row.VersionID, &row.CustomerID, &row.CompanyID,
			&row.CountryID, &row.UserID, &row.Currency, &row.Subtotal, &row.LineCount,
			&row.SelectedSubtotal, &row.SelectedCount, &row.AsOf, &row.Checksum, &total); err != nil {
			return nil, 0, err
		}
		row.Key = refs.New(dim.Kind(), keyID)
		out = append(out, row)
	}
	return out, total, rows.Err()
}

const rollupColumns = `key_id, currency, COUNT(*), SUM(subtotal), SUM(line_count),
	SUM(selected_subtotal), SUM(selected_count), MAX(as_of)`

// Rollup implements Store. The filter narrows the quote rows before they are
// summed.
func (r *Repository) Rollup(ctx context.Context, dim Dimension, filter Filter) ([]KeyTotal, int, error) {
	where, args := filterClause(filter)
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := `SELECT ` + rollupColumns + `, COUNT(*) OVER() FROM ` + dim.Table() + where +
		` GROUP BY key_id, currency` +
		fmt.Sprintf(` ORDER BY key_id, currency LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var (
		out   []KeyTotal
		total int
	)
	for rows.Next() {
		kt := KeyTotal{Dimension: dim}
		var keyID int64
		if err := rows.Scan(&keyID, &kt.Currency, &kt.Quotes, &kt.Subtotal, &kt.LineCount,
			&kt.SelectedSubtotal, &kt.SelectedCount, &kt.AsOf, &total); err != nil {
			return nil, 0, err
		}
		kt.Key = refs.New(dim.Kind(), keyID)
		out = append(out, kt)
	}
	return out, total, rows.Err()
}

func filterClause(filter Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(column string, value int64) {
		if value == 0 {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("company_id", filter.CompanyID)
	add("country_id", filter.CountryID)
	add("user_id", filter.UserID)
	add("customer_id", filter.CustomerID)
	if len(where) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(where, " AND "), args
}
