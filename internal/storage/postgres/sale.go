package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

const saleColumns = `s.id, s.name, s.description, s.start_date, s.end_date,
		s.discount_kind, s.discount_value, s.admin_status,
		s.total_quantity, s.sold_quantity, s.minimum_purchase, s.max_per_order,
		s.created_at, s.updated_at,
		ARRAY(SELECT sp.product_id FROM sale_products sp WHERE sp.sale_id = s.id ORDER BY sp.position)`

const (
	insertSaleSQL = `INSERT INTO sales (id, name, description, start_date, end_date,
			discount_kind, discount_value, admin_status,
			total_quantity, sold_quantity, minimum_purchase, max_per_order,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	insertSaleProductsSQL = `INSERT INTO sale_products (sale_id, product_id, position)
		SELECT $1::text, p.id, p.ord FROM unnest($2::text[]) WITH ORDINALITY AS p(id, ord)`

	getSaleSQL = `SELECT ` + saleColumns + ` FROM sales s WHERE s.id = $1`

	listSalesSQL = `SELECT ` + saleColumns + ` FROM sales s ORDER BY s.created_at, s.id`

	listSalesByProductSQL = `SELECT ` + saleColumns + ` FROM sales s
		WHERE s.id IN (SELECT sale_id FROM sale_products WHERE product_id = $1)
		ORDER BY s.created_at, s.id`

	listActiveSalesSQL = `SELECT ` + saleColumns + ` FROM sales s
		WHERE s.start_date <= $1 AND s.end_date >= $1 AND s.admin_status <> 'cancelled'
		ORDER BY s.created_at, s.id`

	updateSaleSQL = `UPDATE sales SET name = $2, description = $3, start_date = $4, end_date = $5,
			discount_kind = $6, discount_value = $7, admin_status = $8,
			total_quantity = $9, minimum_purchase = $10, max_per_order = $11, updated_at = $12
		WHERE id = $1`

	deleteUnsoldSaleSQL = `DELETE FROM sales WHERE id = $1 AND sold_quantity = 0`

	saleExistsSQL = `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`
)

var _ sale.Repository = (*SaleRepository)(nil)

// SaleRepository implements sale.Repository backed by PostgreSQL. Product
// membership lives in the sale_products join table.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// Create inserts a sale together with its product membership.
func (r *SaleRepository) Create(ctx context.Context, s *sale.Sale) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertSaleSQL,
			s.ID, s.Name, s.Description, s.StartDate, s.EndDate,
			string(s.Discount.Kind), s.Discount.Value, string(s.AdminStatus),
			s.TotalQuantity, s.SoldQuantity, s.MinimumPurchase, s.MaxPerOrder,
			s.CreatedAt, s.UpdatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertSaleProductsSQL, s.ID, s.ProductIDs)
		return err
	})
	switch {
	case err == nil:
		return nil
	case hasCode(err, codeUniqueViolation):
		return sale.ErrDuplicate
	case hasCode(err, codeForeignKeyViolation):
		return errors.Wrapf(err, "sale %q references an unknown product", s.ID)
	default:
		return errors.Wrapf(err, "create sale %q", s.ID)
	}
}

// Get returns a sale by ID.
func (r *SaleRepository) Get(ctx context.Context, id string) (*sale.Sale, error) {
	rows, err := r.pool.Query(ctx, getSaleSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get sale %q", id)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sale.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get sale %q", id)
	}
	return s, nil
}

// Update writes the administrator-editable fields. Sold quantity and
// product membership are left alone.
func (r *SaleRepository) Update(ctx context.Context, s *sale.Sale) error {
	tag, err := r.pool.Exec(ctx, updateSaleSQL,
		s.ID, s.Name, s.Description, s.StartDate, s.EndDate,
		string(s.Discount.Kind), s.Discount.Value, string(s.AdminStatus),
		s.TotalQuantity, s.MinimumPurchase, s.MaxPerOrder, s.UpdatedAt,
	)
	if err != nil {
		if hasCode(err, codeCheckViolation) {
			return sale.ErrQuantityLocked
		}
		return errors.Wrapf(err, "update sale %q", s.ID)
	}
	if tag.RowsAffected() == 0 {
		return sale.ErrNotFound
	}
	return nil
}

// Delete removes a sale that has nothing sold. The sold check and the delete
// are one statement.
func (r *SaleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteUnsoldSaleSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete sale %q", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, saleExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check sale %q", id)
	}
	if exists {
		return sale.ErrConflict
	}
	return sale.ErrNotFound
}

// ListByProduct returns every sale that references the product, oldest first.
func (r *SaleRepository) ListByProduct(ctx context.Context, productID string) ([]*sale.Sale, error) {
	return r.list(ctx, listSalesByProductSQL, productID)
}

// ListActive returns the non-cancelled sales whose window contains now.
func (r *SaleRepository) ListActive(ctx context.Context, now time.Time) ([]*sale.Sale, error) {
	return r.list(ctx, listActiveSalesSQL, now)
}

// List returns all sales, oldest first.
func (r *SaleRepository) List(ctx context.Context) ([]*sale.Sale, error) {
	return r.list(ctx, listSalesSQL)
}

func (r *SaleRepository) list(ctx context.Context, sql string, args ...any) ([]*sale.Sale, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list sales")
	}
	sales, err := pgx.CollectRows(rows, scanSale)
	if err != nil {
		return nil, errors.Wrap(err, "scan sales")
	}
	return sales, nil
}

func scanSale(row pgx.CollectableRow) (*sale.Sale, error) {
	var (
		s      sale.Sale
		kind   string
		status string
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.StartDate, &s.EndDate,
		&kind, &s.Discount.Value, &status,
		&s.TotalQuantity, &s.SoldQuantity, &s.MinimumPurchase, &s.MaxPerOrder,
		&s.CreatedAt, &s.UpdatedAt,
		&s.ProductIDs,
	)
	if err != nil {
		return nil, err
	}

	s.Discount.Kind = pricing.Kind(kind)
	s.AdminStatus = sale.AdminStatus(status)
	s.StartDate = s.StartDate.UTC()
	s.EndDate = s.EndDate.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}
