package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/flashsale-engine/internal/domain/ledger"
)

const (
	loadCounterSQL = `SELECT sold_quantity, total_quantity FROM sales WHERE id = $1`

	swapSoldSQL = `UPDATE sales SET sold_quantity = $3 WHERE id = $1 AND sold_quantity = $2`

	initCounterSQL = `UPDATE sales SET sold_quantity = $2, total_quantity = $3 WHERE id = $1`
)

var _ ledger.Store = (*CounterStore)(nil)

// CounterStore keeps sale counters in the sold_quantity and total_quantity
// columns of the sales table. The compare-and-swap is a single conditional
// UPDATE, and the table CHECK constraint rejects any value outside
// 0..total_quantity.
type CounterStore struct {
	pool *pgxpool.Pool
}

// NewCounterStore returns a CounterStore that uses the given pool.
func NewCounterStore(pool *pgxpool.Pool) *CounterStore {
	return &CounterStore{pool: pool}
}

// Load reads the counter of a sale.
func (s *CounterStore) Load(ctx context.Context, saleID string) (ledger.Counter, error) {
	var c ledger.Counter
	err := s.pool.QueryRow(ctx, loadCounterSQL, saleID).Scan(&c.Sold, &c.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Counter{}, ledger.ErrUnknownSale
		}
		return ledger.Counter{}, errors.Wrapf(err, "load counter %q", saleID)
	}
	return c, nil
}

// CompareAndSwap sets sold_quantity to newSold if it still equals expectedSold.
func (s *CounterStore) CompareAndSwap(ctx context.Context, saleID string, expectedSold, newSold int) (bool, error) {
	tag, err := s.pool.Exec(ctx, swapSoldSQL, saleID, expectedSold, newSold)
	if err != nil {
		if hasCode(err, codeCheckViolation) {
			return false, ledger.ErrCorrupted
		}
		return false, errors.Wrapf(err, "swap counter %q", saleID)
	}
	return tag.RowsAffected() == 1, nil
}

// Init overwrites the counter of an existing sale row.
func (s *CounterStore) Init(ctx context.Context, saleID string, c ledger.Counter) error {
	tag, err := s.pool.Exec(ctx, initCounterSQL, saleID, c.Sold, c.Total)
	if err != nil {
		return errors.Wrapf(err, "init counter %q", saleID)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrUnknownSale
	}
	return nil
}

// Create reports false for an existing sale row: the row carries its
// counter from the moment it is inserted.
func (s *CounterStore) Create(ctx context.Context, saleID string, _ ledger.Counter) (bool, error) {
	if _, err := s.Load(ctx, saleID); err != nil {
		return false, err
	}
	return false, nil
}

// Remove is a no-op: the counter goes away with the sale row, and the row
// delete itself refuses sales with sold units.
func (s *CounterStore) Remove(context.Context, string) error {
	return nil
}
