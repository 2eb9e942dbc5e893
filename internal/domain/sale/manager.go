package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/flashsale-engine/internal/domain/ledger"
	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/product"
)

// Counters is the part of the quantity ledger that sale administration
// drives.
type Counters interface {
	Register(ctx context.Context, saleID string, total int) error
	Adopt(ctx context.Context, saleID string, c ledger.Counter) (bool, error)
	Snapshot(ctx context.Context, saleID string) (ledger.Counter, error)
	Forget(ctx context.Context, saleID string) error
}

var _ Counters = (*ledger.Ledger)(nil)

// Manager implements sale administration on top of a Repository and the
// ledger.
type Manager struct {
	sales    Repository
	catalog  product.Catalog
	counters Counters
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(sales Repository, catalog product.Catalog, counters Counters) *Manager {
	return &Manager{
		sales:    sales,
		catalog:  catalog,
		counters: counters,
		now:      time.Now,
	}
}

// Create validates p, checks that the discount lowers the price of every
// listed product, stores the sale as a draft and registers its counter. A
// counter that already exists in a shared store is kept as is.
func (m *Manager) Create(ctx context.Context, p Params) (*Sale, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	s, err := New(p, m.now())
	if err != nil {
		return nil, err
	}

	products, err := m.catalog.GetByIDs(ctx, s.ProductIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(products))
	for _, prod := range products {
		byID[prod.ID] = prod
	}

	for _, id := range s.ProductIDs {
		prod, ok := byID[id]
		if !ok {
			return nil, &ValidationError{
				Field:  "productIds",
				Reason: fmt.Sprintf("product %q", id),
				Err:    product.ErrNotFound,
			}
		}
		if err := pricing.CheckAgainst(prod.BasePrice, s.Discount); err != nil {
			return nil, &ValidationError{
				Field:  "discount",
				Reason: fmt.Sprintf("product %q priced %s", id, prod.BasePrice.StringFixed(pricing.Places)),
				Err:    err,
			}
		}
	}

	if err := m.sales.Create(ctx, s); err != nil {
		return nil, errors.Wrap(err, "create sale")
	}

	created, err := m.counters.Adopt(ctx, s.ID, ledger.Counter{Total: s.TotalQuantity})
	if err != nil {
		if delErr := m.sales.Delete(ctx, s.ID); delErr != nil {
			zctx.From(ctx).Error("Failed to roll back sale without counter",
				zap.String("sale_id", s.ID),
				zap.Error(delErr),
			)
		}
		return nil, errors.Wrap(err, "register counter")
	}
	if !created {
		zctx.From(ctx).Debug("Kept existing sale counter", zap.String("sale_id", s.ID))
	}

	return s, nil
}

// Get returns a sale with its sold quantity read from the ledger.
func (m *Manager) Get(ctx context.Context, id string) (*Sale, error) {
	s, err := m.sales.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c, err := m.counters.Snapshot(ctx, id)
	switch {
	case err == nil:
		s.SoldQuantity, s.TotalQuantity = c.Sold, c.Total
	case errors.Is(err, ledger.ErrUnknownSale), errors.Is(err, ledger.ErrCorrupted):
		// Keep the stored values; corruption is already logged by the ledger.
	default:
		return nil, errors.Wrap(err, "snapshot counter")
	}
	return s, nil
}

// List returns all sales as stored.
func (m *Manager) List(ctx context.Context) ([]*Sale, error) {
	sales, err := m.sales.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list sales")
	}
	return sales, nil
}

// Cancel suppresses a sale regardless of its window. Cancelling twice is
// a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) (*Sale, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Cancelled() {
		return s, nil
	}

	s.AdminStatus = StatusCancelled
	s.UpdatedAt = m.now().UTC()
	if err := m.sales.Update(ctx, s); err != nil {
		return nil, errors.Wrap(err, "update sale")
	}

	zctx.From(ctx).Info("Sale cancelled", zap.String("sale_id", id))
	return s, nil
}

// SetTotalQuantity changes the number of units on offer. It is only allowed
// before the window opens and while nothing is sold.
func (m *Manager) SetTotalQuantity(ctx context.Context, id string, total int) (*Sale, error) {
	if total < 0 {
		return nil, &ValidationError{Field: "totalQuantity", Reason: "must not be negative"}
	}

	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Phase(m.now()) != PhaseUpcoming || s.SoldQuantity > 0 {
		return nil, ErrQuantityLocked
	}

	s.TotalQuantity = total
	s.UpdatedAt = m.now().UTC()
	if err := m.sales.Update(ctx, s); err != nil {
		return nil, errors.Wrap(err, "update sale")
	}
	if err := m.counters.Register(ctx, id, total); err != nil {
		return nil, errors.Wrap(err, "register counter")
	}
	return s, nil
}

// Delete removes a sale that has not sold anything. A sale with sold units
// is left untouched and ErrConflict is returned.
func (m *Manager) Delete(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.SoldQuantity > 0 {
		return ErrConflict
	}

	// Retire the counter first: it refuses atomically if a reservation
	// landed after the snapshot, and later reservations find no counter.
	if err := m.counters.Forget(ctx, id); err != nil {
		if errors.Is(err, ledger.ErrInUse) {
			return ErrConflict
		}
		return errors.Wrap(err, "forget counter")
	}

	if err := m.sales.Delete(ctx, id); err != nil {
		if _, rerr := m.counters.Adopt(ctx, id, ledger.Counter{Total: s.TotalQuantity}); rerr != nil {
			zctx.From(ctx).Error("Failed to restore counter of undeleted sale",
				zap.String("sale_id", id),
				zap.Error(rerr),
			)
		}
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return err
		}
		return errors.Wrap(err, "delete sale")
	}
	return nil
}
