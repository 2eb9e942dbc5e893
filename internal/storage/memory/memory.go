// Package memory implements process-local sale and product storage for
// development and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

var (
	_ sale.Repository = (*SaleRepository)(nil)
	_ product.Catalog = (*Catalog)(nil)
)

// SaleRepository stores sales in a map. Returned sales are copies.
type SaleRepository struct {
	mu    sync.RWMutex
	sales map[string]*sale.Sale
}

// NewSaleRepository returns an empty SaleRepository.
func NewSaleRepository() *SaleRepository {
	return &SaleRepository{sales: make(map[string]*sale.Sale)}
}

func clone(s *sale.Sale) *sale.Sale {
	cp := *s
	cp.ProductIDs = slices.Clone(s.ProductIDs)
	return &cp
}

// Create stores a new sale.
func (r *SaleRepository) Create(_ context.Context, s *sale.Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sales[s.ID]; ok {
		return sale.ErrDuplicate
	}
	r.sales[s.ID] = clone(s)
	return nil
}

// Get returns a sale by ID.
func (r *SaleRepository) Get(_ context.Context, id string) (*sale.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sales[id]
	if !ok {
		return nil, sale.ErrNotFound
	}
	return clone(s), nil
}

// Update replaces the editable fields of a sale, keeping its stored sold
// quantity and product membership.
func (r *SaleRepository) Update(_ context.Context, s *sale.Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.sales[s.ID]
	if !ok {
		return sale.ErrNotFound
	}
	next := clone(s)
	next.SoldQuantity = old.SoldQuantity
	next.ProductIDs = old.ProductIDs
	r.sales[s.ID] = next
	return nil
}

// Delete removes a sale.
func (r *SaleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sales[id]; !ok {
		return sale.ErrNotFound
	}
	delete(r.sales, id)
	return nil
}

// ListByProduct returns the sales referencing the product, oldest first.
func (r *SaleRepository) ListByProduct(_ context.Context, productID string) ([]*sale.Sale, error) {
	return r.filter(func(s *sale.Sale) bool { return s.Includes(productID) }), nil
}

// ListActive returns the non-cancelled sales whose window contains now.
func (r *SaleRepository) ListActive(_ context.Context, now time.Time) ([]*sale.Sale, error) {
	return r.filter(func(s *sale.Sale) bool {
		return !s.Cancelled() && s.Phase(now) == sale.PhaseActive
	}), nil
}

// List returns all sales, oldest first.
func (r *SaleRepository) List(_ context.Context) ([]*sale.Sale, error) {
	return r.filter(func(*sale.Sale) bool { return true }), nil
}

func (r *SaleRepository) filter(keep func(*sale.Sale) bool) []*sale.Sale {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*sale.Sale
	for _, s := range r.sales {
		if keep(s) {
			out = append(out, clone(s))
		}
	}
	slices.SortFunc(out, func(a, b *sale.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Catalog is a fixed in-memory product catalog.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]product.Product
}

// NewCatalog returns a Catalog holding the given products.
func NewCatalog(products ...product.Product) *Catalog {
	c := &Catalog{products: make(map[string]product.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Upsert inserts or replaces a product.
func (c *Catalog) Upsert(_ context.Context, p product.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.products[p.ID] = p
	return nil
}

// GetProduct returns a product by ID.
func (c *Catalog) GetProduct(_ context.Context, id string) (*product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// GetByIDs returns the known products among ids.
func (c *Catalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
