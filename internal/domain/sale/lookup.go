package sale

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/product"
)

// Lookup resolves which sale applies to a product at a given instant.
//
// A product should be in at most one active sale, but nothing stops an
// administrator from configuring overlapping windows. When that happens the
// sale giving the customer the largest saving on the product's base price
// wins, then the earliest created, then the lowest ID.
type Lookup struct {
	sales   Repository
	catalog product.Catalog
}

// NewLookup creates a Lookup over the given repository and catalog.
func NewLookup(sales Repository, catalog product.Catalog) *Lookup {
	return &Lookup{sales: sales, catalog: catalog}
}

// FindActiveSale returns the sale applying to productID at now, or
// ErrNoActiveSale. Sales whose discount does not price the product are
// ignored.
func (l *Lookup) FindActiveSale(ctx context.Context, productID string, now time.Time) (*Sale, error) {
	sales, err := l.sales.ListByProduct(ctx, productID)
	if err != nil {
		return nil, errors.Wrap(err, "list sales by product")
	}

	candidates := activeFor(sales, productID, now)
	if len(candidates) == 0 {
		return nil, ErrNoActiveSale
	}

	p, err := l.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", productID)
	}
	best := Best(priceable(candidates, p.BasePrice), p.BasePrice)
	if best == nil {
		return nil, ErrNoActiveSale
	}
	return best, nil
}

// FindActiveSales resolves the applying sale for each product. Products
// without one are absent from the result. Unknown products are skipped.
func (l *Lookup) FindActiveSales(ctx context.Context, productIDs []string, now time.Time) (map[string]*Sale, error) {
	result := make(map[string]*Sale, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	active, err := l.sales.ListActive(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active sales")
	}
	if len(active) == 0 {
		return result, nil
	}

	products, err := l.catalog.GetByIDs(ctx, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	for _, p := range products {
		candidates := priceable(activeFor(active, p.ID, now), p.BasePrice)
		if len(candidates) == 0 {
			continue
		}
		result[p.ID] = Best(candidates, p.BasePrice)
	}
	return result, nil
}

// Best picks the winning sale among overlapping candidates for a product
// with the given base price. It returns nil for an empty slice.
func Best(candidates []*Sale, base decimal.Decimal) *Sale {
	var best *Sale
	for _, s := range candidates {
		if best == nil || better(s, best, base) {
			best = s
		}
	}
	return best
}

func better(a, b *Sale, base decimal.Decimal) bool {
	sa, sb := pricing.Savings(base, a.Discount), pricing.Savings(base, b.Discount)
	if !sa.Equal(sb) {
		return sa.GreaterThan(sb)
	}
	if a.Discount.Kind == b.Discount.Kind && !a.Discount.Value.Equal(b.Discount.Value) {
		return a.Discount.Value.GreaterThan(b.Discount.Value)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func activeFor(sales []*Sale, productID string, now time.Time) []*Sale {
	var out []*Sale
	for _, s := range sales {
		if s.Cancelled() || !s.Includes(productID) {
			continue
		}
		if s.Phase(now) == PhaseActive {
			out = append(out, s)
		}
	}
	return out
}

// priceable drops sales whose discount no longer leaves a positive price for
// base, for example a fixed discount after the catalog price was lowered.
// Checkout suspends those sales, so they must not be advertised either.
func priceable(sales []*Sale, base decimal.Decimal) []*Sale {
	out := sales[:0:0]
	for _, s := range sales {
		if pricing.CheckAgainst(base, s.Discount) == nil {
			out = append(out, s)
		}
	}
	return out
}
