// Package seed loads a product catalog and sale definitions into storage.
package seed

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
	"github.com/xenking/flashsale-engine/internal/wire"
)

// ProductWriter stores catalog products.
type ProductWriter interface {
	Upsert(ctx context.Context, p product.Product) error
}

// SaleCreator creates sales. *sale.Manager implements it.
type SaleCreator interface {
	Create(ctx context.Context, p sale.Params) (*sale.Sale, error)
}

// Report counts what Load did.
type Report struct {
	Products int
	Sales    int
	// Existing counts sale definitions whose ID was already taken.
	Existing int
}

// Load upserts every product, then creates every sale. Sales that already
// exist are left alone, so Load can run on every deploy.
func Load(
	ctx context.Context,
	products ProductWriter,
	sales SaleCreator,
	catalog []product.Product,
	defs []sale.Params,
) (Report, error) {
	var r Report
	for _, p := range catalog {
		if err := products.Upsert(ctx, p); err != nil {
			return r, errors.Wrapf(err, "upsert product %q", p.ID)
		}
		r.Products++
	}
	for _, p := range defs {
		_, err := sales.Create(ctx, p)
		switch {
		case err == nil:
			r.Sales++
		case errors.Is(err, sale.ErrDuplicate):
			r.Existing++
		default:
			return r, errors.Wrapf(err, "create sale %q", p.ID)
		}
	}
	return r, nil
}

// LoadJSON decodes the JSON arrays and calls Load.
func LoadJSON(ctx context.Context, products ProductWriter, sales SaleCreator, catalogJSON, salesJSON []byte) (Report, error) {
	catalog, err := wire.ProductList(catalogJSON)
	if err != nil {
		return Report{}, errors.Wrap(err, "decode products")
	}
	defs, err := wire.SaleList(salesJSON)
	if err != nil {
		return Report{}, errors.Wrap(err, "decode sales")
	}
	return Load(ctx, products, sales, catalog, defs)
}
