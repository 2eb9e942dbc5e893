package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the slice of the storefront catalog the sale engine needs.
type Product struct {
	ID        string
	Title     string
	Slug      string
	BasePrice decimal.Decimal
}

// Catalog defines read operations for the product catalog.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
