// Package handler exposes sale administration, checkout reservations and
// storefront price views over HTTP.
package handler

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/flashsale-engine/internal/domain/availability"
	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

// Sales is the sale administration API.
type Sales interface {
	Create(ctx context.Context, p sale.Params) (*sale.Sale, error)
	List(ctx context.Context) ([]*sale.Sale, error)
	Cancel(ctx context.Context, id string) (*sale.Sale, error)
	SetTotalQuantity(ctx context.Context, id string, total int) (*sale.Sale, error)
	Delete(ctx context.Context, id string) error
}

// Availability is the checkout API.
type Availability interface {
	CheckAndReserve(ctx context.Context, req availability.Request) (*availability.Result, error)
	Release(ctx context.Context, saleID string, qty int) error
	Status(ctx context.Context, saleID string) (*availability.Status, error)
}

// Finder resolves the sale applying to a product.
type Finder interface {
	FindActiveSale(ctx context.Context, productID string, now time.Time) (*sale.Sale, error)
	FindActiveSales(ctx context.Context, productIDs []string, now time.Time) (map[string]*sale.Sale, error)
}

var (
	_ Sales        = (*sale.Manager)(nil)
	_ Availability = (*availability.Service)(nil)
	_ Finder       = (*sale.Lookup)(nil)
)

// Config holds non-dependency handler settings.
type Config struct {
	// MaxBodyBytes limits request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
	// RetryAfter is advertised when a reservation lost to contention.
	// Defaults to one second.
	RetryAfter time.Duration
	// Now replaces the wall clock for price views.
	Now func() time.Time
}

// Handler serves the HTTP API.
type Handler struct {
	sales        Sales
	availability Availability
	finder       Finder
	catalog      product.Catalog

	maxBody    int64
	retryAfter time.Duration
	now        func() time.Time
}

// New creates a Handler.
func New(
	cfg Config,
	sales Sales,
	avail Availability,
	finder Finder,
	catalog product.Catalog,
) *Handler {
	h := &Handler{
		sales:        sales,
		availability: avail,
		finder:       finder,
		catalog:      catalog,
		maxBody:      cfg.MaxBodyBytes,
		retryAfter:   cfg.RetryAfter,
		now:          cfg.Now,
	}
	if h.maxBody <= 0 {
		h.maxBody = 64 << 10
	}
	if h.retryAfter <= 0 {
		h.retryAfter = time.Second
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/sales", func(r chi.Router) {
		r.Post("/", h.CreateSale)
		r.Get("/", h.ListSales)
		r.Route("/{saleID}", func(r chi.Router) {
			r.Get("/", h.GetSale)
			r.Delete("/", h.DeleteSale)
			r.Post("/cancel", h.CancelSale)
			r.Put("/quantity", h.SetQuantity)

			r.Post("/reservations", h.Reserve)
			r.Post("/releases", h.Release)
		})
	})

	r.Get("/api/products/sales", h.ProductSales)
	r.Get("/api/products/{productID}/sale", h.ProductSale)
}
