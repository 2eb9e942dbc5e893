package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

var start = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newSale(id string, created time.Time, products ...string) *sale.Sale {
	return &sale.Sale{
		ID:            id,
		Name:          id,
		StartDate:     start,
		EndDate:       start.Add(time.Hour),
		Discount:      pricing.Percentage(decimal.NewFromInt(10)),
		AdminStatus:   sale.StatusDraft,
		TotalQuantity: 5,
		ProductIDs:    products,
		CreatedAt:     created,
	}
}

func TestSaleRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSaleRepository()

	s := newSale("b", start.Add(-time.Hour), "p1")
	require.NoError(t, repo.Create(ctx, s))
	require.ErrorIs(t, repo.Create(ctx, s), sale.ErrDuplicate)
	require.NoError(t, repo.Create(ctx, newSale("a", start.Add(-time.Hour), "p1", "p2")))
	require.NoError(t, repo.Create(ctx, newSale("c", start.Add(-2*time.Hour), "p2")))

	// Stored values are isolated from the caller.
	s.ProductIDs[0] = "mutated"
	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, got.ProductIDs)

	byProduct, err := repo.ListByProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, byProduct, 2)
	assert.Equal(t, "a", byProduct[0].ID)
	assert.Equal(t, "b", byProduct[1].ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	got.AdminStatus = sale.StatusCancelled
	got.SoldQuantity = 99
	require.NoError(t, repo.Update(ctx, got))
	got, err = repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, got.Cancelled())
	assert.Zero(t, got.SoldQuantity)

	active, err := repo.ListActive(ctx, start)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, repo.Delete(ctx, "b"))
	_, err = repo.Get(ctx, "b")
	require.ErrorIs(t, err, sale.ErrNotFound)
	require.ErrorIs(t, repo.Delete(ctx, "b"), sale.ErrNotFound)
	require.ErrorIs(t, repo.Update(ctx, got), sale.ErrNotFound)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(product.Product{ID: "p1", Title: "Bento", BasePrice: decimal.NewFromInt(50)})

	p, err := c.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Bento", p.Title)

	_, err = c.GetProduct(ctx, "p2")
	require.ErrorIs(t, err, product.ErrNotFound)

	require.NoError(t, c.Upsert(ctx, product.Product{ID: "p2", Title: "Udon"}))
	got, err := c.GetByIDs(ctx, []string{"p2", "p3", "p1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p2", got[0].ID)
}
