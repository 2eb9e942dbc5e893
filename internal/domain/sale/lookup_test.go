package sale

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/product"
)

func newSale(id string, spec pricing.Spec, created time.Time, products ...string) *Sale {
	return &Sale{
		ID:            id,
		Name:          "Sale " + id,
		StartDate:     start,
		EndDate:       end,
		Discount:      spec,
		AdminStatus:   StatusScheduled,
		TotalQuantity: 10,
		ProductIDs:    products,
		CreatedAt:     created,
	}
}

func TestFindActiveSale_TieBreakHighestDiscount(t *testing.T) {
	now := start.Add(time.Hour)
	ten := newSale("ten", pricing.Percentage(d("10")), start.Add(-72*time.Hour), "p1")
	quarter := newSale("quarter", pricing.Percentage(d("25")), start.Add(-24*time.Hour), "p1")
	catalog := newCatalog(newTestProduct("p1", d("40.00")))

	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 50 {
		sales := []*Sale{ten, quarter}
		rng.Shuffle(len(sales), func(a, b int) { sales[a], sales[b] = sales[b], sales[a] })

		l := NewLookup(newMockRepo(sales...), catalog)
		got, err := l.FindActiveSale(context.Background(), "p1", now)
		require.NoError(t, err)
		require.Equal(t, "quarter", got.ID, "run %d", i)
	}
}

func TestFindActiveSale(t *testing.T) {
	now := start.Add(time.Hour)
	early := start.Add(-72 * time.Hour)
	late := start.Add(-24 * time.Hour)

	tests := []struct {
		name      string
		sales     []*Sale
		base      string
		want      string
		wantErrIs error
	}{
		{
			name:      "no sales",
			base:      "100.00",
			wantErrIs: ErrNoActiveSale,
		},
		{
			name:  "single active",
			sales: []*Sale{newSale("a", pricing.Percentage(d("10")), early, "p1")},
			base:  "100.00",
			want:  "a",
		},
		{
			name: "cancelled skipped",
			sales: []*Sale{
				func() *Sale {
					s := newSale("a", pricing.Percentage(d("50")), early, "p1")
					s.AdminStatus = StatusCancelled
					return s
				}(),
				newSale("b", pricing.Percentage(d("10")), late, "p1"),
			},
			base: "100.00",
			want: "b",
		},
		{
			name: "only cancelled",
			sales: []*Sale{
				func() *Sale {
					s := newSale("a", pricing.Percentage(d("50")), early, "p1")
					s.AdminStatus = StatusCancelled
					return s
				}(),
			},
			base:      "100.00",
			wantErrIs: ErrNoActiveSale,
		},
		{
			name: "ended and upcoming skipped",
			sales: []*Sale{
				func() *Sale {
					s := newSale("past", pricing.Percentage(d("90")), early, "p1")
					s.StartDate, s.EndDate = start.Add(-48*time.Hour), start.Add(-time.Hour)
					return s
				}(),
				func() *Sale {
					s := newSale("future", pricing.Percentage(d("90")), early, "p1")
					s.StartDate, s.EndDate = end.Add(time.Hour), end.Add(48*time.Hour)
					return s
				}(),
			},
			base:      "100.00",
			wantErrIs: ErrNoActiveSale,
		},
		{
			name: "fixed beats smaller percentage saving",
			sales: []*Sale{
				newSale("pct", pricing.Percentage(d("25")), early, "p1"),
				newSale("fixed", pricing.Fixed(d("30")), late, "p1"),
			},
			base: "100.00",
			want: "fixed",
		},
		{
			name: "percentage beats smaller fixed saving",
			sales: []*Sale{
				newSale("fixed", pricing.Fixed(d("5")), early, "p1"),
				newSale("pct", pricing.Percentage(d("10")), late, "p1"),
			},
			base: "100.00",
			want: "pct",
		},
		{
			name: "equal discount earliest created wins",
			sales: []*Sale{
				newSale("newer", pricing.Percentage(d("20")), late, "p1"),
				newSale("older", pricing.Percentage(d("20")), early, "p1"),
			},
			base: "100.00",
			want: "older",
		},
		{
			name: "equal saving across kinds earliest created wins",
			sales: []*Sale{
				newSale("fixed", pricing.Fixed(d("20")), late, "p1"),
				newSale("pct", pricing.Percentage(d("20")), early, "p1"),
			},
			base: "100.00",
			want: "pct",
		},
		{
			name: "fully tied lowest id wins",
			sales: []*Sale{
				newSale("b", pricing.Percentage(d("20")), early, "p1"),
				newSale("a", pricing.Percentage(d("20")), early, "p1"),
			},
			base: "100.00",
			want: "a",
		},
		{
			name: "unpriceable larger saving skipped",
			sales: []*Sale{
				newSale("too-much", pricing.Fixed(d("100")), early, "p1"),
				newSale("pct", pricing.Percentage(d("10")), late, "p1"),
			},
			base: "100.00",
			want: "pct",
		},
		{
			name: "rounding tie decided by higher value",
			sales: []*Sale{
				newSale("low", pricing.Percentage(d("10")), early, "p1"),
				newSale("high", pricing.Percentage(d("10.4")), late, "p1"),
			},
			base: "0.10",
			want: "high",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLookup(newMockRepo(tt.sales...), newCatalog(newTestProduct("p1", d(tt.base))))

			got, err := l.FindActiveSale(context.Background(), "p1", now)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestFindActiveSale_SkipsUnpriceableDiscount(t *testing.T) {
	// The catalog price dropped to 100.00 after a fixed 150 sale was set up.
	catalog := newCatalog(newTestProduct("p1", d("100.00")))
	l := NewLookup(newMockRepo(newSale("a", pricing.Fixed(d("150")), start, "p1")), catalog)

	_, err := l.FindActiveSale(context.Background(), "p1", start)
	require.ErrorIs(t, err, ErrNoActiveSale)
	assert.Equal(t, 1, catalog.calls)
}

func TestFindActiveSale_CatalogError(t *testing.T) {
	catalog := newCatalog()
	l := NewLookup(newMockRepo(
		newSale("a", pricing.Percentage(d("10")), start, "p1"),
		newSale("b", pricing.Percentage(d("20")), start, "p1"),
	), catalog)

	_, err := l.FindActiveSale(context.Background(), "p1", start)
	require.ErrorIs(t, err, product.ErrNotFound)

	catalog.getErr = errors.New("catalog down")
	_, err = l.FindActiveSale(context.Background(), "p1", start)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoActiveSale)
}

func TestFindActiveSales(t *testing.T) {
	now := start.Add(time.Hour)
	repo := newMockRepo(
		newSale("ten", pricing.Percentage(d("10")), start.Add(-time.Hour), "p1", "p2"),
		newSale("quarter", pricing.Percentage(d("25")), start, "p1"),
		newSale("five-off", pricing.Fixed(d("5")), start, "p2"),
		newSale("fifty-off", pricing.Fixed(d("50")), start, "p4"),
	)
	catalog := newCatalog(
		newTestProduct("p1", d("100.00")),
		newTestProduct("p2", d("100.00")),
		newTestProduct("p3", d("100.00")),
		newTestProduct("p4", d("40.00")),
	)
	l := NewLookup(repo, catalog)

	got, err := l.FindActiveSales(context.Background(), []string{"p1", "p2", "p3", "p4", "unknown"}, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "quarter", got["p1"].ID)
	assert.Equal(t, "ten", got["p2"].ID)
	assert.Equal(t, 1, repo.listCalls)

	got, err = l.FindActiveSales(context.Background(), []string{"p1"}, end.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBest_Empty(t *testing.T) {
	assert.Nil(t, Best(nil, d("10")))
}
