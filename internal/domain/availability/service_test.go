package availability

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/flashsale-engine/internal/domain/ledger"
	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

// --- Mock implementations ---

type mockSales struct {
	byID   map[string]*sale.Sale
	getErr error
}

func (m *mockSales) Create(_ context.Context, _ *sale.Sale) error {
	return nil
}

func (m *mockSales) Update(_ context.Context, _ *sale.Sale) error {
	return nil
}

func (m *mockSales) Delete(_ context.Context, _ string) error {
	return nil
}

func (m *mockSales) Get(_ context.Context, id string) (*sale.Sale, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.byID[id]
	if !ok {
		return nil, sale.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSales) ListByProduct(_ context.Context, _ string) ([]*sale.Sale, error) {
	return nil, nil
}

func (m *mockSales) ListActive(_ context.Context, _ time.Time) ([]*sale.Sale, error) {
	return nil, nil
}

func (m *mockSales) List(_ context.Context) ([]*sale.Sale, error) {
	return nil, nil
}

type mockCatalog struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockCatalog) GetProduct(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, _ []string) ([]product.Product, error) {
	return nil, nil
}

// countingReserver wraps a ledger and counts reservation calls.
type countingReserver struct {
	*ledger.Ledger
	calls atomic.Int64
	err   error
}

func (c *countingReserver) TryReserve(ctx context.Context, saleID string, qty int) (ledger.Outcome, error) {
	c.calls.Add(1)
	if c.err != nil {
		return ledger.Outcome{}, c.err
	}
	return c.Ledger.TryReserve(ctx, saleID, qty)
}

// --- Helpers ---

var (
	windowStart = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 5, 1, 22, 0, 0, 0, time.UTC)
	during      = windowStart.Add(2 * time.Hour)
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fixture struct {
	svc      *Service
	sales    *mockSales
	catalog  *mockCatalog
	counters *countingReserver
	store    *ledger.MemoryStore
}

func newTestSale() *sale.Sale {
	return &sale.Sale{
		ID:            "s1",
		Name:          "Lunch rush",
		StartDate:     windowStart,
		EndDate:       windowEnd,
		Discount:      pricing.Percentage(d("30")),
		AdminStatus:   sale.StatusScheduled,
		TotalQuantity: 10,
		ProductIDs:    []string{"p1"},
	}
}

func newFixture(t *testing.T, s *sale.Sale, sold int, now time.Time, opts ...ledger.Option) *fixture {
	t.Helper()

	store := ledger.NewMemoryStore()
	require.NoError(t, store.Init(context.Background(), s.ID, ledger.Counter{Sold: sold, Total: s.TotalQuantity}))

	f := &fixture{
		sales: &mockSales{byID: map[string]*sale.Sale{s.ID: s}},
		catalog: &mockCatalog{byID: map[string]*product.Product{
			"p1": {ID: "p1", Title: "Bento", Slug: "bento", BasePrice: d("50.00")},
			"p2": {ID: "p2", Title: "Udon", Slug: "udon", BasePrice: d("12.00")},
		}},
		counters: &countingReserver{Ledger: ledger.New(store, opts...)},
		store:    store,
	}

	svc, err := NewService(f.sales, f.catalog, f.counters, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) sold(t *testing.T) int {
	t.Helper()
	c, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	return c.Sold
}

// --- Tests ---

func TestCheckAndReserve_EndToEnd(t *testing.T) {
	f := newFixture(t, newTestSale(), 8, during)
	ctx := context.Background()

	res, err := f.svc.CheckAndReserve(ctx, Request{SaleID: "s1", ProductID: "p1", Quantity: 3})
	require.NoError(t, err)
	assert.False(t, res.Reserved)
	assert.Equal(t, ReasonInsufficientStock, res.Reason)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, 8, f.sold(t))

	res, err = f.svc.CheckAndReserve(ctx, Request{SaleID: "s1", ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	require.True(t, res.Reserved)
	assert.Equal(t, ReasonNone, res.Reason)
	assert.True(t, d("35.00").Equal(res.EffectivePrice), "got %s", res.EffectivePrice)
	assert.True(t, d("50.00").Equal(res.BasePrice))
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, during, res.ReservedAt)
	assert.Equal(t, 10, f.sold(t))
}

func TestCheckAndReserve_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(s *sale.Sale)
		now        time.Time
		req        Request
		wantReason Reason
		wantPhase  sale.Phase
	}{
		{
			name:       "unknown sale",
			req:        Request{SaleID: "nope", ProductID: "p1", Quantity: 1},
			wantReason: ReasonNotFound,
		},
		{
			name:       "product not in sale",
			req:        Request{SaleID: "s1", ProductID: "p2", Quantity: 1},
			wantReason: ReasonProductNotInSale,
		},
		{
			name:       "upcoming",
			now:        windowStart.Add(-time.Nanosecond),
			req:        Request{SaleID: "s1", ProductID: "p1", Quantity: 1},
			wantReason: ReasonNotActive,
			wantPhase:  sale.PhaseUpcoming,
		},
		{
			name:       "ended",
			now:        windowEnd.Add(time.Nanosecond),
			req:        Request{SaleID: "s1", ProductID: "p1", Quantity: 1},
			wantReason: ReasonNotActive,
			wantPhase:  sale.PhaseEnded,
		},
		{
			name:       "cancelled while active",
			mutate:     func(s *sale.Sale) { s.AdminStatus = sale.StatusCancelled },
			req:        Request{SaleID: "s1", ProductID: "p1", Quantity: 1},
			wantReason: ReasonCancelled,
		},
		{
			name:       "window checked before cancellation",
			mutate:     func(s *sale.Sale) { s.AdminStatus = sale.StatusCancelled },
			now:        windowEnd.Add(time.Hour),
			req:        Request{SaleID: "s1", ProductID: "p1", Quantity: 1},
			wantReason: ReasonNotActive,
			wantPhase:  sale.PhaseEnded,
		},
		{
			name:       "product checked before window",
			now:        windowEnd.Add(time.Hour),
			req:        Request{SaleID: "s1", ProductID: "p2", Quantity: 1},
			wantReason: ReasonProductNotInSale,
		},
		{
			name:       "minimum purchase not met",
			mutate:     func(s *sale.Sale) { s.MinimumPurchase = decimal.NewNullDecimal(d("100.00")) },
			req:        Request{SaleID: "s1", ProductID: "p1", Quantity: 1, CartSubtotal: d("99.99")},
			wantReason: ReasonMinimumPurchaseNotMet,
		},
		{
			name:       "exceeds order limit",
			mutate:     func(s *sale.Sale) { s.MaxPerOrder = 2 },
			req:        Request{SaleID: "s1", ProductID: "p1", Quantity: 3},
			wantReason: ReasonExceedsOrderLimit,
		},
		{
			name: "product missing from catalog",
			mutate: func(s *sale.Sale) {
				s.ProductIDs = append(s.ProductIDs, "ghost")
			},
			req:        Request{SaleID: "s1", ProductID: "ghost", Quantity: 1},
			wantReason: ReasonNotFound,
		},
		{
			name:       "discount broken by price change",
			mutate:     func(s *sale.Sale) { s.Discount = pricing.Fixed(d("60")) },
			req:        Request{SaleID: "s1", ProductID: "p1", Quantity: 1},
			wantReason: ReasonNotActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSale()
			if tt.mutate != nil {
				tt.mutate(s)
			}
			now := tt.now
			if now.IsZero() {
				now = during
			}
			f := newFixture(t, s, 0, now)

			res, err := f.svc.CheckAndReserve(context.Background(), tt.req)
			require.NoError(t, err)
			assert.False(t, res.Reserved)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, tt.wantPhase, res.Phase)
			assert.Zero(t, f.counters.calls.Load(), "ledger must not be touched")
			assert.Equal(t, 0, f.sold(t))
		})
	}
}

func TestCheckAndReserve_RuleBoundaries(t *testing.T) {
	s := newTestSale()
	s.MinimumPurchase = decimal.NewNullDecimal(d("100.00"))
	s.MaxPerOrder = 2
	f := newFixture(t, s, 0, windowEnd)

	res, err := f.svc.CheckAndReserve(context.Background(), Request{
		SaleID:       "s1",
		ProductID:    "p1",
		Quantity:     2,
		CartSubtotal: d("100.00"),
	})
	require.NoError(t, err)
	assert.True(t, res.Reserved)
	assert.Equal(t, 2, f.sold(t))
}

func TestCheckAndReserve_InvalidQuantity(t *testing.T) {
	f := newFixture(t, newTestSale(), 0, during)

	for _, qty := range []int{0, -3} {
		_, err := f.svc.CheckAndReserve(context.Background(), Request{SaleID: "s1", ProductID: "p1", Quantity: qty})

		var iqErr *InvalidQuantityError
		require.ErrorAs(t, err, &iqErr)
		assert.Equal(t, qty, iqErr.Quantity)
	}
}

func TestCheckAndReserve_Contention(t *testing.T) {
	f := newFixture(t, newTestSale(), 0, during)
	f.counters.err = ledger.ErrContention

	res, err := f.svc.CheckAndReserve(context.Background(), Request{SaleID: "s1", ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, ReasonTransientContention, res.Reason)
	assert.True(t, res.Reason.Retryable())
	assert.False(t, ReasonInsufficientStock.Retryable())
}

func TestCheckAndReserve_CorruptedCounter(t *testing.T) {
	f := newFixture(t, newTestSale(), 0, during)
	require.NoError(t, f.store.Init(context.Background(), "s1", ledger.Counter{Sold: 12, Total: 10}))

	res, err := f.svc.CheckAndReserve(context.Background(), Request{SaleID: "s1", ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, ReasonNotActive, res.Reason)
	assert.Empty(t, res.Phase)
}

func TestCheckAndReserve_CounterForgotten(t *testing.T) {
	f := newFixture(t, newTestSale(), 0, during)
	require.NoError(t, f.store.Remove(context.Background(), "s1"))

	res, err := f.svc.CheckAndReserve(context.Background(), Request{SaleID: "s1", ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	assert.False(t, res.Reserved)
	assert.Equal(t, ReasonNotFound, res.Reason)
}

func TestCheckAndReserve_InfrastructureErrors(t *testing.T) {
	dbErr := errors.New("connection refused")

	t.Run("sale store", func(t *testing.T) {
		f := newFixture(t, newTestSale(), 0, during)
		f.sales.getErr = dbErr

		_, err := f.svc.CheckAndReserve(context.Background(), Request{SaleID: "s1", ProductID: "p1", Quantity: 1})
		require.ErrorIs(t, err, dbErr)
	})

	t.Run("catalog", func(t *testing.T) {
		f := newFixture(t, newTestSale(), 0, during)
		f.catalog.getErr = dbErr

		_, err := f.svc.CheckAndReserve(context.Background(), Request{SaleID: "s1", ProductID: "p1", Quantity: 1})
		require.ErrorIs(t, err, dbErr)
	})

	t.Run("ledger", func(t *testing.T) {
		f := newFixture(t, newTestSale(), 0, during)
		f.counters.err = dbErr

		_, err := f.svc.CheckAndReserve(context.Background(), Request{SaleID: "s1", ProductID: "p1", Quantity: 1})
		require.ErrorIs(t, err, dbErr)
	})
}

func TestCheckAndReserve_ConcurrentNoOversell(t *testing.T) {
	const callers = 40
	s := newTestSale()
	f := newFixture(t, s, 4, during, ledger.WithMaxAttempts(s.TotalQuantity+1))

	var reserved, insufficient atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for range callers {
		g.Go(func() error {
			res, err := f.svc.CheckAndReserve(ctx, Request{SaleID: "s1", ProductID: "p1", Quantity: 1})
			if err != nil {
				return err
			}
			switch res.Reason {
			case ReasonNone:
				reserved.Add(1)
			case ReasonInsufficientStock:
				insufficient.Add(1)
			default:
				return errors.Errorf("unexpected reason %q", res.Reason)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 6, reserved.Load())
	assert.EqualValues(t, callers-6, insufficient.Load())
	assert.Equal(t, 10, f.sold(t))
}

func TestRelease(t *testing.T) {
	f := newFixture(t, newTestSale(), 3, during)
	ctx := context.Background()

	res, err := f.svc.CheckAndReserve(ctx, Request{SaleID: "s1", ProductID: "p1", Quantity: 5})
	require.NoError(t, err)
	require.True(t, res.Reserved)
	assert.Equal(t, 8, f.sold(t))

	require.NoError(t, f.svc.Release(ctx, "s1", 5))
	assert.Equal(t, 3, f.sold(t))

	require.ErrorIs(t, f.svc.Release(ctx, "missing", 1), sale.ErrNotFound)

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, f.svc.Release(ctx, "s1", 0), &iqErr)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, newTestSale(), 7, during)

	st, err := f.svc.Status(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, sale.PhaseActive, st.Phase)
	assert.Equal(t, sale.StateActive, st.State)
	assert.Equal(t, ledger.Counter{Sold: 7, Total: 10}, st.Counter)
	assert.Equal(t, 7, st.Sale.SoldQuantity)
	assert.True(t, st.Available)
	assert.Equal(t, 10, st.Countdown.Hours)

	require.NoError(t, f.store.Init(context.Background(), "s1", ledger.Counter{Sold: 10, Total: 10}))
	st, err = f.svc.Status(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, st.Available)

	_, err = f.svc.Status(context.Background(), "missing")
	require.ErrorIs(t, err, sale.ErrNotFound)
}

func TestCheckAndReserve_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	f := newFixture(t, newTestSale(), 9, during)
	svc, err := NewService(f.sales, f.catalog, f.counters,
		WithClock(func() time.Time { return during }),
		WithMeterProvider(mp),
	)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.CheckAndReserve(ctx, Request{SaleID: "s1", ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.CheckAndReserve(ctx, Request{SaleID: "s1", ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "flashsale.reservation.attempts" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("outcome")
				outcomes[v.AsString()] += dp.Value
			}
		}
	}
	assert.Len(t, outcomes, 2)
	assert.EqualValues(t, 1, outcomes["reserved"])
	assert.EqualValues(t, 1, outcomes[string(ReasonInsufficientStock)])
}
