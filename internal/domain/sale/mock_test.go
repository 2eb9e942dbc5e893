package sale

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/flashsale-engine/internal/domain/ledger"
	"github.com/xenking/flashsale-engine/internal/domain/product"
)

// --- Mock implementations ---

type mockRepo struct {
	mu        sync.Mutex
	byID      map[string]*Sale
	order     []string
	createErr error
	updateErr error
	deleteErr error
	listCalls int
}

func newMockRepo(sales ...*Sale) *mockRepo {
	r := &mockRepo{byID: make(map[string]*Sale)}
	for _, s := range sales {
		r.byID[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	return r
}

func (r *mockRepo) Create(_ context.Context, s *Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *s
	r.byID[s.ID] = &cp
	r.order = append(r.order, s.ID)
	return nil
}

func (r *mockRepo) Get(_ context.Context, id string) (*Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *mockRepo) Update(_ context.Context, s *Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.byID[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	r.byID[s.ID] = &cp
	return nil
}

func (r *mockRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	return nil
}

func (r *mockRepo) ListByProduct(_ context.Context, productID string) ([]*Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []*Sale
	for _, id := range r.order {
		if s := r.byID[id]; s.Includes(productID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *mockRepo) ListActive(_ context.Context, now time.Time) ([]*Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []*Sale
	for _, id := range r.order {
		if s := r.byID[id]; !s.Cancelled() && s.Phase(now) == PhaseActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *mockRepo) List(_ context.Context) ([]*Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Sale, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out, nil
}

type mockCatalog struct {
	byID   map[string]*product.Product
	getErr error
	calls  int
}

func newCatalog(products ...product.Product) *mockCatalog {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockCatalog{byID: byID}
}

func (m *mockCatalog) GetProduct(_ context.Context, id string) (*product.Product, error) {
	m.calls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.calls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockCounters struct {
	counters    map[string]ledger.Counter
	registerErr error
	snapshotErr error
	// beforeForget runs inside Forget, standing in for a reservation that
	// races the delete.
	beforeForget func()
}

func newCounters() *mockCounters {
	return &mockCounters{counters: make(map[string]ledger.Counter)}
}

func (m *mockCounters) Register(_ context.Context, saleID string, total int) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	m.counters[saleID] = ledger.Counter{Total: total}
	return nil
}

func (m *mockCounters) Snapshot(_ context.Context, saleID string) (ledger.Counter, error) {
	if m.snapshotErr != nil {
		return ledger.Counter{}, m.snapshotErr
	}
	c, ok := m.counters[saleID]
	if !ok {
		return ledger.Counter{}, ledger.ErrUnknownSale
	}
	return c, nil
}

func (m *mockCounters) Adopt(_ context.Context, saleID string, c ledger.Counter) (bool, error) {
	if m.registerErr != nil {
		return false, m.registerErr
	}
	if _, ok := m.counters[saleID]; ok {
		return false, nil
	}
	m.counters[saleID] = c
	return true, nil
}

func (m *mockCounters) Forget(_ context.Context, saleID string) error {
	if m.beforeForget != nil {
		m.beforeForget()
	}
	if c, ok := m.counters[saleID]; ok && c.Sold != 0 {
		return ledger.ErrInUse
	}
	delete(m.counters, saleID)
	return nil
}

// --- Helpers ---

func newTestProduct(id string, price decimal.Decimal) product.Product {
	return product.Product{ID: id, Title: "Product " + id, Slug: "product-" + id, BasePrice: price}
}
