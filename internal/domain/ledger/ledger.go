// Package ledger keeps the per-sale (sold, total) counter pair and guarantees
// that no reservation is granted past the total, even when many checkouts
// reserve against the same sale at once.
//
// Every mutation is an optimistic compare-and-swap against a Store: the
// ledger reads the counter, computes the new sold value, and swaps it in only
// if nobody else changed it in between. A lost race re-reads before
// recomputing. The retry budget is bounded; running out of it surfaces
// ErrContention instead of spinning.
package ledger

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is the compare-and-swap budget per call.
const DefaultMaxAttempts = 5

var (
	// ErrUnknownSale is returned when no counter is registered for a sale.
	ErrUnknownSale = errors.New("sale counter not found")
	// ErrContention is returned when the retry budget is exhausted. It is
	// the only ledger error that is safe to retry blindly.
	ErrContention = errors.New("sale counter contention")
	// ErrCorrupted is returned when a stored counter violates
	// 0 <= sold <= total.
	ErrCorrupted = errors.New("sale counter invariant violated")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrInUse is returned when removing a counter that has sold units.
	ErrInUse = errors.New("sale counter has sold units")
)

// Counter is the sold/total pair of one sale.
type Counter struct {
	Sold  int
	Total int
}

// Remaining returns how many units can still be reserved.
func (c Counter) Remaining() int {
	if r := c.Total - c.Sold; r > 0 {
		return r
	}
	return 0
}

// Valid reports whether the counter satisfies 0 <= Sold <= Total.
func (c Counter) Valid() bool {
	return c.Sold >= 0 && c.Total >= 0 && c.Sold <= c.Total
}

// Store persists counters. CompareAndSwap must be atomic: it sets sold to
// newSold only if the stored value still equals expectedSold, and reports
// whether the swap happened. Create and Remove must be atomic too: Create
// never overwrites an existing counter, and Remove fails with ErrInUse
// instead of dropping sold units.
type Store interface {
	Load(ctx context.Context, saleID string) (Counter, error)
	CompareAndSwap(ctx context.Context, saleID string, expectedSold, newSold int) (bool, error)
	Init(ctx context.Context, saleID string, c Counter) error
	Create(ctx context.Context, saleID string, c Counter) (bool, error)
	Remove(ctx context.Context, saleID string) error
}

// Outcome is the result of a reservation attempt. A rejected outcome carries
// the remaining quantity so the caller can offer a smaller amount.
type Outcome struct {
	Granted   bool
	Quantity  int
	Remaining int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxAttempts overrides the compare-and-swap budget per call.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// Ledger implements reservation and release over a Store.
type Ledger struct {
	store       Store
	maxAttempts int
}

// New creates a Ledger backed by store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, maxAttempts: DefaultMaxAttempts}
	for _, o := range opts {
		o(l)
	}
	return l
}

// TryReserve grants qty units of the sale or none at all.
func (l *Ledger) TryReserve(ctx context.Context, saleID string, qty int) (Outcome, error) {
	if qty <= 0 {
		return Outcome{}, ErrInvalidQuantity
	}

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		c, err := l.load(ctx, saleID)
		if err != nil {
			return Outcome{}, err
		}

		remaining := c.Remaining()
		if qty > remaining {
			return Outcome{Quantity: qty, Remaining: remaining}, nil
		}

		ok, err := l.store.CompareAndSwap(ctx, saleID, c.Sold, c.Sold+qty)
		if err != nil {
			return Outcome{}, errors.Wrap(err, "swap sold quantity")
		}
		if ok {
			return Outcome{Granted: true, Quantity: qty, Remaining: remaining - qty}, nil
		}
	}

	zctx.From(ctx).Warn("Reservation retry budget exhausted",
		zap.String("sale_id", saleID),
		zap.Int("quantity", qty),
		zap.Int("attempts", l.maxAttempts),
	)
	return Outcome{}, ErrContention
}

// Release returns qty previously granted units to the sale. The sold count
// never drops below zero. Tracking how much a given order was granted is the
// caller's job.
func (l *Ledger) Release(ctx context.Context, saleID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		c, err := l.load(ctx, saleID)
		if err != nil {
			return err
		}

		next := max(c.Sold-qty, 0)
		if next == c.Sold {
			return nil
		}

		ok, err := l.store.CompareAndSwap(ctx, saleID, c.Sold, next)
		if err != nil {
			return errors.Wrap(err, "swap sold quantity")
		}
		if ok {
			return nil
		}
	}

	return ErrContention
}

// Snapshot returns the current counter of a sale.
func (l *Ledger) Snapshot(ctx context.Context, saleID string) (Counter, error) {
	return l.load(ctx, saleID)
}

// Register creates or resets the counter of a sale with nothing sold. It
// overwrites sold units; use Adopt for a counter that may already be live.
func (l *Ledger) Register(ctx context.Context, saleID string, total int) error {
	if total < 0 {
		return errors.Errorf("total quantity %d is negative", total)
	}
	if err := l.store.Init(ctx, saleID, Counter{Total: total}); err != nil {
		return errors.Wrap(err, "init counter")
	}
	return nil
}

// Adopt creates the counter of a sale from c unless one already exists, and
// reports whether a counter was created. An existing counter is never
// touched, so instances booting against a shared store keep what was sold.
func (l *Ledger) Adopt(ctx context.Context, saleID string, c Counter) (bool, error) {
	if !c.Valid() {
		return false, errors.Wrapf(ErrCorrupted, "adopt %d/%d", c.Sold, c.Total)
	}
	created, err := l.store.Create(ctx, saleID, c)
	if err != nil {
		return false, errors.Wrap(err, "create counter")
	}
	return created, nil
}

// Forget drops the counter of a sale with nothing sold. It returns ErrInUse
// when units were reserved in the meantime. Forgetting an unknown sale is a
// no-op.
func (l *Ledger) Forget(ctx context.Context, saleID string) error {
	if err := l.store.Remove(ctx, saleID); err != nil {
		return errors.Wrap(err, "remove counter")
	}
	return nil
}

// load reads a counter and treats an invariant violation as data corruption.
func (l *Ledger) load(ctx context.Context, saleID string) (Counter, error) {
	c, err := l.store.Load(ctx, saleID)
	if err != nil {
		if errors.Is(err, ErrUnknownSale) {
			return Counter{}, err
		}
		return Counter{}, errors.Wrap(err, "load counter")
	}
	if !c.Valid() {
		zctx.From(ctx).Error("Sale counter invariant violated, treating sale as inactive",
			zap.String("sale_id", saleID),
			zap.Int("sold", c.Sold),
			zap.Int("total", c.Total),
		)
		return c, ErrCorrupted
	}
	return c, nil
}
