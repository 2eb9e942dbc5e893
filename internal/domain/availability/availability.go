// Package availability answers "can N more units be sold at the sale price
// right now?" by combining the sale window, the per-sale purchase rules and
// the quantity ledger.
package availability

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/flashsale-engine/internal/domain/ledger"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

// Reason explains why a reservation was not made. Every reason is a normal
// business outcome that the caller can act on.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonNotFound              Reason = "not_found"
	ReasonProductNotInSale      Reason = "product_not_in_sale"
	ReasonNotActive             Reason = "not_active"
	ReasonCancelled             Reason = "cancelled"
	ReasonMinimumPurchaseNotMet Reason = "minimum_purchase_not_met"
	ReasonExceedsOrderLimit     Reason = "exceeds_order_limit"
	ReasonInsufficientStock     Reason = "insufficient_stock"
	// ReasonTransientContention is the only reason that is safe to retry
	// as-is after a short backoff.
	ReasonTransientContention Reason = "transient_contention"
)

// Retryable reports whether the same request may succeed if simply retried.
func (r Reason) Retryable() bool {
	return r == ReasonTransientContention
}

// InvalidQuantityError indicates a non-positive quantity, which is a caller
// bug rather than a business outcome.
type InvalidQuantityError struct {
	SaleID   string
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for sale %s, got %d", e.SaleID, e.Quantity)
}

// Request is a reservation request from checkout.
type Request struct {
	SaleID       string
	ProductID    string
	Quantity     int
	CartSubtotal decimal.Decimal
}

// Result is the outcome of CheckAndReserve. When Reserved is true,
// EffectivePrice is the per-unit price the caller must store on the order
// line; it is never recomputed later.
type Result struct {
	Reserved       bool
	Reason         Reason
	SaleID         string
	ProductID      string
	Quantity       int
	BasePrice      decimal.Decimal
	EffectivePrice decimal.Decimal
	ReservedAt     time.Time

	// Phase is set for ReasonNotActive. It is empty when the sale was
	// suspended because of an inconsistent counter or discount.
	Phase sale.Phase
	// Remaining is the quantity still available: set for
	// ReasonInsufficientStock and after a successful reservation.
	Remaining int
	// MinimumPurchase is set for ReasonMinimumPurchaseNotMet.
	MinimumPurchase decimal.Decimal
	// MaxPerOrder is set for ReasonExceedsOrderLimit.
	MaxPerOrder int
}

// Status is a read-only view of a sale for display surfaces.
type Status struct {
	Sale      *sale.Sale
	Phase     sale.Phase
	State     sale.State
	Countdown sale.CountdownView
	Counter   ledger.Counter
	// Available reports whether a reservation of one unit could currently
	// succeed, ignoring per-cart rules.
	Available bool
}
