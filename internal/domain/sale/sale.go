package sale

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/flashsale-engine/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when a sale does not exist.
	ErrNotFound = errors.New("sale not found")
	// ErrConflict is returned when a sale with sold units is deleted.
	ErrConflict = errors.New("sale has sold units")
	// ErrQuantityLocked is returned when the total quantity is changed after
	// the sale started or sold anything.
	ErrQuantityLocked = errors.New("sale quantity is locked")
	// ErrNoActiveSale is returned by lookups when no sale applies.
	ErrNoActiveSale = errors.New("no active sale")
	// ErrDuplicate is returned when a sale ID is already taken.
	ErrDuplicate = errors.New("sale already exists")
)

// AdminStatus is the administrator-set status of a sale. Only
// StatusCancelled has an effect; the rest is a display hint.
type AdminStatus string

const (
	StatusDraft     AdminStatus = "draft"
	StatusScheduled AdminStatus = "scheduled"
	StatusActive    AdminStatus = "active"
	StatusEnded     AdminStatus = "ended"
	StatusCancelled AdminStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s AdminStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusActive, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// Sale is a time-boxed discount over a set of products with a fixed number of
// units. SoldQuantity mirrors the ledger counter and may be stale.
type Sale struct {
	ID              string
	Name            string
	Description     string
	StartDate       time.Time
	EndDate         time.Time
	Discount        pricing.Spec
	AdminStatus     AdminStatus
	TotalQuantity   int
	SoldQuantity    int
	MinimumPurchase decimal.NullDecimal
	MaxPerOrder     int // 0 means unlimited
	ProductIDs      []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Includes reports whether the product is eligible under the sale.
func (s *Sale) Includes(productID string) bool {
	return slices.Contains(s.ProductIDs, productID)
}

// Cancelled reports whether an administrator cancelled the sale.
func (s *Sale) Cancelled() bool {
	return s.AdminStatus == StatusCancelled
}

// Phase evaluates the sale window at now.
func (s *Sale) Phase(now time.Time) Phase {
	return Evaluate(now, s.StartDate, s.EndDate)
}

// ValidationError describes an invalid sale definition.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Params holds the administrator-supplied fields of a new sale.
type Params struct {
	ID              string
	Name            string
	Description     string
	StartDate       time.Time
	EndDate         time.Time
	Discount        pricing.Spec
	TotalQuantity   int
	MinimumPurchase decimal.NullDecimal
	MaxPerOrder     int
	ProductIDs      []string
}

// New validates p and builds a draft sale created at now. Checking the
// discount against product prices needs the catalog and is done by Manager.
func New(p Params, now time.Time) (*Sale, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return nil, &ValidationError{Field: "window", Reason: "start and end dates are required"}
	}
	if !p.EndDate.After(p.StartDate) {
		return nil, &ValidationError{Field: "window", Reason: "end date must be after start date"}
	}
	if err := p.Discount.Validate(); err != nil {
		return nil, &ValidationError{Field: "discount", Reason: "bad discount", Err: err}
	}
	if p.TotalQuantity < 0 {
		return nil, &ValidationError{Field: "totalQuantity", Reason: "must not be negative"}
	}
	if p.MaxPerOrder < 0 {
		return nil, &ValidationError{Field: "maxPerOrder", Reason: "must not be negative"}
	}
	if p.MinimumPurchase.Valid && p.MinimumPurchase.Decimal.IsNegative() {
		return nil, &ValidationError{Field: "minimumPurchase", Reason: "must not be negative"}
	}

	ids := make([]string, 0, len(p.ProductIDs))
	for _, id := range p.ProductIDs {
		if strings.TrimSpace(id) == "" {
			return nil, &ValidationError{Field: "productIds", Reason: "empty product id"}
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "productIds", Reason: "at least one product is required"}
	}

	now = now.UTC()
	return &Sale{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		StartDate:       p.StartDate.UTC(),
		EndDate:         p.EndDate.UTC(),
		Discount:        p.Discount,
		AdminStatus:     StatusDraft,
		TotalQuantity:   p.TotalQuantity,
		MinimumPurchase: p.MinimumPurchase,
		MaxPerOrder:     p.MaxPerOrder,
		ProductIDs:      ids,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Repository persists sales. Sold quantities are owned by the ledger;
// Update never writes them.
type Repository interface {
	Create(ctx context.Context, s *Sale) error
	Get(ctx context.Context, id string) (*Sale, error)
	Update(ctx context.Context, s *Sale) error
	// Delete removes a sale. Implementations that also store the sold
	// counter return ErrConflict when it is above zero.
	Delete(ctx context.Context, id string) error
	ListByProduct(ctx context.Context, productID string) ([]*Sale, error)
	// ListActive returns the non-cancelled sales whose window contains now.
	ListActive(ctx context.Context, now time.Time) ([]*Sale, error)
	List(ctx context.Context) ([]*Sale, error)
}
