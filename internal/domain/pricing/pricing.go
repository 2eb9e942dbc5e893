// Package pricing reconciles percentage and fixed-amount sale discounts into a
// single effective price, and recovers the "original price / -X%" badge from
// an effective price for display.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported sale discount representations.
type Kind string

const (
	// KindPercentage takes a percentage off the base price.
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed monetary amount off the base price.
	KindFixed Kind = "fixed"
)

// Places is the currency minor-unit precision all prices are rounded to.
const Places int32 = 2

var (
	// ErrInvalidSpec is returned when a discount spec is outside its allowed range.
	ErrInvalidSpec = errors.New("invalid discount spec")
	// ErrNonPositivePrice is returned when a fixed discount would take the
	// price to zero or below.
	ErrNonPositivePrice = errors.New("discount leaves no positive price")
	// ErrPriceNotReduced is returned when a discount does not lower the price.
	ErrPriceNotReduced = errors.New("discount does not reduce price")
	// ErrNotInvertible is returned when the base price cannot be recovered
	// from an effective price (a 100% discount).
	ErrNotInvertible = errors.New("discount is not invertible")
)

// Spec is a tagged discount value: Value is a percentage in (0, 100] for
// KindPercentage and a positive amount for KindFixed.
type Spec struct {
	Kind  Kind
	Value decimal.Decimal
}

// Percentage returns a percentage spec.
func Percentage(v decimal.Decimal) Spec {
	return Spec{Kind: KindPercentage, Value: v}
}

// Fixed returns a fixed-amount spec.
func Fixed(v decimal.Decimal) Spec {
	return Spec{Kind: KindFixed, Value: v}
}

// Validate checks the value range for the discount kind.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindPercentage:
		if !s.Value.IsPositive() || s.Value.GreaterThan(hundred) {
			return errors.Wrapf(ErrInvalidSpec, "percentage %s must be in (0, 100]", s.Value)
		}
	case KindFixed:
		if !s.Value.IsPositive() {
			return errors.Wrapf(ErrInvalidSpec, "fixed amount %s must be positive", s.Value)
		}
	default:
		return errors.Wrapf(ErrInvalidSpec, "unsupported discount kind %q", s.Kind)
	}
	return nil
}

// Badge is the display form of a discounted price.
type Badge struct {
	BasePrice      decimal.Decimal
	EffectivePrice decimal.Decimal
	Percent        decimal.Decimal
}

// Label renders the badge percentage, e.g. "-20%".
func (b Badge) Label() string {
	return "-" + b.Percent.Round(0).String() + "%"
}
