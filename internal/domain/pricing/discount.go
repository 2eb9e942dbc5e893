package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Effective returns the sale price of base under spec, rounded half-to-even to
// the currency minor unit. A fixed discount that would leave nothing to pay
// returns zero together with ErrNonPositivePrice.
func Effective(base decimal.Decimal, spec Spec) (decimal.Decimal, error) {
	if err := spec.Validate(); err != nil {
		return zero, err
	}

	switch spec.Kind {
	case KindPercentage:
		price := base.Mul(hundred.Sub(spec.Value)).Div(hundred)
		return floorAtZero(price).RoundBank(Places), nil
	case KindFixed:
		price := base.Sub(spec.Value)
		if !price.IsPositive() {
			return zero, errors.Wrapf(ErrNonPositivePrice, "fixed %s off %s", spec.Value, base)
		}
		return price.RoundBank(Places), nil
	default:
		return zero, errors.Errorf("unsupported discount kind: %q", spec.Kind)
	}
}

// CheckAgainst verifies that spec is a valid sale configuration for a product
// priced at base: the effective price must be strictly below base.
func CheckAgainst(base decimal.Decimal, spec Spec) error {
	if !base.IsPositive() {
		return errors.Errorf("base price %s must be positive", base)
	}
	price, err := Effective(base, spec)
	if err != nil {
		return err
	}
	if !price.LessThan(base) {
		return errors.Wrapf(ErrPriceNotReduced, "%s under %s %s", base, spec.Kind, spec.Value)
	}
	return nil
}

// Savings returns base minus the effective price, or zero when spec
// cannot be applied to base.
func Savings(base decimal.Decimal, spec Spec) decimal.Decimal {
	price, err := Effective(base, spec)
	if err != nil {
		return zero
	}
	return floorAtZero(base.Sub(price))
}

// Inverse recovers the original price and discount percentage from an
// effective price. For percentage specs Effective(Inverse(p).BasePrice) == p
// for every p on the minor-unit grid.
func Inverse(effective decimal.Decimal, spec Spec) (Badge, error) {
	if err := spec.Validate(); err != nil {
		return Badge{}, err
	}
	if effective.IsNegative() {
		return Badge{}, errors.Errorf("effective price %s is negative", effective)
	}

	switch spec.Kind {
	case KindPercentage:
		factor := hundred.Sub(spec.Value).Div(hundred)
		if factor.IsZero() {
			return Badge{}, ErrNotInvertible
		}
		return Badge{
			BasePrice:      effective.Div(factor).RoundBank(Places),
			EffectivePrice: effective,
			Percent:        spec.Value,
		}, nil
	case KindFixed:
		base := effective.Add(spec.Value)
		return Badge{
			BasePrice:      base,
			EffectivePrice: effective,
			Percent:        spec.Value.Div(base).Mul(hundred).RoundBank(Places),
		}, nil
	default:
		return Badge{}, errors.Errorf("unsupported discount kind: %q", spec.Kind)
	}
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
