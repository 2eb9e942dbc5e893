// Package wire decodes sale and product definitions from JSON. The same
// shapes are accepted by the admin API, the seed files and ingest feeds.
package wire

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

// DecodeDecimal accepts both "12.50" and 12.5.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch tt := d.Next(); tt {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	default:
		return decimal.Decimal{}, errors.Errorf("expected decimal, got %s", tt)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse decimal %q", raw)
	}
	return v, nil
}

// DecodeTime reads an RFC 3339 timestamp.
func DecodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t, nil
}

// DecodeDiscount reads {"kind":"percentage"|"fixed","value":...}. Range
// checks are left to sale.New.
func DecodeDiscount(d *jx.Decoder) (pricing.Spec, error) {
	var spec pricing.Spec
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "kind":
			s, err := d.Str()
			spec.Kind = pricing.Kind(s)
			return err
		case "value":
			v, err := DecodeDecimal(d)
			spec.Value = v
			return err
		default:
			return d.Skip()
		}
	})
	return spec, err
}

// DecodeSale reads a sale definition object. Unknown fields are ignored.
func DecodeSale(d *jx.Decoder) (sale.Params, error) {
	var p sale.Params
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "startDate":
			p.StartDate, err = DecodeTime(d)
		case "endDate":
			p.EndDate, err = DecodeTime(d)
		case "discount":
			p.Discount, err = DecodeDiscount(d)
		case "totalQuantity":
			p.TotalQuantity, err = d.Int()
		case "maxPerOrder":
			p.MaxPerOrder, err = d.Int()
		case "minimumPurchase":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var v decimal.Decimal
			v, err = DecodeDecimal(d)
			p.MinimumPurchase = decimal.NewNullDecimal(v)
		case "productIds":
			p.ProductIDs = p.ProductIDs[:0]
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				p.ProductIDs = append(p.ProductIDs, id)
				return err
			})
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return p, err
}

// DecodeProduct reads a catalog product object.
func DecodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "title":
			p.Title, err = d.Str()
		case "slug":
			p.Slug, err = d.Str()
		case "basePrice":
			p.BasePrice, err = DecodeDecimal(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return p, err
	}
	if p.ID == "" {
		return p, errors.New("product id is required")
	}
	if !p.BasePrice.IsPositive() {
		return p, errors.Errorf("product %q: base price %s must be positive", p.ID, p.BasePrice)
	}
	return p, nil
}

// ProductList decodes a JSON array of products.
func ProductList(data []byte) ([]product.Product, error) {
	var out []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p, err := DecodeProduct(d)
		if err != nil {
			return errors.Wrapf(err, "product %d", len(out))
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// SaleList decodes a JSON array of sale definitions.
func SaleList(data []byte) ([]sale.Params, error) {
	var out []sale.Params
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p, err := DecodeSale(d)
		if err != nil {
			return errors.Wrapf(err, "sale %d", len(out))
		}
		out = append(out, p)
		return nil
	})
	return out, err
}
