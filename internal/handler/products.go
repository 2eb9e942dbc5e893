package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

// maxProductIDs bounds the ids query parameter of ProductSales.
const maxProductIDs = 100

// priceView is what a product page renders: the price to show and, during a
// sale, the struck-through original price with its badge and countdown.
type priceView struct {
	product   product.Product
	price     pricing.Badge
	sale      *sale.Sale
	countdown sale.CountdownView
}

func (h *Handler) viewOf(p product.Product, s *sale.Sale, now time.Time) (priceView, error) {
	v := priceView{product: p, price: pricing.Badge{BasePrice: p.BasePrice, EffectivePrice: p.BasePrice}}
	if s == nil {
		return v, nil
	}

	effective, err := pricing.Effective(p.BasePrice, s.Discount)
	if err != nil {
		return v, errors.Wrapf(err, "price %q under sale %q", p.ID, s.ID)
	}
	badge, err := pricing.Inverse(effective, s.Discount)
	switch {
	case errors.Is(err, pricing.ErrNotInvertible):
		badge = pricing.Badge{EffectivePrice: effective, Percent: s.Discount.Value}
	case err != nil:
		return v, errors.Wrapf(err, "badge %q under sale %q", p.ID, s.ID)
	}
	// The catalog price is authoritative for the struck-through price.
	badge.BasePrice = p.BasePrice

	v.price = badge
	v.sale = s
	v.countdown = sale.Remaining(now, s)
	return v, nil
}

func encodePriceView(e *jx.Encoder, v priceView) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(v.product.ID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(v.product.Title) })
		e.Field("price", func(e *jx.Encoder) { e.Str(money(v.price.EffectivePrice)) })
		e.Field("onSale", func(e *jx.Encoder) { e.Bool(v.sale != nil) })
		if v.sale == nil {
			return
		}
		e.Field("originalPrice", func(e *jx.Encoder) { e.Str(money(v.price.BasePrice)) })
		e.Field("badge", func(e *jx.Encoder) { e.Str(v.price.Label()) })
		e.Field("saleId", func(e *jx.Encoder) { e.Str(v.sale.ID) })
		e.Field("saleName", func(e *jx.Encoder) { e.Str(v.sale.Name) })
		e.Field("countdown", func(e *jx.Encoder) { encodeCountdown(e, v.countdown) })
	})
}

// ProductSale handles GET /api/products/{productID}/sale.
func (h *Handler) ProductSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now()

	p, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.finder.FindActiveSale(ctx, p.ID, now)
	if err != nil && !errors.Is(err, sale.ErrNoActiveSale) {
		writeError(w, r, err)
		return
	}

	v, err := h.viewOf(*p, s, now)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodePriceView(&e, v)
	writeJSON(w, http.StatusOK, &e)
}

// ProductSales handles GET /api/products/sales?ids=a,b,c for listing pages.
// Unknown products are left out; a product whose sale cannot be priced is
// shown at its base price.
func (h *Handler) ProductSales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now()

	var ids []string
	for id := range strings.SplitSeq(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	switch {
	case len(ids) == 0:
		writeError(w, r, badRequest(errors.New("ids is required")))
		return
	case len(ids) > maxProductIDs:
		writeError(w, r, badRequest(errors.Errorf("at most %d ids", maxProductIDs)))
		return
	}

	products, err := h.catalog.GetByIDs(ctx, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sales, err := h.finder.FindActiveSales(ctx, ids, now)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, p := range products {
			v, err := h.viewOf(p, sales[p.ID], now)
			if err != nil {
				zctx.From(ctx).Warn("Sale not priceable", zap.String("product_id", p.ID), zap.Error(err))
				v, _ = h.viewOf(p, nil, now)
			}
			encodePriceView(e, v)
		}
	})
	writeJSON(w, http.StatusOK, &e)
}
