package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/flashsale-engine/internal/wire"
)

// CreateSale handles POST /api/sales.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	d, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := wire.DecodeSale(d)
	if err != nil {
		writeError(w, r, badRequest(errors.Wrap(err, "decode sale")))
		return
	}

	s, err := h.sales.Create(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Sale created",
		zap.String("sale_id", s.ID),
		zap.Int("total_quantity", s.TotalQuantity),
		zap.Strings("product_ids", s.ProductIDs),
	)

	w.Header().Set("Location", "/api/sales/"+s.ID)
	var e jx.Encoder
	encodeSale(&e, s)
	writeJSON(w, http.StatusCreated, &e)
}

// ListSales handles GET /api/sales.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.sales.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, s := range sales {
			encodeSale(e, s)
		}
	})
	writeJSON(w, http.StatusOK, &e)
}

// GetSale handles GET /api/sales/{saleID}.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	st, err := h.availability.Status(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeStatus(&e, st)
	writeJSON(w, http.StatusOK, &e)
}

// CancelSale handles POST /api/sales/{saleID}/cancel.
func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	s, err := h.sales.Cancel(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeSale(&e, s)
	writeJSON(w, http.StatusOK, &e)
}

// SetQuantity handles PUT /api/sales/{saleID}/quantity.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	total, seen := 0, false
	if err := h.readObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "totalQuantity" {
			return d.Skip()
		}
		seen = true
		v, err := d.Int()
		total = v
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if !seen {
		writeError(w, r, badRequest(errors.New("totalQuantity is required")))
		return
	}

	s, err := h.sales.SetTotalQuantity(r.Context(), chi.URLParam(r, "saleID"), total)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeSale(&e, s)
	writeJSON(w, http.StatusOK, &e)
}

// DeleteSale handles DELETE /api/sales/{saleID}.
func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "saleID")
	if err := h.sales.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Sale deleted", zap.String("sale_id", id))
	w.WriteHeader(http.StatusNoContent)
}
