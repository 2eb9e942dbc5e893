package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/flashsale-engine/internal/domain/availability"
	"github.com/xenking/flashsale-engine/internal/wire"
)

// Reserve handles POST /api/sales/{saleID}/reservations.
//
// A granted reservation answers 201 with the unit price to store on the
// order line. A rejection carries a machine-readable reason.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	req := availability.Request{SaleID: chi.URLParam(r, "saleID")}
	if err := h.readObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			req.ProductID, err = d.Str()
		case "quantity":
			req.Quantity, err = d.Int()
		case "cartSubtotal":
			req.CartSubtotal, err = wire.DecodeDecimal(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ProductID == "" {
		writeError(w, r, badRequest(errors.New("productId is required")))
		return
	}

	res, err := h.availability.CheckAndReserve(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.Reserved {
		h.writeRejection(w, res)
		return
	}

	var e jx.Encoder
	encodeReservation(&e, res)
	writeJSON(w, http.StatusCreated, &e)
}

// Release handles POST /api/sales/{saleID}/releases.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	qty := 0
	if err := h.readObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		v, err := d.Int()
		qty = v
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.availability.Release(r.Context(), chi.URLParam(r, "saleID"), qty); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
