package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/flashsale-engine/internal/domain/availability"
	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

// badRequestError is a malformed request body or parameter.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}

// readBody reads at most maxBody bytes of the request body.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return nil, badRequest(errors.Wrap(err, "read body"))
	}
	return jx.DecodeBytes(body), nil
}

// readObject reads the request body as a JSON object and calls fn for every
// field.
func (h *Handler) readObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	d, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	if err := d.Obj(fn); err != nil {
		return badRequest(errors.Wrap(err, "decode body"))
	}
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(pricing.Places)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func encodeSale(e *jx.Encoder, s *sale.Sale) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(s.Name) })
		if s.Description != "" {
			e.Field("description", func(e *jx.Encoder) { e.Str(s.Description) })
		}
		e.Field("startDate", func(e *jx.Encoder) { e.Str(timestamp(s.StartDate)) })
		e.Field("endDate", func(e *jx.Encoder) { e.Str(timestamp(s.EndDate)) })
		e.Field("discount", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("kind", func(e *jx.Encoder) { e.Str(string(s.Discount.Kind)) })
				e.Field("value", func(e *jx.Encoder) { e.Str(s.Discount.Value.String()) })
			})
		})
		e.Field("adminStatus", func(e *jx.Encoder) { e.Str(string(s.AdminStatus)) })
		e.Field("totalQuantity", func(e *jx.Encoder) { e.Int(s.TotalQuantity) })
		e.Field("soldQuantity", func(e *jx.Encoder) { e.Int(s.SoldQuantity) })
		if s.MinimumPurchase.Valid {
			e.Field("minimumPurchase", func(e *jx.Encoder) { e.Str(money(s.MinimumPurchase.Decimal)) })
		}
		if s.MaxPerOrder > 0 {
			e.Field("maxPerOrder", func(e *jx.Encoder) { e.Int(s.MaxPerOrder) })
		}
		e.Field("productIds", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range s.ProductIDs {
					e.Str(id)
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(timestamp(s.CreatedAt)) })
	})
}

func encodeCountdown(e *jx.Encoder, v sale.CountdownView) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("phase", func(e *jx.Encoder) { e.Str(string(v.Phase)) })
		e.Field("target", func(e *jx.Encoder) { e.Str(timestamp(v.Target)) })
		e.Field("days", func(e *jx.Encoder) { e.Int(v.Days) })
		e.Field("hours", func(e *jx.Encoder) { e.Int(v.Hours) })
		e.Field("minutes", func(e *jx.Encoder) { e.Int(v.Minutes) })
		e.Field("seconds", func(e *jx.Encoder) { e.Int(v.Seconds) })
	})
}

func encodeStatus(e *jx.Encoder, st *availability.Status) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("sale", func(e *jx.Encoder) { encodeSale(e, st.Sale) })
		e.Field("phase", func(e *jx.Encoder) { e.Str(string(st.Phase)) })
		e.Field("state", func(e *jx.Encoder) { e.Str(string(st.State)) })
		e.Field("remaining", func(e *jx.Encoder) { e.Int(st.Counter.Remaining()) })
		e.Field("available", func(e *jx.Encoder) { e.Bool(st.Available) })
		e.Field("countdown", func(e *jx.Encoder) { encodeCountdown(e, st.Countdown) })
	})
}

func encodeReservation(e *jx.Encoder, res *availability.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("saleId", func(e *jx.Encoder) { e.Str(res.SaleID) })
		e.Field("productId", func(e *jx.Encoder) { e.Str(res.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(res.Quantity) })
		e.Field("basePrice", func(e *jx.Encoder) { e.Str(money(res.BasePrice)) })
		e.Field("unitPrice", func(e *jx.Encoder) { e.Str(money(res.EffectivePrice)) })
		e.Field("remaining", func(e *jx.Encoder) { e.Int(res.Remaining) })
		e.Field("reservedAt", func(e *jx.Encoder) { e.Str(res.ReservedAt.UTC().Format(time.RFC3339Nano)) })
	})
}

// encodeRejection writes the error envelope plus the reason and the detail
// that lets checkout explain it.
func encodeRejection(e *jx.Encoder, status int, res *availability.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(rejectionMessage(res.Reason)) })
		e.Field("reason", func(e *jx.Encoder) { e.Str(string(res.Reason)) })
		e.Field("retryable", func(e *jx.Encoder) { e.Bool(res.Reason.Retryable()) })
		switch res.Reason {
		case availability.ReasonNotActive:
			if res.Phase != "" {
				e.Field("phase", func(e *jx.Encoder) { e.Str(string(res.Phase)) })
			}
		case availability.ReasonInsufficientStock:
			e.Field("remaining", func(e *jx.Encoder) { e.Int(res.Remaining) })
		case availability.ReasonMinimumPurchaseNotMet:
			e.Field("minimumPurchase", func(e *jx.Encoder) { e.Str(money(res.MinimumPurchase)) })
		case availability.ReasonExceedsOrderLimit:
			e.Field("maxPerOrder", func(e *jx.Encoder) { e.Int(res.MaxPerOrder) })
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
