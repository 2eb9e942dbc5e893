package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/flashsale-engine/internal/domain/availability"
	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

// writeError maps err to a status code and writes {"code","message"}.
// Unexpected errors are logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, status, &e)
}

func mapError(err error) (int, string) {
	var (
		badReq *badRequestError
		valErr *sale.ValidationError
		qtyErr *availability.InvalidQuantityError
	)
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest, badReq.Error()
	case errors.As(err, &qtyErr):
		return http.StatusBadRequest, qtyErr.Error()
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity, valErr.Error()
	case errors.Is(err, sale.ErrNotFound):
		return http.StatusNotFound, "sale not found"
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, sale.ErrNoActiveSale):
		return http.StatusNotFound, "no active sale"
	case errors.Is(err, sale.ErrDuplicate),
		errors.Is(err, sale.ErrConflict),
		errors.Is(err, sale.ErrQuantityLocked):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// rejectionStatus maps a reservation rejection to a status code.
func rejectionStatus(reason availability.Reason) int {
	switch reason {
	case availability.ReasonNotFound:
		return http.StatusNotFound
	case availability.ReasonProductNotInSale,
		availability.ReasonMinimumPurchaseNotMet,
		availability.ReasonExceedsOrderLimit:
		return http.StatusUnprocessableEntity
	case availability.ReasonTransientContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusConflict
	}
}

func rejectionMessage(reason availability.Reason) string {
	switch reason {
	case availability.ReasonNotFound:
		return "sale or product not found"
	case availability.ReasonProductNotInSale:
		return "product is not part of the sale"
	case availability.ReasonNotActive:
		return "sale is not active"
	case availability.ReasonCancelled:
		return "sale was cancelled"
	case availability.ReasonMinimumPurchaseNotMet:
		return "cart subtotal is below the sale minimum"
	case availability.ReasonExceedsOrderLimit:
		return "quantity exceeds the per-order limit"
	case availability.ReasonInsufficientStock:
		return "not enough units left"
	case availability.ReasonTransientContention:
		return "sale is busy, retry shortly"
	default:
		return string(reason)
	}
}

func (h *Handler) writeRejection(w http.ResponseWriter, res *availability.Result) {
	status := rejectionStatus(res.Reason)
	if res.Reason.Retryable() {
		secs := max(int(h.retryAfter.Round(time.Second)/time.Second), 1)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	var e jx.Encoder
	encodeRejection(&e, status, res)
	writeJSON(w, status, &e)
}
