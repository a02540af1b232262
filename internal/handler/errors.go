package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-api/internal/domain/coupon"
	"github.com/xenking/checkout-api/internal/domain/customer"
	"github.com/xenking/checkout-api/internal/domain/order"
)

const internalMessage = "internal error"

// errorStatus maps a domain error to an HTTP status and a client-safe
// message. Unknown errors map to 500 with a generic message.
func errorStatus(err error) (int, string) {
	var (
		reqErr   *requestError
		valErr   *coupon.ValidationError
		itemErr  *order.InvalidItemError
		foundErr *order.ItemNotFoundError
		trErr    *order.TransitionError
		gwErr    *order.GatewayError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg
	case errors.As(err, &valErr):
		return http.StatusBadRequest, valErr.Error()
	case errors.As(err, &itemErr):
		return http.StatusBadRequest, itemErr.Error()
	case errors.As(err, &foundErr):
		return http.StatusNotFound, foundErr.Error()
	case errors.As(err, &trErr):
		return http.StatusConflict, trErr.Error()
	case errors.As(err, &gwErr):
		return http.StatusInternalServerError, "Payment gateway is unavailable."

	case errors.Is(err, coupon.ErrMissingFields),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidPaymentMethod),
		errors.Is(err, customer.ErrAddressNotFound):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, coupon.ErrCartNotFound),
		errors.Is(err, coupon.ErrCouponNotFound),
		errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, customer.ErrNotFound):
		return http.StatusNotFound, "User not found."
	case errors.Is(err, coupon.ErrCouponExhausted),
		errors.Is(err, coupon.ErrCouponConsumed),
		errors.Is(err, coupon.ErrCouponExists):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, internalMessage
}

func logFailure(r *http.Request, status int, err error) {
	if status < http.StatusInternalServerError {
		return
	}
	zctx.From(r.Context()).Error("Request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
}

// fail writes err as {message}.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	logFailure(r, status, err)
	writeMessage(w, status, msg)
}

// failEnvelope writes err as {success:false, message}.
func (h *Handler) failEnvelope(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	logFailure(r, status, err)
	writeFailure(w, status, msg)
}
