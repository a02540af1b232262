package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/checkout-api/internal/domain/summary"
)

// OrderSummary quotes tax and shipping for {pincode}. Every failure is
// reported with success=false and status 200.
func (h *Handler) OrderSummary(w http.ResponseWriter, r *http.Request) {
	var pincode string
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "pincode" {
			return d.Skip()
		}
		v, err := decodeScalar(d)
		pincode = v
		return err
	}); err != nil {
		writeQuote(w, &summary.Quote{Message: summary.MessageInvalidPincode})
		return
	}

	q, err := h.summary.Resolve(r.Context(), pincode)
	if err != nil {
		logFailure(r, http.StatusInternalServerError, err)
		q = &summary.Quote{Message: summary.MessageUnavailable}
	}
	writeQuote(w, q)
}

func writeQuote(w http.ResponseWriter, q *summary.Quote) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(q.Success) })
			e.Field("message", func(e *jx.Encoder) { e.Str(q.Message) })
			e.Field("taxType", func(e *jx.Encoder) { e.Str(q.TaxType) })
			e.Field("taxPercentage", func(e *jx.Encoder) { encodeDecimal(e, q.TaxPercentage) })
			e.Field("taxDetails", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, t := range q.TaxDetails {
						e.Obj(func(e *jx.Encoder) {
							e.Field("name", func(e *jx.Encoder) { e.Str(t.Name) })
							e.Field("percentage", func(e *jx.Encoder) { encodeDecimal(e, t.Percentage) })
						})
					}
				})
			})
			e.Field("shippingRate", func(e *jx.Encoder) { encodeDecimal(e, q.ShippingRate) })
			e.Field("isTaxInclusive", func(e *jx.Encoder) { e.Bool(q.IsTaxInclusive) })
			if q.Pincode != nil {
				e.Field("isInterState", func(e *jx.Encoder) { e.Bool(q.IsInterState) })
				e.Field("estimatedDeliveryDays", func(e *jx.Encoder) { e.Int(q.Pincode.EstimatedDeliveryDays) })
			}
		})
	})
}
