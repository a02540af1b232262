package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-api/internal/gateway/razorpay"
)

// PaymentWebhook handles gateway callbacks. It always answers 200 so the
// gateway does not retry events that can never succeed; outcomes are logged.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := readBody(r)
	if err != nil {
		lg.Warn("Webhook body unreadable", zap.Error(err))
		writeAck(w, "ignored")
		return
	}
	if h.webhookSecret == "" {
		lg.Error("Webhook received but no secret is configured")
		writeAck(w, "ignored")
		return
	}
	if err := razorpay.VerifySignature(h.webhookSecret, body, r.Header.Get(razorpay.SignatureHeader)); err != nil {
		lg.Warn("Webhook signature rejected", zap.Error(err))
		writeAck(w, "ignored")
		return
	}

	ev, err := razorpay.ParseWebhook(body)
	if err != nil {
		lg.Warn("Webhook payload malformed", zap.Error(err))
		writeAck(w, "ignored")
		return
	}
	lg = lg.With(zap.String("event", ev.Event), zap.String("razorpay_order_id", ev.OrderID))
	if ev.Event != razorpay.EventPaymentCaptured {
		lg.Debug("Webhook event skipped")
		writeAck(w, "ignored")
		return
	}

	if _, err := h.orders.ConfirmPayment(ctx, ev.OrderID, ev.PaymentID); err != nil {
		lg.Error("Confirm payment failed", zap.Error(err))
		writeAck(w, "error")
		return
	}
	writeAck(w, "ok")
}

func writeAck(w http.ResponseWriter, status string) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		})
	})
}
