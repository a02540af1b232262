// Package handler implements the checkout HTTP API on top of chi.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/checkout-api/internal/domain/auth"
	"github.com/xenking/checkout-api/internal/domain/coupon"
	"github.com/xenking/checkout-api/internal/domain/order"
	"github.com/xenking/checkout-api/internal/domain/summary"
)

// SummaryResolver quotes tax and shipping for a pincode.
type SummaryResolver interface {
	Resolve(ctx context.Context, pincode string) (*summary.Quote, error)
}

// CouponService redeems and administers coupons.
type CouponService interface {
	Redeem(ctx context.Context, code string, cartID uuid.UUID) (*coupon.Applied, error)
	Create(ctx context.Context, in coupon.NewCoupon) (*coupon.Coupon, error)
	Get(ctx context.Context, code string) (*coupon.Coupon, error)
	Update(ctx context.Context, id uuid.UUID, p coupon.Patch) (*coupon.Coupon, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// OrderService runs the order workflow.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Created, error)
	ConfirmPayment(ctx context.Context, gatewayOrderID, transactionID string) (*order.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to order.Status) (*order.Order, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*order.Order, error)
	List(ctx context.Context, userID uuid.UUID) ([]order.Order, error)
}

// CartStore returns the user's cart, creating it on first use.
type CartStore interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (auth.Principal, error)
}

// Config holds non-dependency handler settings.
type Config struct {
	// WebhookSecret signs gateway webhook bodies. Webhooks are rejected
	// while it is empty.
	WebhookSecret string
}

// Deps are the collaborators of Handler.
type Deps struct {
	Summary SummaryResolver
	Coupons CouponService
	Orders  OrderService
	Carts   CartStore
	Tokens  TokenVerifier
}

// Handler serves the /api routes.
type Handler struct {
	summary       SummaryResolver
	coupons       CouponService
	orders        OrderService
	carts         CartStore
	tokens        TokenVerifier
	webhookSecret string
}

// New creates a Handler.
func New(cfg Config, d Deps) *Handler {
	return &Handler{
		summary:       d.Summary,
		coupons:       d.Coupons,
		orders:        d.Orders,
		carts:         d.Carts,
		tokens:        d.Tokens,
		webhookSecret: cfg.WebhookSecret,
	}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/order-summary", h.OrderSummary)
		r.Post("/coupons/redeem", h.RedeemCoupon)
		r.Post("/payments/webhook", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.tokens))

			r.Get("/cart", h.GetCart)
			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(auth.RoleAdmin))

				r.Post("/coupons", h.CreateCoupon)
				// {coupon} is a code for GET and an id for PATCH and DELETE.
				r.Get("/coupons/{coupon}", h.GetCoupon)
				r.Patch("/coupons/{coupon}", h.UpdateCoupon)
				r.Delete("/coupons/{coupon}", h.DeleteCoupon)
				r.Put("/orders/{id}/status", h.UpdateOrderStatus)
			})
		})
	})
}

// GetCart returns the caller's cart id, creating the cart lazily.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	cartID, err := h.carts.GetOrCreate(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("cartId", func(e *jx.Encoder) { e.Str(cartID.String()) })
		})
	})
}
