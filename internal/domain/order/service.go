package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/checkout-api/internal/domain/coupon"
	"github.com/xenking/checkout-api/internal/domain/customer"
	"github.com/xenking/checkout-api/internal/domain/notify"
	"github.com/xenking/checkout-api/internal/domain/product"
)

// Config tunes the order workflow.
type Config struct {
	Currency       string
	GatewayTimeout time.Duration
	// SideEffectTimeout bounds the detached notification work after commit.
	SideEffectTimeout time.Duration
	// Fallback is used when no credentials are administered in storage.
	Fallback Credentials
}

// Deps are the collaborators of Service.
type Deps struct {
	Orders      Repository
	Customers   customer.Repository
	Products    product.Repository
	Credentials CredentialStore
	Gateway     Gateway
	Notifier    notify.Notifier

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service runs the order workflow.
type Service struct {
	cfg         Config
	orders      Repository
	customers   customer.Repository
	products    product.Repository
	credentials CredentialStore
	gateway     Gateway
	notifier    notify.Notifier

	tracer          trace.Tracer
	created         metric.Int64Counter
	gatewayFailures metric.Int64Counter

	now     func() time.Time
	newID   func() uuid.UUID
	goAsync func(func())
}

// NewService creates an order Service.
func NewService(cfg Config, d Deps) (*Service, error) {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 30 * time.Second
	}

	meter := d.MeterProvider.Meter("checkout/order")
	created, err := meter.Int64Counter("order.created",
		metric.WithDescription("Orders committed, by payment method"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "created counter")
	}
	gatewayFailures, err := meter.Int64Counter("order.gateway.failures",
		metric.WithDescription("Failed payment gateway order creations"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "gateway failures counter")
	}

	return &Service{
		cfg:             cfg,
		orders:          d.Orders,
		customers:       d.Customers,
		products:        d.Products,
		credentials:     d.Credentials,
		gateway:         d.Gateway,
		notifier:        d.Notifier,
		tracer:          d.TracerProvider.Tracer("checkout/order"),
		created:         created,
		gatewayFailures: gatewayFailures,
		now:             time.Now,
		newID:           uuid.New,
		goAsync:         func(f func()) { go f() },
	}, nil
}

// CreateRequest is the checkout submission.
type CreateRequest struct {
	UserID          uuid.UUID
	Items           []Item
	AddressID       uuid.UUID
	Totals          Totals
	PaymentMethod   PaymentMethod
	DiscountCode    string
	CartID          *uuid.UUID
	BillingAddress  AddressSnapshot
	ShippingAddress AddressSnapshot
}

// Created is returned to the shopper once the order is committed.
type Created struct {
	ID              uuid.UUID
	TotalAmount     decimal.Decimal
	Fullname        string
	RazorpayOrderID string
	RazorpayKeyID   string
}

// Create validates and places an order. For gateway payments the gateway
// order is created before the database transaction; if the transaction then
// fails the gateway order id is logged for reconciliation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *Created, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Create",
		trace.WithAttributes(attribute.String("payment.method", string(req.PaymentMethod))),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "create order failed")
		}
		span.End()
	}()

	if err := validateItems(req.Items); err != nil {
		return nil, err
	}
	method, err := ParsePaymentMethod(string(req.PaymentMethod))
	if err != nil {
		return nil, err
	}

	cust, err := s.customers.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "find customer")
	}
	if _, err := s.customers.FindAddress(ctx, req.UserID, req.AddressID); err != nil {
		if errors.Is(err, customer.ErrAddressNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "find address")
	}
	lines, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	id := s.newID()
	span.SetAttributes(attribute.String("order.id", id.String()))
	lg := zctx.From(ctx).With(zap.Stringer("order_id", id))

	var (
		gw    *GatewayOrder
		keyID string
	)
	if method == PaymentRazorpay {
		creds, err := s.gatewayCredentials(ctx)
		if err != nil {
			return nil, err
		}
		gw, err = s.createGatewayOrder(ctx, id, creds, req.Totals.TotalAmount)
		if err != nil {
			return nil, err
		}
		keyID = creds.KeyID
	}

	now := s.now()
	o := &Order{
		ID:           id,
		UserID:       req.UserID,
		AddressID:    req.AddressID,
		PaymentID:    s.newID(),
		Status:       StatusPending,
		IsVisible:    method != PaymentRazorpay,
		Totals:       req.Totals,
		DiscountCode: coupon.NormalizeCode(req.DiscountCode),
		Billing:      req.BillingAddress,
		Shipping:     req.ShippingAddress,
		Items:        req.Items,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if gw != nil {
		o.RazorpayOrderID = gw.ID
	}
	params := CreateParams{
		Order: o,
		Payment: &Payment{
			ID:     o.PaymentID,
			Method: method,
			Status: PaymentPending,
			Amount: req.Totals.TotalAmount,
		},
	}
	if req.CartID != nil {
		if o.DiscountCode != "" {
			params.Coupon = &CouponLink{Code: o.DiscountCode, CartID: *req.CartID, UserID: req.UserID}
		}
		params.Cleanup = &CartCleanup{CartID: *req.CartID, UserID: req.UserID}
	}

	res, err := s.orders.Create(ctx, params)
	if err != nil {
		if gw != nil {
			lg.Error("Orphaned gateway order",
				zap.String("razorpay_order_id", gw.ID),
				zap.Error(err),
			)
		}
		return nil, errors.Wrap(err, "persist order")
	}
	logCreateResult(lg, params, res)
	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(method))))

	s.afterCreate(ctx, cust, o, lines, method)

	return &Created{
		ID:              o.ID,
		TotalAmount:     o.Totals.TotalAmount,
		Fullname:        cust.Fullname,
		RazorpayOrderID: o.RazorpayOrderID,
		RazorpayKeyID:   keyID,
	}, nil
}

func logCreateResult(lg *zap.Logger, p CreateParams, res *CreateResult) {
	if p.Coupon != nil {
		if res.CouponFinalized {
			lg.Info("Coupon redemption finalized", zap.String("code", p.Coupon.Code))
		} else {
			lg.Info("Coupon finalization skipped",
				zap.String("code", p.Coupon.Code),
				zap.NamedError("reason", res.CouponSkip),
			)
		}
	}
	if res.CleanupErr != nil {
		lg.Warn("Abandoned cart cleanup failed", zap.Error(res.CleanupErr))
	}
	lg.Info("Order created", zap.Int64("abandoned_carts_cleared", res.CartsCleared))
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return ErrEmptyItems
	}
	for i, it := range items {
		switch {
		case it.ProductID != nil && it.VariantID != nil:
			return &InvalidItemError{Index: i, Reason: "specify either productId or variantId, not both."}
		case it.ProductID == nil && it.VariantID == nil:
			return &InvalidItemError{Index: i, Reason: "productId or variantId is required."}
		case it.Quantity <= 0:
			return &InvalidItemError{Index: i, Reason: "quantity must be greater than 0."}
		case it.Price.IsNegative():
			return &InvalidItemError{Index: i, Reason: "price must not be negative."}
		}
	}
	return nil
}

// resolveItems checks that every referenced product and variant exists and
// returns the email line items.
func (s *Service) resolveItems(ctx context.Context, items []Item) ([]notify.LineItem, error) {
	var variantIDs []uuid.UUID
	for _, it := range items {
		if it.VariantID != nil {
			variantIDs = append(variantIDs, *it.VariantID)
		}
	}
	variants := make(map[uuid.UUID]product.Variant, len(variantIDs))
	if len(variantIDs) > 0 {
		found, err := s.products.GetVariantsByIDs(ctx, variantIDs)
		if err != nil {
			return nil, errors.Wrap(err, "get variants")
		}
		for _, v := range found {
			variants[v.ID] = v
		}
	}

	productIDs := make([]uuid.UUID, 0, len(items))
	for i, it := range items {
		if it.ProductID != nil {
			productIDs = append(productIDs, *it.ProductID)
			continue
		}
		v, ok := variants[*it.VariantID]
		if !ok {
			return nil, &ItemNotFoundError{Index: i, Kind: "variant", ID: *it.VariantID}
		}
		productIDs = append(productIDs, v.ProductID)
	}
	found, err := s.products.GetByIDs(ctx, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	products := make(map[uuid.UUID]product.Product, len(found))
	for _, p := range found {
		products[p.ID] = p
	}

	lines := make([]notify.LineItem, len(items))
	for i, it := range items {
		line := notify.LineItem{Quantity: it.Quantity, Price: it.Price}
		if it.ProductID != nil {
			p, ok := products[*it.ProductID]
			if !ok || !p.IsActive {
				return nil, &ItemNotFoundError{Index: i, Kind: "product", ID: *it.ProductID}
			}
			line.Name = p.Name
		} else {
			v := variants[*it.VariantID]
			line.Name = v.DisplayName(products[v.ProductID].Name)
		}
		lines[i] = line
	}
	return lines, nil
}

func (s *Service) gatewayCredentials(ctx context.Context) (Credentials, error) {
	creds, err := s.credentials.GatewayCredentials(ctx)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "gateway credentials")
	}
	if creds.Valid() {
		return creds, nil
	}
	if s.cfg.Fallback.Valid() {
		return s.cfg.Fallback, nil
	}
	return Credentials{}, ErrGatewayUnavailable
}

// ToMinorUnits converts a rupee amount to paise, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (s *Service) createGatewayOrder(ctx context.Context, id uuid.UUID, creds Credentials, total decimal.Decimal) (*GatewayOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	gw, err := s.gateway.CreateOrder(ctx, GatewayRequest{
		Credentials: creds,
		AmountMinor: ToMinorUnits(total),
		Currency:    s.cfg.Currency,
		Receipt:     id.String(),
	})
	if err != nil {
		s.gatewayFailures.Add(ctx, 1)
		return nil, &GatewayError{Err: err}
	}
	return gw, nil
}

// afterCreate sends the post-commit notifications detached from the request.
func (s *Service) afterCreate(ctx context.Context, cust *customer.Customer, o *Order, lines []notify.LineItem, method PaymentMethod) {
	ctx = context.WithoutCancel(ctx)
	s.goAsync(func() {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.SideEffectTimeout)
		defer cancel()
		lg := zctx.From(ctx).With(zap.Stringer("order_id", o.ID))

		if err := s.notifier.SendOrderConfirmationEmail(ctx, notify.OrderConfirmation{
			To:            cust.Email,
			Name:          cust.Fullname,
			OrderRef:      o.ID.String(),
			LineItems:     lines,
			Total:         o.Totals.TotalAmount,
			PaymentMethod: string(method),
		}); err != nil {
			lg.Warn("Order confirmation email failed", zap.Error(err))
		}
		if err := s.notifier.Notify(ctx, o.UserID,
			fmt.Sprintf("Your order %s has been placed.", o.ID), notify.CategoryOrder,
		); err != nil {
			lg.Warn("Order notification failed", zap.Error(err))
		}
		if err := s.notifier.SendStatusUpdateEmail(ctx, notify.StatusUpdate{
			To:       cust.Email,
			Name:     cust.Fullname,
			OrderRef: o.ID.String(),
			Status:   string(o.Status),
		}); err != nil {
			lg.Warn("Order status email failed", zap.Error(err))
		}
	})
}

// afterStatusChange notifies the owner of o about its new status.
func (s *Service) afterStatusChange(ctx context.Context, o *Order, message string, category notify.Category) {
	ctx = context.WithoutCancel(ctx)
	s.goAsync(func() {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.SideEffectTimeout)
		defer cancel()
		lg := zctx.From(ctx).With(zap.Stringer("order_id", o.ID))

		if err := s.notifier.Notify(ctx, o.UserID, message, category); err != nil {
			lg.Warn("Status notification failed", zap.Error(err))
		}
		cust, err := s.customers.FindByID(ctx, o.UserID)
		if err != nil {
			lg.Warn("Status email skipped", zap.Error(err))
			return
		}
		if err := s.notifier.SendStatusUpdateEmail(ctx, notify.StatusUpdate{
			To:       cust.Email,
			Name:     cust.Fullname,
			OrderRef: o.ID.String(),
			Status:   string(o.Status),
		}); err != nil {
			lg.Warn("Order status email failed", zap.Error(err))
		}
	})
}

// ConfirmPayment handles a captured gateway payment. It is idempotent for
// orders that were already confirmed.
func (s *Service) ConfirmPayment(ctx context.Context, gatewayOrderID, transactionID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.ConfirmPayment",
		trace.WithAttributes(attribute.String("razorpay.order_id", gatewayOrderID)),
	)
	defer span.End()

	if gatewayOrderID == "" || transactionID == "" {
		return nil, errors.New("gateway order id and transaction id are required")
	}
	o, changed, err := s.orders.ConfirmPayment(ctx, gatewayOrderID, transactionID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "confirm payment")
	}
	lg := zctx.From(ctx).With(zap.Stringer("order_id", o.ID))
	if !changed {
		lg.Info("Payment already confirmed", zap.String("status", string(o.Status)))
		return o, nil
	}
	lg.Info("Payment confirmed", zap.String("transaction_id", transactionID))
	s.afterStatusChange(ctx, o, fmt.Sprintf("Payment received for order %s.", o.ID), notify.CategoryPayment)
	return o, nil
}

// UpdateStatus moves the order to status to if the machine allows it.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*Order, error) {
	o, err := s.orders.UpdateStatus(ctx, id, to, func(from Status) error {
		if !CanTransition(from, to) {
			return &TransitionError{From: from, To: to}
		}
		return nil
	})
	if err != nil {
		var tErr *TransitionError
		if errors.As(err, &tErr) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update status")
	}
	zctx.From(ctx).Info("Order status updated",
		zap.Stringer("order_id", id),
		zap.String("status", string(to)),
	)
	s.afterStatusChange(ctx, o, fmt.Sprintf("Your order %s is now %s.", o.ID, o.Status), notify.CategoryOrder)
	return o, nil
}

// Get returns the order if it belongs to userID.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "find order")
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the user's orders, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}
