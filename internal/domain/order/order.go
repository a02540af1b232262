// Package order implements the checkout order workflow and its status
// machine.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the order lifecycle state.
type Status string

// Order statuses.
const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

var forward = map[Status]Status{
	StatusPending:   StatusConfirmed,
	StatusConfirmed: StatusShipped,
	StatusShipped:   StatusDelivered,
}

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", errors.Errorf("unknown order status %q", s)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether the machine allows from -> to.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return forward[from] == to
}

// PaymentMethod is how the shopper pays.
type PaymentMethod string

// Payment methods.
const (
	PaymentRazorpay PaymentMethod = "RAZORPAY"
	PaymentCOD      PaymentMethod = "COD"
)

// ParsePaymentMethod validates s as a PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PaymentRazorpay, PaymentCOD:
		return m, nil
	}
	return "", ErrInvalidPaymentMethod
}

// PaymentStatus is the state of a Payment.
type PaymentStatus string

// Payment statuses.
const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

var (
	ErrEmptyItems           = errors.New("At least one item is required.")
	ErrInvalidPaymentMethod = errors.New("Invalid payment method.")
	ErrNotFound             = errors.New("Order not found.")
	// ErrGatewayUnavailable is returned when gateway credentials are not
	// configured. The order is not created.
	ErrGatewayUnavailable = errors.New("payment gateway credentials are not configured")
)

// InvalidItemError rejects an order because of one line item.
type InvalidItemError struct {
	Index  int
	Reason string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("Item %d: %s", e.Index+1, e.Reason)
}

// ItemNotFoundError reports a line item referencing a missing product or
// variant.
type ItemNotFoundError struct {
	Index int
	Kind  string
	ID    uuid.UUID
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("Item %d: %s %s not found.", e.Index+1, e.Kind, e.ID)
}

// TransitionError rejects a disallowed status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// GatewayError wraps a failed gateway order creation.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return "payment gateway: " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Item is an order line. Exactly one of ProductID and VariantID is set.
type Item struct {
	ProductID *uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
	Price     decimal.Decimal
}

// Totals is the caller-computed pricing snapshot stored verbatim.
type Totals struct {
	Subtotal       decimal.Decimal
	TotalAmount    decimal.Decimal
	TaxAmount      decimal.Decimal
	TaxType        string
	AppliedTaxRate decimal.Decimal
	IsTaxInclusive bool
	ShippingRate   decimal.Decimal
	DiscountAmount decimal.Decimal
}

// AddressSnapshot is the address copied onto an order.
type AddressSnapshot struct {
	Fullname string
	Phone    string
	Line1    string
	Line2    string
	City     string
	State    string
	Pincode  string
}

// Order is a placed checkout.
type Order struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	AddressID       uuid.UUID
	PaymentID       uuid.UUID
	Status          Status
	IsVisible       bool
	Totals          Totals
	DiscountCode    string
	RazorpayOrderID string
	Billing         AddressSnapshot
	Shipping        AddressSnapshot
	Items           []Item
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Payment is the payment record of an order.
type Payment struct {
	ID            uuid.UUID
	Method        PaymentMethod
	Status        PaymentStatus
	Amount        decimal.Decimal
	TransactionID string
}

// CouponLink asks the repository to consume the cart's soft redemption of
// Code for the new order. The cart must belong to UserID.
type CouponLink struct {
	Code   string
	CartID uuid.UUID
	UserID uuid.UUID
}

// CartCleanup asks the repository to drop abandoned-cart records.
type CartCleanup struct {
	CartID uuid.UUID
	UserID uuid.UUID
}

// CreateParams is everything persisted by one order transaction.
type CreateParams struct {
	Order   *Order
	Payment *Payment
	Coupon  *CouponLink
	Cleanup *CartCleanup
}

// CreateResult reports the best-effort parts of the transaction. A non-nil
// skip or cleanup error did not abort the order.
type CreateResult struct {
	CouponFinalized bool
	CouponSkip      error
	CartsCleared    int64
	CleanupErr      error
}

// Coupon finalisation skip reasons.
var (
	ErrNoSoftRedemption = errors.New("no soft redemption for cart")
	ErrCouponExhausted  = errors.New("coupon has no redemptions left")
)

// Repository persists orders.
type Repository interface {
	// Create stores payment, order and items in one transaction, then in the
	// same transaction finalises the coupon and cleans abandoned carts
	// without letting either abort the order.
	Create(ctx context.Context, p CreateParams) (*CreateResult, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	// ConfirmPayment marks the order paid by gateway order id. It reports
	// false when the order had already left PENDING.
	ConfirmPayment(ctx context.Context, gatewayOrderID, transactionID string) (*Order, bool, error)
	// UpdateStatus locks the order, calls check with its current status and
	// stores to when check returns nil.
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, check func(from Status) error) (*Order, error)
}

// Credentials are the gateway API keys.
type Credentials struct {
	KeyID     string
	KeySecret string
}

// Valid reports whether both keys are present.
func (c Credentials) Valid() bool {
	return c.KeyID != "" && c.KeySecret != ""
}

// CredentialStore returns administered gateway credentials, possibly empty.
type CredentialStore interface {
	GatewayCredentials(ctx context.Context) (Credentials, error)
}

// GatewayRequest creates a gateway order.
type GatewayRequest struct {
	Credentials Credentials
	AmountMinor int64
	Currency    string
	Receipt     string
}

// GatewayOrder is the gateway's view of a created order.
type GatewayOrder struct {
	ID string
}

// Gateway creates orders at the payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayRequest) (*GatewayOrder, error)
}
