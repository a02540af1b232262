// Package coupon implements the coupon redemption ledger.
//
// A redemption row ties a coupon to a cart. While its order reference is
// empty the redemption is soft: it reserves the coupon for that cart and is
// reused by repeated redeem calls. Once an order is linked the redemption is
// hard and the coupon can no longer be applied to the cart.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Redeem failures. The messages are shown to shoppers as-is.
var (
	ErrMissingFields   = errors.New("Coupon code and cartId are required.")
	ErrCartNotFound    = errors.New("Invalid cartId.")
	ErrCouponNotFound  = errors.New("Coupon code does not exist.")
	ErrCouponExpired   = errors.New("Coupon code has expired.")
	ErrCouponExhausted = errors.New("Coupon redemption limit reached.")
	ErrCouponConsumed  = errors.New("Coupon code already used in a completed order.")
)

var (
	// ErrCouponExists is returned when creating or renaming to a taken code.
	ErrCouponExists = errors.New("Coupon code already exists.")
	// ErrRedemptionNotFound is returned by Repository when no row exists for
	// the (coupon, cart) pair.
	ErrRedemptionNotFound = errors.New("coupon redemption not found")
)

// ValidationError reports an invalid coupon attribute on create or update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Coupon is a percentage discount code with a global redemption cap.
type Coupon struct {
	ID             uuid.UUID
	Code           string
	Discount       decimal.Decimal
	ExpiresAt      time.Time
	MaxRedeemCount int
	RedeemCount    int
	IsActive       bool
	ShowOnHomepage bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Exhausted reports whether the coupon has no redemptions left.
func (c *Coupon) Exhausted() bool {
	return c.RedeemCount >= c.MaxRedeemCount
}

// Expired reports whether the coupon is past its expiry at now.
func (c *Coupon) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Redemption is a ledger row for a (coupon, cart) pair.
type Redemption struct {
	ID        uuid.UUID
	CouponID  uuid.UUID
	CartID    uuid.UUID
	OrderID   *uuid.UUID
	CreatedAt time.Time
}

// Hard reports whether the redemption was consumed by an order.
func (r *Redemption) Hard() bool {
	return r.OrderID != nil
}

// Applied is the discount handed back to the shopper after redeeming.
type Applied struct {
	CouponCode string
	Discount   decimal.Decimal
}

// Repository defines persistence for coupons and their redemptions.
type Repository interface {
	CartExists(ctx context.Context, cartID uuid.UUID) (bool, error)
	// FindByCode returns the coupon with the given normalised code, active or
	// not. Returns ErrCouponNotFound when absent.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindRedemption(ctx context.Context, couponID, cartID uuid.UUID) (*Redemption, error)
	// ReserveRedemption inserts a soft redemption. It reports false without
	// error when a row for the pair already exists.
	ReserveRedemption(ctx context.Context, couponID, cartID uuid.UUID) (bool, error)

	Create(ctx context.Context, c *Coupon) error
	// Update loads the coupon under a row lock, passes it to fn and persists
	// the result when fn returns nil.
	Update(ctx context.Context, id uuid.UUID, fn func(c *Coupon) error) (*Coupon, error)
	// Delete removes the coupon together with all of its redemptions.
	Delete(ctx context.Context, id uuid.UUID) error
}
