package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

var maxDiscount = decimal.NewFromInt(100)

// Patch is a partial coupon update. Only non-nil fields are applied.
type Patch struct {
	Code           *string
	Discount       *decimal.Decimal
	ExpiresAt      *time.Time
	MaxRedeemCount *int
	IsActive       *bool
	ShowOnHomepage *bool
}

// Empty reports whether the patch carries no fields.
func (p Patch) Empty() bool {
	return p.Code == nil && p.Discount == nil && p.ExpiresAt == nil &&
		p.MaxRedeemCount == nil && p.IsActive == nil && p.ShowOnHomepage == nil
}

// Apply writes the present fields to c and re-validates it. A coupon with no
// redemptions left is always hidden from the homepage.
func (p Patch) Apply(c *Coupon) error {
	if p.Code != nil {
		c.Code = NormalizeCode(*p.Code)
	}
	if p.Discount != nil {
		c.Discount = *p.Discount
	}
	if p.ExpiresAt != nil {
		c.ExpiresAt = *p.ExpiresAt
	}
	if p.MaxRedeemCount != nil {
		if *p.MaxRedeemCount < c.RedeemCount {
			return &ValidationError{Field: "maxRedeemCount", Reason: "below current redeem count"}
		}
		c.MaxRedeemCount = *p.MaxRedeemCount
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.ShowOnHomepage != nil {
		c.ShowOnHomepage = *p.ShowOnHomepage
	}
	return validate(c)
}

func validate(c *Coupon) error {
	switch {
	case c.Code == "":
		return &ValidationError{Field: "code", Reason: "required"}
	case !c.Discount.IsPositive() || c.Discount.GreaterThan(maxDiscount):
		return &ValidationError{Field: "discount", Reason: "must be in (0, 100]"}
	case c.ExpiresAt.IsZero():
		return &ValidationError{Field: "expiresAt", Reason: "required"}
	case c.MaxRedeemCount < 1:
		return &ValidationError{Field: "maxRedeemCount", Reason: "must be at least 1"}
	}
	if c.Exhausted() {
		c.ShowOnHomepage = false
	}
	return nil
}
