package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Service implements coupon redemption and administration.
type Service struct {
	repo        Repository
	now         func() time.Time
	redemptions metric.Int64Counter
}

// NewService creates a coupon Service backed by repo.
func NewService(repo Repository, mp metric.MeterProvider) (*Service, error) {
	meter := mp.Meter("checkout/coupon")
	redemptions, err := meter.Int64Counter("coupon.redeem.attempts",
		metric.WithDescription("Coupon redeem attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "redeem counter")
	}
	return &Service{
		repo:        repo,
		now:         time.Now,
		redemptions: redemptions,
	}, nil
}

// NormalizeCode canonicalises a coupon code for lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeem reserves the coupon for the cart. Repeated calls for the same pair
// are idempotent until an order consumes the reservation. Redeem never
// changes the coupon's redemption counter.
func (s *Service) Redeem(ctx context.Context, code string, cartID uuid.UUID) (*Applied, error) {
	applied, outcome, err := s.redeem(ctx, NormalizeCode(code), cartID)
	s.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return applied, err
}

func (s *Service) redeem(ctx context.Context, code string, cartID uuid.UUID) (*Applied, string, error) {
	if code == "" || cartID == uuid.Nil {
		return nil, "invalid", ErrMissingFields
	}

	ok, err := s.repo.CartExists(ctx, cartID)
	if err != nil {
		return nil, "error", errors.Wrap(err, "check cart")
	}
	if !ok {
		return nil, "invalid", ErrCartNotFound
	}

	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, "invalid", ErrCouponNotFound
		}
		return nil, "error", errors.Wrap(err, "find coupon")
	}
	if !c.IsActive {
		return nil, "invalid", ErrCouponNotFound
	}
	if c.Expired(s.now()) {
		return nil, "expired", ErrCouponExpired
	}
	if c.Exhausted() {
		return nil, "exhausted", ErrCouponExhausted
	}

	red, err := s.repo.FindRedemption(ctx, c.ID, cartID)
	if errors.Is(err, ErrRedemptionNotFound) {
		reserved, rerr := s.repo.ReserveRedemption(ctx, c.ID, cartID)
		if rerr != nil {
			return nil, "error", errors.Wrap(rerr, "reserve redemption")
		}
		if reserved {
			zctx.From(ctx).Info("Coupon reserved",
				zap.String("code", c.Code),
				zap.Stringer("cart_id", cartID),
			)
			return applied(c), "reserved", nil
		}
		// A concurrent request won the insert; decide on its row.
		red, err = s.repo.FindRedemption(ctx, c.ID, cartID)
	}
	if err != nil {
		return nil, "error", errors.Wrap(err, "find redemption")
	}
	if red.Hard() {
		return nil, "consumed", ErrCouponConsumed
	}
	return applied(c), "reused", nil
}

func applied(c *Coupon) *Applied {
	return &Applied{CouponCode: c.Code, Discount: c.Discount}
}

// NewCoupon holds the attributes of a coupon to create.
type NewCoupon struct {
	Code           string
	Discount       decimal.Decimal
	ExpiresAt      time.Time
	MaxRedeemCount int
	ShowOnHomepage bool
}

// Create validates and stores a new active coupon.
func (s *Service) Create(ctx context.Context, in NewCoupon) (*Coupon, error) {
	now := s.now()
	c := &Coupon{
		ID:             uuid.New(),
		Code:           NormalizeCode(in.Code),
		Discount:       in.Discount,
		ExpiresAt:      in.ExpiresAt,
		MaxRedeemCount: in.MaxRedeemCount,
		IsActive:       true,
		ShowOnHomepage: in.ShowOnHomepage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCouponExists) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Get returns the coupon with the given code.
func (s *Service) Get(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "find coupon")
	}
	return c, nil
}

// Update applies p to the coupon identified by id.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (*Coupon, error) {
	if p.Empty() {
		return nil, &ValidationError{Field: "patch", Reason: "no fields to update"}
	}
	c, err := s.repo.Update(ctx, id, func(c *Coupon) error {
		if err := p.Apply(c); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) || errors.Is(err, ErrCouponNotFound) || errors.Is(err, ErrCouponExists) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Delete removes the coupon and its redemptions.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return err
		}
		return errors.Wrap(err, "delete coupon")
	}
	zctx.From(ctx).Info("Coupon deleted", zap.Stringer("coupon_id", id))
	return nil
}
