package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-api/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount, expires_at, max_redeem_count, redeem_count,
		is_active, show_on_homepage, created_at, updated_at`

	cartExistsSQL = `SELECT EXISTS (SELECT 1 FROM carts WHERE id = $1)`

	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupon_codes WHERE code = $1`

	lockCouponSQL = `SELECT ` + couponColumns + ` FROM coupon_codes WHERE id = $1 FOR UPDATE`

	findRedemptionSQL = `SELECT id, coupon_id, cart_id, order_id, created_at
		FROM coupon_redemptions WHERE coupon_id = $1 AND cart_id = $2`

	reserveRedemptionSQL = `INSERT INTO coupon_redemptions (coupon_id, cart_id)
		VALUES ($1, $2)
		ON CONFLICT (coupon_id, cart_id) DO NOTHING`

	insertCouponSQL = `INSERT INTO coupon_codes (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	updateCouponSQL = `UPDATE coupon_codes SET
		code = $2, discount = $3, expires_at = $4, max_redeem_count = $5,
		is_active = $6, show_on_homepage = $7, updated_at = $8
		WHERE id = $1`

	deleteCouponRedemptionsSQL = `DELETE FROM coupon_redemptions WHERE coupon_id = $1`
	deleteCouponSQL            = `DELETE FROM coupon_codes WHERE id = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// CartExists reports whether a cart with the id exists.
func (r *CouponRepository) CartExists(ctx context.Context, cartID uuid.UUID) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, cartExistsSQL, cartID).Scan(&ok); err != nil {
		return false, errors.Wrapf(err, "check cart %s", cartID)
	}
	return ok, nil
}

// FindByCode looks up a coupon by its normalised code.
// Returns coupon.ErrCouponNotFound when no row matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// FindRedemption returns coupon.ErrRedemptionNotFound when the pair has no row.
func (r *CouponRepository) FindRedemption(ctx context.Context, couponID, cartID uuid.UUID) (*coupon.Redemption, error) {
	var red coupon.Redemption
	err := r.pool.QueryRow(ctx, findRedemptionSQL, couponID, cartID).
		Scan(&red.ID, &red.CouponID, &red.CartID, &red.OrderID, &red.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrRedemptionNotFound
		}
		return nil, errors.Wrap(err, "find redemption")
	}
	return &red, nil
}

// ReserveRedemption relies on the (coupon_id, cart_id) unique constraint to
// settle concurrent reservations for the same pair.
func (r *CouponRepository) ReserveRedemption(ctx context.Context, couponID, cartID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, reserveRedemptionSQL, couponID, cartID)
	if err != nil {
		return false, errors.Wrap(err, "insert redemption")
	}
	return tag.RowsAffected() == 1, nil
}

// Create inserts c. Returns coupon.ErrCouponExists on a duplicate code.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.Discount, c.ExpiresAt, c.MaxRedeemCount, c.RedeemCount,
		c.IsActive, c.ShowOnHomepage, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCouponExists
		}
		return errors.Wrapf(err, "insert coupon %q", c.Code)
	}
	return nil
}

// Update runs fn on the row-locked coupon and writes the result back.
func (r *CouponRepository) Update(ctx context.Context, id uuid.UUID, fn func(c *coupon.Coupon) error) (*coupon.Coupon, error) {
	var updated coupon.Coupon
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockCouponSQL, id)
		if err != nil {
			return errors.Wrap(err, "lock coupon")
		}
		c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return coupon.ErrCouponNotFound
			}
			return errors.Wrap(err, "lock coupon")
		}
		if err := fn(&c); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateCouponSQL,
			c.ID, c.Code, c.Discount, c.ExpiresAt, c.MaxRedeemCount,
			c.IsActive, c.ShowOnHomepage, c.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return coupon.ErrCouponExists
			}
			return errors.Wrap(err, "write coupon")
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes the coupon's redemptions and then the coupon in one
// transaction.
func (r *CouponRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteCouponRedemptionsSQL, id); err != nil {
			return errors.Wrap(err, "delete redemptions")
		}
		tag, err := tx.Exec(ctx, deleteCouponSQL, id)
		if err != nil {
			return errors.Wrap(err, "delete coupon")
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrCouponNotFound
		}
		return nil
	})
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.ID, &c.Code, &c.Discount, &c.ExpiresAt, &c.MaxRedeemCount, &c.RedeemCount,
		&c.IsActive, &c.ShowOnHomepage, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}
