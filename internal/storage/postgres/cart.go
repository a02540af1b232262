package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-api/internal/domain/customer"
)

const getOrCreateCartSQL = `INSERT INTO carts (user_id) VALUES ($1)
	ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
	RETURNING id`

// CartRepository hands out per-user carts.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetOrCreate returns the user's cart id, creating the cart on first use.
// Returns customer.ErrNotFound for unknown users.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, getOrCreateCartSQL, userID).Scan(&id); err != nil {
		if isForeignKeyViolation(err) {
			return uuid.Nil, customer.ErrNotFound
		}
		return uuid.Nil, errors.Wrapf(err, "get cart for user %s", userID)
	}
	return id, nil
}
