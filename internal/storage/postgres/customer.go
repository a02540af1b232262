package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-api/internal/domain/customer"
)

const (
	findCustomerSQL = `SELECT id, fullname, email FROM users WHERE id = $1`

	findAddressSQL = `SELECT id, user_id, fullname, phone, line1, line2, city, state, pincode
		FROM addresses WHERE id = $1 AND user_id = $2`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// FindByID returns customer.ErrNotFound when the user does not exist.
func (r *CustomerRepository) FindByID(ctx context.Context, id uuid.UUID) (*customer.Customer, error) {
	var c customer.Customer
	if err := r.pool.QueryRow(ctx, findCustomerSQL, id).Scan(&c.ID, &c.Fullname, &c.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find user %s", id)
	}
	return &c, nil
}

// FindAddress only matches addresses owned by userID.
func (r *CustomerRepository) FindAddress(ctx context.Context, userID, addressID uuid.UUID) (*customer.Address, error) {
	var a customer.Address
	err := r.pool.QueryRow(ctx, findAddressSQL, addressID, userID).Scan(
		&a.ID, &a.UserID, &a.Fullname, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.State, &a.Pincode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrAddressNotFound
		}
		return nil, errors.Wrapf(err, "find address %s", addressID)
	}
	return &a, nil
}
