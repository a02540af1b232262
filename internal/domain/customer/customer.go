// Package customer holds shopper identities and their saved addresses.
package customer

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrAddressNotFound is returned when the address does not exist or
	// belongs to another user.
	ErrAddressNotFound = errors.New("Invalid address ID.")
)

// Customer is a registered shopper.
type Customer struct {
	ID       uuid.UUID
	Fullname string
	Email    string
}

// Address is a saved delivery address.
type Address struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Fullname string
	Phone    string
	Line1    string
	Line2    string
	City     string
	State    string
	Pincode  string
}

// Repository provides customer and address lookups.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Customer, error)
	FindAddress(ctx context.Context, userID, addressID uuid.UUID) (*Address, error)
}
