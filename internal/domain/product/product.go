// Package product defines the catalog read model used at checkout.
package product

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a catalog item that can be ordered directly.
type Product struct {
	ID       uuid.UUID
	Name     string
	Price    decimal.Decimal
	IsActive bool
}

// Variant is a purchasable option of a Product (size, colour, pack).
type Variant struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Name      string
	Price     decimal.Decimal
}

// DisplayName joins the parent product name with the variant name.
func (v Variant) DisplayName(productName string) string {
	if productName == "" {
		return v.Name
	}
	return productName + " (" + v.Name + ")"
}

// Repository defines batch reads for the catalog. Missing ids are omitted
// from the result rather than reported as errors.
type Repository interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	GetVariantsByIDs(ctx context.Context, ids []uuid.UUID) ([]Variant, error)
}
