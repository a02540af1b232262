package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-api/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, price, is_active
		FROM products WHERE id = ANY($1::uuid[])`

	getVariantsByIDsSQL = `SELECT id, product_id, name, price
		FROM product_variants WHERE id = ANY($1::uuid[])`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns the products matching ids; unknown ids are omitted.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, uuidArray(ids))
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Product, error) {
		var p product.Product
		err := row.Scan(&p.ID, &p.Name, &p.Price, &p.IsActive)
		return p, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect products")
	}
	return products, nil
}

// GetVariantsByIDs returns the variants matching ids; unknown ids are omitted.
func (r *ProductRepository) GetVariantsByIDs(ctx context.Context, ids []uuid.UUID) ([]product.Variant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, getVariantsByIDsSQL, uuidArray(ids))
	if err != nil {
		return nil, errors.Wrap(err, "query variants")
	}
	variants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Variant, error) {
		var v product.Variant
		err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.Price)
		return v, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect variants")
	}
	return variants, nil
}
