package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-api/internal/domain/order"
	"github.com/xenking/checkout-api/internal/domain/summary"
)

const (
	findPincodeSQL = `SELECT zipcode, state, city, estimated_delivery_days
		FROM pincodes WHERE zipcode = $1`

	companySettingsSQL = `SELECT state, is_tax_inclusive, razorpay_key_id, razorpay_key_secret
		FROM company_settings WHERE id = 1`

	activeShippingRatesSQL = `SELECT state, intra_state_rate, inter_state_rate
		FROM shipping_rates WHERE is_active ORDER BY created_at, id`

	activeTaxesSQL = `SELECT name, percentage
		FROM taxes WHERE is_active ORDER BY created_at, id`
)

var (
	_ summary.Repository    = (*ReferenceRepository)(nil)
	_ order.CredentialStore = (*ReferenceRepository)(nil)
)

// ReferenceRepository reads pincode, tax, shipping and company settings
// reference data.
type ReferenceRepository struct {
	pool *pgxpool.Pool
}

// NewReferenceRepository returns a ReferenceRepository that uses the given pool.
func NewReferenceRepository(pool *pgxpool.Pool) *ReferenceRepository {
	return &ReferenceRepository{pool: pool}
}

// FindPincode returns summary.ErrPincodeNotFound for unknown zipcodes.
func (r *ReferenceRepository) FindPincode(ctx context.Context, zipcode string) (*summary.Pincode, error) {
	var p summary.Pincode
	err := r.pool.QueryRow(ctx, findPincodeSQL, zipcode).
		Scan(&p.Zipcode, &p.State, &p.City, &p.EstimatedDeliveryDays)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, summary.ErrPincodeNotFound
		}
		return nil, errors.Wrapf(err, "find pincode %q", zipcode)
	}
	return &p, nil
}

type settingsRow struct {
	state          string
	isTaxInclusive bool
	keyID          string
	keySecret      string
}

func (r *ReferenceRepository) settings(ctx context.Context) (*settingsRow, error) {
	var s settingsRow
	err := r.pool.QueryRow(ctx, companySettingsSQL).
		Scan(&s.state, &s.isTaxInclusive, &s.keyID, &s.keySecret)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CompanySettings returns summary.ErrSettingsMissing when the settings row
// has not been created.
func (r *ReferenceRepository) CompanySettings(ctx context.Context) (*summary.Settings, error) {
	s, err := r.settings(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, summary.ErrSettingsMissing
		}
		return nil, errors.Wrap(err, "company settings")
	}
	return &summary.Settings{State: s.state, IsTaxInclusive: s.isTaxInclusive}, nil
}

// GatewayCredentials returns the administered gateway keys. A missing
// settings row yields empty credentials.
func (r *ReferenceRepository) GatewayCredentials(ctx context.Context) (order.Credentials, error) {
	s, err := r.settings(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Credentials{}, nil
		}
		return order.Credentials{}, errors.Wrap(err, "gateway credentials")
	}
	return order.Credentials{KeyID: s.keyID, KeySecret: s.keySecret}, nil
}

// ActiveShippingRates returns active rates, oldest first.
func (r *ReferenceRepository) ActiveShippingRates(ctx context.Context) ([]summary.ShippingRate, error) {
	rows, err := r.pool.Query(ctx, activeShippingRatesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "query shipping rates")
	}
	rates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (summary.ShippingRate, error) {
		var s summary.ShippingRate
		err := row.Scan(&s.State, &s.IntraStateRate, &s.InterStateRate)
		return s, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect shipping rates")
	}
	return rates, nil
}

// ActiveTaxes returns active tax rows.
func (r *ReferenceRepository) ActiveTaxes(ctx context.Context) ([]summary.Tax, error) {
	rows, err := r.pool.Query(ctx, activeTaxesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "query taxes")
	}
	taxes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (summary.Tax, error) {
		var t summary.Tax
		err := row.Scan(&t.Name, &t.Percentage)
		return t, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect taxes")
	}
	return taxes, nil
}
