// Package summary resolves the tax and shipping quote for a delivery pincode.
package summary

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Messages carried by an unsuccessful Quote.
const (
	MessageInvalidPincode    = "Invalid pincode"
	MessageNoShippingRate    = "No shipping rate configured."
	MessageSummaryCalculated = "Order summary calculated."
	MessageSettingsMissing   = "Company settings not configured."
	MessageUnavailable       = "Unable to calculate order summary."
)

// Tax names recognised by the resolver, matched case-insensitively.
const (
	TaxIGST = "IGST"
	TaxCGST = "CGST"
	TaxSGST = "SGST"

	TaxTypeIntraState = TaxCGST + "+" + TaxSGST
)

var (
	// ErrPincodeNotFound is returned by Repository when the zipcode is unknown.
	ErrPincodeNotFound = errors.New("pincode not found")
	// ErrSettingsMissing is returned when the company settings row is absent.
	ErrSettingsMissing = errors.New("company settings not configured")
)

// Pincode is reference data mapping a zipcode to its delivery region.
type Pincode struct {
	Zipcode               string
	State                 string
	City                  string
	EstimatedDeliveryDays int
}

// Settings is the seller configuration relevant to quoting.
type Settings struct {
	State          string
	IsTaxInclusive bool
}

// Tax is an active tax row.
type Tax struct {
	Name       string
	Percentage decimal.Decimal
}

// ShippingRate is an active per-state shipping rate row.
type ShippingRate struct {
	State          string
	IntraStateRate decimal.Decimal
	InterStateRate decimal.Decimal
}

// Quote is the result of resolving a pincode. Business failures are reported
// through Success and Message rather than an error.
type Quote struct {
	Success        bool
	Message        string
	TaxType        string
	TaxPercentage  decimal.Decimal
	TaxDetails     []Tax
	ShippingRate   decimal.Decimal
	IsTaxInclusive bool
	IsInterState   bool
	Pincode        *Pincode
}

// Repository provides the reference data the resolver reads.
type Repository interface {
	FindPincode(ctx context.Context, zipcode string) (*Pincode, error)
	CompanySettings(ctx context.Context) (*Settings, error)
	// ActiveShippingRates returns active rates ordered by creation time.
	ActiveShippingRates(ctx context.Context) ([]ShippingRate, error)
	ActiveTaxes(ctx context.Context) ([]Tax, error)
}
