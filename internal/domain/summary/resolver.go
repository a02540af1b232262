package summary

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Resolver computes order summary quotes from reference data.
type Resolver struct {
	repo Repository
}

// NewResolver creates a Resolver backed by repo.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the tax and shipping quote for pincode. Invalid input,
// missing settings and missing rates yield a Quote with Success=false; an
// error means storage could not be read.
func (r *Resolver) Resolve(ctx context.Context, pincode string) (*Quote, error) {
	pincode = strings.TrimSpace(pincode)
	if !isNumeric(pincode) {
		return &Quote{Message: MessageInvalidPincode}, nil
	}

	pin, err := r.repo.FindPincode(ctx, pincode)
	if err != nil {
		if errors.Is(err, ErrPincodeNotFound) {
			return &Quote{Message: MessageInvalidPincode}, nil
		}
		return nil, errors.Wrap(err, "find pincode")
	}

	settings, err := r.repo.CompanySettings(ctx)
	if err != nil {
		if errors.Is(err, ErrSettingsMissing) {
			zctx.From(ctx).Error("Company settings row is missing")
			return &Quote{Message: MessageSettingsMissing}, nil
		}
		return nil, errors.Wrap(err, "company settings")
	}

	q := &Quote{
		IsTaxInclusive: settings.IsTaxInclusive,
		IsInterState:   !sameState(pin.State, settings.State),
		Pincode:        pin,
	}

	rates, err := r.repo.ActiveShippingRates(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "active shipping rates")
	}
	rate, ok := pickShippingRate(rates, pin.State)
	if !ok {
		q.Message = MessageNoShippingRate
		return q, nil
	}
	q.ShippingRate = rate

	taxes, err := r.repo.ActiveTaxes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "active taxes")
	}
	applyTaxes(q, taxes)

	if q.TaxType == "" {
		zctx.From(ctx).Warn("No applicable tax rows for pincode",
			zap.String("pincode", pincode),
			zap.Bool("inter_state", q.IsInterState),
		)
	}

	q.Success = true
	q.Message = MessageSummaryCalculated
	return q, nil
}

// pickShippingRate prefers the intra-state rate of the row matching state and
// falls back to the inter-state rate of the first active row.
func pickShippingRate(rates []ShippingRate, state string) (decimal.Decimal, bool) {
	if len(rates) == 0 {
		return decimal.Zero, false
	}
	for _, r := range rates {
		if sameState(r.State, state) {
			return r.IntraStateRate, true
		}
	}
	return rates[0].InterStateRate, true
}

// applyTaxes fills the tax fields of q. Missing rows leave them zeroed.
func applyTaxes(q *Quote, taxes []Tax) {
	if q.IsInterState {
		if igst, ok := findTax(taxes, TaxIGST); ok {
			q.TaxType = TaxIGST
			q.TaxPercentage = igst.Percentage
			q.TaxDetails = []Tax{igst}
		}
		return
	}

	cgst, okC := findTax(taxes, TaxCGST)
	sgst, okS := findTax(taxes, TaxSGST)
	if !okC || !okS {
		return
	}
	q.TaxType = TaxTypeIntraState
	q.TaxPercentage = cgst.Percentage.Add(sgst.Percentage)
	q.TaxDetails = []Tax{cgst, sgst}
}

func findTax(taxes []Tax, name string) (Tax, bool) {
	for _, t := range taxes {
		if strings.EqualFold(strings.TrimSpace(t.Name), name) {
			return t, true
		}
	}
	return Tax{}, false
}

func sameState(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
