package domain

import "github.com/shopspring/decimal"

var (
	gstRate    = decimal.RequireFromString("0.18")
	hundred    = decimal.NewFromInt(100)
	maxPercent = decimal.NewFromInt(100)
)

// Breakdown is the financial split of a gross amount between the platform
// commission, GST on that commission and the amount payable to the seller.
type Breakdown struct {
	GrossAmount      Money           `json:"gross_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount Money           `json:"commission_amount"`
	GSTOnCommission  Money           `json:"gst_on_commission"`
	NetPayable       Money           `json:"net_payable"`
}

// ComputeBreakdown applies the commission rate (a percentage in [0, 100]) and
// 18% GST on the commission. Commission and GST are each rounded with Round;
// the net payable is the exact remainder so the parts always sum to gross.
func ComputeBreakdown(gross Money, ratePercent decimal.Decimal) (Breakdown, error) {
	if gross <= 0 {
		return Breakdown{}, Validationf("gross amount must be greater than zero")
	}
	if ratePercent.IsNegative() || ratePercent.GreaterThan(maxPercent) {
		return Breakdown{}, Validationf("commission rate %s is outside [0, 100]", ratePercent.String())
	}

	commission := MoneyFromDecimal(gross.Decimal().Mul(ratePercent).Div(hundred))
	gst := MoneyFromDecimal(commission.Decimal().Mul(gstRate))

	return Breakdown{
		GrossAmount:      gross,
		CommissionRate:   ratePercent,
		CommissionAmount: commission,
		GSTOnCommission:  gst,
		NetPayable:       gross - commission - gst,
	}, nil
}
