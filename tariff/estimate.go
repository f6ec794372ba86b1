package tariff

import "github.com/shopspring/decimal"

// Estimate is the energy bill for a consumption under a fetched schedule.
type Estimate struct {
	KWh         float64        `json:"kwh" yaml:"kwh"`
	BillableKWh float64        `json:"billableKWh" yaml:"billableKWh"`
	Lines       []EstimateLine `json:"lines" yaml:"lines"`
	Energy      float64        `json:"energy" yaml:"energy"`
	FixedCharge float64        `json:"fixedCharge" yaml:"fixedCharge"`
	Total       float64        `json:"total" yaml:"total"`
}

// EstimateLine is the consumption charged in one block.
type EstimateLine struct {
	Label       TierLabel `json:"label" yaml:"label"`
	KWh         float64   `json:"kwh" yaml:"kwh"`
	PricePerKWh float64   `json:"pricePerKWh" yaml:"pricePerKWh"`
	Amount      float64   `json:"amount" yaml:"amount"`
}

// MinBillableKWh is the minimum consumption charged for one billing period.
func (r *Result) MinBillableKWh() int {
	if r.IsBimonthly {
		return 2 * MinKWhPerMonth
	}
	return MinKWhPerMonth
}

// EstimateBill charges kwh through the schedule. Block bounds are read as
// published for the billing period. Consumption past the last bound is
// charged at the last block's price.
func (r *Result) EstimateBill(kwh float64) (*Estimate, error) {
	if err := ValidateKWh(kwh); err != nil {
		return nil, err
	}
	billable := decimal.NewFromFloat(kwh)
	if min := decimal.NewFromInt(int64(r.MinBillableKWh())); billable.LessThan(min) {
		billable = min
	}

	est := &Estimate{
		KWh:         kwh,
		BillableKWh: billable.InexactFloat64(),
		Lines:       []EstimateLine{},
	}

	energy := decimal.Zero
	charge := func(label TierLabel, used decimal.Decimal, price float64) {
		amount := used.Mul(decimal.NewFromFloat(price))
		energy = energy.Add(amount)
		est.Lines = append(est.Lines, EstimateLine{
			Label:       label,
			KWh:         used.InexactFloat64(),
			PricePerKWh: price,
			Amount:      amount.Round(2).InexactFloat64(),
		})
	}

	if r.SinglePriceKWh != nil {
		charge(TierLabel(CodeDAC), billable, *r.SinglePriceKWh)
	} else {
		remaining := billable
		prevBound := decimal.Zero
		for i, t := range r.Tiers {
			if !remaining.IsPositive() {
				break
			}
			last := i == len(r.Tiers)-1
			if t.UpToKWh == nil || last {
				charge(t.Label, remaining, t.PricePerKWh)
				remaining = decimal.Zero
				break
			}
			bound := decimal.NewFromInt(int64(*t.UpToKWh))
			width := bound.Sub(prevBound)
			prevBound = bound
			if !width.IsPositive() {
				continue
			}
			used := decimal.Min(remaining, width)
			charge(t.Label, used, t.PricePerKWh)
			remaining = remaining.Sub(used)
		}
	}

	fixed := decimal.NewFromFloat(r.FixedCharge)
	est.Energy = energy.Round(2).InexactFloat64()
	est.FixedCharge = fixed.Round(2).InexactFloat64()
	est.Total = energy.Add(fixed).Round(2).InexactFloat64()
	return est, nil
}
