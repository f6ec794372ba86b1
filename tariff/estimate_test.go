package tariff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTiered() *Result {
	return &Result{
		Code:           Code1D,
		IsBimonthly:    true,
		MinKWhPerMonth: MinKWhPerMonth,
		Tiers: []Tier{
			{Label: TierBasic, UpToKWh: intPtr(150), PricePerKWh: 1.0},
			{Label: TierIntermediateLow, UpToKWh: intPtr(300), PricePerKWh: 1.5},
			{Label: TierSurplus, PricePerKWh: 3.0},
		},
	}
}

func TestEstimateBillTiered(t *testing.T) {
	est, err := sampleTiered().EstimateBill(400)
	require.NoError(t, err)
	require.Len(t, est.Lines, 3)
	assert.Equal(t, 150.0, est.Lines[0].KWh)
	assert.Equal(t, 150.0, est.Lines[1].KWh)
	assert.Equal(t, 100.0, est.Lines[2].KWh)
	assert.Equal(t, 150.0+225.0+300.0, est.Energy)
	assert.Equal(t, est.Energy, est.Total)
}

func TestEstimateBillStopsWhenConsumed(t *testing.T) {
	est, err := sampleTiered().EstimateBill(100)
	require.NoError(t, err)
	require.Len(t, est.Lines, 1)
	assert.Equal(t, TierBasic, est.Lines[0].Label)
	assert.Equal(t, 100.0, est.Total)
}

func TestEstimateBillAppliesMinimum(t *testing.T) {
	r := sampleTiered()
	est, err := r.EstimateBill(10)
	require.NoError(t, err)
	assert.Equal(t, 50.0, est.BillableKWh, "bimonthly minimum is two months")

	r.IsBimonthly = false
	est, err = r.EstimateBill(10)
	require.NoError(t, err)
	assert.Equal(t, 25.0, est.BillableKWh)
	assert.Equal(t, 10.0, est.KWh)
}

func TestEstimateBillDAC(t *testing.T) {
	price := 6.123
	r := &Result{Code: CodeDAC, FixedCharge: 120.5, Tiers: []Tier{}, SinglePriceKWh: &price}
	est, err := r.EstimateBill(200)
	require.NoError(t, err)
	require.Len(t, est.Lines, 1)
	assert.Equal(t, TierLabel("DAC"), est.Lines[0].Label)
	assert.Equal(t, 1224.6, est.Energy)
	assert.Equal(t, 1345.1, est.Total)
}

func TestEstimateBillRejectsUnchargeableConsumption(t *testing.T) {
	for _, kwh := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1} {
		est, err := sampleTiered().EstimateBill(kwh)
		assert.ErrorIs(t, err, ErrInvalidKWh, "kwh=%v", kwh)
		assert.Nil(t, est)
	}
}
