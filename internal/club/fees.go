package club

import (
	"ms-buddycart/internal/config"

	"github.com/shopspring/decimal"
)

// FeePolicy holds the cancellation fee parameters.
type FeePolicy struct {
	Rate              decimal.Decimal
	Min               decimal.Decimal
	Max               decimal.Decimal
	CompensationShare decimal.Decimal
}

func NewFeePolicy(cfg config.CancellationConfig) FeePolicy {
	return FeePolicy{
		Rate:              decimal.NewFromFloat(cfg.FeeRate),
		Min:               decimal.NewFromFloat(cfg.FeeMin),
		Max:               decimal.NewFromFloat(cfg.FeeMax),
		CompensationShare: decimal.NewFromFloat(cfg.CompensationShare),
	}
}

type FeeBreakdown struct {
	Fee          decimal.Decimal
	Compensation decimal.Decimal
	CompanyShare decimal.Decimal
}

// Compute clamps rate x individualTotal into [Min, Max]. The compensation
// share goes to the remaining participants and the rest to the company;
// the two parts always add up to the fee.
func (p FeePolicy) Compute(individualTotal decimal.Decimal) FeeBreakdown {
	fee := individualTotal.Mul(p.Rate)
	if fee.LessThan(p.Min) {
		fee = p.Min
	}
	if fee.GreaterThan(p.Max) {
		fee = p.Max
	}
	fee = round2(fee)
	compensation := round2(fee.Mul(p.CompensationShare))
	return FeeBreakdown{
		Fee:          fee,
		Compensation: compensation,
		CompanyShare: fee.Sub(compensation),
	}
}

// SplitEqually divides amount into n shares rounded to 2 decimals. The
// rounding residue lands on the last share so the shares sum to amount.
func SplitEqually(amount decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	share := amount.DivRound(decimal.NewFromInt(int64(n)), 2)
	shares := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		shares[i] = share
		allocated = allocated.Add(share)
	}
	shares[n-1] = amount.Sub(allocated)
	return shares
}
