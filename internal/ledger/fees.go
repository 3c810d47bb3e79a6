package ledger

import "github.com/example/doint-ledger/internal/amount"

// FeeSchedule is the singleton fee configuration row.
type FeeSchedule struct {
	FlatFee       amount.Amount `json:"flat_fee"`
	PercentageFee int           `json:"percentage_fee"`
}

// CalculateFee returns flat_fee + amount*percentage_fee/1000, with the
// percentage part rounded half-up to the dent. A negative schedule never
// yields a negative fee.
func CalculateFee(s FeeSchedule, amt amount.Amount) amount.Amount {
	pct := amt.Scale(amount.RateToRatio(s.PercentageFee)).RoundHalfUpToCent()
	return amount.Max(s.FlatFee.Add(pct), amount.Zero)
}
