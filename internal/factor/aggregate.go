package factor

import "github.com/nervozny/factor/internal/dataset"

// PairKey identifies a product-client pair.
type PairKey struct {
	ProductID int64
	ClientID  int64
}

// PeriodAggregate holds a pair's totals for one period.
type PeriodAggregate struct {
	Amount float64
	Cost   float64
	Qty    float64
	// BranchID is the largest branch id among the contributing facts.
	BranchID int64
}

// AggregatePeriod sums amount, cost and quantity per pair over the facts dated
// inside iv. Pairs with no facts in the window are absent from the result.
func AggregatePeriod(facts []dataset.SalesFact, iv Interval) map[PairKey]PeriodAggregate {
	lo, hi := iv.lower(), iv.upper()
	out := make(map[PairKey]PeriodAggregate)
	for _, f := range facts {
		if f.Date.Before(lo) || f.Date.After(hi) {
			continue
		}
		k := PairKey{ProductID: f.ProductID, ClientID: f.ClientID}
		agg, seen := out[k]
		agg.Amount += f.Amount
		agg.Cost += f.Cost
		agg.Qty += f.Qty
		if !seen || f.BranchID > agg.BranchID {
			agg.BranchID = f.BranchID
		}
		out[k] = agg
	}
	return out
}
