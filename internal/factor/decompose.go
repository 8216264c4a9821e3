package factor

import (
	"math"
	"sort"
)

// PeriodFigures are one period's totals and derived per-unit values for a pair.
type PeriodFigures struct {
	Amount        float64 `json:"amount"`
	Cost          float64 `json:"cost"`
	Qty           float64 `json:"qty"`
	Price         float64 `json:"price"`
	UnitCost      float64 `json:"unit_cost"`
	Profit        float64 `json:"profit"`
	Profitability float64 `json:"profitability"`
}

func newPeriodFigures(a PeriodAggregate) PeriodFigures {
	profit := a.Amount - a.Cost
	return PeriodFigures{
		Amount:        a.Amount,
		Cost:          a.Cost,
		Qty:           a.Qty,
		Price:         safeDiv(a.Amount, a.Qty),
		UnitCost:      safeDiv(a.Cost, a.Qty),
		Profit:        profit,
		Profitability: safeDiv(profit, a.Cost),
	}
}

// MergedRecord is the outer join of one pair's base and fact aggregates with the
// profit change decomposed into price, cost and volume effects.
type MergedRecord struct {
	Key          PairKey
	InBase       bool
	InFact       bool
	DepartmentID int64
	Base         PeriodFigures
	Fact         PeriodFigures

	Absent      bool
	DeltaPrice  float64
	DeltaCost   float64
	DeltaVolume float64
}

// ProfitChange returns fact profit minus base profit.
func (r MergedRecord) ProfitChange() float64 {
	return r.Fact.Profit - r.Base.Profit
}

// Merge outer-joins base and fact aggregates on PairKey. Missing sides are zero
// filled; records come out ordered by product id, then client id.
func Merge(base, fact map[PairKey]PeriodAggregate) []MergedRecord {
	keys := make([]PairKey, 0, len(base)+len(fact))
	for k := range base {
		keys = append(keys, k)
	}
	for k := range fact {
		if _, dup := base[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		return keys[i].ClientID < keys[j].ClientID
	})

	out := make([]MergedRecord, 0, len(keys))
	for _, k := range keys {
		b, inBase := base[k]
		f, inFact := fact[k]
		r := MergedRecord{
			Key:    k,
			InBase: inBase,
			InFact: inFact,
			Base:   newPeriodFigures(b),
			Fact:   newPeriodFigures(f),
		}
		if inBase {
			r.DepartmentID = b.BranchID
		} else {
			r.DepartmentID = f.BranchID
		}
		Decompose(&r)
		out = append(out, r)
	}
	return out
}

// Decompose fills the absence flag and the three deltas of r from its period
// figures. For present pairs the deltas sum to the profit change; absent pairs
// attribute the whole change to volume.
func Decompose(r *MergedRecord) {
	b, f := r.Base, r.Fact
	r.Absent = b.Qty == 0 || f.Qty == 0 || b.Cost < 0 || f.Cost < 0
	if r.Absent {
		r.DeltaPrice = 0
		r.DeltaCost = 0
		r.DeltaVolume = f.Profit - b.Profit
		return
	}
	r.DeltaPrice = finite((f.Price - b.Price) * f.Qty)
	r.DeltaCost = finite((b.UnitCost - f.UnitCost) * f.Qty)
	r.DeltaVolume = finite((f.Qty - b.Qty) * (b.Price - b.UnitCost))
}

// safeDiv divides, mapping NaN and infinities to zero.
func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finite(num / den)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
