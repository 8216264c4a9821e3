package factor

import "github.com/nervozny/factor/internal/dataset"

// Selection holds the selected ids per dimension. An empty or missing entry
// leaves that dimension unconstrained.
type Selection map[dataset.Dimension][]int64

// Empty reports whether no dimension is constrained.
func (s Selection) Empty() bool {
	for _, ids := range s {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// FilterFacts keeps the facts matching every non-empty selected set. Selections are
// conjunctive across dimensions and permissive within one. With nothing selected the
// input slice is returned as is.
func FilterFacts(facts []dataset.SalesFact, sel Selection) []dataset.SalesFact {
	if sel.Empty() {
		return facts
	}

	type constraint struct {
		dim dataset.Dimension
		ids map[int64]struct{}
	}
	var cons []constraint
	for _, d := range dataset.Dimensions {
		ids := sel[d]
		if len(ids) == 0 {
			continue
		}
		set := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		cons = append(cons, constraint{dim: d, ids: set})
	}

	out := make([]dataset.SalesFact, 0, len(facts)/2)
next:
	for _, f := range facts {
		for _, c := range cons {
			if _, ok := c.ids[f.CategoryID(c.dim)]; !ok {
				continue next
			}
		}
		out = append(out, f)
	}
	return out
}
