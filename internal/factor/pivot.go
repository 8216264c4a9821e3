package factor

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Axis is a categorical field of EnrichedRecord that pivots can group on.
type Axis string

const (
	AxisBranch  Axis = "Branch"
	AxisChannel Axis = "Channel"
	AxisBrand   Axis = "Brand"
	AxisGroup   Axis = "Group"
	AxisMark    Axis = "Mark"
	AxisManager Axis = "Manager"
)

// Axes lists the supported axes.
var Axes = []Axis{AxisBranch, AxisChannel, AxisBrand, AxisGroup, AxisMark, AxisManager}

// EmptyCategory labels records whose axis field is blank.
const EmptyCategory = "(empty)"

// ParseAxis resolves a case-insensitive axis name.
func ParseAxis(name string) (Axis, error) {
	n := strings.TrimSpace(name)
	for _, a := range Axes {
		if strings.EqualFold(n, string(a)) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAxis, name)
}

// Field returns the EnrichedColumns name the axis reads.
func (a Axis) Field() string {
	switch a {
	case AxisBranch:
		return "branch"
	case AxisChannel:
		return "Channel"
	case AxisBrand:
		return "Brand"
	case AxisGroup:
		return "Product_group"
	case AxisMark:
		return "Mark"
	case AxisManager:
		return "Manager_Marketing"
	}
	return ""
}

// Category returns r's label along the axis.
func (a Axis) Category(r EnrichedRecord) string {
	var v string
	switch a {
	case AxisBranch:
		v = r.Branch
	case AxisChannel:
		v = r.Channel
	case AxisBrand:
		v = r.Brand
	case AxisGroup:
		v = r.Group
	case AxisMark:
		v = r.Mark
	case AxisManager:
		v = r.MarketingManager
	}
	if strings.TrimSpace(v) == "" {
		return EmptyCategory
	}
	return v
}

// Measure selects which delta a pivot sums.
type Measure string

const (
	MeasurePrice     Measure = "price"
	MeasureCost      Measure = "cost"
	MeasureStructure Measure = "structure"
)

// Measures lists the pivot measures in output order.
var Measures = [3]Measure{MeasurePrice, MeasureCost, MeasureStructure}

// AxisRank is one X category ordered by fact revenue.
type AxisRank struct {
	Category        string  `json:"category"`
	Revenue         float64 `json:"revenue"`
	Share           float64 `json:"share"`
	CumulativeShare float64 `json:"cumulative_share"`
}

// RankAxis sums fact revenue per X category and orders the categories by
// revenue descending, ties by name. Shares are zero when total revenue is zero.
func RankAxis(records []EnrichedRecord, x Axis) []AxisRank {
	sums := make(map[string]float64)
	for _, r := range records {
		sums[x.Category(r)] += r.Fact.Amount
	}

	out := make([]AxisRank, 0, len(sums))
	var total float64
	for c, v := range sums {
		out = append(out, AxisRank{Category: c, Revenue: v})
		total += v
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].Category < out[j].Category
	})

	var cum float64
	for i := range out {
		cum += out[i].Revenue
		if total != 0 {
			out[i].Share = out[i].Revenue / total
			out[i].CumulativeShare = cum / total
		}
	}
	return out
}

// PivotMatrix is one delta summed over Y rows and X columns. A nil cell means
// no record carried that combination.
type PivotMatrix struct {
	Measure Measure      `json:"measure"`
	X       Axis         `json:"x_axis"`
	Y       Axis         `json:"y_axis"`
	Rows    []string     `json:"rows"`
	Columns []string     `json:"columns"`
	Cells   [][]*float64 `json:"cells"`
}

// Cell returns the value at (row, col) and whether it is present.
func (m PivotMatrix) Cell(row, col string) (float64, bool) {
	i := sort.SearchStrings(m.Rows, row)
	j := sort.SearchStrings(m.Columns, col)
	if i >= len(m.Rows) || m.Rows[i] != row || j >= len(m.Columns) || m.Columns[j] != col {
		return 0, false
	}
	if v := m.Cells[i][j]; v != nil {
		return *v, true
	}
	return 0, false
}

// Total sums every present cell.
func (m PivotMatrix) Total() float64 {
	var t float64
	for _, row := range m.Cells {
		for _, v := range row {
			if v != nil {
				t += *v
			}
		}
	}
	return t
}

// BuildPivots returns the price, cost and structure matrices of records grouped
// by (x, y). Only X categories present in ranking are kept.
func BuildPivots(records []EnrichedRecord, x, y Axis, ranking []AxisRank) ([3]PivotMatrix, error) {
	var out [3]PivotMatrix
	if x.Field() == "" {
		return out, fmt.Errorf("%w: %q", ErrUnknownAxis, x)
	}
	if y.Field() == "" {
		return out, fmt.Errorf("%w: %q", ErrUnknownAxis, y)
	}
	if x.Field() == y.Field() {
		return out, fmt.Errorf("%w: %s", ErrDegenerateAxes, x)
	}

	keep := make(map[string]struct{}, len(ranking))
	for _, r := range ranking {
		keep[r.Category] = struct{}{}
	}

	type cell struct{ y, x string }
	var sums [3]map[cell]float64
	for i := range sums {
		sums[i] = make(map[cell]float64)
	}
	for _, r := range records {
		xc := x.Category(r)
		if _, ok := keep[xc]; !ok {
			continue
		}
		k := cell{y: y.Category(r), x: xc}
		for i, m := range Measures {
			sums[i][k] += r.Delta(m)
		}
	}

	for i, m := range Measures {
		rowSet := make(map[string]struct{})
		colSet := make(map[string]struct{})
		for k, v := range sums[i] {
			if math.IsNaN(v) {
				delete(sums[i], k)
				continue
			}
			rowSet[k.y] = struct{}{}
			colSet[k.x] = struct{}{}
		}
		pm := PivotMatrix{
			Measure: m,
			X:       x,
			Y:       y,
			Rows:    sortedKeys(rowSet),
			Columns: sortedKeys(colSet),
		}
		pm.Cells = make([][]*float64, len(pm.Rows))
		for ri, rl := range pm.Rows {
			pm.Cells[ri] = make([]*float64, len(pm.Columns))
			for ci, cl := range pm.Columns {
				if v, ok := sums[i][cell{y: rl, x: cl}]; ok {
					pm.Cells[ri][ci] = &v
				}
			}
		}
		out[i] = pm
	}
	return out, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
