package registry

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// money renders an amount rounded to cents.
func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// percent renders a share in [0,1] as a percentage with one decimal.
func percent(v float64) string {
	return decimal.NewFromFloat(v).Shift(2).StringFixed(1) + "%"
}

func summaryLine(out FactorAnalysisOutput) string {
	s := out.Summary
	return fmt.Sprintf("profit %s -> %s (change %s): price %s, cost %s, structure %s; records=%d",
		money(s.ProfitBase), money(s.ProfitFact), money(s.ProfitChange),
		money(s.DeltaPrice), money(s.DeltaCost), money(s.DeltaVolume), s.Records)
}

// analysisText is the human-readable companion of a factor_analysis result.
func analysisText(out FactorAnalysisOutput) string {
	var b strings.Builder
	s := out.Summary
	fmt.Fprintf(&b, "dataset_id=%s base=%s..%s fact=%s..%s\n",
		out.DatasetID, out.Period.Base[0], out.Period.Base[1], out.Period.Fact[0], out.Period.Fact[1])
	fmt.Fprintf(&b, "%s\n", summaryLine(out))
	fmt.Fprintf(&b, "revenue %s -> %s; pairs base=%d fact=%d absent=%d\n",
		money(s.RevenueBase), money(s.RevenueFact), s.BasePairs, s.FactPairs, s.AbsentRecords)

	if len(out.Ranking) > 0 {
		fmt.Fprintf(&b, "%s by fact revenue:\n", out.XAxis)
		for _, r := range out.Ranking {
			fmt.Fprintf(&b, "- %s: %s (%s, cum %s)\n", r.Category, money(r.Revenue), percent(r.Share), percent(r.CumulativeShare))
		}
	}
	for _, pm := range out.Pivots {
		fmt.Fprintf(&b, "%s effect total %s (%d %s x %d %s)\n",
			pm.Measure, money(pm.Total()), len(pm.Rows), out.YAxis, len(pm.Columns), out.XAxis)
	}
	if out.Page != nil {
		fmt.Fprintf(&b, "records %d-%d of %d", out.Page.Offset, out.Page.Offset+out.Page.Returned, out.Page.Total)
		if out.Page.NextCursor != "" {
			b.WriteString("; more available via next_cursor")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
